package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"threetick/internal/balance"
	"threetick/internal/monitor"
	"threetick/internal/order"
	"threetick/internal/risk"
	"threetick/internal/state"
	"threetick/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bar(open, close string) common.Candle {
	return common.Candle{Open: d(open), Close: d(close), High: d(open), Low: d(close)}
}

// bearish run of three closed bars plus the forming one
var longCandles = []common.Candle{
	bar("101", "100"), bar("100", "99"), bar("99", "98"), bar("98", "97"),
}

var mixedCandles = []common.Candle{
	bar("100", "101"), bar("101", "100"), bar("100", "101"), bar("101", "102"),
}

type fakeVenue struct {
	balances   []string // the last entry repeats
	balanceErr error
	positions  []common.PositionSnapshot
	posErr     error
	candles    []common.Candle
	candleErr  error
	last       string
	fill       decimal.NullDecimal

	leverageCalls []common.PositionSide
	marginModes   []common.MarginMode
	balanceCalls  int
	positionCalls int
	candleCalls   int
	submitted     []common.OrderRequest
}

func (v *fakeVenue) FetchBalance(ctx context.Context) (common.Balance, error) {
	v.balanceCalls++
	if v.balanceErr != nil {
		return common.Balance{}, v.balanceErr
	}
	free := v.balances[0]
	if len(v.balances) > 1 {
		v.balances = v.balances[1:]
	}
	return common.Balance{Free: d(free)}, nil
}

func (v *fakeVenue) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	if v.last == "" {
		return common.Ticker{}, errors.New("ticker down")
	}
	return common.Ticker{Symbol: symbol, Last: d(v.last)}, nil
}

func (v *fakeVenue) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]common.Candle, error) {
	v.candleCalls++
	return v.candles, v.candleErr
}

func (v *fakeVenue) FetchPositions(ctx context.Context, symbol string) ([]common.PositionSnapshot, error) {
	v.positionCalls++
	return v.positions, v.posErr
}

func (v *fakeVenue) SetLeverage(ctx context.Context, leverage int, symbol string, mode common.MarginMode, side common.PositionSide) error {
	v.leverageCalls = append(v.leverageCalls, side)
	v.marginModes = append(v.marginModes, mode)
	return errors.New("leverage not modified")
}

func (v *fakeVenue) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	v.submitted = append(v.submitted, req)
	if req.Type == common.OrderTypeMarket {
		return common.OrderResult{ClientID: req.ClientID, Status: common.StatusFilled, AverageFillPrice: v.fill}, nil
	}
	return common.OrderResult{ClientID: req.ClientID, Status: common.StatusNew}, nil
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	cancel context.CancelFunc
	limit  int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	if c.limit > 0 && len(c.sleeps) >= c.limit && c.cancel != nil {
		c.cancel()
	}
	return ctx.Err()
}

type memRecorder struct {
	balances []common.Balance
	events   []state.Event
}

func (r *memRecorder) RecordBalance(ctx context.Context, b common.Balance) error {
	r.balances = append(r.balances, b)
	return nil
}

func (r *memRecorder) RecordPosition(ctx context.Context, ev state.Event) error {
	r.events = append(r.events, ev)
	return nil
}

type harness struct {
	loop      *Loop
	venue     *fakeVenue
	clock     *fakeClock
	positions *state.Manager
	recorder  *memRecorder
	out       *bytes.Buffer
}

func newHarness(t *testing.T, v *fakeVenue, start time.Time) *harness {
	t.Helper()
	log := zap.NewNop()
	params := risk.DefaultParameters()
	tracker := balance.NewTracker(v, log)
	exec := order.NewExecutor(v, "BTCUSDT", params, tracker,
		order.WithLogger(log),
		order.WithSleeper(order.SleeperFunc(func(ctx context.Context, d time.Duration) error { return nil })))
	h := &harness{
		venue:     v,
		clock:     &fakeClock{now: start},
		positions: state.NewManager("BTCUSDT", params.Leverage(), log),
		recorder:  &memRecorder{},
		out:       &bytes.Buffer{},
	}
	loop, err := NewLoop(Config{
		Symbol:    "BTCUSDT",
		Timeframe: "15m",
		Interval:  15 * time.Minute,
		Heartbeat: time.Minute,
	}, Deps{
		Venue:     v,
		Params:    params,
		Balance:   tracker,
		Positions: h.positions,
		Entrant:   exec,
		Clock:     h.clock,
		Console:   monitor.NewConsole(h.out),
		Recorder:  h.recorder,
		Logger:    log,
	})
	require.NoError(t, err)
	h.loop = loop
	return h
}

var t0 = time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)

func TestCycleEntersOnSignal(t *testing.T) {
	v := &fakeVenue{
		balances: []string{"1000"},
		candles:  longCandles,
		last:     "100",
		fill:     decimal.NewNullDecimal(d("100")),
	}
	h := newHarness(t, v, t0)

	assert.Equal(t, OutcomeEntered, h.loop.Cycle(context.Background()))

	pos, open := h.positions.Position()
	require.True(t, open)
	assert.Equal(t, common.PositionSideLong, pos.Side)
	assert.True(t, pos.Size.Equal(d("500")), "1000 * 1 * 50 / 100, got %s", pos.Size)

	require.Len(t, v.submitted, 3)
	assert.True(t, v.submitted[1].ReduceOnly)
	assert.True(t, v.submitted[2].ReduceOnly)

	require.Len(t, h.recorder.events, 1)
	assert.Equal(t, state.EventOpened, h.recorder.events[0].Kind)
	assert.Len(t, h.recorder.balances, 1)
	assert.Contains(t, h.out.String(), "POSITION OPENED")

	health := h.loop.Health()
	assert.True(t, health.PositionOpen)
	assert.Equal(t, "entered", health.LastOutcome)
	assert.Equal(t, "1000", health.FreeBalance)
}

func TestCycleOutcomes(t *testing.T) {
	live := common.PositionSnapshot{Symbol: "BTCUSDT", Side: common.PositionSideShort, Contracts: d("1"), EntryPrice: d("90")}

	tests := []struct {
		name          string
		venue         *fakeVenue
		want          Outcome
		wantPositions int
		wantCandles   int
	}{
		{
			name:  "exhausted capital",
			venue: &fakeVenue{balances: []string{"0"}},
			want:  OutcomeExhausted,
		},
		{
			name:  "balance fetch failure skips",
			venue: &fakeVenue{balanceErr: errors.New("503")},
			want:  OutcomeSkipped,
		},
		{
			name:          "position fetch failure skips",
			venue:         &fakeVenue{balances: []string{"1000"}, posErr: errors.New("timeout")},
			want:          OutcomeSkipped,
			wantPositions: 1,
		},
		{
			name:          "adopted position holds",
			venue:         &fakeVenue{balances: []string{"1000"}, positions: []common.PositionSnapshot{live}},
			want:          OutcomeHolding,
			wantPositions: 1,
		},
		{
			name:          "candle failure skips",
			venue:         &fakeVenue{balances: []string{"1000"}, candleErr: errors.New("timeout")},
			want:          OutcomeSkipped,
			wantPositions: 1,
			wantCandles:   1,
		},
		{
			name:          "insufficient data skips",
			venue:         &fakeVenue{balances: []string{"1000"}, candles: longCandles[:3]},
			want:          OutcomeSkipped,
			wantPositions: 1,
			wantCandles:   1,
		},
		{
			name:          "mixed run has no signal",
			venue:         &fakeVenue{balances: []string{"1000"}, candles: mixedCandles},
			want:          OutcomeNoSignal,
			wantPositions: 1,
			wantCandles:   1,
		},
		{
			name:          "ticker failure sizes to zero",
			venue:         &fakeVenue{balances: []string{"1000"}, candles: longCandles},
			want:          OutcomeSkipped,
			wantPositions: 1,
			wantCandles:   1,
		},
		{
			name:          "zero price sizes to zero",
			venue:         &fakeVenue{balances: []string{"1000"}, candles: longCandles, last: "0"},
			want:          OutcomeSkipped,
			wantPositions: 1,
			wantCandles:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.venue, t0)
			assert.Equal(t, tt.want, h.loop.Cycle(context.Background()))
			assert.Equal(t, tt.wantPositions, tt.venue.positionCalls)
			assert.Equal(t, tt.wantCandles, tt.venue.candleCalls)
			assert.Empty(t, tt.venue.submitted)
		})
	}
}

func TestCycleBalanceFailureKeepsBaseline(t *testing.T) {
	v := &fakeVenue{balances: []string{"1000"}, candles: mixedCandles}
	h := newHarness(t, v, t0)
	require.Equal(t, OutcomeNoSignal, h.loop.Cycle(context.Background()))

	v.balanceErr = errors.New("502")
	assert.Equal(t, OutcomeSkipped, h.loop.Cycle(context.Background()))
	assert.Equal(t, "1000", h.loop.balance.Baseline().String())
}

func TestCycleInvalidFillStaysFlat(t *testing.T) {
	v := &fakeVenue{balances: []string{"1000"}, candles: longCandles, last: "100"}
	h := newHarness(t, v, t0)

	assert.Equal(t, OutcomeSkipped, h.loop.Cycle(context.Background()))
	assert.True(t, h.positions.IsFlat())
	assert.Len(t, v.submitted, 1, "only the entry, no bracket")
	assert.Empty(t, h.recorder.events)
}

func TestCycleRecordsVenueClose(t *testing.T) {
	v := &fakeVenue{
		balances: []string{"1000"},
		candles:  longCandles,
		last:     "100",
		fill:     decimal.NewNullDecimal(d("100")),
	}
	h := newHarness(t, v, t0)
	require.Equal(t, OutcomeEntered, h.loop.Cycle(context.Background()))

	// bracket hit between cycles; venue reports flat and the signal is gone
	v.candles = mixedCandles
	assert.Equal(t, OutcomeNoSignal, h.loop.Cycle(context.Background()))
	assert.True(t, h.positions.IsFlat())

	require.Len(t, h.recorder.events, 2)
	assert.Equal(t, state.EventClosed, h.recorder.events[1].Kind)
	assert.True(t, h.recorder.events[1].Position.EntryPrice.Equal(d("100")))
}

func TestCycleHoldsWhileOpen(t *testing.T) {
	v := &fakeVenue{
		balances: []string{"1000"},
		candles:  longCandles,
		last:     "100",
		fill:     decimal.NewNullDecimal(d("100")),
	}
	h := newHarness(t, v, t0)
	require.Equal(t, OutcomeEntered, h.loop.Cycle(context.Background()))

	v.positions = []common.PositionSnapshot{{Symbol: "BTCUSDT", Side: common.PositionSideLong, Contracts: d("500"), EntryPrice: d("100")}}
	assert.Equal(t, OutcomeHolding, h.loop.Cycle(context.Background()))
	assert.Equal(t, 1, v.candleCalls, "signal not evaluated while open")
	assert.Len(t, v.submitted, 3, "no second entry")
}

func TestSetup(t *testing.T) {
	v := &fakeVenue{balances: []string{"1000"}}
	h := newHarness(t, v, t0)

	require.NoError(t, h.loop.Setup(context.Background()))
	assert.Equal(t, []common.PositionSide{common.PositionSideLong, common.PositionSideShort}, v.leverageCalls)
	assert.Equal(t, []common.MarginMode{common.MarginCross, common.MarginCross}, v.marginModes)
	assert.Equal(t, "1000", h.loop.balance.Baseline().String())
}

func TestSetupExhausted(t *testing.T) {
	h := newHarness(t, &fakeVenue{balances: []string{"0"}}, t0)
	assert.ErrorIs(t, h.loop.Setup(context.Background()), ErrExhaustedCapital)
}

func TestRunCyclesOnAlignedSlotsUntilExhausted(t *testing.T) {
	v := &fakeVenue{balances: []string{"1000", "0"}, candles: mixedCandles}
	start := time.Date(2024, 3, 1, 10, 13, 30, 0, time.UTC)
	h := newHarness(t, v, start)

	err := h.loop.Run(context.Background())
	require.ErrorIs(t, err, ErrExhaustedCapital)

	// no cycle at 10:13:30; first at 10:15, the fatal one at 10:30
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), h.clock.now)
	assert.Equal(t, 1, v.positionCalls, "positions fetched only by the first cycle")
	assert.Equal(t, 1, v.candleCalls)
	require.GreaterOrEqual(t, len(h.clock.sleeps), 2)
	assert.Equal(t, time.Minute, h.clock.sleeps[0])
	assert.Equal(t, 30*time.Second, h.clock.sleeps[1], "second wait is cut at the 10:15 boundary")
	assert.False(t, h.loop.Health().Running)
}

func TestRunOnceInsideEachSlot(t *testing.T) {
	v := &fakeVenue{balances: []string{"1000"}, candles: mixedCandles}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, v, t0)
	h.clock.cancel = cancel
	h.clock.limit = 45 // 10:15 through 11:00

	err := h.loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, v.candleCalls, "10:15, 10:30 and 10:45")
	assert.Contains(t, h.out.String(), "10:16:00")
}

func TestRunStatusEveryNthBeat(t *testing.T) {
	v := &fakeVenue{balances: []string{"1000"}, candles: mixedCandles}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, v, t0)
	h.loop.cfg.StatusEvery = 3
	h.clock.cancel = cancel
	h.clock.limit = 3

	require.ErrorIs(t, h.loop.Run(ctx), context.Canceled)
	assert.Contains(t, h.out.String(), "BTCUSDT STATUS")
}

func TestMultiRecorderJoinsErrors(t *testing.T) {
	a, b := &memRecorder{}, &memRecorder{}
	failing := failingRecorder{err: errors.New("disk full")}
	m := MultiRecorder{a, failing, b}

	err := m.RecordBalance(context.Background(), common.Balance{Free: d("1")})
	assert.ErrorIs(t, err, failing.err)
	assert.Len(t, a.balances, 1)
	assert.Len(t, b.balances, 1)

	assert.NoError(t, MultiRecorder{a, b}.RecordPosition(context.Background(), state.Event{Kind: state.EventOpened}))
}

type failingRecorder struct{ err error }

func (f failingRecorder) RecordBalance(ctx context.Context, b common.Balance) error { return f.err }
func (f failingRecorder) RecordPosition(ctx context.Context, ev state.Event) error  { return f.err }

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "entered", OutcomeEntered.String())
	assert.Equal(t, "exhausted", OutcomeExhausted.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
}
