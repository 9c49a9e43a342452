package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"threetick/internal/balance"
	"threetick/internal/monitor"
	"threetick/internal/risk"
	"threetick/internal/signal"
	"threetick/internal/state"
	"threetick/pkg/exchanges/common"
	"threetick/pkg/logger"
)

// Loop owns all trading state. Only Health may be called from other goroutines.
type Loop struct {
	cfg       Config
	venue     common.Venue
	params    risk.Parameters
	balance   *balance.Tracker
	positions *state.Manager
	entrant   Entrant
	clock     Clock
	console   *monitor.Console
	recorder  Recorder
	log       *zap.Logger

	lastSlot time.Time
	beats    int
	health   atomic.Pointer[Health]
}

// Deps are the collaborators a Loop drives.
type Deps struct {
	Venue     common.Venue
	Params    risk.Parameters
	Balance   *balance.Tracker
	Positions *state.Manager
	Entrant   Entrant
	Clock     Clock
	Console   *monitor.Console
	Recorder  Recorder
	Logger    *zap.Logger
}

func NewLoop(cfg Config, d Deps) (*Loop, error) {
	if d.Venue == nil || d.Balance == nil || d.Positions == nil || d.Entrant == nil {
		return nil, errors.New("engine: venue, balance, positions and entrant are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("engine: invalid interval %s", cfg.Interval)
	}
	if cfg.Heartbeat <= 0 || cfg.Heartbeat > cfg.Interval {
		cfg.Heartbeat = cfg.Interval
	}
	if cfg.MarginMode == "" {
		cfg.MarginMode = common.MarginCross
	}
	if d.Clock == nil {
		d.Clock = WallClock
	}
	if d.Logger == nil {
		d.Logger = logger.L()
	}
	l := &Loop{
		cfg:       cfg,
		venue:     d.Venue,
		params:    d.Params,
		balance:   d.Balance,
		positions: d.Positions,
		entrant:   d.Entrant,
		clock:     d.Clock,
		console:   d.Console,
		recorder:  d.Recorder,
		log:       d.Logger.Named("loop"),
	}
	l.health.Store(&Health{Symbol: cfg.Symbol})
	return l, nil
}

// Health returns the latest published progress.
func (l *Loop) Health() Health {
	return *l.health.Load()
}

// Setup applies leverage for both position sides and takes the first
// baseline. A leverage failure is logged; no free collateral is fatal.
func (l *Loop) Setup(ctx context.Context) error {
	for _, side := range []common.PositionSide{common.PositionSideLong, common.PositionSideShort} {
		if err := l.venue.SetLeverage(ctx, l.params.Leverage(), l.cfg.Symbol, l.cfg.MarginMode, side); err != nil {
			l.log.Warn("set leverage failed",
				zap.String("side", string(side)),
				zap.Int("leverage", l.params.Leverage()),
				zap.Error(err))
		}
	}

	bal, err := l.balance.Sync(ctx)
	if err != nil {
		return fmt.Errorf("engine: initial balance: %w", err)
	}
	monitor.SetFreeBalance(bal.Free)
	l.recordBalance(ctx, bal)
	l.log.Info("trading setup complete",
		zap.String("symbol", l.cfg.Symbol),
		zap.Stringer("initial_balance", bal.Free),
		zap.Stringer("investment_ratio", l.params.InvestmentRatio()),
		zap.Int("leverage", l.params.Leverage()))
	return nil
}

// Cycle runs one decision pass. Venue failures skip the cycle; only a
// non-positive balance yields OutcomeExhausted.
func (l *Loop) Cycle(ctx context.Context) Outcome {
	out := l.cycle(ctx)
	monitor.RecordCycle(out.String())
	l.publish(func(h *Health) {
		h.LastCycle = l.clock.Now()
		h.LastOutcome = out.String()
	})
	l.log.Info("cycle finished", zap.Stringer("outcome", out))
	return out
}

func (l *Loop) cycle(ctx context.Context) Outcome {
	bal, err := l.balance.Sync(ctx)
	switch {
	case errors.Is(err, balance.ErrExhausted):
		return OutcomeExhausted
	case err != nil:
		l.log.Warn("balance refresh failed, keeping previous baseline", zap.Error(err))
		return OutcomeSkipped
	}
	monitor.SetFreeBalance(bal.Free)
	l.recordBalance(ctx, bal)

	snaps, err := l.venue.FetchPositions(ctx, l.cfg.Symbol)
	if err != nil {
		l.log.Warn("position fetch failed, exposure unknown", zap.Error(err))
		return OutcomeSkipped
	}
	before, _ := l.positions.Position()
	switch l.positions.Reconcile(snaps) {
	case state.TransitionAdopted:
		pos, _ := l.positions.Position()
		l.recordPosition(ctx, state.EventAdopted, pos)
	case state.TransitionClosed:
		l.recordPosition(ctx, state.EventClosed, before)
	}
	monitor.SetPositionOpen(!l.positions.IsFlat())
	l.publishPosition()

	if !l.positions.IsFlat() {
		return OutcomeHolding
	}

	candles, err := l.venue.FetchCandles(ctx, l.cfg.Symbol, l.cfg.Timeframe, signal.Lookback)
	if err != nil {
		l.log.Warn("candle fetch failed", zap.Error(err))
		return OutcomeSkipped
	}
	sig, err := signal.Evaluate(candles)
	if err != nil {
		l.log.Warn("signal unavailable", zap.Int("candles", len(candles)), zap.Error(err))
		return OutcomeSkipped
	}
	monitor.RecordSignal(sig.String())
	if sig == signal.None {
		l.log.Info("no signal")
		return OutcomeNoSignal
	}

	size := l.size(ctx)
	if !size.IsPositive() {
		l.log.Warn("position size is zero, entry skipped", zap.Stringer("signal", sig))
		return OutcomeSkipped
	}

	var report risk.Bracket
	pos, entered, err := l.positions.Enter(ctx, func(ctx context.Context) (state.Position, error) {
		p, r, err := l.entrant.EnterPosition(ctx, sig, size)
		report = r.Bracket
		return p, err
	})
	if err != nil {
		l.log.Error("entry failed", zap.Stringer("signal", sig), zap.Error(err))
		return OutcomeSkipped
	}
	if !entered {
		return OutcomeHolding
	}

	monitor.SetPositionOpen(true)
	l.publishPosition()
	l.recordPosition(ctx, state.EventOpened, pos)
	if l.console != nil {
		l.console.Entry(l.clock.Now(), pos, report)
	}
	return OutcomeEntered
}

// size reads a fresh balance and the last price. Any failure sizes to zero.
func (l *Loop) size(ctx context.Context) decimal.Decimal {
	bal, err := l.venue.FetchBalance(ctx)
	if err != nil {
		l.log.Warn("balance unavailable for sizing", zap.Error(err))
		return decimal.Zero
	}
	tick, err := l.venue.FetchTicker(ctx, l.cfg.Symbol)
	if err != nil {
		l.log.Warn("ticker unavailable for sizing", zap.Error(err))
		return decimal.Zero
	}
	size := l.params.PositionSize(bal.Free, tick.Last)
	l.log.Debug("sized entry",
		zap.Stringer("free", bal.Free),
		zap.Stringer("price", tick.Last),
		zap.Stringer("size", size))
	return size
}

// Run heartbeats until ctx ends or capital is exhausted. A cycle runs once
// per aligned slot, when a heartbeat lands in the slot's first beat window.
func (l *Loop) Run(ctx context.Context) error {
	l.publish(func(h *Health) { h.Running = true })
	defer l.publish(func(h *Health) { h.Running = false })

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := l.clock.Now()
		l.heartbeat(ctx, now)

		slot := now.Truncate(l.cfg.Interval)
		if now.Sub(slot) < l.cfg.Heartbeat && !slot.Equal(l.lastSlot) {
			l.lastSlot = slot
			if l.Cycle(ctx) == OutcomeExhausted {
				l.log.Error("stopping: capital exhausted")
				return ErrExhaustedCapital
			}
		}

		if err := l.clock.Sleep(ctx, l.untilNextBeat(l.clock.Now())); err != nil {
			return err
		}
	}
}

// untilNextBeat waits one heartbeat, cut short at the next slot boundary.
func (l *Loop) untilNextBeat(now time.Time) time.Duration {
	wait := l.cfg.Heartbeat
	if next := now.Truncate(l.cfg.Interval).Add(l.cfg.Interval).Sub(now); next < wait {
		wait = next
	}
	if wait <= 0 {
		wait = time.Second
	}
	return wait
}

func (l *Loop) heartbeat(ctx context.Context, now time.Time) {
	l.beats++
	monitor.MarkHeartbeat(now)
	l.publish(func(h *Health) { h.LastHeartbeat = now })
	if l.console == nil {
		return
	}
	if l.cfg.StatusEvery > 0 && l.beats%l.cfg.StatusEvery == 0 {
		l.status(ctx, now)
		return
	}
	l.console.Heartbeat(now, "running")
}

// status reads a fresh balance for display only; the baseline is untouched.
func (l *Loop) status(ctx context.Context, now time.Time) {
	bal, err := l.venue.FetchBalance(ctx)
	if err != nil {
		l.log.Warn("status balance unavailable", zap.Error(err))
		l.console.Heartbeat(now, "balance unavailable")
		return
	}
	snap := monitor.Snapshot{
		At:              now,
		Symbol:          l.cfg.Symbol,
		Free:            bal.Free,
		Baseline:        l.balance.Baseline(),
		InvestmentRatio: l.params.InvestmentRatio(),
		Available:       l.params.Available(bal.Free),
	}
	if pos, ok := l.positions.Position(); ok {
		snap.Position = &pos
	}
	l.console.Status(snap)
}

func (l *Loop) recordBalance(ctx context.Context, bal common.Balance) {
	l.publish(func(h *Health) { h.FreeBalance = bal.Free.String() })
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordBalance(ctx, bal); err != nil {
		l.log.Warn("record balance failed", zap.Error(err))
	}
}

func (l *Loop) recordPosition(ctx context.Context, kind state.EventKind, pos state.Position) {
	if l.recorder == nil {
		return
	}
	ev := state.Event{At: l.clock.Now(), Kind: kind, Position: pos}
	if err := l.recorder.RecordPosition(ctx, ev); err != nil {
		l.log.Warn("record position failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (l *Loop) publishPosition() {
	pos, open := l.positions.Position()
	l.publish(func(h *Health) {
		h.PositionOpen = open
		h.PositionSide = string(pos.Side)
	})
}

// publish swaps in an updated copy of the health record.
func (l *Loop) publish(fn func(h *Health)) {
	next := *l.health.Load()
	fn(&next)
	l.health.Store(&next)
}
