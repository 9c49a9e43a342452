package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"threetick/internal/monitor"
	"threetick/internal/risk"
	"threetick/internal/signal"
	"threetick/internal/state"
	"threetick/pkg/exchanges/common"
	"threetick/pkg/logger"
)

// Executor submits orders to the venue with bounded retry and assembles the
// entry + take-profit + stop-loss bracket.
type Executor struct {
	venue    common.Venue
	symbol   string
	params   risk.Parameters
	baseline Baseline
	policy   RetryPolicy
	sleeper  Sleeper
	journal  Journal
	now      func() time.Time
	log      *zap.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleeper replaces the wall-clock sleeper used between attempts.
func WithSleeper(s Sleeper) Option { return func(e *Executor) { e.sleeper = s } }

// WithRetryPolicy replaces the default 3x2s policy.
func WithRetryPolicy(p RetryPolicy) Option { return func(e *Executor) { e.policy = p } }

// WithJournal records every submission.
func WithJournal(j Journal) Option { return func(e *Executor) { e.journal = j } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.log = l } }

func NewExecutor(venue common.Venue, symbol string, params risk.Parameters, baseline Baseline, opts ...Option) *Executor {
	e := &Executor{
		venue:    venue,
		symbol:   symbol,
		params:   params,
		baseline: baseline,
		policy:   DefaultRetryPolicy(),
		sleeper:  WallSleeper,
		now:      time.Now,
		log:      logger.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("executor")
	return e
}

// SubmitWithRetry sends req up to policy.Attempts times with a fixed delay
// between attempts. Exhausting the attempts yields ErrOrderFailed wrapping the
// last error; the caller must not assume anything reached the venue.
func (e *Executor) SubmitWithRetry(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	res, _, err := e.submit(ctx, KindEntry, req)
	return res, err
}

func (e *Executor) submit(ctx context.Context, kind Kind, req common.OrderRequest) (common.OrderResult, int, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	var (
		res      common.OrderResult
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt < e.policy.Attempts; attempt++ {
		attempts++
		res, lastErr = e.venue.SubmitOrder(ctx, req)
		if lastErr == nil {
			break
		}

		e.log.Warn("order attempt failed",
			zap.String("kind", string(kind)),
			zap.String("client_id", req.ClientID),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.policy.Attempts),
			zap.Bool("transient", common.IsTransient(lastErr)),
			zap.Error(lastErr))

		if attempt == e.policy.Attempts-1 {
			break
		}
		if err := e.sleeper.Sleep(ctx, e.policy.Delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	var err error
	if lastErr != nil {
		err = fmt.Errorf("%w: %s after %d attempt(s): %w", ErrOrderFailed, kind, attempts, lastErr)
		e.log.Error("order submission gave up", zap.String("kind", string(kind)), zap.Error(err))
		monitor.RecordOrder(string(kind), "failed")
	} else {
		monitor.RecordOrder(string(kind), "accepted")
	}

	if e.journal != nil {
		sub := Submission{Kind: kind, Request: req, Result: res, Attempts: attempts, Err: err, At: e.now()}
		if jerr := e.journal.RecordOrder(ctx, sub); jerr != nil {
			e.log.Warn("journal order failed", zap.Error(jerr))
		}
	}
	return res, attempts, err
}

// EnterPosition opens a market position for sig and attaches the protective
// legs. The position is only returned once the venue confirms a positive
// average fill price; without one no bracket is sent. A failed bracket leg is
// reported in BracketReport but does not undo the entry.
func (e *Executor) EnterPosition(ctx context.Context, sig signal.Signal, size decimal.Decimal) (state.Position, BracketReport, error) {
	if sig == signal.None {
		return state.Position{}, BracketReport{}, fmt.Errorf("order: no entry for signal %s", sig)
	}
	if !size.IsPositive() {
		return state.Position{}, BracketReport{}, fmt.Errorf("order: invalid size %s", size)
	}

	side := sig.PositionSide()
	entry := common.OrderRequest{
		Symbol: e.symbol,
		Side:   side.EntrySide(),
		Type:   common.OrderTypeMarket,
		Qty:    size,
	}
	res, _, err := e.submit(ctx, KindEntry, entry)
	if err != nil {
		return state.Position{}, BracketReport{}, err
	}

	fill := res.AverageFillPrice
	if !fill.Valid || !fill.Decimal.IsPositive() {
		e.log.Error("entry fill unconfirmed, bracket not sent",
			zap.String("client_id", res.ClientID),
			zap.String("status", string(res.Status)),
			zap.Bool("price_present", fill.Valid))
		return state.Position{}, BracketReport{}, fmt.Errorf("%w: order %s status %s", ErrInvalidFill, res.ExchangeOrderID, res.Status)
	}

	pos := state.Position{
		Symbol:     e.symbol,
		Side:       side,
		EntryPrice: fill.Decimal,
		Size:       size,
		Leverage:   e.params.Leverage(),
		OpenedAt:   e.now(),
	}

	bracket := risk.NewBracket(pos.EntryPrice, side, e.params, e.stopLossRate(ctx))
	report := BracketReport{Bracket: bracket}

	tpRes, tpAttempts, tpErr := e.submit(ctx, KindTakeProfit, bracket.TakeProfitOrder(e.symbol, size))
	report.TakeProfit = LegResult{Result: tpRes, Attempts: tpAttempts, Err: tpErr}

	slRes, slAttempts, slErr := e.submit(ctx, KindStopLoss, bracket.StopLossOrder(e.symbol, size))
	report.StopLoss = LegResult{Result: slRes, Attempts: slAttempts, Err: slErr}

	if err := report.Err(); err != nil {
		e.log.Error("position open with reduced protection", zap.Error(err))
	}
	return pos, report, nil
}

// stopLossRate measures performance since the baseline using a fresh balance
// read. Any failure degrades to the floor.
func (e *Executor) stopLossRate(ctx context.Context) decimal.Decimal {
	if e.baseline == nil {
		return risk.StopLossFloor
	}
	bal, err := e.venue.FetchBalance(ctx)
	if err != nil {
		e.log.Warn("balance unavailable for stop-loss rate, using floor", zap.Error(err))
		return risk.StopLossFloor
	}
	rate := risk.StopLossRate(bal.Free, e.baseline.Baseline())
	monitor.SetStopLossRate(rate)
	return rate
}
