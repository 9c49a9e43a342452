// Package engine drives the single-threaded trading loop: balance refresh,
// reconcile, signal evaluation and entry, on a wall-clock aligned cadence.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"threetick/internal/balance"
	"threetick/internal/order"
	"threetick/internal/signal"
	"threetick/internal/state"
	"threetick/pkg/exchanges/common"
)

// ErrExhaustedCapital is the only condition that stops Run on its own.
var ErrExhaustedCapital = balance.ErrExhausted

// Outcome is the result of one trading cycle.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeHolding
	OutcomeNoSignal
	OutcomeEntered
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHolding:
		return "holding"
	case OutcomeNoSignal:
		return "no_signal"
	case OutcomeEntered:
		return "entered"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "skipped"
	}
}

// Clock supplies wall time and interruptible waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	return order.WallSleeper.Sleep(ctx, d)
}

// WallClock is the real clock.
var WallClock Clock = wallClock{}

// Recorder receives audit data from the loop. Failures are logged only.
type Recorder interface {
	RecordBalance(ctx context.Context, b common.Balance) error
	RecordPosition(ctx context.Context, ev state.Event) error
}

// MultiRecorder fans out to every recorder.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordBalance(ctx context.Context, b common.Balance) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordBalance(ctx, b))
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) RecordPosition(ctx context.Context, ev state.Event) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordPosition(ctx, ev))
	}
	return errors.Join(errs...)
}

// Entrant opens a bracketed position.
type Entrant interface {
	EnterPosition(ctx context.Context, sig signal.Signal, size decimal.Decimal) (state.Position, order.BracketReport, error)
}

// Config is the loop cadence and instrument.
type Config struct {
	Symbol      string
	Timeframe   string
	Interval    time.Duration // cycle cadence, aligned to the wall clock
	Heartbeat   time.Duration
	StatusEvery int // full status every N heartbeats; 0 disables
	MarginMode  common.MarginMode
}

// Health is a copy of loop progress safe to hand to other goroutines.
type Health struct {
	Symbol        string    `json:"symbol"`
	Running       bool      `json:"running"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastCycle     time.Time `json:"last_cycle"`
	LastOutcome   string    `json:"last_outcome"`
	PositionOpen  bool      `json:"position_open"`
	PositionSide  string    `json:"position_side,omitempty"`
	FreeBalance   string    `json:"free_balance"`
}
