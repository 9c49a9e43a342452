package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"threetick/internal/risk"
	"threetick/pkg/exchanges/common"
)

var (
	ErrOrderFailed    = errors.New("order: submission failed after retries")
	ErrInvalidFill    = errors.New("order: fill has no valid average price")
	ErrPartialBracket = errors.New("order: bracket leg failed")
)

// Kind labels the role of a submission within a bracket.
type Kind string

const (
	KindEntry      Kind = "entry"
	KindTakeProfit Kind = "take_profit"
	KindStopLoss   Kind = "stop_loss"
)

// Submission is one logical order and the outcome of its retry loop.
type Submission struct {
	Kind     Kind
	Request  common.OrderRequest
	Result   common.OrderResult
	Attempts int
	Err      error
	At       time.Time
}

// Journal receives every submission for audit. Implementations must not block for long.
type Journal interface {
	RecordOrder(ctx context.Context, s Submission) error
}

// Baseline supplies the balance checkpoint stop-loss distance is measured from.
type Baseline interface {
	Baseline() decimal.Decimal
}

// LegResult is the outcome of one protective leg.
type LegResult struct {
	Result   common.OrderResult
	Attempts int
	Err      error
}

// OK reports whether the leg was accepted by the venue.
func (l LegResult) OK() bool { return l.Err == nil }

// BracketReport describes the protective legs attached to a confirmed entry.
type BracketReport struct {
	Bracket    risk.Bracket
	TakeProfit LegResult
	StopLoss   LegResult
}

// Err returns ErrPartialBracket naming the failed legs, or nil when both were placed.
func (r BracketReport) Err() error {
	switch {
	case !r.TakeProfit.OK() && !r.StopLoss.OK():
		return fmt.Errorf("%w: take-profit (%v) and stop-loss (%v)", ErrPartialBracket, r.TakeProfit.Err, r.StopLoss.Err)
	case !r.TakeProfit.OK():
		return fmt.Errorf("%w: take-profit: %v", ErrPartialBracket, r.TakeProfit.Err)
	case !r.StopLoss.OK():
		return fmt.Errorf("%w: stop-loss: %v", ErrPartialBracket, r.StopLoss.Err)
	}
	return nil
}
