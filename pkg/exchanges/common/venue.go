package common

import (
	"context"
	"errors"
)

// ErrTransient marks network, rate-limit and 5xx failures that are safe to retry.
var ErrTransient = errors.New("transient venue error")

// Venue abstracts a derivatives trading venue for a single account.
type Venue interface {
	FetchBalance(ctx context.Context) (Balance, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error)
	SetLeverage(ctx context.Context, leverage int, symbol string, mode MarginMode, side PositionSide) error
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// MarketData is the read-only public subset of a Venue.
type MarketData interface {
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// IsTransient reports whether err was classified as retryable by an adapter.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
