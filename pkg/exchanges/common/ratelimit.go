package common

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles every call to the wrapped Venue through a token bucket.
type RateLimited struct {
	venue   Venue
	limiter *rate.Limiter
}

// NewRateLimited wraps v. rps <= 0 disables throttling.
// burst should cover one cycle's worth of calls (about 8).
func NewRateLimited(v Venue, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		venue:   v,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (r *RateLimited) FetchBalance(ctx context.Context) (Balance, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Balance{}, err
	}
	return r.venue.FetchBalance(ctx)
}

func (r *RateLimited) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Ticker{}, err
	}
	return r.venue.FetchTicker(ctx, symbol)
}

func (r *RateLimited) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.venue.FetchCandles(ctx, symbol, timeframe, limit)
}

func (r *RateLimited) FetchPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.venue.FetchPositions(ctx, symbol)
}

func (r *RateLimited) SetLeverage(ctx context.Context, leverage int, symbol string, mode MarginMode, side PositionSide) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.venue.SetLeverage(ctx, leverage, symbol, mode, side)
}

func (r *RateLimited) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return OrderResult{}, err
	}
	return r.venue.SubmitOrder(ctx, req)
}
