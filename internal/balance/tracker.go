package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"threetick/pkg/exchanges/common"
	"threetick/pkg/logger"
)

// ErrExhausted is returned once the venue reports no free collateral.
var ErrExhausted = errors.New("balance: capital exhausted")

// Source fetches free collateral.
type Source interface {
	FetchBalance(ctx context.Context) (common.Balance, error)
}

// Tracker holds the latest balance snapshot, which doubles as the baseline
// stop-loss distance is measured from. Every successful Sync rolls the
// baseline forward. It is owned by the loop goroutine.
type Tracker struct {
	last   common.Balance
	src    Source
	now    func() time.Time
	log    *zap.Logger
}

func NewTracker(src Source, log *zap.Logger) *Tracker {
	if log == nil {
		log = logger.L()
	}
	return &Tracker{src: src, now: time.Now, log: log.Named("balance")}
}

// Sync fetches a fresh snapshot. On a fetch error the previous snapshot is
// kept. A non-positive free balance is stored and reported as ErrExhausted.
func (t *Tracker) Sync(ctx context.Context) (common.Balance, error) {
	bal, err := t.src.FetchBalance(ctx)
	if err != nil {
		return t.last, fmt.Errorf("balance: fetch: %w", err)
	}
	if bal.AsOf.IsZero() {
		bal.AsOf = t.now()
	}
	t.last = bal
	if !bal.Free.IsPositive() {
		t.log.Error("no free collateral left", zap.Stringer("free", bal.Free))
		return bal, ErrExhausted
	}
	t.log.Debug("balance synced", zap.Stringer("free", bal.Free))
	return bal, nil
}

// Baseline is the free balance of the latest successful sync, zero before the first.
func (t *Tracker) Baseline() decimal.Decimal {
	return t.last.Free
}

// Snapshot returns the latest snapshot.
func (t *Tracker) Snapshot() common.Balance {
	return t.last
}
