package storage

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"threetick/internal/state"
	"threetick/pkg/exchanges/common"
)

func TestBalancePoint(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	p := balancePoint("BTCUSDT", common.Balance{Free: decimal.RequireFromString("1000.5"), AsOf: at})

	assert.Equal(t, "balance", p.Name())
	assert.Equal(t, at, p.Time())
	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "symbol=BTCUSDT")
	assert.Contains(t, line, "free=1000.5")
}

func TestPositionPoint(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	ev := state.Event{
		At:   at,
		Kind: state.EventOpened,
		Position: state.Position{
			Symbol:     "BTCUSDT",
			Side:       common.PositionSideLong,
			EntryPrice: decimal.RequireFromString("64000"),
			Size:       decimal.RequireFromString("0.2"),
			Leverage:   50,
		},
	}
	p := positionPoint(ev)

	assert.Equal(t, "position", p.Name())
	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "event=opened")
	assert.Contains(t, line, "side=LONG")
	assert.Contains(t, line, "entry_price=64000")
	assert.Contains(t, line, "size=0.2")
	assert.Contains(t, line, "leverage=50i")
}
