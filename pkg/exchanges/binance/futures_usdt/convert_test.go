package futures_usdt

import (
	"context"
	"errors"
	"testing"

	bncommon "github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threetick/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &bncommon.APIError{Code: -1003, Message: "Too many requests"}, true},
		{"backend timeout", &bncommon.APIError{Code: -1007, Message: "Timeout"}, true},
		{"non-json 5xx", &bncommon.APIError{}, true},
		{"post-only would cross", &bncommon.APIError{Code: -5022, Message: "Post Only order will be rejected"}, false},
		{"insufficient margin", &bncommon.APIError{Code: -2019, Message: "Margin is insufficient"}, false},
		{"transport", errors.New("dial tcp: connection refused"), true},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("create order", tt.err)
			assert.Equal(t, tt.transient, common.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecodeKline(t *testing.T) {
	c, err := decodeKline(&futures.Kline{
		OpenTime: 1709287200000,
		Open:     "62000.1",
		High:     "62100",
		Low:      "61900.5",
		Close:    "61950",
		Volume:   "12.345",
	})
	require.NoError(t, err)
	assert.True(t, c.Open.Equal(d("62000.1")))
	assert.True(t, c.Close.Equal(d("61950")))
	assert.False(t, c.Bullish())
	assert.Equal(t, int64(1709287200), c.OpenTime.Unix())

	_, err = decodeKline(&futures.Kline{Open: "x", High: "1", Low: "1", Close: "1", Volume: "1"})
	assert.Error(t, err)
}

func TestDecodePosition(t *testing.T) {
	tests := []struct {
		name      string
		row       futures.PositionRisk
		side      common.PositionSide
		contracts string
		leverage  int
	}{
		{
			name:      "one-way short",
			row:       futures.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "-0.250", EntryPrice: "64000", Leverage: "50", PositionSide: "BOTH"},
			side:      common.PositionSideShort,
			contracts: "0.25",
			leverage:  50,
		},
		{
			name:      "one-way long",
			row:       futures.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "0.1", EntryPrice: "64000", Leverage: "20", PositionSide: "BOTH"},
			side:      common.PositionSideLong,
			contracts: "0.1",
			leverage:  20,
		},
		{
			name:      "hedge short leg",
			row:       futures.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "-1", EntryPrice: "10", PositionSide: "SHORT"},
			side:      common.PositionSideShort,
			contracts: "1",
		},
		{
			name:      "flat",
			row:       futures.PositionRisk{Symbol: "BTCUSDT", PositionAmt: "0.000", EntryPrice: "0.0", Leverage: "50", PositionSide: "BOTH"},
			side:      common.PositionSideLong,
			contracts: "0",
			leverage:  50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := tt.row
			snap, err := decodePosition(&row)
			require.NoError(t, err)
			assert.Equal(t, tt.side, snap.Side)
			assert.True(t, snap.Contracts.Equal(d(tt.contracts)))
			assert.Equal(t, tt.leverage, snap.Leverage)
		})
	}
}

func TestDecodeOrderAveragePrice(t *testing.T) {
	tests := []struct {
		avg   string
		valid bool
	}{
		{"64012.5", true},
		{"0.00000", false},
		{"", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		res, err := decodeOrder(&futures.CreateOrderResponse{
			OrderID:       42,
			ClientOrderID: "abc",
			Status:        futures.OrderStatusTypeFilled,
			AvgPrice:      tt.avg,
		})
		require.NoError(t, err)
		assert.Equal(t, tt.valid, res.AverageFillPrice.Valid, "avg %q", tt.avg)
		assert.Equal(t, "42", res.ExchangeOrderID)
		assert.Equal(t, common.StatusFilled, res.Status)
	}

	_, err := decodeOrder(nil)
	assert.Error(t, err)
}

func TestSymbolFiltersRounding(t *testing.T) {
	f := symbolFilters{step: d("0.001"), tick: d("0.1")}
	assert.True(t, f.quantity(d("0.12345678")).Equal(d("0.123")))
	assert.True(t, f.price(d("100.07")).Equal(d("100.1")))
	assert.True(t, f.price(d("96.04")).Equal(d("96")))

	var none symbolFilters
	assert.True(t, none.quantity(d("0.12345678")).Equal(d("0.12345678")))
}
