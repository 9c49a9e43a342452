package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"threetick/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func TestPositionSize(t *testing.T) {
	tests := []struct {
		name     string
		free     string
		ratio    string
		leverage int
		price    string
		want     string
	}{
		{"full ratio", "1000", "1", 50, "50000", "1"},
		{"tenth ratio", "1000", "0.1", 50, "50000", "0.1"},
		{"rounded to 8 places", "100", "1", 1, "3", "33.33333333"},
		{"zero price", "1000", "1", 50, "0", "0"},
		{"negative price", "1000", "1", 50, "-1", "0"},
		{"no balance", "0", "1", 50, "100", "0"},
		{"no leverage", "1000", "1", 0, "100", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PositionSize(d(tt.free), d(tt.ratio), tt.leverage, d(tt.price))
			assertDecimal(t, tt.want, got)
		})
	}
}

func TestPositionSizeMonotonic(t *testing.T) {
	base := PositionSize(d("1000"), d("0.5"), 10, d("100"))

	assert.True(t, PositionSize(d("2000"), d("0.5"), 10, d("100")).GreaterThan(base), "free balance")
	assert.True(t, PositionSize(d("1000"), d("0.9"), 10, d("100")).GreaterThan(base), "investment ratio")
	assert.True(t, PositionSize(d("1000"), d("0.5"), 20, d("100")).GreaterThan(base), "leverage")
	assert.True(t, PositionSize(d("1000"), d("0.5"), 10, d("200")).LessThan(base), "price")
}

func TestStopLossRate(t *testing.T) {
	tests := []struct {
		name             string
		current, initial string
		want             string
	}{
		{"profit tightens", "1050", "1000", "0.04"},
		{"loss floors", "990", "1000", "0.001"},
		{"flat floors", "1000", "1000", "0.001"},
		{"just above floor", "1011.5", "1000", "0.0015"},
		{"unset baseline", "1000", "0", "0.001"},
		{"negative baseline", "1000", "-5", "0.001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDecimal(t, tt.want, StopLossRate(d(tt.current), d(tt.initial)))
		})
	}
}

func TestBracketPrices(t *testing.T) {
	tp, sl := BracketPrices(d("100"), common.PositionSideLong, d("0.0007"), d("0.04"))
	assertDecimal(t, "100.07", tp)
	assertDecimal(t, "96", sl)

	tp, sl = BracketPrices(d("100"), common.PositionSideShort, d("0.0007"), d("0.04"))
	assertDecimal(t, "99.93", tp)
	assertDecimal(t, "104", sl)
}

func TestNewParametersClampsRatio(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.5", "1"},
		{"-0.2", "0.1"},
		{"0.05", "0.1"},
		{"0.35", "0.35"},
		{"1", "1"},
	}
	for _, tt := range tests {
		p := NewParameters(DefaultTakeProfitRate, DefaultLeverage, d(tt.in))
		assertDecimal(t, tt.want, p.InvestmentRatio(), "input %s", tt.in)
	}
}

func TestParametersPositionSize(t *testing.T) {
	p := NewParameters(DefaultTakeProfitRate, 50, d("0.1"))
	assertDecimal(t, "0.1", p.PositionSize(d("1000"), d("50000")))
	assertDecimal(t, "100", p.Available(d("1000")))
}

func TestDefaultParameters(t *testing.T) {
	p := DefaultParameters()
	assertDecimal(t, "0.0007", p.TakeProfitRate())
	assert.Equal(t, 50, p.Leverage())
	assertDecimal(t, "1", p.InvestmentRatio())
}

func TestProtectionOrdersAreReduceOnly(t *testing.T) {
	p := DefaultParameters()
	tests := []struct {
		side     common.PositionSide
		exitSide common.Side
		tp, sl   string
	}{
		{common.PositionSideLong, common.SideSell, "100.07", "96"},
		{common.PositionSideShort, common.SideBuy, "99.93", "104"},
	}
	for _, tt := range tests {
		b := NewBracket(d("100"), tt.side, p, d("0.04"))

		tpOrder := b.TakeProfitOrder("BTCUSDT", d("0.5"))
		assert.True(t, tpOrder.ReduceOnly)
		assert.True(t, tpOrder.PostOnly())
		assert.Equal(t, common.OrderTypeLimit, tpOrder.Type)
		assert.Equal(t, tt.exitSide, tpOrder.Side)
		assertDecimal(t, tt.tp, tpOrder.Price)
		assertDecimal(t, "0.5", tpOrder.Qty)

		slOrder := b.StopLossOrder("BTCUSDT", d("0.5"))
		assert.True(t, slOrder.ReduceOnly)
		assert.False(t, slOrder.PostOnly())
		assert.Equal(t, common.OrderTypeStopMarket, slOrder.Type)
		assert.Equal(t, tt.exitSide, slOrder.Side)
		assertDecimal(t, tt.sl, slOrder.StopPrice)
	}
}
