package risk

import (
	"github.com/shopspring/decimal"

	"threetick/pkg/exchanges/common"
)

// Bracket is the pair of protective exit levels attached to a filled entry.
type Bracket struct {
	Side           common.PositionSide
	Entry          decimal.Decimal
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	TakeProfitRate decimal.Decimal
	StopLossRate   decimal.Decimal
}

// NewBracket prices the exits for an entry using the configured target and
// the given (already floored) stop-loss rate.
func NewBracket(entry decimal.Decimal, side common.PositionSide, p Parameters, stopLossRate decimal.Decimal) Bracket {
	tp, sl := BracketPrices(entry, side, p.TakeProfitRate(), stopLossRate)
	return Bracket{
		Side:           side,
		Entry:          entry,
		TakeProfit:     tp,
		StopLoss:       sl,
		TakeProfitRate: p.TakeProfitRate(),
		StopLossRate:   stopLossRate,
	}
}

// TakeProfitOrder is a reduce-only post-only limit at the target.
func (b Bracket) TakeProfitOrder(symbol string, qty decimal.Decimal) common.OrderRequest {
	return common.OrderRequest{
		Symbol:      symbol,
		Side:        b.Side.ExitSide(),
		Type:        common.OrderTypeLimit,
		Qty:         qty,
		Price:       b.TakeProfit,
		TimeInForce: common.TIFGTX,
		ReduceOnly:  true,
	}
}

// StopLossOrder is a reduce-only stop-market triggered at the stop.
func (b Bracket) StopLossOrder(symbol string, qty decimal.Decimal) common.OrderRequest {
	return common.OrderRequest{
		Symbol:     symbol,
		Side:       b.Side.ExitSide(),
		Type:       common.OrderTypeStopMarket,
		Qty:        qty,
		Price:      b.StopLoss,
		StopPrice:  b.StopLoss,
		ReduceOnly: true,
	}
}
