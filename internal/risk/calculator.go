package risk

import (
	"github.com/shopspring/decimal"

	"threetick/pkg/exchanges/common"
)

// PositionSize returns free*ratio*leverage/price rounded to 8 places.
// Zero means the trade must be skipped.
func PositionSize(free, ratio decimal.Decimal, leverage int, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !free.IsPositive() || !ratio.IsPositive() || leverage <= 0 {
		return decimal.Zero
	}
	notional := free.Mul(ratio).Mul(decimal.NewFromInt(int64(leverage)))
	return notional.DivRound(price, SizePrecision+8).Round(SizePrecision)
}

// StopLossRate tightens the stop as profit since the baseline grows, giving
// back at most 1% of it, and never goes below StopLossFloor. An unset
// baseline yields the floor.
func StopLossRate(current, initial decimal.Decimal) decimal.Decimal {
	if !initial.IsPositive() {
		return StopLossFloor
	}
	profitRate := current.DivRound(initial, 16).Sub(decimal.NewFromInt(1))
	return decimal.Max(profitRate.Sub(ProfitErosion), StopLossFloor)
}

// BracketPrices returns take-profit and stop-loss trigger prices around entry.
func BracketPrices(entry decimal.Decimal, side common.PositionSide, takeProfitRate, stopLossRate decimal.Decimal) (tp, sl decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if side == common.PositionSideShort {
		return entry.Mul(one.Sub(takeProfitRate)), entry.Mul(one.Add(stopLossRate))
	}
	return entry.Mul(one.Add(takeProfitRate)), entry.Mul(one.Sub(stopLossRate))
}
