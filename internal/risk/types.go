package risk

import (
	"github.com/shopspring/decimal"
)

var (
	// StopLossFloor is the tightest stop distance ever used (0.1%).
	StopLossFloor = decimal.RequireFromString("0.001")
	// ProfitErosion is the slice of cumulative profit the stop may give back (1%).
	ProfitErosion = decimal.RequireFromString("0.01")

	MinInvestmentRatio = decimal.RequireFromString("0.1")
	MaxInvestmentRatio = decimal.NewFromInt(1)

	DefaultTakeProfitRate = decimal.RequireFromString("0.0007")
)

const (
	DefaultLeverage = 50
	// SizePrecision is the number of decimal places position sizes are rounded to.
	SizePrecision = 8
)

// Parameters holds the risk settings fixed at startup. The investment ratio
// is clamped on construction and cannot be changed afterwards.
type Parameters struct {
	takeProfitRate  decimal.Decimal
	leverage        int
	investmentRatio decimal.Decimal
}

// NewParameters clamps ratio into [0.1, 1.0].
func NewParameters(takeProfitRate decimal.Decimal, leverage int, ratio decimal.Decimal) Parameters {
	return Parameters{
		takeProfitRate:  takeProfitRate,
		leverage:        leverage,
		investmentRatio: ClampRatio(ratio),
	}
}

// DefaultParameters mirrors the production settings: 0.07% target, 50x, full free balance.
func DefaultParameters() Parameters {
	return NewParameters(DefaultTakeProfitRate, DefaultLeverage, MaxInvestmentRatio)
}

func (p Parameters) TakeProfitRate() decimal.Decimal  { return p.takeProfitRate }
func (p Parameters) Leverage() int                    { return p.leverage }
func (p Parameters) InvestmentRatio() decimal.Decimal { return p.investmentRatio }

// PositionSize sizes an entry from free balance at the configured ratio and leverage.
func (p Parameters) PositionSize(free, price decimal.Decimal) decimal.Decimal {
	return PositionSize(free, p.investmentRatio, p.leverage, price)
}

// Available is the slice of free balance the ratio allows to commit as margin.
func (p Parameters) Available(free decimal.Decimal) decimal.Decimal {
	return free.Mul(p.investmentRatio)
}

// ClampRatio bounds an investment ratio to [0.1, 1.0].
func ClampRatio(ratio decimal.Decimal) decimal.Decimal {
	if ratio.LessThan(MinInvestmentRatio) {
		return MinInvestmentRatio
	}
	if ratio.GreaterThan(MaxInvestmentRatio) {
		return MaxInvestmentRatio
	}
	return ratio
}
