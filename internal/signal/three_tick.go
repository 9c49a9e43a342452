package signal

import (
	"errors"
	"fmt"

	"threetick/pkg/exchanges/common"
)

// Signal is the direction suggested by the three-tick rule.
type Signal int

const (
	None Signal = iota
	Long
	Short
)

// Lookback is the candle count Evaluate needs: three closed bars plus the forming one.
const Lookback = 4

var ErrInsufficientData = errors.New("signal: insufficient candle data")

func (s Signal) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "none"
	}
}

// PositionSide is the position s opens. It panics on None.
func (s Signal) PositionSide() common.PositionSide {
	switch s {
	case Long:
		return common.PositionSideLong
	case Short:
		return common.PositionSideShort
	}
	panic("signal: no position side for None")
}

// Evaluate applies the three-tick rule to the bars preceding the most recent
// (still forming) candle. Three bearish bars read as exhaustion and give Long,
// three bullish bars give Short, anything mixed gives None.
func Evaluate(candles []common.Candle) (Signal, error) {
	if len(candles) < Lookback {
		return None, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(candles), Lookback)
	}

	closed := candles[len(candles)-Lookback : len(candles)-1]
	bullish := 0
	for _, c := range closed {
		if c.Bullish() {
			bullish++
		}
	}

	switch bullish {
	case 0:
		return Long, nil
	case len(closed):
		return Short, nil
	default:
		return None, nil
	}
}
