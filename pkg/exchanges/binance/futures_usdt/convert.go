package futures_usdt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	bncommon "github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"threetick/pkg/exchanges/common"
)

// Binance error codes that are safe to retry.
var transientCodes = map[int64]bool{
	-1000: true, // unknown error
	-1001: true, // disconnected
	-1003: true, // too many requests
	-1007: true, // timeout waiting for backend
	-1008: true, // server busy
	-1021: true, // timestamp outside recvWindow
}

// classify wraps err with common.ErrTransient when a retry may succeed.
// Explicit rejections stay permanent.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("binance %s: %w", op, err)
	}
	var apiErr *bncommon.APIError
	if errors.As(err, &apiErr) {
		// Code 0 means the body was not a Binance error document (5xx, proxies).
		if apiErr.Code == 0 || transientCodes[apiErr.Code] {
			return fmt.Errorf("binance %s: %w: %w", op, common.ErrTransient, err)
		}
		return fmt.Errorf("binance %s: %w", op, err)
	}
	// transport failures
	return fmt.Errorf("binance %s: %w: %w", op, common.ErrTransient, err)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("binance: empty %s", field)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: bad %s %q: %w", field, s, err)
	}
	return v, nil
}

func decodeKline(k *futures.Kline) (common.Candle, error) {
	if k == nil {
		return common.Candle{}, errNoAPIResponse
	}
	var (
		c   = common.Candle{OpenTime: time.UnixMilli(k.OpenTime).UTC()}
		err error
	)
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", k.Open, &c.Open},
		{"high", k.High, &c.High},
		{"low", k.Low, &c.Low},
		{"close", k.Close, &c.Close},
		{"volume", k.Volume, &c.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = parseDecimal(f.name, f.raw); err != nil {
			return common.Candle{}, err
		}
	}
	return c, nil
}

// decodePosition turns a signed one-way position amount into side plus
// absolute contracts.
func decodePosition(p *futures.PositionRisk) (common.PositionSnapshot, error) {
	if p == nil {
		return common.PositionSnapshot{}, errNoAPIResponse
	}
	amt, err := parseDecimal("positionAmt", p.PositionAmt)
	if err != nil {
		return common.PositionSnapshot{}, err
	}
	entry, err := parseDecimal("entryPrice", p.EntryPrice)
	if err != nil {
		return common.PositionSnapshot{}, err
	}
	snap := common.PositionSnapshot{
		Symbol:     p.Symbol,
		Side:       common.PositionSideLong,
		Contracts:  amt.Abs(),
		EntryPrice: entry,
	}
	switch p.PositionSide {
	case string(futures.PositionSideTypeShort):
		snap.Side = common.PositionSideShort
	case string(futures.PositionSideTypeLong):
	default:
		if amt.IsNegative() {
			snap.Side = common.PositionSideShort
		}
	}
	if lev, err := strconv.Atoi(p.Leverage); err == nil {
		snap.Leverage = lev
	}
	return snap, nil
}

// decodeOrder validates the ack once. An unparsable or zero average price is
// reported as absent.
func decodeOrder(res *futures.CreateOrderResponse) (common.OrderResult, error) {
	if res == nil {
		return common.OrderResult{}, errNoAPIResponse
	}
	out := common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		ClientID:        res.ClientOrderID,
		Status:          mapStatus(res.Status),
	}
	if avg, err := decimal.NewFromString(res.AvgPrice); err == nil && avg.IsPositive() {
		out.AverageFillPrice = decimal.NewNullDecimal(avg)
	}
	return out, nil
}

func mapStatus(s futures.OrderStatusType) common.OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return common.StatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return common.StatusPartial
	case futures.OrderStatusTypeFilled:
		return common.StatusFilled
	case futures.OrderStatusTypeCanceled:
		return common.StatusCanceled
	case futures.OrderStatusTypeRejected:
		return common.StatusRejected
	case futures.OrderStatusTypeExpired:
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

type symbolFilters struct {
	step decimal.Decimal
	tick decimal.Decimal
}

// quantity rounds down to the lot step so reduce-only exits never exceed the position.
func (f symbolFilters) quantity(q decimal.Decimal) decimal.Decimal {
	if !f.step.IsPositive() {
		return q
	}
	return q.Div(f.step).Floor().Mul(f.step)
}

func (f symbolFilters) price(p decimal.Decimal) decimal.Decimal {
	if !f.tick.IsPositive() {
		return p
	}
	return p.Div(f.tick).Round(0).Mul(f.tick)
}
