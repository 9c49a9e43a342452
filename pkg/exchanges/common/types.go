package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that reduces exposure opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the order types the core submits.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// PositionSide is the hedge-mode leg a leverage setting applies to.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// EntrySide is the order side that opens exposure on p.
func (p PositionSide) EntrySide() Side {
	if p == PositionSideShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide is the order side that reduces exposure on p.
func (p PositionSide) ExitSide() Side {
	return p.EntrySide().Opposite()
}

// MarginMode selects cross or isolated margin.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// OrderRequest captures an order intent to be sent to a venue.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal // required for LIMIT
	StopPrice   decimal.Decimal // required for STOP_MARKET
	TimeInForce TimeInForce     // GTX makes a limit order post-only
	ClientID    string
	ReduceOnly  bool
}

// PostOnly reports whether the request must rest as a maker order.
func (r OrderRequest) PostOnly() bool {
	return r.TimeInForce == TIFGTX
}

// OrderResult is the venue ack. AverageFillPrice is only valid when the venue
// reported a realized fill price.
type OrderResult struct {
	ExchangeOrderID  string
	ClientID         string
	Status           OrderStatus
	AverageFillPrice decimal.NullDecimal
}

// Balance is a free-collateral snapshot.
type Balance struct {
	Free decimal.Decimal
	AsOf time.Time
}

// Ticker holds the last traded price.
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Bullish reports close > open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// PositionSnapshot is one venue-reported position row.
type PositionSnapshot struct {
	Symbol     string
	Side       PositionSide
	Contracts  decimal.Decimal // absolute size; zero when flat
	EntryPrice decimal.Decimal
	Leverage   int
}

// Live reports whether the row carries open contracts.
func (p PositionSnapshot) Live() bool {
	return p.Contracts.IsPositive()
}
