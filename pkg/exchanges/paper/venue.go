// Package paper simulates a derivatives account on top of live market data
// so the trading loop can run without touching real funds.
package paper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"threetick/pkg/exchanges/common"
	"threetick/pkg/logger"
)

var (
	ErrInsufficientMargin = errors.New("paper: insufficient margin")
	ErrNoPosition         = errors.New("paper: reduce-only order without position")
	ErrWouldCross         = errors.New("paper: post-only order would trade immediately")
	ErrUnsupported        = errors.New("paper: unsupported order")
)

var bps = decimal.NewFromInt(10000)

// Config seeds the simulated account.
type Config struct {
	InitialBalance decimal.Decimal
	SlippageBps    decimal.Decimal // applied against the taker on market fills
	FeeRate        decimal.Decimal // charged on notional for every fill
	Leverage       int             // used until SetLeverage is called
}

type position struct {
	side      common.PositionSide
	contracts decimal.Decimal
	entry     decimal.Decimal
	margin    decimal.Decimal
	leverage  int
}

type restingOrder struct {
	id  string
	req common.OrderRequest
}

// Venue implements common.Venue with an in-memory account.
type Venue struct {
	mu        sync.Mutex
	market    common.MarketData
	cfg       Config
	free      decimal.Decimal
	leverage  map[string]int
	positions map[string]*position
	resting   map[string][]restingOrder
	seq       int64
	log       *zap.Logger
}

func New(market common.MarketData, cfg Config) *Venue {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &Venue{
		market:    market,
		cfg:       cfg,
		free:      cfg.InitialBalance,
		leverage:  make(map[string]int),
		positions: make(map[string]*position),
		resting:   make(map[string][]restingOrder),
		log:       logger.L().Named("paper"),
	}
}

func (v *Venue) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return v.market.FetchTicker(ctx, symbol)
}

func (v *Venue) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]common.Candle, error) {
	return v.market.FetchCandles(ctx, symbol, timeframe, limit)
}

// FetchBalance settles triggered exits on every open symbol first.
func (v *Venue) FetchBalance(ctx context.Context) (common.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for symbol := range v.positions {
		v.settle(ctx, symbol)
	}
	return common.Balance{Free: v.free, AsOf: time.Now()}, nil
}

func (v *Venue) FetchPositions(ctx context.Context, symbol string) ([]common.PositionSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.settle(ctx, symbol)
	p, ok := v.positions[symbol]
	if !ok {
		return nil, nil
	}
	return []common.PositionSnapshot{{
		Symbol:     symbol,
		Side:       p.side,
		Contracts:  p.contracts,
		EntryPrice: p.entry,
		Leverage:   p.leverage,
	}}, nil
}

func (v *Venue) SetLeverage(ctx context.Context, leverage int, symbol string, mode common.MarginMode, side common.PositionSide) error {
	if leverage <= 0 {
		return fmt.Errorf("paper: invalid leverage %d", leverage)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverage[symbol] = leverage
	return nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !req.Qty.IsPositive() {
		return common.OrderResult{}, fmt.Errorf("paper: invalid quantity %s", req.Qty)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	switch {
	case req.Type == common.OrderTypeMarket && !req.ReduceOnly:
		return v.open(ctx, req)
	case req.Type == common.OrderTypeMarket:
		return v.reduceAtMarket(ctx, req)
	case req.ReduceOnly && (req.Type == common.OrderTypeLimit || req.Type == common.OrderTypeStopMarket):
		return v.rest(ctx, req)
	}
	return common.OrderResult{}, fmt.Errorf("%w: %s reduceOnly=%t", ErrUnsupported, req.Type, req.ReduceOnly)
}

func (v *Venue) open(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	last, err := v.last(ctx, req.Symbol)
	if err != nil {
		return common.OrderResult{}, err
	}
	fill := v.slipped(last, req.Side)
	side := common.PositionSideLong
	if req.Side == common.SideSell {
		side = common.PositionSideShort
	}

	lev := v.leverageFor(req.Symbol)
	notional := req.Qty.Mul(fill)
	margin := notional.Div(decimal.NewFromInt(int64(lev)))
	fee := notional.Mul(v.cfg.FeeRate)
	if margin.Add(fee).GreaterThan(v.free) {
		return common.OrderResult{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientMargin, margin.Add(fee), v.free)
	}

	p, ok := v.positions[req.Symbol]
	switch {
	case !ok:
		p = &position{side: side, leverage: lev}
		v.positions[req.Symbol] = p
	case p.side != side:
		return common.OrderResult{}, fmt.Errorf("%w: opposite-side entry while %s is open", ErrUnsupported, p.side)
	}
	total := p.contracts.Add(req.Qty)
	p.entry = p.entry.Mul(p.contracts).Add(notional).Div(total)
	p.contracts = total
	p.margin = p.margin.Add(margin)
	v.free = v.free.Sub(margin).Sub(fee)

	v.log.Info("paper fill",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Stringer("qty", req.Qty),
		zap.Stringer("price", fill),
		zap.Stringer("free", v.free))
	return v.filled(req, fill), nil
}

func (v *Venue) reduceAtMarket(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	p, ok := v.positions[req.Symbol]
	if !ok || req.Side != p.side.ExitSide() {
		return common.OrderResult{}, ErrNoPosition
	}
	last, err := v.last(ctx, req.Symbol)
	if err != nil {
		return common.OrderResult{}, err
	}
	fill := v.slipped(last, req.Side)
	v.close(req.Symbol, fill, "market")
	return v.filled(req, fill), nil
}

// rest queues a protective exit. A post-only limit that is already
// marketable is rejected the way the exchange would.
func (v *Venue) rest(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	p, ok := v.positions[req.Symbol]
	if !ok || req.Side != p.side.ExitSide() {
		return common.OrderResult{}, ErrNoPosition
	}
	if req.Type == common.OrderTypeLimit && req.PostOnly() {
		last, err := v.last(ctx, req.Symbol)
		if err != nil {
			return common.OrderResult{}, err
		}
		if limitReached(req, last) {
			return common.OrderResult{}, fmt.Errorf("%w: limit %s, last %s", ErrWouldCross, req.Price, last)
		}
	}
	v.seq++
	id := strconv.FormatInt(v.seq, 10)
	v.resting[req.Symbol] = append(v.resting[req.Symbol], restingOrder{id: id, req: req})
	return common.OrderResult{ExchangeOrderID: id, ClientID: req.ClientID, Status: common.StatusNew}, nil
}

// settle checks resting exits against the last price. The first one that
// triggers closes the position and cancels the rest.
func (v *Venue) settle(ctx context.Context, symbol string) {
	orders := v.resting[symbol]
	if len(orders) == 0 {
		return
	}
	if _, ok := v.positions[symbol]; !ok {
		delete(v.resting, symbol)
		return
	}
	last, err := v.last(ctx, symbol)
	if err != nil {
		v.log.Warn("paper settle skipped", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	for _, o := range orders {
		switch o.req.Type {
		case common.OrderTypeLimit:
			if limitReached(o.req, last) {
				v.close(symbol, o.req.Price, "take_profit")
				return
			}
		case common.OrderTypeStopMarket:
			if stopTriggered(o.req, last) {
				v.close(symbol, v.slipped(last, o.req.Side), "stop_loss")
				return
			}
		}
	}
}

func (v *Venue) close(symbol string, fill decimal.Decimal, reason string) {
	p := v.positions[symbol]
	pnl := fill.Sub(p.entry).Mul(p.contracts)
	if p.side == common.PositionSideShort {
		pnl = pnl.Neg()
	}
	fee := p.contracts.Mul(fill).Mul(v.cfg.FeeRate)
	v.free = v.free.Add(p.margin).Add(pnl).Sub(fee)
	delete(v.positions, symbol)
	delete(v.resting, symbol)
	v.log.Info("paper position closed",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.Stringer("price", fill),
		zap.Stringer("pnl", pnl),
		zap.Stringer("free", v.free))
}

func (v *Venue) last(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := v.market.FetchTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !t.Last.IsPositive() {
		return decimal.Zero, fmt.Errorf("paper: invalid last price %s for %s", t.Last, symbol)
	}
	return t.Last, nil
}

// slipped moves the price against the taker.
func (v *Venue) slipped(last decimal.Decimal, side common.Side) decimal.Decimal {
	slip := last.Mul(v.cfg.SlippageBps).Div(bps)
	if side == common.SideBuy {
		return last.Add(slip)
	}
	return last.Sub(slip)
}

func (v *Venue) leverageFor(symbol string) int {
	if lev, ok := v.leverage[symbol]; ok {
		return lev
	}
	return v.cfg.Leverage
}

func (v *Venue) filled(req common.OrderRequest, price decimal.Decimal) common.OrderResult {
	v.seq++
	return common.OrderResult{
		ExchangeOrderID:  strconv.FormatInt(v.seq, 10),
		ClientID:         req.ClientID,
		Status:           common.StatusFilled,
		AverageFillPrice: decimal.NewNullDecimal(price),
	}
}

// limitReached: a sell limit fills at or above its price, a buy limit at or below.
func limitReached(req common.OrderRequest, last decimal.Decimal) bool {
	if req.Side == common.SideSell {
		return last.GreaterThanOrEqual(req.Price)
	}
	return last.LessThanOrEqual(req.Price)
}

// stopTriggered: a sell stop fires at or below its trigger, a buy stop at or above.
func stopTriggered(req common.OrderRequest, last decimal.Decimal) bool {
	if req.Side == common.SideSell {
		return last.LessThanOrEqual(req.StopPrice)
	}
	return last.GreaterThanOrEqual(req.StopPrice)
}
