package futures_usdt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"threetick/pkg/exchanges/common"
	"threetick/pkg/logger"
)

// QuoteAsset is the collateral asset whose free balance is reported.
const QuoteAsset = "USDT"

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Client implements common.Venue on Binance USDT-M futures.
type Client struct {
	api     *futures.Client
	filters map[string]symbolFilters
	log     *zap.Logger
}

// NewClient creates a new USDT-M futures client. The testnet switch is
// package-wide in go-binance and is applied before the client is built.
func NewClient(cfg Config) *Client {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	return &Client{
		api:     futures.NewClient(cfg.APIKey, cfg.APISecret),
		filters: make(map[string]symbolFilters),
		log:     logger.L().Named("binance"),
	}
}

// SyncTime aligns request timestamps with the server clock.
func (c *Client) SyncTime(ctx context.Context) error {
	offset, err := c.api.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return classify("server time", err)
	}
	c.log.Info("server time synced", zap.Int64("offset_ms", offset))
	return nil
}

func (c *Client) FetchBalance(ctx context.Context) (common.Balance, error) {
	rows, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return common.Balance{}, classify("balance", err)
	}
	for _, row := range rows {
		if row.Asset != QuoteAsset {
			continue
		}
		free, err := parseDecimal("availableBalance", row.AvailableBalance)
		if err != nil {
			return common.Balance{}, err
		}
		return common.Balance{Free: free, AsOf: time.Now()}, nil
	}
	return common.Balance{Free: decimal.Zero, AsOf: time.Now()}, nil
}

func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return common.Ticker{}, classify("ticker", err)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		last, err := parseDecimal("price", p.Price)
		if err != nil {
			return common.Ticker{}, err
		}
		return common.Ticker{Symbol: symbol, Last: last}, nil
	}
	return common.Ticker{}, fmt.Errorf("binance: no price for %s", symbol)
}

func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]common.Candle, error) {
	klines, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify("klines", err)
	}
	out := make([]common.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := decodeKline(k)
		if err != nil {
			return nil, err
		}
		out = append(out, candle)
	}
	return out, nil
}

func (c *Client) FetchPositions(ctx context.Context, symbol string) ([]common.PositionSnapshot, error) {
	rows, err := c.api.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classify("position risk", err)
	}
	out := make([]common.PositionSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := decodePosition(row)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// SetLeverage applies the margin mode and leverage. Binance keys leverage by
// symbol only, so side is informational.
func (c *Client) SetLeverage(ctx context.Context, leverage int, symbol string, mode common.MarginMode, side common.PositionSide) error {
	marginType := futures.MarginTypeCrossed
	if mode == common.MarginIsolated {
		marginType = futures.MarginTypeIsolated
	}
	if err := c.api.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx); err != nil {
		if !isNoChange(err) {
			return classify("margin type", err)
		}
	}
	res, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return classify("leverage", err)
	}
	c.log.Info("leverage set",
		zap.String("symbol", res.Symbol),
		zap.Int("leverage", res.Leverage),
		zap.String("side", string(side)),
		zap.String("margin", string(mode)))
	return nil
}

// SubmitOrder places an order and asks for the RESULT response so market
// fills carry their average price.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	f, err := c.symbolFilters(ctx, req.Symbol)
	if err != nil {
		return common.OrderResult{}, err
	}
	qty := f.quantity(req.Qty)
	if !qty.IsPositive() {
		return common.OrderResult{}, fmt.Errorf("binance: quantity %s below step %s", req.Qty, f.step)
	}

	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(qty.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	switch req.Type {
	case common.OrderTypeLimit:
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		svc = svc.Price(f.price(req.Price).String()).TimeInForce(futures.TimeInForceType(tif))
	case common.OrderTypeStopMarket:
		svc = svc.StopPrice(f.price(req.StopPrice).String())
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return common.OrderResult{}, classify("create order", err)
	}
	return decodeOrder(res)
}

// symbolFilters loads lot and tick sizes once per symbol.
func (c *Client) symbolFilters(ctx context.Context, symbol string) (symbolFilters, error) {
	if f, ok := c.filters[symbol]; ok {
		return f, nil
	}
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return symbolFilters{}, classify("exchange info", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		f := symbolFilters{}
		if lot := s.LotSizeFilter(); lot != nil {
			f.step, _ = decimal.NewFromString(lot.StepSize)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.tick, _ = decimal.NewFromString(pf.TickSize)
		}
		c.filters[symbol] = f
		return f, nil
	}
	return symbolFilters{}, fmt.Errorf("binance: unknown symbol %s", symbol)
}

func isNoChange(err error) bool {
	return strings.Contains(err.Error(), "No need to change")
}

var errNoAPIResponse = errors.New("binance: empty response")
