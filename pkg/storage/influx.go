// Package storage writes balance and position time series to InfluxDB.
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"threetick/internal/state"
	"threetick/pkg/exchanges/common"
	"threetick/pkg/logger"
)

const (
	measurementBalance  = "balance"
	measurementPosition = "position"
)

// Config selects the InfluxDB target.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Symbol string
}

// InfluxRecorder writes one point per balance snapshot and position event.
type InfluxRecorder struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	symbol string
	log    *zap.Logger
}

// NewInfluxRecorder connects and checks server health before returning.
func NewInfluxRecorder(ctx context.Context, cfg Config) (*InfluxRecorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx not ready: %+v", health)
	}

	return &InfluxRecorder{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		symbol: cfg.Symbol,
		log:    logger.L().Named("influx"),
	}, nil
}

func (r *InfluxRecorder) Close() {
	r.client.Close()
}

func (r *InfluxRecorder) RecordBalance(ctx context.Context, b common.Balance) error {
	return r.writePoint(ctx, balancePoint(r.symbol, b))
}

func (r *InfluxRecorder) RecordPosition(ctx context.Context, ev state.Event) error {
	return r.writePoint(ctx, positionPoint(ev))
}

func (r *InfluxRecorder) writePoint(ctx context.Context, p *write.Point) error {
	if err := r.write.WritePoint(ctx, p); err != nil {
		r.log.Warn("write point failed", zap.String("measurement", p.Name()), zap.Error(err))
		return fmt.Errorf("influx write %s: %w", p.Name(), err)
	}
	return nil
}

func balancePoint(symbol string, b common.Balance) *write.Point {
	at := b.AsOf
	if at.IsZero() {
		at = time.Now()
	}
	free, _ := b.Free.Float64()
	return influxdb2.NewPoint(
		measurementBalance,
		map[string]string{"symbol": symbol},
		map[string]interface{}{"free": free},
		at,
	)
}

func positionPoint(ev state.Event) *write.Point {
	p := ev.Position
	entry, _ := p.EntryPrice.Float64()
	size, _ := p.Size.Float64()
	return influxdb2.NewPoint(
		measurementPosition,
		map[string]string{
			"symbol": p.Symbol,
			"side":   string(p.Side),
			"event":  string(ev.Kind),
		},
		map[string]interface{}{
			"entry_price": entry,
			"size":        size,
			"leverage":    p.Leverage,
		},
		ev.At,
	)
}
