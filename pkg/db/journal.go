package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"threetick/internal/order"
	"threetick/internal/state"
	"threetick/pkg/exchanges/common"
)

// Journal is a write-only audit trail of balances, order submissions and
// position lifecycle. Nothing reads it back to restore trading state.
type Journal struct {
	db *Database
}

// OpenJournal opens the database at path and applies the schema.
func OpenJournal(path string) (*Journal, error) {
	d, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(d); err != nil {
		d.Close()
		return nil, err
	}
	return &Journal{db: d}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) RecordBalance(ctx context.Context, b common.Balance) error {
	at := b.AsOf
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.DB.ExecContext(ctx,
		`INSERT INTO balance_snapshots (id, free, as_of) VALUES (?, ?, ?)`,
		NewID(at), b.Free.String(), formatTime(at))
	if err != nil {
		return fmt.Errorf("journal balance: %w", err)
	}
	return nil
}

func (j *Journal) RecordOrder(ctx context.Context, s order.Submission) error {
	req := s.Request
	var errText sql.NullString
	if s.Err != nil {
		errText = sql.NullString{String: s.Err.Error(), Valid: true}
	}
	var avg sql.NullString
	if s.Result.AverageFillPrice.Valid {
		avg = sql.NullString{String: s.Result.AverageFillPrice.Decimal.String(), Valid: true}
	}
	_, err := j.db.DB.ExecContext(ctx, `
		INSERT INTO order_submissions (
			id, kind, client_id, symbol, side, type, qty, price, stop_price,
			reduce_only, post_only, attempts, status, avg_price, exchange_order_id, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		NewID(s.At), string(s.Kind), req.ClientID, req.Symbol, string(req.Side), string(req.Type),
		req.Qty.String(), nullDecimal(req.Price), nullDecimal(req.StopPrice),
		req.ReduceOnly, req.PostOnly(), s.Attempts, string(s.Result.Status), avg,
		s.Result.ExchangeOrderID, errText, formatTime(s.At))
	if err != nil {
		return fmt.Errorf("journal order: %w", err)
	}
	return nil
}

func (j *Journal) RecordPosition(ctx context.Context, ev state.Event) error {
	p := ev.Position
	_, err := j.db.DB.ExecContext(ctx, `
		INSERT INTO position_events (id, kind, symbol, side, entry_price, size, leverage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		NewID(ev.At), string(ev.Kind), p.Symbol, string(p.Side),
		p.EntryPrice.String(), p.Size.String(), p.Leverage, formatTime(ev.At))
	if err != nil {
		return fmt.Errorf("journal position: %w", err)
	}
	return nil
}

// BalanceRow is one stored balance snapshot.
type BalanceRow struct {
	ID   string
	Free decimal.Decimal
	AsOf time.Time
}

// OrderRow is one stored submission.
type OrderRow struct {
	ID         string
	Kind       string
	ClientID   string
	Side       string
	Type       string
	Qty        decimal.Decimal
	ReduceOnly bool
	PostOnly   bool
	Attempts   int
	AvgPrice   decimal.NullDecimal
	Error      string
	CreatedAt  time.Time
}

// PositionEventRow is one stored lifecycle step.
type PositionEventRow struct {
	ID         string
	Kind       string
	Symbol     string
	Side       string
	EntryPrice decimal.Decimal
	Size       decimal.Decimal
	Leverage   int
	CreatedAt  time.Time
}

// RecentBalances returns the newest snapshots first.
func (j *Journal) RecentBalances(ctx context.Context, limit int) ([]BalanceRow, error) {
	rows, err := j.db.DB.QueryContext(ctx,
		`SELECT id, free, as_of FROM balance_snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceRow
	for rows.Next() {
		var (
			r          BalanceRow
			free, asOf string
		)
		if err := rows.Scan(&r.ID, &free, &asOf); err != nil {
			return nil, err
		}
		if r.Free, err = decimal.NewFromString(free); err != nil {
			return nil, err
		}
		if r.AsOf, err = parseTime(asOf); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentOrders returns the newest submissions first.
func (j *Journal) RecentOrders(ctx context.Context, limit int) ([]OrderRow, error) {
	rows, err := j.db.DB.QueryContext(ctx, `
		SELECT id, kind, client_id, side, type, qty, reduce_only, post_only, attempts, avg_price, error, created_at
		FROM order_submissions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var (
			r              OrderRow
			qty, createdAt string
			avg, errText   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.ClientID, &r.Side, &r.Type, &qty,
			&r.ReduceOnly, &r.PostOnly, &r.Attempts, &avg, &errText, &createdAt); err != nil {
			return nil, err
		}
		if r.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if avg.Valid {
			v, err := decimal.NewFromString(avg.String)
			if err != nil {
				return nil, err
			}
			r.AvgPrice = decimal.NewNullDecimal(v)
		}
		r.Error = errText.String
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentPositionEvents returns the newest lifecycle steps first.
func (j *Journal) RecentPositionEvents(ctx context.Context, limit int) ([]PositionEventRow, error) {
	rows, err := j.db.DB.QueryContext(ctx, `
		SELECT id, kind, symbol, side, entry_price, size, leverage, created_at
		FROM position_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionEventRow
	for rows.Next() {
		var (
			r                      PositionEventRow
			entry, size, createdAt string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Symbol, &r.Side, &entry, &size, &r.Leverage, &createdAt); err != nil {
			return nil, err
		}
		if r.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, err
		}
		if r.Size, err = decimal.NewFromString(size); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullDecimal(d decimal.Decimal) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
