package state

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"threetick/pkg/exchanges/common"
	"threetick/pkg/logger"
)

// Position is a confirmed, not yet closed exposure on the instrument.
type Position struct {
	Symbol     string
	Side       common.PositionSide
	EntryPrice decimal.Decimal
	Size       decimal.Decimal
	Leverage   int
	OpenedAt   time.Time
}

// Margin is the collateral committed to the position.
func (p Position) Margin() decimal.Decimal {
	if p.Leverage <= 0 {
		return p.Size.Mul(p.EntryPrice)
	}
	return p.Size.Mul(p.EntryPrice).Div(decimal.NewFromInt(int64(p.Leverage)))
}

// Transition describes what a reconcile did to local state.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionAdopted
	TransitionClosed
)

func (t Transition) String() string {
	switch t {
	case TransitionAdopted:
		return "adopted"
	case TransitionClosed:
		return "closed"
	default:
		return "none"
	}
}

// EntryFunc opens a position on the venue and returns it once the fill is confirmed.
type EntryFunc func(ctx context.Context) (Position, error)

// Manager owns the authoritative Flat/Open view for one instrument. It is
// owned by the trading loop goroutine and is not safe for concurrent use.
type Manager struct {
	symbol   string
	leverage int
	open     *Position
	now      func() time.Time
	log      *zap.Logger
}

// NewManager starts Flat. leverage is recorded on positions adopted from the venue.
func NewManager(symbol string, leverage int, log *zap.Logger) *Manager {
	if log == nil {
		log = logger.L()
	}
	return &Manager{
		symbol:   symbol,
		leverage: leverage,
		now:      time.Now,
		log:      log.Named("position"),
	}
}

// IsFlat reports whether no position is open.
func (m *Manager) IsFlat() bool {
	return m.open == nil
}

// Position returns the open position, if any.
func (m *Manager) Position() (Position, bool) {
	if m.open == nil {
		return Position{}, false
	}
	return *m.open, true
}

// Enter runs fn only from Flat. While Open it is a no-op and reports false.
// A failed fn leaves the manager Flat.
func (m *Manager) Enter(ctx context.Context, fn EntryFunc) (Position, bool, error) {
	if m.open != nil {
		m.log.Info("entry skipped, position already open",
			zap.String("side", string(m.open.Side)),
			zap.Stringer("entry_price", m.open.EntryPrice))
		return *m.open, false, nil
	}

	pos, err := fn(ctx)
	if err != nil {
		return Position{}, false, err
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = m.now()
	}
	m.open = &pos
	m.log.Info("position opened",
		zap.String("side", string(pos.Side)),
		zap.Stringer("entry_price", pos.EntryPrice),
		zap.Stringer("size", pos.Size))
	return pos, true, nil
}

// Reconcile makes the venue authoritative: a live contract seen while Flat is
// adopted (for example after a restart), and no live contracts while Open
// means the bracket or a manual close flattened us.
func (m *Manager) Reconcile(snaps []common.PositionSnapshot) Transition {
	var live *common.PositionSnapshot
	for i := range snaps {
		if snaps[i].Symbol != "" && snaps[i].Symbol != m.symbol {
			continue
		}
		if snaps[i].Live() {
			live = &snaps[i]
			break
		}
	}

	switch {
	case live == nil && m.open != nil:
		m.log.Info("position closed on venue",
			zap.String("side", string(m.open.Side)),
			zap.Stringer("entry_price", m.open.EntryPrice))
		m.open = nil
		return TransitionClosed

	case live != nil && m.open == nil:
		leverage := live.Leverage
		if leverage <= 0 {
			leverage = m.leverage
		}
		m.open = &Position{
			Symbol:     m.symbol,
			Side:       live.Side,
			EntryPrice: live.EntryPrice,
			Size:       live.Contracts,
			Leverage:   leverage,
			OpenedAt:   m.now(),
		}
		m.log.Info("adopted live position from venue",
			zap.String("side", string(live.Side)),
			zap.Stringer("entry_price", live.EntryPrice),
			zap.Stringer("contracts", live.Contracts))
		return TransitionAdopted
	}

	return TransitionNone
}

// EventKind names a position lifecycle step.
type EventKind string

const (
	EventOpened  EventKind = "opened"
	EventAdopted EventKind = "adopted"
	EventClosed  EventKind = "closed"
)

// Event is one position lifecycle step, emitted for audit.
type Event struct {
	At       time.Time
	Kind     EventKind
	Position Position
}
