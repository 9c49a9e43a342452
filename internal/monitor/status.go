package monitor

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"threetick/internal/risk"
	"threetick/internal/state"
	"threetick/pkg/exchanges/common"
)

var (
	primaryColor = lipgloss.Color("#0077cc")
	mutedColor   = lipgloss.Color("#999999")
	longColor    = lipgloss.Color("#33cc33")
	shortColor   = lipgloss.Color("#cc3300")

	boxStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1)
	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)
	heartbeatStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// Console renders operator-facing status to a terminal.
type Console struct {
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func sideStyle(side common.PositionSide) lipgloss.Style {
	if side == common.PositionSideShort {
		return lipgloss.NewStyle().Foreground(shortColor).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(longColor).Bold(true)
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func pct(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).StringFixed(3) + "%"
}

// Entry prints the banner for a freshly opened position.
func (c *Console) Entry(at time.Time, pos state.Position, b risk.Bracket) {
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("POSITION OPENED "+at.Format("2006-01-02 15:04:05")),
		row("side", sideStyle(pos.Side).Render(string(pos.Side))),
		row("entry", pos.EntryPrice.String()),
		row("size", pos.Size.String()),
		row("leverage", fmt.Sprintf("%dx", pos.Leverage)),
		row("margin", pos.Margin().StringFixed(4)),
		row("take profit", fmt.Sprintf("%s (+%s)", b.TakeProfit, pct(b.TakeProfitRate))),
		row("stop loss", fmt.Sprintf("%s (-%s)", b.StopLoss, pct(b.StopLossRate))),
	)
	fmt.Fprintln(c.out, boxStyle.Render(body))
}

// Snapshot is the periodic status block content.
type Snapshot struct {
	At              time.Time
	Symbol          string
	Free            decimal.Decimal
	Baseline        decimal.Decimal
	InvestmentRatio decimal.Decimal
	Available       decimal.Decimal
	Position        *state.Position
}

// Status prints the periodic account block.
func (c *Console) Status(s Snapshot) {
	lines := []string{
		titleStyle.Render(s.Symbol + " STATUS " + s.At.Format("15:04:05")),
		row("balance", s.Free.StringFixed(4)),
		row("baseline", s.Baseline.StringFixed(4)),
		row("ratio", pct(s.InvestmentRatio)),
		row("available", s.Available.StringFixed(4)),
	}
	if s.Position == nil {
		lines = append(lines, row("position", heartbeatStyle.Render("flat")))
	} else {
		p := s.Position
		lines = append(lines, row("position", fmt.Sprintf("%s %s @ %s",
			sideStyle(p.Side).Render(string(p.Side)), p.Size, p.EntryPrice)))
	}
	fmt.Fprintln(c.out, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}

// Heartbeat prints a single dim line.
func (c *Console) Heartbeat(at time.Time, note string) {
	line := "· " + at.Format("15:04:05")
	if note = strings.TrimSpace(note); note != "" {
		line += " " + note
	}
	fmt.Fprintln(c.out, heartbeatStyle.Render(line))
}
