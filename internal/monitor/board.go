package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/breakwatch/internal/models"
	"github.com/samber/lo"
)

// Board holds the latest row per symbol for display.
// It is never consulted when deciding whether to notify.
type Board struct {
	mu       sync.RWMutex
	order    []string
	rows     map[string]models.Row
	lastPoll time.Time
	nextPoll time.Time
}

// Summary counts the latest rows by status.
type Summary struct {
	Breakouts  int       `json:"breakouts"`
	Breakdowns int       `json:"breakdowns"`
	Errors     int       `json:"errors"`
	Total      int       `json:"total"`
	LastPoll   time.Time `json:"last_poll"`
	NextPoll   time.Time `json:"next_poll"`
}

// String renders the summary for chat replies.
func (s Summary) String() string {
	if s.LastPoll.IsZero() {
		return "No poll completed yet"
	}
	return fmt.Sprintf("%d symbols: %d breakout, %d breakdown, %d error\nLast poll: %s\nNext poll: %s",
		s.Total, s.Breakouts, s.Breakdowns, s.Errors,
		s.LastPoll.Format(time.RFC3339), s.NextPoll.Format(time.RFC3339))
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{rows: make(map[string]models.Row)}
}

// Update replaces the board with one cycle's rows. A symbol that stays in the
// same alert status keeps its earlier first-alert time when the new row has none.
func (b *Board) Update(rows []models.Row, polledAt, nextPoll time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]models.Row, len(rows))
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		if prev, ok := b.rows[r.Symbol]; ok && r.Status.IsAlert() && r.FirstAlertAt.IsZero() && prev.Status == r.Status {
			r.FirstAlertAt = prev.FirstAlertAt
		}
		next[r.Symbol] = r
		order = append(order, r.Symbol)
	}
	b.rows = next
	b.order = order
	b.lastPoll = polledAt
	b.nextPoll = nextPoll
}

// Rows returns the latest rows in watch-list order.
func (b *Board) Rows() []models.Row {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return lo.Map(b.order, func(symbol string, _ int) models.Row { return b.rows[symbol] })
}

// Summary counts the latest rows.
func (b *Board) Summary() Summary {
	rows := b.Rows()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Summary{
		Breakouts:  lo.CountBy(rows, func(r models.Row) bool { return r.Status == models.StatusBreakout }),
		Breakdowns: lo.CountBy(rows, func(r models.Row) bool { return r.Status == models.StatusBreakdown }),
		Errors:     lo.CountBy(rows, func(r models.Row) bool { return r.Status == models.StatusDataError }),
		Total:      len(rows),
		LastPoll:   b.lastPoll,
		NextPoll:   b.nextPoll,
	}
}

// Ready reports whether at least one cycle has completed.
func (b *Board) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.lastPoll.IsZero()
}
