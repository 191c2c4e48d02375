package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/breakwatch/internal/models"
	"github.com/rewired-gh/breakwatch/internal/monitor"
)

const rowFormat = "%-12s %14s %14s %14s %-10s %s\n"

// RenderTable formats rows as a fixed-width table. Unavailable values show "-".
func RenderTable(rows []models.Row, summary monitor.Summary, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, rowFormat, "Symbol", "Price", "1D-High", "1D-Low", "Status", "First Alert")
	for _, r := range rows {
		price, high, low := "-", "-", "-"
		if r.HasData() {
			price = formatNumber(r.Price)
			high = formatNumber(r.Range.High)
			low = formatNumber(r.Range.Low)
		}
		first := "-"
		if !r.FirstAlertAt.IsZero() {
			first = r.FirstAlertAt.In(loc).Format("15:04:05")
		}
		fmt.Fprintf(&b, rowFormat, r.Symbol, price, high, low, r.Status, first)
	}
	if !summary.LastPoll.IsZero() {
		fmt.Fprintf(&b, "\nLast poll: %s  Next poll: %s\n",
			summary.LastPoll.In(loc).Format("2006-01-02 15:04:05 MST"),
			summary.NextPoll.In(loc).Format("15:04:05"))
	}
	return b.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
