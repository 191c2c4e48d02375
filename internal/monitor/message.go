package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/breakwatch/internal/models"
	"github.com/shopspring/decimal"
)

// FormatAlert renders the plain-text alert for an evaluated row.
func FormatAlert(row models.Row, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s %s!\n", row.Symbol, row.Status)
	fmt.Fprintf(&b, "💰 Price: %s\n", formatPrice(row.Price))
	fmt.Fprintf(&b, "📈 High: %s\n", formatPrice(row.Range.High))
	fmt.Fprintf(&b, "📉 Low: %s\n", formatPrice(row.Range.Low))
	if v := row.Volume; v != nil {
		fmt.Fprintf(&b, "📊 Volume (5m): %s | Avg: %s (%.2fx)\n",
			formatVolume(v.Recent), formatVolume(v.TrailingAverage), v.Ratio())
	} else {
		b.WriteString("📊 Volume (5m): unavailable\n")
	}
	fmt.Fprintf(&b, "🕒 %s", row.EvaluatedAt.In(loc).Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatVolume(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}
