// Package monitor evaluates watched symbols against the previous trading day's
// range and sends at most one alert per symbol per trading day.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/breakwatch/internal/logger"
	"github.com/rewired-gh/breakwatch/internal/metrics"
	"github.com/rewired-gh/breakwatch/internal/models"
	"golang.org/x/sync/errgroup"
)

// RangeFetcher supplies the previous day's range and the current price.
type RangeFetcher interface {
	DailyRange(ctx context.Context, symbol string, day models.TradingDay) (models.DailyRange, error)
	Quote(ctx context.Context, symbol string) (models.Quote, error)
}

// VolumeFetcher supplies the informational volume signal.
type VolumeFetcher interface {
	RecentVolume(ctx context.Context, symbol string, now time.Time) (float64, error)
	TrailingAverageVolume(ctx context.Context, symbol string, now time.Time, windowDays int) (float64, error)
}

// Ledger is the durable record of which symbols already alerted on a trading day.
type Ledger interface {
	HasAlerted(ctx context.Context, day, symbol string) (time.Time, bool, error)
	MarkAlerted(ctx context.Context, day, symbol string, at time.Time) error
}

// Notifier delivers alert text.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Config tunes the engine. Location defines trading days.
type Config struct {
	Location         *time.Location
	VolumeWindowDays int
	Workers          int
}

// Engine classifies symbols and decides whether to notify.
type Engine struct {
	ranges   RangeFetcher
	volumes  VolumeFetcher
	ledger   Ledger
	notifier Notifier
	metrics  *metrics.Recorder
	config   Config
}

// New creates an Engine. volumes and rec may be nil.
func New(ranges RangeFetcher, volumes VolumeFetcher, ledger Ledger, notifier Notifier, rec *metrics.Recorder, config Config) *Engine {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.VolumeWindowDays <= 0 {
		config.VolumeWindowDays = 3
	}
	return &Engine{
		ranges:   ranges,
		volumes:  volumes,
		ledger:   ledger,
		notifier: notifier,
		metrics:  rec,
		config:   config,
	}
}

// Evaluate runs one round for symbol at now.
func (e *Engine) Evaluate(ctx context.Context, symbol string, now time.Time) models.Row {
	row := models.Row{Symbol: symbol, EvaluatedAt: now}
	day := models.TradingDayOf(now, e.config.Location)

	rng, err := e.ranges.DailyRange(ctx, symbol, day.Previous())
	if err == nil {
		err = rng.Validate()
	}
	if err != nil {
		return e.dataError(row, "range", err)
	}
	quote, err := e.ranges.Quote(ctx, symbol)
	if err != nil {
		return e.dataError(row, "quote", err)
	}

	row.Range = rng
	row.Price = quote.Price
	row.Status = rng.Classify(quote.Price)
	e.metrics.RecordLastPrice(symbol, quote.Price)

	if !row.Status.IsAlert() {
		return row
	}

	firstAt, seen, err := e.ledger.HasAlerted(ctx, day.Key, symbol)
	if err != nil {
		// unknown ledger state: skip rather than risk a duplicate
		logger.Error("Ledger read failed for %s on %s, suppressing alert: %v", symbol, day.Key, err)
		e.metrics.RecordLedgerError("read")
		row.Suppressed = true
		return row
	}
	if seen {
		logger.Debug("%s %s already alerted on %s at %s", symbol, row.Status, day.Key, firstAt.Format(time.RFC3339))
		row.Suppressed = true
		row.FirstAlertAt = firstAt
		return row
	}

	row.Volume = e.volumeSignal(ctx, symbol, now)

	if err := e.notifier.Send(ctx, FormatAlert(row, e.config.Location)); err != nil {
		logger.Error("Failed to send %s alert for %s: %v", row.Status, symbol, err)
		e.metrics.RecordNotification("failed")
	} else {
		logger.Info("Sent %s alert for %s at %g", row.Status, symbol, row.Price)
		e.metrics.RecordNotification("sent")
		row.Notified = true
	}

	// recorded even when delivery failed or ctx ended mid-send
	if err := e.ledger.MarkAlerted(context.WithoutCancel(ctx), day.Key, symbol, now); err != nil {
		logger.Error("Ledger write failed for %s on %s: %v", symbol, day.Key, err)
		e.metrics.RecordLedgerError("write")
	}
	row.FirstAlertAt = now
	return row
}

// EvaluateAll evaluates symbols with at most Config.Workers in flight.
// Rows are returned in the order of symbols.
func (e *Engine) EvaluateAll(ctx context.Context, symbols []string, now time.Time) []models.Row {
	rows := make([]models.Row, len(symbols))
	var g errgroup.Group
	g.SetLimit(e.config.Workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			rows[i] = e.Evaluate(ctx, symbol, now)
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func (e *Engine) dataError(row models.Row, op string, err error) models.Row {
	logger.Warn("Data error for %s (%s): %v", row.Symbol, op, err)
	e.metrics.RecordFetchError(op)
	row.Status = models.StatusDataError
	row.Err = err.Error()
	return row
}

// volumeSignal is best-effort; nil means unavailable.
func (e *Engine) volumeSignal(ctx context.Context, symbol string, now time.Time) *models.VolumeSignal {
	if e.volumes == nil {
		return nil
	}
	recent, err := e.volumes.RecentVolume(ctx, symbol, now)
	if err != nil {
		e.volumeFailed(symbol, err)
		return nil
	}
	avg, err := e.volumes.TrailingAverageVolume(ctx, symbol, now, e.config.VolumeWindowDays)
	if err != nil {
		e.volumeFailed(symbol, err)
		return nil
	}
	return &models.VolumeSignal{Recent: recent, TrailingAverage: avg}
}

func (e *Engine) volumeFailed(symbol string, err error) {
	logger.Warn("Volume unavailable for %s: %v", symbol, err)
	e.metrics.RecordFetchError("volume")
}

// cycleError summarises a round in which no symbol could be evaluated.
func cycleError(rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if r.HasData() {
			return nil
		}
	}
	return fmt.Errorf("all %d symbols failed, first: %s: %s", len(rows), rows[0].Symbol, rows[0].Err)
}
