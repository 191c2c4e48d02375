package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/breakwatch/internal/logger"
	"github.com/rewired-gh/breakwatch/internal/metrics"
	"github.com/rewired-gh/breakwatch/internal/models"
	"github.com/samber/lo"
)

// StatusNotifier reports cycle-level failures and recoveries to the operator.
type StatusNotifier interface {
	SendError(ctx context.Context, cycleErr error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

// Pruner drops ledger entries for days before the given key.
type Pruner interface {
	PruneBefore(ctx context.Context, day string) error
}

// PollerConfig sets the watch list, cadence and ledger retention.
type PollerConfig struct {
	Symbols       []string
	Interval      time.Duration
	RetentionDays int
	Location      *time.Location
}

// Poller drives the engine on a fixed interval.
type Poller struct {
	engine  *Engine
	board   *Board
	status  StatusNotifier
	pruner  Pruner
	metrics *metrics.Recorder
	config  PollerConfig
	now     func() time.Time

	consecutiveFailures int
}

// NewPoller creates a Poller. status, pruner and rec may be nil.
func NewPoller(engine *Engine, board *Board, status StatusNotifier, pruner Pruner, rec *metrics.Recorder, config PollerConfig) *Poller {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Poller{
		engine:  engine,
		board:   board,
		status:  status,
		pruner:  pruner,
		metrics: rec,
		config:  config,
		now:     time.Now,
	}
}

// Run performs a cycle immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	logger.Info("Starting monitoring service (interval: %v, symbols: %v)", p.config.Interval, p.config.Symbols)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	logger.Debug("Running initial monitoring cycle")
	p.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return
		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cycle and returns its rows.
func (p *Poller) RunOnce(ctx context.Context) []models.Row {
	cycleID := uuid.NewString()[:8]
	start := p.now()
	logger.Debug("Starting monitoring cycle %s", cycleID)
	rows := p.engine.EvaluateAll(ctx, p.config.Symbols, start)
	if ctx.Err() != nil {
		logger.Warn("Monitoring cycle %s abandoned: %v", cycleID, ctx.Err())
		return rows
	}

	p.board.Update(rows, start, start.Add(p.config.Interval))
	p.handleCycleResult(ctx, cycleError(rows))
	p.prune(ctx, start)

	counts := lo.CountValuesBy(rows, func(r models.Row) string { return r.Status.String() })
	p.metrics.RecordStatusCounts(counts)
	duration := p.now().Sub(start)
	p.metrics.RecordPoll(duration)

	s := p.board.Summary()
	logger.Info("Monitoring cycle %s completed in %v: %d symbols, %d breakout, %d breakdown, %d error, %d notified",
		cycleID, duration, s.Total, s.Breakouts, s.Breakdowns, s.Errors,
		lo.CountBy(rows, func(r models.Row) bool { return r.Notified }))
	return rows
}

func (p *Poller) handleCycleResult(ctx context.Context, err error) {
	if err != nil {
		p.consecutiveFailures++
		logger.Error("Monitoring cycle failed: %v", err)
		if p.consecutiveFailures == 1 && p.status != nil {
			if sendErr := p.status.SendError(ctx, err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}
	if p.consecutiveFailures > 0 && p.status != nil {
		if sendErr := p.status.SendRecovery(ctx, p.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	p.consecutiveFailures = 0
}

func (p *Poller) prune(ctx context.Context, now time.Time) {
	if p.pruner == nil || p.config.RetentionDays <= 0 {
		return
	}
	day := models.TradingDayOf(now, p.config.Location)
	cutoff := day.Start.AddDate(0, 0, -p.config.RetentionDays).Format(models.DayKeyLayout)
	if err := p.pruner.PruneBefore(ctx, cutoff); err != nil {
		logger.Warn("Failed to prune alerts before %s: %v", cutoff, err)
		p.metrics.RecordLedgerError("prune")
	}
}
