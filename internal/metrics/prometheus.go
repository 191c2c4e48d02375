// Package metrics records poll and alert counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes breakwatch metrics. A nil *Recorder discards everything.
type Recorder struct {
	polls         prometheus.Counter
	pollDuration  prometheus.Histogram
	status        *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	ledgerErrors  *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		polls: f.NewCounter(prometheus.CounterOpts{
			Name: "breakwatch_polls_total",
			Help: "Total number of completed poll cycles",
		}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "breakwatch_poll_duration_seconds",
			Help:    "Duration of poll cycles in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		status: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breakwatch_status",
			Help: "Number of symbols per status in the last cycle",
		}, []string{"status"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "breakwatch_notifications_total",
			Help: "Alert notifications attempted, by result",
		}, []string{"result"}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "breakwatch_fetch_errors_total",
			Help: "Exchange fetch failures, by operation",
		}, []string{"op"}),
		ledgerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "breakwatch_ledger_errors_total",
			Help: "Alert ledger failures, by operation",
		}, []string{"op"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breakwatch_last_price",
			Help: "Last observed price for a symbol",
		}, []string{"symbol"}),
	}
}

// RecordPoll records one finished cycle.
func (r *Recorder) RecordPoll(d time.Duration) {
	if r == nil {
		return
	}
	r.polls.Inc()
	r.pollDuration.Observe(d.Seconds())
}

// RecordStatusCounts replaces the per-status gauge values.
func (r *Recorder) RecordStatusCounts(counts map[string]int) {
	if r == nil {
		return
	}
	r.status.Reset()
	for status, n := range counts {
		r.status.WithLabelValues(status).Set(float64(n))
	}
}

// RecordNotification counts a notification attempt; result is "sent" or "failed".
func (r *Recorder) RecordNotification(result string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordFetchError(op string) {
	if r == nil {
		return
	}
	r.fetchErrors.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordLedgerError(op string) {
	if r == nil {
		return
	}
	r.ledgerErrors.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	if r == nil {
		return
	}
	r.lastPrice.WithLabelValues(symbol).Set(price)
}
