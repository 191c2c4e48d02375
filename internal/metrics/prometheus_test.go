package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordPoll(150 * time.Millisecond)
	r.RecordPoll(250 * time.Millisecond)
	r.RecordNotification("sent")
	r.RecordNotification("failed")
	r.RecordNotification("sent")
	r.RecordFetchError("candles")
	r.RecordLedgerError("read")
	r.RecordLastPrice("BTCUSD", 101.5)
	r.RecordStatusCounts(map[string]int{"Breakout": 2, "Normal": 1})
	r.RecordStatusCounts(map[string]int{"Normal": 3})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.polls))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.notifications.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchErrors.WithLabelValues("candles")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ledgerErrors.WithLabelValues("read")))
	assert.Equal(t, 101.5, testutil.ToFloat64(r.lastPrice.WithLabelValues("BTCUSD")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.status.WithLabelValues("Normal")))
	// reset drops statuses absent from the latest cycle
	assert.Equal(t, 1, testutil.CollectAndCount(r.status))
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordPoll(time.Second)
		r.RecordNotification("sent")
		r.RecordFetchError("ticker")
		r.RecordLedgerError("write")
		r.RecordLastPrice("ETHUSD", 1)
		r.RecordStatusCounts(map[string]int{"Normal": 1})
	})
}

func TestNew_DistinctRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
