package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/breakwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// ─── fakes ──────────────────────────────────────────────────────────────────

type fakeMarket struct {
	mu         sync.Mutex
	ranges     map[string]models.DailyRange
	rangeErr   map[string]error
	prices     map[string]float64
	quoteErr   map[string]error
	rangeCalls int
	days       []string
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		ranges:   map[string]models.DailyRange{},
		rangeErr: map[string]error{},
		prices:   map[string]float64{},
		quoteErr: map[string]error{},
	}
}

func (f *fakeMarket) DailyRange(_ context.Context, symbol string, day models.TradingDay) (models.DailyRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls++
	f.days = append(f.days, day.Key)
	if err := f.rangeErr[symbol]; err != nil {
		return models.DailyRange{}, err
	}
	return f.ranges[symbol], nil
}

func (f *fakeMarket) Quote(_ context.Context, symbol string) (models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.quoteErr[symbol]; err != nil {
		return models.Quote{}, err
	}
	return models.Quote{Price: f.prices[symbol]}, nil
}

func (f *fakeMarket) set(symbol string, high, low, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges[symbol] = models.DailyRange{High: high, Low: low}
	f.prices[symbol] = price
}

func (f *fakeMarket) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

type fakeVolumes struct {
	recent, avg float64
	err         error
}

func (f *fakeVolumes) RecentVolume(context.Context, string, time.Time) (float64, error) {
	return f.recent, f.err
}

func (f *fakeVolumes) TrailingAverageVolume(context.Context, string, time.Time, int) (float64, error) {
	return f.avg, f.err
}

type fakeLedger struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	readErr  error
	writeErr error
	writes   int
	pruned   []string
}

func newFakeLedger() *fakeLedger { return &fakeLedger{entries: map[string]time.Time{}} }

func (l *fakeLedger) HasAlerted(_ context.Context, day, symbol string) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return time.Time{}, false, l.readErr
	}
	at, ok := l.entries[day+"/"+symbol]
	return at, ok, nil
}

func (l *fakeLedger) MarkAlerted(_ context.Context, day, symbol string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	if l.writeErr != nil {
		return l.writeErr
	}
	if _, ok := l.entries[day+"/"+symbol]; !ok {
		l.entries[day+"/"+symbol] = at
	}
	return nil
}

func (l *fakeLedger) PruneBefore(_ context.Context, day string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruned = append(l.pruned, day)
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	messages   []string
	err        error
	errors     []error
	recoveries []int
}

func (n *fakeNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return n.err
}

func (n *fakeNotifier) SendError(_ context.Context, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, err)
	return nil
}

func (n *fakeNotifier) SendRecovery(_ context.Context, count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recoveries = append(n.recoveries, count)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type fixture struct {
	market   *fakeMarket
	volumes  *fakeVolumes
	ledger   *fakeLedger
	notifier *fakeNotifier
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		market:   newFakeMarket(),
		volumes:  &fakeVolumes{recent: 1234, avg: 1000},
		ledger:   newFakeLedger(),
		notifier: &fakeNotifier{},
	}
	f.engine = New(f.market, f.volumes, f.ledger, f.notifier, nil, Config{Location: ist, Workers: 4})
	return f
}

var now = time.Date(2026, 10, 19, 14, 5, 0, 0, ist)

// ─── engine ─────────────────────────────────────────────────────────────────

func TestEvaluate_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		status   models.Status
		notified bool
	}{
		{"inside", 95, models.StatusNormal, false},
		{"equal high", 100, models.StatusNormal, false},
		{"equal low", 90, models.StatusNormal, false},
		{"above high", 100.5, models.StatusBreakout, true},
		{"below low", 89.99, models.StatusBreakdown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.market.set("BTCUSD", 100, 90, tt.price)

			row := f.engine.Evaluate(context.Background(), "BTCUSD", now)

			assert.Equal(t, tt.status, row.Status)
			assert.Equal(t, tt.notified, row.Notified)
			assert.Equal(t, tt.price, row.Price)
			if tt.notified {
				require.Len(t, f.notifier.sent(), 1)
				assert.Equal(t, 1, f.ledger.writes)
				assert.Equal(t, now, row.FirstAlertAt)
			} else {
				assert.Empty(t, f.notifier.sent())
				assert.Zero(t, f.ledger.writes)
				assert.True(t, row.FirstAlertAt.IsZero())
			}
		})
	}
}

func TestEvaluate_UsesPreviousTradingDay(t *testing.T) {
	f := newFixture(t)
	f.market.set("BTCUSD", 100, 90, 95)

	// 00:10 IST on the 19th is still the 18th in UTC
	f.engine.Evaluate(context.Background(), "BTCUSD", time.Date(2026, 10, 19, 0, 10, 0, 0, ist))

	assert.Equal(t, []string{"2026-10-18"}, f.market.days)
}

func TestEvaluate_DataError(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *fakeMarket)
	}{
		{"range fetch fails", func(m *fakeMarket) { m.rangeErr["BTCUSD"] = errors.New("status 502") }},
		{"quote fetch fails", func(m *fakeMarket) { m.quoteErr["BTCUSD"] = errors.New("timeout") }},
		{"inverted range", func(m *fakeMarket) { m.ranges["BTCUSD"] = models.DailyRange{High: 90, Low: 100} }},
		{"empty range", func(m *fakeMarket) { m.ranges["BTCUSD"] = models.DailyRange{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.market.set("BTCUSD", 100, 90, 150)
			tt.setup(f.market)

			row := f.engine.Evaluate(context.Background(), "BTCUSD", now)

			assert.Equal(t, models.StatusDataError, row.Status)
			assert.NotEmpty(t, row.Err)
			assert.False(t, row.HasData())
			assert.Empty(t, f.notifier.sent())
			assert.Zero(t, f.ledger.writes)
		})
	}
}

func TestEvaluate_OncePerDayAcrossOscillation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.market.set("BTCUSD", 100, 90, 101)

	first := f.engine.Evaluate(ctx, "BTCUSD", now)
	assert.True(t, first.Notified)

	f.market.setPrice("BTCUSD", 95)
	back := f.engine.Evaluate(ctx, "BTCUSD", now.Add(5*time.Minute))
	assert.Equal(t, models.StatusNormal, back.Status)

	f.market.setPrice("BTCUSD", 102)
	again := f.engine.Evaluate(ctx, "BTCUSD", now.Add(10*time.Minute))
	assert.Equal(t, models.StatusBreakout, again.Status)
	assert.True(t, again.Suppressed)
	assert.False(t, again.Notified)
	assert.Equal(t, now, again.FirstAlertAt)

	// the opposite side is still the same symbol and day
	f.market.setPrice("BTCUSD", 80)
	down := f.engine.Evaluate(ctx, "BTCUSD", now.Add(15*time.Minute))
	assert.Equal(t, models.StatusBreakdown, down.Status)
	assert.True(t, down.Suppressed)

	assert.Len(t, f.notifier.sent(), 1)
}

func TestEvaluate_DayRollover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.market.set("BTCUSD", 100, 90, 101)

	require.True(t, f.engine.Evaluate(ctx, "BTCUSD", time.Date(2026, 10, 19, 23, 55, 0, 0, ist)).Notified)

	next := f.engine.Evaluate(ctx, "BTCUSD", time.Date(2026, 10, 20, 0, 5, 0, 0, ist))
	assert.True(t, next.Notified)
	assert.Len(t, f.notifier.sent(), 2)
	assert.Equal(t, []string{"2026-10-18", "2026-10-19"}, f.market.days)
}

func TestEvaluate_SymbolsIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.market.set("BTCUSD", 100, 90, 101)
	f.market.set("ETHUSD", 10, 9, 8)

	assert.True(t, f.engine.Evaluate(ctx, "BTCUSD", now).Notified)
	assert.True(t, f.engine.Evaluate(ctx, "ETHUSD", now).Notified)
	assert.Len(t, f.notifier.sent(), 2)
}

func TestEvaluate_SurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.market.set("BTCUSD", 100, 90, 101)
	require.True(t, f.engine.Evaluate(ctx, "BTCUSD", now).Notified)

	restarted := New(f.market, f.volumes, f.ledger, f.notifier, nil, Config{Location: ist})
	row := restarted.Evaluate(ctx, "BTCUSD", now.Add(time.Minute))

	assert.True(t, row.Suppressed)
	assert.Len(t, f.notifier.sent(), 1)
}

func TestEvaluate_LedgerReadErrorSuppresses(t *testing.T) {
	f := newFixture(t)
	f.ledger.readErr = errors.New("database is locked")
	f.market.set("BTCUSD", 100, 90, 101)

	row := f.engine.Evaluate(context.Background(), "BTCUSD", now)

	assert.Equal(t, models.StatusBreakout, row.Status)
	assert.True(t, row.Suppressed)
	assert.False(t, row.Notified)
	assert.Empty(t, f.notifier.sent())
	assert.Zero(t, f.ledger.writes)
}

func TestEvaluate_NotifyFailureStillRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.err = errors.New("telegram down")
	f.market.set("BTCUSD", 100, 90, 101)

	row := f.engine.Evaluate(ctx, "BTCUSD", now)
	assert.False(t, row.Notified)
	assert.Equal(t, 1, f.ledger.writes)

	f.notifier.err = nil
	again := f.engine.Evaluate(ctx, "BTCUSD", now.Add(time.Minute))
	assert.True(t, again.Suppressed)
	assert.Len(t, f.notifier.sent(), 1)
}

func TestEvaluate_LedgerWriteFailureLogged(t *testing.T) {
	f := newFixture(t)
	f.ledger.writeErr = errors.New("disk full")
	f.market.set("BTCUSD", 100, 90, 101)

	row := f.engine.Evaluate(context.Background(), "BTCUSD", now)

	assert.True(t, row.Notified)
	assert.Equal(t, 1, f.ledger.writes)
}

func TestEvaluate_CancelledDuringSendStillRecorded(t *testing.T) {
	f := newFixture(t)
	f.market.set("BTCUSD", 100, 90, 101)
	ctx, cancel := context.WithCancel(context.Background())
	f.engine.notifier = notifierFunc(func(ctx context.Context, text string) error {
		cancel()
		return ctx.Err()
	})

	f.engine.Evaluate(ctx, "BTCUSD", now)

	_, ok, _ := f.ledger.HasAlerted(context.Background(), "2026-10-19", "BTCUSD")
	assert.True(t, ok)
}

type notifierFunc func(ctx context.Context, text string) error

func (fn notifierFunc) Send(ctx context.Context, text string) error { return fn(ctx, text) }

func TestEvaluate_VolumeIsInformational(t *testing.T) {
	f := newFixture(t)
	f.volumes.err = errors.New("no candles")
	f.market.set("BTCUSD", 100, 90, 101)

	row := f.engine.Evaluate(context.Background(), "BTCUSD", now)

	assert.True(t, row.Notified)
	assert.Nil(t, row.Volume)
	require.Len(t, f.notifier.sent(), 1)
	assert.Contains(t, f.notifier.sent()[0], "Volume (5m): unavailable")
}

func TestEvaluate_LowVolumeStillAlerts(t *testing.T) {
	f := newFixture(t)
	f.volumes.recent, f.volumes.avg = 1, 1000
	f.market.set("BTCUSD", 100, 90, 101)

	row := f.engine.Evaluate(context.Background(), "BTCUSD", now)

	assert.True(t, row.Notified)
	require.NotNil(t, row.Volume)
	assert.InDelta(t, 0.001, row.Volume.Ratio(), 1e-9)
}

func TestEvaluateAll_OrderAndIsolation(t *testing.T) {
	f := newFixture(t)
	symbols := []string{"BTCUSD", "ETHUSD", "SOLUSD", "XRPUSD", "DOGEUSD"}
	for _, s := range symbols {
		f.market.set(s, 100, 90, 95)
	}
	f.market.set("SOLUSD", 100, 90, 120)
	f.market.rangeErr["XRPUSD"] = errors.New("boom")

	rows := f.engine.EvaluateAll(context.Background(), symbols, now)

	require.Len(t, rows, len(symbols))
	for i, s := range symbols {
		assert.Equal(t, s, rows[i].Symbol)
	}
	assert.Equal(t, models.StatusBreakout, rows[2].Status)
	assert.Equal(t, models.StatusDataError, rows[3].Status)
	assert.Equal(t, models.StatusNormal, rows[4].Status)
	assert.Len(t, f.notifier.sent(), 1)
}

// ─── message ────────────────────────────────────────────────────────────────

func TestFormatAlert(t *testing.T) {
	row := models.Row{
		Symbol:      "BTCUSD",
		Status:      models.StatusBreakout,
		Price:       101,
		Range:       models.DailyRange{High: 100, Low: 90},
		Volume:      &models.VolumeSignal{Recent: 1234, TrailingAverage: 1000},
		EvaluatedAt: now,
	}

	want := strings.Join([]string{
		"🚨 BTCUSD Breakout!",
		"💰 Price: 101",
		"📈 High: 100",
		"📉 Low: 90",
		"📊 Volume (5m): 1234 | Avg: 1000 (1.23x)",
		"🕒 2026-10-19 14:05:00 IST",
	}, "\n")
	assert.Equal(t, want, FormatAlert(row, ist))

	row.Status = models.StatusBreakdown
	row.Price = 89.5
	row.Volume = nil
	msg := FormatAlert(row, ist)
	assert.Contains(t, msg, "🚨 BTCUSD Breakdown!")
	assert.Contains(t, msg, "💰 Price: 89.5")
	assert.Contains(t, msg, "📊 Volume (5m): unavailable")
}

// ─── range cache ────────────────────────────────────────────────────────────

func TestRangeCache(t *testing.T) {
	market := newFakeMarket()
	market.set("BTCUSD", 100, 90, 95)
	cache := NewRangeCache(market)
	ctx := context.Background()
	day := models.TradingDayOf(now, ist).Previous()

	for i := 0; i < 3; i++ {
		r, err := cache.DailyRange(ctx, "BTCUSD", day)
		require.NoError(t, err)
		assert.Equal(t, models.DailyRange{High: 100, Low: 90}, r)
	}
	assert.Equal(t, 1, market.rangeCalls)

	q, err := cache.Quote(ctx, "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 95.0, q.Price)

	_, err = cache.DailyRange(ctx, "BTCUSD", day.Previous())
	require.NoError(t, err)
	assert.Equal(t, 2, market.rangeCalls)
}

func TestRangeCache_FailuresNotCached(t *testing.T) {
	market := newFakeMarket()
	market.set("BTCUSD", 100, 90, 95)
	market.rangeErr["BTCUSD"] = errors.New("status 503")
	cache := NewRangeCache(market)
	day := models.TradingDayOf(now, ist).Previous()

	_, err := cache.DailyRange(context.Background(), "BTCUSD", day)
	require.Error(t, err)

	delete(market.rangeErr, "BTCUSD")
	_, err = cache.DailyRange(context.Background(), "BTCUSD", day)
	require.NoError(t, err)
	assert.Equal(t, 2, market.rangeCalls)
}

func TestRangeCache_SameAlertsAsUncached(t *testing.T) {
	run := func(cached bool) []string {
		market := newFakeMarket()
		market.set("BTCUSD", 100, 90, 95)
		var fetcher RangeFetcher = market
		if cached {
			fetcher = NewRangeCache(market)
		}
		notifier := &fakeNotifier{}
		e := New(fetcher, nil, newFakeLedger(), notifier, nil, Config{Location: ist})
		for i, price := range []float64{95, 101, 96, 103, 85} {
			market.setPrice("BTCUSD", price)
			e.Evaluate(context.Background(), "BTCUSD", now.Add(time.Duration(i)*time.Minute))
		}
		market.setPrice("BTCUSD", 101)
		e.Evaluate(context.Background(), "BTCUSD", now.Add(24*time.Hour))
		return notifier.sent()
	}

	assert.Equal(t, run(false), run(true))
	assert.Len(t, run(true), 2)
}

// ─── board ──────────────────────────────────────────────────────────────────

func TestBoard(t *testing.T) {
	b := NewBoard()
	assert.False(t, b.Ready())
	assert.Equal(t, "No poll completed yet", b.Summary().String())

	first := now.Add(-time.Hour)
	b.Update([]models.Row{
		{Symbol: "BTCUSD", Status: models.StatusBreakout, FirstAlertAt: first},
		{Symbol: "ETHUSD", Status: models.StatusNormal},
	}, now, now.Add(5*time.Minute))

	// a read-error round leaves FirstAlertAt empty; the streak time is kept
	b.Update([]models.Row{
		{Symbol: "BTCUSD", Status: models.StatusBreakout, Suppressed: true},
		{Symbol: "ETHUSD", Status: models.StatusDataError, Err: "boom"},
	}, now.Add(5*time.Minute), now.Add(10*time.Minute))

	rows := b.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "BTCUSD", rows[0].Symbol)
	assert.Equal(t, first, rows[0].FirstAlertAt)

	s := b.Summary()
	assert.Equal(t, Summary{Breakouts: 1, Errors: 1, Total: 2, LastPoll: now.Add(5 * time.Minute), NextPoll: now.Add(10 * time.Minute)}, s)
	assert.True(t, b.Ready())

	b.Update([]models.Row{{Symbol: "BTCUSD", Status: models.StatusNormal}}, now.Add(10*time.Minute), now.Add(15*time.Minute))
	assert.True(t, b.Rows()[0].FirstAlertAt.IsZero())
}

// ─── poller ─────────────────────────────────────────────────────────────────

func newTestPoller(f *fixture, symbols []string, retention int) *Poller {
	p := NewPoller(f.engine, NewBoard(), f.notifier, f.ledger, nil, PollerConfig{
		Symbols:       symbols,
		Interval:      time.Minute,
		RetentionDays: retention,
		Location:      ist,
	})
	p.now = func() time.Time { return now }
	return p
}

func TestPoller_FailureStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.market.set("BTCUSD", 100, 90, 95)
	f.market.set("ETHUSD", 10, 9, 9.5)
	p := newTestPoller(f, []string{"BTCUSD", "ETHUSD"}, 0)

	f.market.quoteErr["BTCUSD"] = errors.New("down")
	f.market.quoteErr["ETHUSD"] = errors.New("down")
	p.RunOnce(ctx)
	p.RunOnce(ctx)
	assert.Len(t, f.notifier.errors, 1)

	delete(f.market.quoteErr, "BTCUSD")
	p.RunOnce(ctx)
	assert.Equal(t, []int{2}, f.notifier.recoveries)

	// a partial failure is not a failed cycle
	p.RunOnce(ctx)
	assert.Len(t, f.notifier.errors, 1)
	assert.Len(t, f.notifier.recoveries, 1)
}

func TestPoller_RunOnceUpdatesBoardAndPrunes(t *testing.T) {
	f := newFixture(t)
	f.market.set("BTCUSD", 100, 90, 101)
	p := newTestPoller(f, []string{"BTCUSD"}, 30)

	rows := p.RunOnce(context.Background())

	require.Len(t, rows, 1)
	assert.True(t, rows[0].Notified)
	assert.True(t, p.board.Ready())
	assert.Equal(t, now.Add(time.Minute), p.board.Summary().NextPoll)
	assert.Equal(t, []string{"2026-09-19"}, f.ledger.pruned)
}

func TestPoller_NoPruneWhenRetentionDisabled(t *testing.T) {
	f := newFixture(t)
	f.market.set("BTCUSD", 100, 90, 95)
	p := newTestPoller(f, []string{"BTCUSD"}, 0)

	p.RunOnce(context.Background())
	assert.Empty(t, f.ledger.pruned)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.market.set("BTCUSD", 100, 90, 95)
	p := newTestPoller(f, []string{"BTCUSD"}, 0)
	p.config.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.market.mu.Lock()
		defer f.market.mu.Unlock()
		return f.market.rangeCalls >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
