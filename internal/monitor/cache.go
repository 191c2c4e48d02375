package monitor

import (
	"context"
	"sync"

	"github.com/rewired-gh/breakwatch/internal/models"
)

// RangeCache memoises successful DailyRange lookups for the current trading day.
// Quote calls pass through.
type RangeCache struct {
	RangeFetcher

	mu      sync.Mutex
	day     string
	entries map[string]models.DailyRange
}

// NewRangeCache wraps f with a per-day range cache.
func NewRangeCache(f RangeFetcher) *RangeCache {
	return &RangeCache{RangeFetcher: f, entries: make(map[string]models.DailyRange)}
}

// DailyRange returns the cached range for symbol, fetching it on a miss.
func (c *RangeCache) DailyRange(ctx context.Context, symbol string, day models.TradingDay) (models.DailyRange, error) {
	c.mu.Lock()
	if c.day != day.Key {
		c.day = day.Key
		c.entries = make(map[string]models.DailyRange)
	}
	if r, ok := c.entries[symbol]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	r, err := c.RangeFetcher.DailyRange(ctx, symbol, day)
	if err != nil {
		return models.DailyRange{}, err
	}

	c.mu.Lock()
	if c.day == day.Key {
		c.entries[symbol] = r
	}
	c.mu.Unlock()
	return r, nil
}
