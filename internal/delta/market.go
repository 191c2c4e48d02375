package delta

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/breakwatch/internal/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var resolutions = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"1d":  24 * time.Hour,
}

// ResolutionDuration returns the bucket length of a resolution name.
func ResolutionDuration(resolution string) (time.Duration, error) {
	d, ok := resolutions[resolution]
	if !ok {
		return 0, fmt.Errorf("unsupported resolution %q", resolution)
	}
	return d, nil
}

// DailyRange aggregates the candles of day into its high and low. Only
// buckets fully inside the day count, so the range resolution must align
// with the day boundaries of the reference timezone.
func (c *Client) DailyRange(ctx context.Context, symbol string, day models.TradingDay) (models.DailyRange, error) {
	candles, err := c.Candles(ctx, symbol, c.cfg.RangeResolution, day.Start, day.End)
	if err != nil {
		return models.DailyRange{}, &FetchError{Op: "daily range", Symbol: symbol, Err: err}
	}
	high, low, err := aggregateRange(candles)
	if err != nil {
		return models.DailyRange{}, &FetchError{Op: "daily range", Symbol: symbol, Err: err}
	}

	r := models.DailyRange{High: high.InexactFloat64(), Low: low.InexactFloat64()}
	if err := r.Validate(); err != nil {
		return models.DailyRange{}, &FetchError{Op: "daily range", Symbol: symbol, Err: fmt.Errorf("%v: %w", err, ErrNoData)}
	}
	return r, nil
}

// Quote returns the current mark price of symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	price, err := c.Ticker(ctx, symbol)
	if err != nil {
		return models.Quote{}, &FetchError{Op: "quote", Symbol: symbol, Err: err}
	}
	return models.Quote{Price: price.InexactFloat64()}, nil
}

// RecentVolume returns the volume of the most recent completed bucket
// of the configured volume resolution.
func (c *Client) RecentVolume(ctx context.Context, symbol string, now time.Time) (float64, error) {
	res, err := ResolutionDuration(c.cfg.VolumeResolution)
	if err != nil {
		return 0, &FetchError{Op: "recent volume", Symbol: symbol, Err: err}
	}
	// Candles keeps completed buckets only
	candles, err := c.Candles(ctx, symbol, c.cfg.VolumeResolution, now.Add(-3*res), now)
	if err != nil {
		return 0, &FetchError{Op: "recent volume", Symbol: symbol, Err: err}
	}
	if len(candles) == 0 {
		return 0, &FetchError{Op: "recent volume", Symbol: symbol, Err: ErrNoData}
	}
	return candles[len(candles)-1].Volume.InexactFloat64(), nil
}

// TrailingAverageVolume returns the arithmetic mean of completed per-bucket
// volumes over the windowDays before now.
func (c *Client) TrailingAverageVolume(ctx context.Context, symbol string, now time.Time, windowDays int) (float64, error) {
	if windowDays < 1 {
		return 0, &FetchError{Op: "average volume", Symbol: symbol, Err: fmt.Errorf("window must be at least one day")}
	}
	candles, err := c.Candles(ctx, symbol, c.cfg.VolumeResolution, now.AddDate(0, 0, -windowDays), now)
	if err != nil {
		return 0, &FetchError{Op: "average volume", Symbol: symbol, Err: err}
	}
	if len(candles) == 0 {
		return 0, &FetchError{Op: "average volume", Symbol: symbol, Err: ErrNoData}
	}

	total := lo.Reduce(candles, func(acc decimal.Decimal, k Candle, _ int) decimal.Decimal {
		return acc.Add(k.Volume)
	}, decimal.Zero)
	return total.Div(decimal.NewFromInt(int64(len(candles)))).InexactFloat64(), nil
}

func aggregateRange(candles []Candle) (high, low decimal.Decimal, err error) {
	if len(candles) == 0 {
		return decimal.Zero, decimal.Zero, ErrNoData
	}
	high, low = candles[0].High, candles[0].Low
	for _, k := range candles[1:] {
		high = decimal.Max(high, k.High)
		low = decimal.Min(low, k.Low)
	}
	return high, low, nil
}

func sortCandles(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
}
