// Package delta provides a client for Delta Exchange public market data.
package delta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

const userAgent = "breakwatch"

// ErrNoData is returned when the exchange answers successfully but without usable data.
var ErrNoData = errors.New("no data")

// FetchError wraps any failure to obtain market data for a symbol.
type FetchError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// ClientConfig holds tuning knobs for the HTTP client.
type ClientConfig struct {
	APIKey           string
	APISecret        string
	MaxRetries       int
	RetryDelayBase   time.Duration
	RangeResolution  string
	VolumeResolution string
}

// Client provides access to the Delta Exchange REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        ClientConfig
}

// Candle is one OHLCV bucket.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

type apiError struct {
	Code    string `json:"code"`
	Context any    `json:"context"`
}

type envelope[T any] struct {
	Success bool      `json:"success"`
	Result  T         `json:"result"`
	Error   *apiError `json:"error"`
}

type wireCandle struct {
	Time   int64           `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type wireTicker struct {
	Symbol    string          `json:"symbol"`
	MarkPrice decimal.Decimal `json:"mark_price"`
	Close     decimal.Decimal `json:"close"`
}

// NewClient creates a new Delta Exchange client
func NewClient(baseURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = 500 * time.Millisecond
	}
	if cfg.RangeResolution == "" {
		cfg.RangeResolution = "30m"
	}
	if cfg.VolumeResolution == "" {
		cfg.VolumeResolution = "5m"
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cfg: cfg,
	}
}

// Candles returns the OHLCV candles of symbol whose whole bucket lies in
// [start, end), oldest first. Buckets straddling either bound are dropped.
func (c *Client) Candles(ctx context.Context, symbol, resolution string, start, end time.Time) ([]Candle, error) {
	res, err := ResolutionDuration(resolution)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", resolution)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))

	var env envelope[[]wireCandle]
	if err := c.get(ctx, "/v2/history/candles", q, &env); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(env.Result))
	for _, wc := range env.Result {
		ts := time.Unix(wc.Time, 0)
		if ts.Before(start) || ts.Add(res).After(end) {
			continue
		}
		candles = append(candles, Candle{
			Time:   ts,
			Open:   wc.Open,
			High:   wc.High,
			Low:    wc.Low,
			Close:  wc.Close,
			Volume: wc.Volume,
		})
	}
	sortCandles(candles)
	return candles, nil
}

// Ticker returns the mark price of symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var env envelope[wireTicker]
	if err := c.get(ctx, "/v2/tickers/"+url.PathEscape(symbol), nil, &env); err != nil {
		return decimal.Zero, err
	}
	price := env.Result.MarkPrice
	if !price.IsPositive() {
		price = env.Result.Close
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("ticker without price: %w", ErrNoData)
	}
	return price, nil
}

// get performs a GET against the API and decodes the envelope into dest.
func (c *Client) get(ctx context.Context, path string, query url.Values, dest interface{ ok() error }) error {
	rawQuery := ""
	if len(query) > 0 {
		rawQuery = "?" + query.Encode()
	}

	body, err := c.doRequest(ctx, path, rawQuery)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return dest.ok()
}

func (e *envelope[T]) ok() error {
	if e.Success {
		return nil
	}
	if e.Error != nil {
		return fmt.Errorf("api error %s: %v", e.Error.Code, e.Error.Context)
	}
	return fmt.Errorf("api reported failure: %w", ErrNoData)
}

// doRequest performs the HTTP request with linear-backoff retry on
// transport errors, 429 and 5xx. Other statuses fail immediately.
func (c *Client) doRequest(ctx context.Context, path, rawQuery string) ([]byte, error) {
	var lastErr error

	for i := 0; i <= c.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+rawQuery, nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req, path, rawQuery)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 256)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				lastErr = statusErr
				continue
			}
			return nil, statusErr
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// setHeaders adds the user agent and, when credentials are configured,
// the signed api-key headers.
func (c *Client) setHeaders(req *http.Request, path, rawQuery string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("signature", sign(c.cfg.APISecret, req.Method+timestamp+path+rawQuery))
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
