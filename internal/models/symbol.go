// Package models defines the core domain entities: trading days, ranges, quotes and status rows.
package models

import (
	"errors"
	"time"
)

// Status is the classification of a symbol for one poll.
type Status int

const (
	StatusNormal Status = iota
	StatusBreakout
	StatusBreakdown
	StatusDataError
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "Normal"
	case StatusBreakout:
		return "Breakout"
	case StatusBreakdown:
		return "Breakdown"
	case StatusDataError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsAlert reports whether the status is eligible for a notification.
func (s Status) IsAlert() bool {
	return s == StatusBreakout || s == StatusBreakdown
}

// MarshalText renders the status name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DailyRange is the high/low of one symbol over a trading day.
type DailyRange struct {
	High float64 `json:"high"`
	Low  float64 `json:"low"`
}

// Validate rejects empty or inverted ranges.
func (r DailyRange) Validate() error {
	if r.High <= 0 || r.Low <= 0 {
		return errors.New("range high and low must be positive")
	}
	if r.Low > r.High {
		return errors.New("range low must be <= high")
	}
	return nil
}

// Classify compares price against the range with strict inequality.
// A price equal to High or Low is Normal.
func (r DailyRange) Classify(price float64) Status {
	switch {
	case price > r.High:
		return StatusBreakout
	case price < r.Low:
		return StatusBreakdown
	default:
		return StatusNormal
	}
}

// Quote is the latest mark price of a symbol at poll time.
type Quote struct {
	Price float64 `json:"price"`
}

// VolumeSignal compares recent short-interval volume with its trailing average.
type VolumeSignal struct {
	Recent          float64 `json:"recent"`
	TrailingAverage float64 `json:"trailing_average"`
}

// Ratio returns Recent / TrailingAverage, or 0 when the average is zero.
func (v VolumeSignal) Ratio() float64 {
	if v.TrailingAverage == 0 {
		return 0
	}
	return v.Recent / v.TrailingAverage
}

// Row is one evaluated symbol for one poll, as shown to the operator.
// Numeric fields are meaningless when Status is StatusDataError.
type Row struct {
	Symbol       string        `json:"symbol"`
	Status       Status        `json:"status"`
	Price        float64       `json:"price"`
	Range        DailyRange    `json:"range"`
	Volume       *VolumeSignal `json:"volume,omitempty"`
	Notified     bool          `json:"notified"`
	Suppressed   bool          `json:"suppressed"`
	FirstAlertAt time.Time     `json:"first_alert_at,omitempty"`
	EvaluatedAt  time.Time     `json:"evaluated_at"`
	Err          string        `json:"error,omitempty"`
}

// HasData reports whether price and range fields are populated.
func (r Row) HasData() bool {
	return r.Status != StatusDataError
}
