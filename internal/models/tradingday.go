package models

import "time"

// DayKeyLayout formats trading day keys, e.g. "2026-10-19".
const DayKeyLayout = "2006-01-02"

// TradingDay is the window from local midnight to the next local midnight
// in a reference timezone.
type TradingDay struct {
	Key   string
	Start time.Time
	End   time.Time
}

// TradingDayOf returns the trading day containing t in loc.
func TradingDayOf(t time.Time, loc *time.Location) TradingDay {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return TradingDay{
		Key:   start.Format(DayKeyLayout),
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}
}

// Previous returns the trading day before d.
func (d TradingDay) Previous() TradingDay {
	start := d.Start.AddDate(0, 0, -1)
	return TradingDay{
		Key:   start.Format(DayKeyLayout),
		Start: start,
		End:   d.Start,
	}
}

// Contains reports whether t falls within [Start, End).
func (d TradingDay) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// AlertRecord is the persisted fact that Symbol alerted on trading day Day.
type AlertRecord struct {
	ID        string    `json:"id"`
	Day       string    `json:"day"`
	Symbol    string    `json:"symbol"`
	AlertedAt time.Time `json:"alerted_at"`
}
