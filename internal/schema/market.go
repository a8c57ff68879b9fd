// Package schema defines the market data, order, ledger and collaborator types shared by
// the backtest components.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// BarType identifies how bars are aggregated.
type BarType string

const (
	// BarTypeMinute aggregates bars over a number of minutes.
	BarTypeMinute BarType = "MINUTE"
	// BarTypeHour aggregates bars over a number of hours.
	BarTypeHour BarType = "HOUR"
	// BarTypeDay aggregates one bar per trading day.
	BarTypeDay BarType = "DAY"
)

// Valid reports whether the bar type is one of the supported kinds.
func (b BarType) Valid() bool {
	switch b {
	case BarTypeMinute, BarTypeHour, BarTypeDay:
		return true
	default:
		return false
	}
}

// Tick is a single level-one market data snapshot.
type Tick struct {
	InstrumentID string          `json:"instrument_id"`
	TradingDay   time.Time       `json:"trading_day"`
	Timestamp    time.Time       `json:"timestamp"`
	LastPrice    decimal.Decimal `json:"last_price"`
	BidPrice     decimal.Decimal `json:"bid_price"`
	AskPrice     decimal.Decimal `json:"ask_price"`
	BidVolume    int64           `json:"bid_volume"`
	AskVolume    int64           `json:"ask_volume"`
	Volume       int64           `json:"volume"`
	OpenInterest int64           `json:"open_interest"`
}

// Bar is an aggregated OHLC record. Timestamp reports the bar end.
type Bar struct {
	InstrumentID string          `json:"instrument_id"`
	TradingDay   time.Time       `json:"trading_day"`
	Interval     int             `json:"interval"`
	BarType      BarType         `json:"bar_type"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	Volume       int64           `json:"volume"`
	OpenInterest int64           `json:"open_interest"`
}

// Timestamp returns the instant the bar becomes observable.
func (b Bar) Timestamp() time.Time {
	return b.EndTime
}

// DriveSpec identifies the instrument whose updates advance the simulation clock and gate
// strategy decisions during a backtest.
type DriveSpec struct {
	InstrumentID string  `json:"instrument_id"`
	BarInterval  int     `json:"bar_interval"`
	BarType      BarType `json:"bar_type"`
}

// TradingTime holds the session bounds of one instrument on one trading day.
type TradingTime struct {
	TradingDay      time.Time
	HasNightSession bool
	NightOpen       time.Time
	NightClose      time.Time
	DayAMOpen       time.Time
	DayAMClose      time.Time
	DayPMOpen       time.Time
	DayPMClose      time.Time
}

// SessionOpen returns the first session open of the trading day.
func (t TradingTime) SessionOpen() time.Time {
	if t.HasNightSession {
		return t.NightOpen
	}
	return t.DayAMOpen
}

// DateOf truncates ts to midnight in its own location.
func DateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}

// TradingWindow is a normalized [Start, End] range of trading days. The zero value is empty;
// build one with NewTradingWindow after normalizing both ends against a calendar.
type TradingWindow struct {
	start time.Time
	end   time.Time
}

// NewTradingWindow builds a window from already-normalized trading days.
func NewTradingWindow(start, end time.Time) TradingWindow {
	return TradingWindow{start: DateOf(start), end: DateOf(end)}
}

// Start returns the first trading day of the window.
func (w TradingWindow) Start() time.Time { return w.start }

// End returns the last trading day of the window.
func (w TradingWindow) End() time.Time { return w.end }

// Contains reports whether day falls within the window.
func (w TradingWindow) Contains(day time.Time) bool {
	d := DateOf(day)
	return !d.Before(w.start) && !d.After(w.end)
}
