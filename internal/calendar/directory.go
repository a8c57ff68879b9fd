package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/schema"
)

// Sessions holds session clock times as offsets from midnight.
type Sessions struct {
	NightOpen  time.Duration
	NightClose time.Duration
	DayAMOpen  time.Duration
	DayAMClose time.Duration
	DayPMOpen  time.Duration
	DayPMClose time.Duration
}

// Instrument describes one tradable futures contract.
type Instrument struct {
	ID              string
	ProductCode     string
	Multiplier      decimal.Decimal
	MarginRate      decimal.Decimal
	PriceTick       decimal.Decimal
	HasNightSession bool
	Sessions        Sessions
	// NoNightSession lists trading days (YYYY-MM-DD) without a preceding night session,
	// typically the first day after a holiday.
	NoNightSession []string
}

type instrumentEntry struct {
	Instrument
	noNight map[string]struct{}
}

// Directory resolves instrument metadata and per-day session bounds.
type Directory struct {
	cal         *Calendar
	instruments map[string]instrumentEntry
}

// NewDirectory builds a directory over the provided instruments.
func NewDirectory(cal *Calendar, instruments ...Instrument) (*Directory, error) {
	if cal == nil {
		return nil, errs.Required(component, "calendar")
	}
	d := &Directory{cal: cal, instruments: make(map[string]instrumentEntry, len(instruments))}
	for _, inst := range instruments {
		id := strings.TrimSpace(inst.ID)
		if id == "" {
			return nil, errs.Required(component, "instrument id")
		}
		if _, dup := d.instruments[id]; dup {
			return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("duplicate instrument"), errs.WithField("instrument", id))
		}
		if inst.Multiplier.IsZero() {
			inst.Multiplier = decimal.NewFromInt(1)
		}
		entry := instrumentEntry{Instrument: inst, noNight: make(map[string]struct{}, len(inst.NoNightSession))}
		entry.ID = id
		for _, value := range inst.NoNightSession {
			value = strings.TrimSpace(value)
			date, err := time.ParseInLocation(time.DateOnly, value, cal.location())
			if err != nil || !cal.IsTradingDay(date) {
				return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("no-night date must be a trading day"),
					errs.WithField("instrument", id), errs.WithField("date", value))
			}
			entry.noNight[value] = struct{}{}
		}
		d.instruments[id] = entry
	}
	return d, nil
}

// Instrument returns the metadata registered for id.
func (d *Directory) Instrument(id string) (Instrument, bool) {
	entry, ok := d.instruments[id]
	if !ok {
		return Instrument{}, false
	}
	return entry.Instrument, true
}

// TradingTime resolves the session bounds of instrumentID on tradingDate. The night session
// runs on the evening of the previous trading day.
func (d *Directory) TradingTime(tradingDate time.Time, instrumentID string) (schema.TradingTime, error) {
	entry, ok := d.instruments[instrumentID]
	if !ok {
		return schema.TradingTime{}, errs.New(component, errs.CodeNotFound,
			errs.WithMessage("unknown instrument"), errs.WithField("instrument", instrumentID))
	}
	day := schema.DateOf(tradingDate)
	s := entry.Sessions
	tt := schema.TradingTime{
		TradingDay: day,
		DayAMOpen:  day.Add(s.DayAMOpen),
		DayAMClose: day.Add(s.DayAMClose),
		DayPMOpen:  day.Add(s.DayPMOpen),
		DayPMClose: day.Add(s.DayPMClose),
	}
	if !entry.HasNightSession {
		return tt, nil
	}
	if _, skip := entry.noNight[day.Format(time.DateOnly)]; skip {
		return tt, nil
	}

	eve, err := d.cal.PreviousTradingDay(day)
	if err != nil {
		eve = day.AddDate(0, 0, -1)
	}
	tt.HasNightSession = true
	tt.NightOpen = eve.Add(s.NightOpen)
	tt.NightClose = eve.Add(s.NightClose)
	if s.NightClose <= s.NightOpen {
		// sessions such as 21:00-02:30 end after midnight
		tt.NightClose = tt.NightClose.AddDate(0, 0, 1)
	}
	return tt, nil
}

// ParseClock parses an HH:MM or HH:MM:SS clock time into an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	layout := "15:04"
	if strings.Count(value, ":") == 2 {
		layout = "15:04:05"
	}
	ts, err := time.Parse(layout, value)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	return time.Duration(ts.Hour())*time.Hour + time.Duration(ts.Minute())*time.Minute + time.Duration(ts.Second())*time.Second, nil
}
