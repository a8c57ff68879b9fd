// Package calendar provides in-memory trading calendar and instrument session lookups.
package calendar

import (
	"sort"
	"time"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/schema"
)

const component = "calendar"

// Calendar is a sorted set of trading days.
type Calendar struct {
	days []time.Time
}

// New builds a calendar from the given trading days. Duplicates are removed and every day is
// truncated to midnight.
func New(days []time.Time) (*Calendar, error) {
	if len(days) == 0 {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("at least one trading day required"))
	}
	normalized := make([]time.Time, 0, len(days))
	for _, d := range days {
		normalized = append(normalized, schema.DateOf(d))
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Before(normalized[j]) })

	out := normalized[:1]
	for _, d := range normalized[1:] {
		if !d.Equal(out[len(out)-1]) {
			out = append(out, d)
		}
	}
	return &Calendar{days: out}, nil
}

// FirstTradingDay returns the first trading day on or after date.
func (c *Calendar) FirstTradingDay(date time.Time) (time.Time, error) {
	d := schema.DateOf(date)
	idx := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(d) })
	if idx == len(c.days) {
		return time.Time{}, errs.New(component, errs.CodeNotFound,
			errs.WithMessage("no trading day on or after date"), errs.WithField("date", d.Format(time.DateOnly)))
	}
	return c.days[idx], nil
}

// LastTradingDay returns the last trading day on or before date.
func (c *Calendar) LastTradingDay(date time.Time) (time.Time, error) {
	d := schema.DateOf(date)
	idx := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(d) })
	if idx == 0 {
		return time.Time{}, errs.New(component, errs.CodeNotFound,
			errs.WithMessage("no trading day on or before date"), errs.WithField("date", d.Format(time.DateOnly)))
	}
	return c.days[idx-1], nil
}

// PreviousTradingDay returns the last trading day strictly before date.
func (c *Calendar) PreviousTradingDay(date time.Time) (time.Time, error) {
	return c.LastTradingDay(schema.DateOf(date).AddDate(0, 0, -1))
}

// TradingDayCount counts trading days in [start, end].
func (c *Calendar) TradingDayCount(start, end time.Time) int {
	return len(c.TradingDays(start, end))
}

// TradingDays lists trading days in [start, end].
func (c *Calendar) TradingDays(start, end time.Time) []time.Time {
	s, e := schema.DateOf(start), schema.DateOf(end)
	if e.Before(s) {
		return nil
	}
	lo := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(s) })
	hi := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(e) })
	if lo >= hi {
		return nil
	}
	return append([]time.Time(nil), c.days[lo:hi]...)
}

// IsTradingDay reports whether date is a trading day.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d := schema.DateOf(date)
	idx := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(d) })
	return idx < len(c.days) && c.days[idx].Equal(d)
}

func (c *Calendar) location() *time.Location { return c.days[0].Location() }

// NewTradingWindow normalizes start and end to the first/last trading day on or after/before
// them.
func NewTradingWindow(cal schema.Calendar, start, end time.Time) (schema.TradingWindow, error) {
	first, err := cal.FirstTradingDay(start)
	if err != nil {
		return schema.TradingWindow{}, err
	}
	last, err := cal.LastTradingDay(end)
	if err != nil {
		return schema.TradingWindow{}, err
	}
	if last.Before(first) {
		return schema.TradingWindow{}, errs.New(component, errs.CodeInvalid,
			errs.WithMessage("window contains no trading day"),
			errs.WithField("start", start.Format(time.DateOnly)),
			errs.WithField("end", end.Format(time.DateOnly)))
	}
	return schema.NewTradingWindow(first, last), nil
}
