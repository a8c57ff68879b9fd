package replay

import (
	"context"
	"sort"
	"time"

	"github.com/coachpo/meltica-replay/internal/schema"
)

// Source loads one trading day of historical records for one instrument. Records are returned
// in chronological order.
type Source interface {
	Ticks(ctx context.Context, instrumentID string, tradingDay time.Time) ([]schema.Tick, error)
	Bars(ctx context.Context, instrumentID string, tradingDay time.Time, interval int, barType schema.BarType) ([]schema.Bar, error)
}

// MemorySource serves records held in memory.
type MemorySource struct {
	ticks map[string][]schema.Tick
	bars  map[string][]schema.Bar
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		ticks: make(map[string][]schema.Tick),
		bars:  make(map[string][]schema.Bar),
	}
}

// AddTicks appends ticks; they are indexed by their own instrument id.
func (m *MemorySource) AddTicks(ticks ...schema.Tick) {
	for _, tick := range ticks {
		m.ticks[tick.InstrumentID] = append(m.ticks[tick.InstrumentID], tick)
	}
}

// AddBars appends bars; they are indexed by their own instrument id.
func (m *MemorySource) AddBars(bars ...schema.Bar) {
	for _, bar := range bars {
		m.bars[bar.InstrumentID] = append(m.bars[bar.InstrumentID], bar)
	}
}

// Ticks implements Source.
func (m *MemorySource) Ticks(_ context.Context, instrumentID string, tradingDay time.Time) ([]schema.Tick, error) {
	day := schema.DateOf(tradingDay)
	out := make([]schema.Tick, 0)
	for _, tick := range m.ticks[instrumentID] {
		if schema.DateOf(tick.TradingDay).Equal(day) {
			out = append(out, tick)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Bars implements Source. Bars without an interval or type match any requested aggregation.
func (m *MemorySource) Bars(_ context.Context, instrumentID string, tradingDay time.Time, interval int, barType schema.BarType) ([]schema.Bar, error) {
	day := schema.DateOf(tradingDay)
	out := make([]schema.Bar, 0)
	for _, bar := range m.bars[instrumentID] {
		if !schema.DateOf(bar.TradingDay).Equal(day) {
			continue
		}
		if bar.Interval != 0 && interval != 0 && bar.Interval != interval {
			continue
		}
		if bar.BarType != "" && barType != "" && bar.BarType != barType {
			continue
		}
		out = append(out, bar)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp().Before(out[j].Timestamp()) })
	return out, nil
}
