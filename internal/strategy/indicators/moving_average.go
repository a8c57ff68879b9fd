// Package indicators provides indicators that plug into a strategy.Function.
package indicators

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/coachpo/meltica-replay/internal/schema"
)

// PriceSource exposes the facade's last-seen market caches.
type PriceSource interface {
	LastTick(instrumentID string) (schema.Tick, bool)
	LastBar(instrumentID string) (schema.Bar, bool)
}

// MovingAverage is a simple moving average over the latest price of one instrument. Each
// distinct market timestamp contributes one sample.
type MovingAverage struct {
	source       PriceSource
	instrumentID string
	window       int

	samples []float64
	lastAt  time.Time
	value   float64
}

// NewMovingAverage creates an SMA over window samples.
func NewMovingAverage(source PriceSource, instrumentID string, window int) (*MovingAverage, error) {
	if source == nil {
		return nil, fmt.Errorf("moving average: price source required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("moving average: window must be positive, got %d", window)
	}
	return &MovingAverage{source: source, instrumentID: instrumentID, window: window}, nil
}

// Recompute samples the latest price when it is newer than the last sample.
func (m *MovingAverage) Recompute() error {
	price, at, ok := m.latest()
	if !ok || !at.After(m.lastAt) {
		return nil
	}
	m.lastAt = at
	m.samples = append(m.samples, price)
	if len(m.samples) > m.window {
		m.samples = m.samples[len(m.samples)-m.window:]
	}
	mean, err := stats.Mean(m.samples)
	if err != nil {
		return fmt.Errorf("moving average %s: %w", m.instrumentID, err)
	}
	m.value = mean
	return nil
}

func (m *MovingAverage) latest() (float64, time.Time, bool) {
	tick, hasTick := m.source.LastTick(m.instrumentID)
	bar, hasBar := m.source.LastBar(m.instrumentID)
	switch {
	case hasBar && (!hasTick || !tick.Timestamp.After(bar.Timestamp())):
		return bar.Close.InexactFloat64(), bar.Timestamp(), bar.Close.IsPositive()
	case hasTick:
		return tick.LastPrice.InexactFloat64(), tick.Timestamp, tick.LastPrice.IsPositive()
	default:
		return 0, time.Time{}, false
	}
}

// Value returns the current average.
func (m *MovingAverage) Value() float64 { return m.value }

// Ready reports whether the window is full.
func (m *MovingAverage) Ready() bool { return len(m.samples) == m.window }

// Samples returns the number of samples held.
func (m *MovingAverage) Samples() int { return len(m.samples) }
