package strategy

import (
	"sync"
	"time"

	"github.com/coachpo/meltica-replay/internal/schema"
)

// SimulationClock is the strategy's logical notion of now. It only moves in response to replayed
// market data, never with the wall clock.
type SimulationClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewSimulationClock initialises a clock at the provided timestamp.
func NewSimulationClock(start time.Time) *SimulationClock {
	return &SimulationClock{current: start}
}

// Now returns the current simulated time.
func (c *SimulationClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AdvanceTo sets the clock to ts. Replayed data is chronological, so no ordering check is made.
func (c *SimulationClock) AdvanceTo(ts time.Time) {
	c.mu.Lock()
	c.current = ts
	c.mu.Unlock()
}

// ResetForDayOpen moves the clock to one minute before the first session of the trading day.
func (c *SimulationClock) ResetForDayOpen(tt schema.TradingTime) {
	c.AdvanceTo(tt.SessionOpen().Add(-time.Minute))
}
