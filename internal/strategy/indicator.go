package strategy

import "fmt"

// Indicator is a stateful derived value refreshed from the facade's market caches.
type Indicator interface {
	Recompute() error
}

// IndicatorSet is an append-only, ordered list of indicators.
type IndicatorSet struct {
	items []Indicator
}

// Add computes ind once and then appends it, so a registered indicator is never observed
// uninitialised.
func (s *IndicatorSet) Add(ind Indicator) error {
	if ind == nil {
		return fmt.Errorf("indicator set: nil indicator")
	}
	if err := ind.Recompute(); err != nil {
		return fmt.Errorf("indicator set: initial recompute: %w", err)
	}
	s.items = append(s.items, ind)
	return nil
}

// RecomputeAll refreshes every indicator in registration order and stops at the first error.
func (s *IndicatorSet) RecomputeAll() error {
	for _, ind := range s.items {
		if err := ind.Recompute(); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of registered indicators.
func (s *IndicatorSet) Len() int {
	return len(s.items)
}
