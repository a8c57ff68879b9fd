package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/meltica-replay/internal/schema"
)

type cache struct {
	ticks map[string]schema.Tick
	bars  map[string]schema.Bar
}

func (c *cache) LastTick(id string) (schema.Tick, bool) {
	t, ok := c.ticks[id]
	return t, ok
}

func (c *cache) LastBar(id string) (schema.Bar, bool) {
	b, ok := c.bars[id]
	return b, ok
}

func TestMovingAverageSamplesDistinctUpdates(t *testing.T) {
	src := &cache{ticks: map[string]schema.Tick{}, bars: map[string]schema.Bar{}}
	ma, err := NewMovingAverage(src, "rb", 2)
	require.NoError(t, err)

	require.NoError(t, ma.Recompute())
	assert.Zero(t, ma.Samples(), "no data yet")

	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	for i, price := range []int64{10, 20, 40} {
		src.ticks["rb"] = schema.Tick{InstrumentID: "rb", Timestamp: base.Add(time.Duration(i) * time.Second), LastPrice: decimal.NewFromInt(price)}
		require.NoError(t, ma.Recompute())
		require.NoError(t, ma.Recompute(), "a second recompute on the same update is a no-op")
	}
	assert.True(t, ma.Ready())
	assert.InDelta(t, 30.0, ma.Value(), 1e-9)

	src.bars["rb"] = schema.Bar{InstrumentID: "rb", EndTime: base.Add(time.Minute), Close: decimal.NewFromInt(60)}
	require.NoError(t, ma.Recompute())
	assert.InDelta(t, 50.0, ma.Value(), 1e-9, "newer bar close wins over the older tick")
}

func TestNewMovingAverageValidates(t *testing.T) {
	_, err := NewMovingAverage(nil, "rb", 3)
	assert.Error(t, err)
	_, err = NewMovingAverage(&cache{}, "rb", 0)
	assert.Error(t, err)
}
