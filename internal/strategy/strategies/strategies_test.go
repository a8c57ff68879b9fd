package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/strategy"
)

type sentOrder struct {
	direction schema.Direction
	offset    schema.OffsetFlag
	volume    int64
	priceType schema.PriceType
}

type fakeFacade struct {
	logger     logrus.FieldLogger
	ticks      map[string]schema.Tick
	indicators []strategy.Indicator
	positions  map[schema.Direction]int64
	sent       []sentOrder
}

func newFakeFacade() *fakeFacade {
	logger, _ := test.NewNullLogger()
	return &fakeFacade{
		logger:    logger,
		ticks:     make(map[string]schema.Tick),
		positions: make(map[schema.Direction]int64),
	}
}

func (f *fakeFacade) LastTick(id string) (schema.Tick, bool) {
	t, ok := f.ticks[id]
	return t, ok
}

func (f *fakeFacade) LastBar(string) (schema.Bar, bool) { return schema.Bar{}, false }

func (f *fakeFacade) AddIndicator(ind strategy.Indicator) error {
	if err := ind.Recompute(); err != nil {
		return err
	}
	f.indicators = append(f.indicators, ind)
	return nil
}

func (f *fakeFacade) SendFutureOrder(_ context.Context, _ string, _ decimal.Decimal, volume int64, direction schema.Direction, offset schema.OffsetFlag, opts ...strategy.OrderOption) (string, error) {
	order := strategy.NewOrderRequest("rb2405", decimal.Zero, volume, direction, offset, opts...)
	f.sent = append(f.sent, sentOrder{direction: direction, offset: offset, volume: volume, priceType: order.PriceType})
	return "id", nil
}

func (f *fakeFacade) GetFuturePosition(_ string, direction schema.Direction) (schema.Position, bool) {
	vol, ok := f.positions[direction]
	return schema.Position{Direction: direction, Volume: vol}, ok
}

func (f *fakeFacade) DriveInstrument() string { return "rb2405" }

func (f *fakeFacade) Now() time.Time { return start }

func (f *fakeFacade) Logger() logrus.FieldLogger { return f.logger }

var start = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func (f *fakeFacade) push(t *testing.T, s strategy.Strategy, i int, price int64) {
	t.Helper()
	tick := schema.Tick{InstrumentID: "rb2405", Timestamp: start.Add(time.Duration(i) * time.Second), LastPrice: decimal.NewFromInt(price)}
	f.ticks["rb2405"] = tick
	for _, ind := range f.indicators {
		require.NoError(t, ind.Recompute())
	}
	require.NoError(t, s.OnTick(context.Background(), tick))
}

func TestMACrossFollowsCrossovers(t *testing.T) {
	ctx := context.Background()
	fn := newFakeFacade()
	s := &MACross{Function: fn, FastWindow: 2, SlowWindow: 3, Volume: 1}

	require.NoError(t, s.OnInit(ctx))
	require.NoError(t, s.OnInit(ctx))
	assert.Len(t, fn.indicators, 2, "indicators registered once")

	for i, price := range []int64{10, 10, 10} {
		fn.push(t, s, i, price)
	}
	assert.Empty(t, fn.sent, "flat averages do not trade")

	fn.push(t, s, 3, 13)
	require.Len(t, fn.sent, 1)
	assert.Equal(t, sentOrder{schema.DirectionBuy, schema.OffsetOpen, 1, schema.PriceTypeAnyPrice}, fn.sent[0])
	assert.Equal(t, 1, s.Pending())

	fn.push(t, s, 4, 14)
	assert.Len(t, fn.sent, 1, "no new orders while one is pending")

	require.NoError(t, s.OnFutureOrder(ctx, schema.OrderRequest{OrderStatus: schema.OrderStatusNoTradeQueueing}))
	assert.Equal(t, 1, s.Pending())
	require.NoError(t, s.OnFutureOrder(ctx, schema.OrderRequest{OrderStatus: schema.OrderStatusAllTraded}))
	assert.Zero(t, s.Pending())
	fn.positions[schema.DirectionBuy] = 1

	fn.push(t, s, 5, 5)
	require.Len(t, fn.sent, 3)
	assert.Equal(t, sentOrder{schema.DirectionSell, schema.OffsetClose, 1, schema.PriceTypeAnyPrice}, fn.sent[1])
	assert.Equal(t, sentOrder{schema.DirectionSell, schema.OffsetOpen, 1, schema.PriceTypeAnyPrice}, fn.sent[2])
	assert.Equal(t, 2, s.Pending())

	require.NoError(t, s.OnFutureOrderReject(ctx, schema.OrderRequest{}))
	require.NoError(t, s.OnFutureOrderCanceled(ctx, schema.OrderRequest{}))
	require.NoError(t, s.OnFutureOrderCanceled(ctx, schema.OrderRequest{}))
	assert.Zero(t, s.Pending())
}

func TestMACrossValidatesWindows(t *testing.T) {
	s := &MACross{Function: newFakeFacade(), FastWindow: 5, SlowWindow: 5, Volume: 1}
	assert.Error(t, s.OnInit(context.Background()))

	s = &MACross{Function: newFakeFacade(), FastWindow: 2, SlowWindow: 5}
	assert.Error(t, s.OnInit(context.Background()))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	names := make([]string, 0)
	for _, meta := range r.List() {
		names = append(names, meta.Name)
	}
	assert.Equal(t, []string{"logging", "macross", "noop"}, names)

	s, err := r.New(" MACross ", newFakeFacade(), map[string]any{"fast_window": 3.0, "slow_window": "8", "volume": 2})
	require.NoError(t, err)
	ma, ok := s.(*MACross)
	require.True(t, ok)
	assert.Equal(t, 3, ma.FastWindow)
	assert.Equal(t, 8, ma.SlowWindow)
	assert.EqualValues(t, 2, ma.Volume)

	s, err = r.New("noop", newFakeFacade(), nil)
	require.NoError(t, err)
	assert.NoError(t, s.OnTick(context.Background(), schema.Tick{}))

	_, err = r.New("missing", newFakeFacade(), nil)
	assert.Error(t, err)
	_, err = r.New("noop", nil, nil)
	assert.Error(t, err)
}

func TestRegistryResolvesSchemes(t *testing.T) {
	r := NewRegistry()
	var refs []string
	r.RegisterResolver("JS", func(ref string) (Factory, error) {
		refs = append(refs, ref)
		if ref == "broken.js" {
			return nil, assert.AnError
		}
		return func(Facade, map[string]any) (strategy.Strategy, error) { return &NoOp{}, nil }, nil
	})

	s, err := r.New("js: Scripts/Cross.js", newFakeFacade(), nil)
	require.NoError(t, err)
	assert.IsType(t, &NoOp{}, s)
	assert.Equal(t, []string{"Scripts/Cross.js"}, refs, "ref keeps its case")

	_, err = r.New("js:broken.js", newFakeFacade(), nil)
	assert.ErrorIs(t, err, assert.AnError)
	_, err = r.New("lua:cross.lua", newFakeFacade(), nil)
	assert.Error(t, err)
	assert.Len(t, r.List(), 3, "resolved strategies are not listed")
}

func TestLoggingStrategyLogs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := &Logging{Logger: logger}
	ctx := context.Background()

	require.NoError(t, s.OnStart(ctx))
	require.NoError(t, s.OnTick(ctx, schema.Tick{InstrumentID: "rb2405"}))
	require.NoError(t, s.OnFutureOrderReject(ctx, schema.OrderRequest{OrderRejectReason: schema.RejectReasonInvalidPrice}))
	require.NoError(t, s.OnEnd(ctx))

	entries := hook.AllEntries()
	require.Len(t, entries, 4)
	assert.Equal(t, "tick", entries[1].Message)
	assert.Equal(t, logrus.WarnLevel, entries[2].Level)
	assert.Equal(t, schema.RejectReasonInvalidPrice, entries[2].Data["reason"])
}
