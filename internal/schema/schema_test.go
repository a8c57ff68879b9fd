package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKindNames(t *testing.T) {
	assert.Equal(t, "on_future_trade", TradeEventTrade.String())
	assert.Equal(t, "on_future_order_cancel_failed", TradeEventOrderCancelFailed.String())
	assert.Equal(t, "unknown", TradeEventKindCount.String())
	assert.False(t, TradeEventKind(-1).Valid())

	assert.Equal(t, "day_begin", QuoteEventDayBegin.String())
	assert.Equal(t, "end", QuoteEventEnd.String())
	assert.False(t, QuoteEventKindCount.Valid())
}

func TestNewAssetSnapshotSeedsAllBalances(t *testing.T) {
	fund := decimal.NewFromInt(1_000_000)
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	snap := NewAssetSnapshot("P1", "S1", fund, day)
	require.NotNil(t, snap)
	assert.True(t, snap.FundBalance.Equal(fund))
	assert.True(t, snap.Cash.Equal(fund))
	assert.True(t, snap.AvailableCash.Equal(fund))
	assert.True(t, snap.PreFundBalance.Equal(fund))
	assert.Equal(t, day, snap.TradingDate)

	clone := snap.Clone()
	clone.Cash = decimal.Zero
	assert.True(t, snap.Cash.Equal(fund), "clone must not alias the original")
}

func TestOrderVolumeLeft(t *testing.T) {
	order := OrderRequest{Volume: 5, VolumeTraded: 2, VolumeCanceled: 1}
	assert.EqualValues(t, 2, order.VolumeLeft())

	order.VolumeCanceled = 10
	assert.EqualValues(t, 0, order.VolumeLeft())
}

func TestTradingTimeSessionOpen(t *testing.T) {
	night := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	am := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	tt := TradingTime{HasNightSession: true, NightOpen: night, DayAMOpen: am}
	assert.Equal(t, night, tt.SessionOpen())

	tt.HasNightSession = false
	assert.Equal(t, am, tt.SessionOpen())
}

func TestDateOfKeepsLocation(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	ts := time.Date(2024, 3, 4, 13, 45, 10, 5, loc)
	got := DateOf(ts)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, loc), got)
}

func TestOffsetAndStatusHelpers(t *testing.T) {
	assert.False(t, OffsetOpen.IsClose())
	assert.True(t, OffsetCloseToday.IsClose())
	assert.True(t, OrderStatusRejected.Finished())
	assert.False(t, OrderStatusNoTradeQueueing.Finished())
	assert.Equal(t, DirectionSell, DirectionBuy.Opposite())
}
