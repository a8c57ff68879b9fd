package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/schema"
)

var (
	monday  = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	tuesday = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
)

type harness struct {
	fn       *Function
	acct     *fakeAccounting
	matching *fakeMatching
	reports  *fixedReports
}

func newHarness(t *testing.T, mutate func(*FunctionConfig)) harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h := harness{acct: &fakeAccounting{}, matching: &fakeMatching{}, reports: &fixedReports{}}
	cfg := FunctionConfig{
		StrategyID:  "ma-cross",
		AccountID:   "acct-1",
		ProductCode: "rb",
		Drive:       schema.DriveSpec{InstrumentID: "rb2405", BarInterval: 1, BarType: schema.BarTypeMinute},
		Instruments: []string{"hc2405"},
		Window:      schema.NewTradingWindow(monday, tuesday),
		FundBalance: decimal.NewFromInt(1_000_000),
		Params:      map[string]any{"slow": 20, "fast": 5},
		Calendar:    fakeCalendar{days: 2},
		Directory:   fakeDirectory{},
		Accounting:  h.acct,
		Matching:    h.matching,
		Reports:     h.reports,
		Logger:      logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	fn, err := NewFunction(cfg)
	require.NoError(t, err)
	h.fn = fn
	return h
}

func TestNewFunctionRequiresEveryCollaborator(t *testing.T) {
	base := func() FunctionConfig {
		return FunctionConfig{
			StrategyID:  "s",
			AccountID:   "a",
			Drive:       schema.DriveSpec{InstrumentID: "rb2405"},
			Window:      schema.NewTradingWindow(monday, tuesday),
			FundBalance: decimal.NewFromInt(1),
			Calendar:    fakeCalendar{},
			Directory:   fakeDirectory{},
			Accounting:  &fakeAccounting{},
			Matching:    &fakeMatching{},
			Reports:     &fixedReports{},
		}
	}
	_, err := NewFunction(base())
	require.NoError(t, err)

	cases := map[string]func(*FunctionConfig){
		"strategy id":  func(c *FunctionConfig) { c.StrategyID = " " },
		"account id":   func(c *FunctionConfig) { c.AccountID = "" },
		"drive":        func(c *FunctionConfig) { c.Drive.InstrumentID = "" },
		"window":       func(c *FunctionConfig) { c.Window = schema.TradingWindow{} },
		"fund balance": func(c *FunctionConfig) { c.FundBalance = decimal.Zero },
		"calendar":     func(c *FunctionConfig) { c.Calendar = nil },
		"directory":    func(c *FunctionConfig) { c.Directory = nil },
		"accounting":   func(c *FunctionConfig) { c.Accounting = nil },
		"matching":     func(c *FunctionConfig) { c.Matching = nil },
		"reports":      func(c *FunctionConfig) { c.Reports = nil },
		"bar type":     func(c *FunctionConfig) { c.Drive.BarType = "WEEK" },
		"mode":         func(c *FunctionConfig) { c.Mode = "paper" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			fn, err := NewFunction(cfg)
			require.Error(t, err)
			assert.Nil(t, fn)
			assert.True(t, errs.Is(err, errs.CodeInvalid))
		})
	}
}

func TestDayBeginResetsClockBeforeFirstSession(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.fn.DayBegin(context.Background(), monday))
	assert.Equal(t, monday.Add(9*time.Hour-time.Minute), h.fn.Now())
	assert.Equal(t, monday, h.fn.TradingDate())

	night := newHarness(t, func(c *FunctionConfig) { c.Directory = fakeDirectory{night: true} })
	require.NoError(t, night.fn.DayBegin(context.Background(), monday))
	assert.Equal(t, monday.Add(-3*time.Hour-time.Minute), night.fn.Now())
	require.NoError(t, night.fn.DayEnd(context.Background()))
}

func TestResetForDayOpenIsIdempotent(t *testing.T) {
	clock := NewSimulationClock(time.Time{})
	tt := schema.TradingTime{DayAMOpen: monday.Add(9 * time.Hour)}
	clock.ResetForDayOpen(tt)
	first := clock.Now()
	clock.ResetForDayOpen(tt)
	assert.Equal(t, first, clock.Now())

	clock.AdvanceTo(monday)
	assert.Equal(t, monday, clock.Now(), "AdvanceTo sets the time unconditionally")
}

func TestSimulateModeRecomputesOnDriveOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ind := &countingIndicator{}
	require.NoError(t, h.fn.AddIndicator(ind))
	assert.Equal(t, 1, ind.calls, "indicator computed once on registration")

	at := monday.Add(9 * time.Hour)
	require.NoError(t, h.fn.OnTick(ctx, schema.Tick{InstrumentID: "hc2405", Timestamp: at, LastPrice: decimal.NewFromInt(1)}))
	assert.Equal(t, 1, ind.calls)
	assert.Equal(t, at, h.fn.Now())

	require.NoError(t, h.fn.OnTick(ctx, schema.Tick{InstrumentID: "rb2405", Timestamp: at.Add(time.Second)}))
	assert.Equal(t, 2, ind.calls)

	require.NoError(t, h.fn.OnBar(ctx, schema.Bar{InstrumentID: "rb2405", EndTime: at.Add(time.Minute)}))
	assert.Equal(t, 3, ind.calls)
	assert.Equal(t, at.Add(time.Minute), h.fn.Now())

	assert.Empty(t, h.acct.ticks, "simulate mode leaves accounting to the orchestrator")
	assert.Empty(t, h.acct.bars)

	tick, ok := h.fn.LastTick("hc2405")
	require.True(t, ok)
	assert.Equal(t, at, tick.Timestamp)
	_, ok = h.fn.LastBar("hc2405")
	assert.False(t, ok)
}

func TestLiveModeRecomputesAndForwardsEveryUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *FunctionConfig) { c.Mode = ModeLive })
	ind := &countingIndicator{}
	require.NoError(t, h.fn.AddIndicator(ind))

	require.NoError(t, h.fn.OnTick(ctx, schema.Tick{InstrumentID: "hc2405"}))
	require.NoError(t, h.fn.OnBar(ctx, schema.Bar{InstrumentID: "hc2405"}))
	assert.Equal(t, 3, ind.calls)
	assert.Len(t, h.acct.ticks, 1)
	assert.Len(t, h.acct.bars, 1)
}

func TestIndicatorErrorsPropagate(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("boom")

	failing := &countingIndicator{err: boom}
	assert.ErrorIs(t, h.fn.AddIndicator(failing), boom)
	assert.Zero(t, h.fn.Indicators(), "failed indicator is not registered")

	ind := &countingIndicator{}
	require.NoError(t, h.fn.AddIndicator(ind))
	ind.err = boom
	assert.ErrorIs(t, h.fn.OnTick(context.Background(), schema.Tick{InstrumentID: "rb2405"}), boom)
}

func TestSendFutureOrderDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.fn.DayBegin(ctx, monday))

	handle, err := h.fn.SendFutureOrder(ctx, "rb2405", decimal.NewFromInt(3500), 2, schema.DirectionBuy, schema.OffsetOpen)
	require.NoError(t, err)
	assert.Equal(t, "handle-1", handle)
	assert.Equal(t, "acct-1", h.matching.accountID)

	require.Len(t, h.matching.sent, 1)
	order := h.matching.sent[0]
	assert.Equal(t, "", order.OrderSysID)
	assert.Equal(t, schema.OrderStatusUnknown, order.OrderStatus)
	assert.Zero(t, order.VolumeTraded)
	assert.Zero(t, order.VolumeCanceled)
	assert.Equal(t, schema.RejectReasonUnknown, order.OrderRejectReason)
	assert.True(t, order.MatchPrice.IsZero())
	assert.True(t, order.MatchAmount.IsZero())
	assert.True(t, order.FrozenAmount.IsZero())
	assert.True(t, order.TransactionCost.IsZero())
	assert.Equal(t, schema.OrderTypeNormal, order.OrderType)
	assert.Equal(t, schema.PriceTypeLimit, order.PriceType)
	assert.Equal(t, schema.HedgeSpeculation, order.HedgeFlag)
	assert.Nil(t, order.CancelTime)
	assert.Nil(t, order.OrderTime, "order time is unset unless passed")
	assert.Equal(t, "ma-cross", order.StrategyID)
	assert.Equal(t, monday, order.TradingDay)
	assert.EqualValues(t, 2, order.Volume)

	stamp := monday.Add(10 * time.Hour)
	_, err = h.fn.SendFutureOrder(ctx, "rb2405", decimal.Zero, 1, schema.DirectionSell, schema.OffsetClose,
		WithOrderTime(stamp), WithPriceType(schema.PriceTypeAnyPrice), WithOrderType(schema.OrderTypeFAK), WithHedgeFlag(schema.HedgeHedge))
	require.NoError(t, err)
	order = h.matching.sent[1]
	require.NotNil(t, order.OrderTime)
	assert.Equal(t, stamp, *order.OrderTime)
	assert.Equal(t, schema.PriceTypeAnyPrice, order.PriceType)
	assert.Equal(t, schema.OrderTypeFAK, order.OrderType)
	assert.Equal(t, schema.HedgeHedge, order.HedgeFlag)

	require.NoError(t, h.fn.CancelFutureOrder(ctx, "handle-1"))
	assert.Equal(t, []string{"handle-1"}, h.matching.canceled)
}

func TestGetFuturePositionDelegates(t *testing.T) {
	h := newHarness(t, nil)
	pos, ok := h.fn.GetFuturePosition("rb2405", schema.DirectionSell)
	require.True(t, ok)
	assert.EqualValues(t, 7, pos.Volume)
	assert.Equal(t, schema.DirectionSell, pos.Direction)
}

func TestOnEndBuildsSummary(t *testing.T) {
	h := newHarness(t, nil)
	h.acct.trades = []schema.Trade{{Volume: 3}, {Volume: 3}, {Volume: 2}}

	_, ok := h.fn.Summary()
	assert.False(t, ok)

	summary, err := h.fn.OnEnd(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rb2405", summary.InstrumentID)
	assert.Equal(t, monday, summary.StartDate)
	assert.Equal(t, tuesday, summary.EndDate)
	assert.Equal(t, 2, summary.TradingDayNum)
	assert.InDelta(t, 4.0, summary.TotalTradeLots, 1e-9, "each round trip counts two legs")
	assert.InDelta(t, 2.0, summary.LotsPerDay, 1e-9)
	assert.InDelta(t, 0.1, summary.TotalYield, 1e-9)
	assert.InDelta(t, 0.2, summary.AnnualYield, 1e-9)
	assert.True(t, summary.ProfitPerLot.Equal(decimal.NewFromInt(3)))
	assert.True(t, summary.MaxRetracement.Equal(decimal.NewFromInt(4)))
	assert.InDelta(t, 0.5, summary.RetracementRatio, 1e-9)
	assert.InDelta(t, 1.5, summary.Sharpe, 1e-9)
	assert.InDelta(t, 4.0, h.reports.lots, 1e-9)
	assert.Equal(t, 2, h.reports.days)

	stored, ok := h.fn.Summary()
	require.True(t, ok)
	assert.Equal(t, summary, stored)
}

func TestOnEndWithZeroTradingDays(t *testing.T) {
	h := newHarness(t, func(c *FunctionConfig) { c.Calendar = fakeCalendar{days: 0} })
	summary, err := h.fn.OnEnd(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.LotsPerDay)
	assert.Zero(t, summary.TradingDayNum)
}

func TestProvenanceExcludesCollaborators(t *testing.T) {
	h := newHarness(t, nil)
	params := h.fn.Provenance()

	names := make([]string, 0, len(params))
	values := make(map[string]any, len(params))
	for _, p := range params {
		names = append(names, p.Name)
		values[p.Name] = p.Value
	}
	assert.Equal(t, []string{
		"strategy_id", "account_id", "product_code", "drive_instrument", "bar_interval", "bar_type",
		"instruments", "start_date", "end_date", "fund_balance", "mode", "fast", "slow",
	}, names)
	assert.Equal(t, "2024-03-04", values["start_date"])
	assert.Equal(t, "1000000", values["fund_balance"])
	assert.Equal(t, "simulate", values["mode"])
	assert.Equal(t, 5, values["fast"])
}
