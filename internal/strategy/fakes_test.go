package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-replay/internal/schema"
)

type fakeCalendar struct {
	days int
}

func (c fakeCalendar) FirstTradingDay(date time.Time) (time.Time, error) {
	return schema.DateOf(date), nil
}

func (c fakeCalendar) LastTradingDay(date time.Time) (time.Time, error) {
	return schema.DateOf(date), nil
}

func (c fakeCalendar) TradingDayCount(time.Time, time.Time) int { return c.days }

type fakeDirectory struct {
	night bool
}

func (d fakeDirectory) TradingTime(tradingDate time.Time, _ string) (schema.TradingTime, error) {
	day := schema.DateOf(tradingDate)
	tt := schema.TradingTime{TradingDay: day, DayAMOpen: day.Add(9 * time.Hour)}
	if d.night {
		tt.HasNightSession = true
		tt.NightOpen = day.Add(-3 * time.Hour)
	}
	return tt, nil
}

type fakeAccounting struct {
	ticks  []schema.Tick
	bars   []schema.Bar
	trades []schema.Trade
	assets []schema.AssetSnapshot
}

func (a *fakeAccounting) DayBegin(context.Context, time.Time, schema.DayData) error { return nil }
func (a *fakeAccounting) DayEnd(context.Context) (schema.DayData, error) { return schema.DayData{}, nil }
func (a *fakeAccounting) OnTick(_ context.Context, tick schema.Tick) error {
	a.ticks = append(a.ticks, tick)
	return nil
}
func (a *fakeAccounting) OnBar(_ context.Context, bar schema.Bar) error {
	a.bars = append(a.bars, bar)
	return nil
}
func (a *fakeAccounting) OnFutureTrade(context.Context, schema.Trade) error { return nil }
func (a *fakeAccounting) OnFutureOrder(context.Context, schema.OrderRequest) error { return nil }
func (a *fakeAccounting) OnFutureOrderReject(context.Context, schema.OrderRequest) error { return nil }
func (a *fakeAccounting) OnFutureOrderCanceled(context.Context, schema.OrderRequest) error { return nil }
func (a *fakeAccounting) OnFutureOrderCancelFailed(context.Context, schema.OrderRequest) error {
	return nil
}
func (a *fakeAccounting) OnEnd(context.Context) error { return nil }
func (a *fakeAccounting) GetFuturePosition(instrumentID string, direction schema.Direction) (schema.Position, bool) {
	return schema.Position{InstrumentID: instrumentID, Direction: direction, Volume: 7}, true
}
func (a *fakeAccounting) AllFutureAssets() []schema.AssetSnapshot { return a.assets }
func (a *fakeAccounting) AllFutureOrders() []schema.OrderRequest { return nil }
func (a *fakeAccounting) AllFutureTrades() []schema.Trade { return a.trades }
func (a *fakeAccounting) AllFuturePositions() []schema.Position { return nil }
func (a *fakeAccounting) AllFuturePositionDetails() []schema.PositionDetail {
	return nil
}

type fakeMatching struct {
	accountID string
	sent      []schema.OrderRequest
	canceled  []string
}

func (m *fakeMatching) RegisterEvent(schema.TradeEventKind, schema.TradeCallback) error { return nil }
func (m *fakeMatching) OnTick(context.Context, schema.Tick) error { return nil }
func (m *fakeMatching) OnBar(context.Context, schema.Bar) error { return nil }
func (m *fakeMatching) MatchByTick(context.Context, schema.Tick) error { return nil }
func (m *fakeMatching) MatchByBar(context.Context, schema.Bar) error { return nil }
func (m *fakeMatching) SendFutureOrder(_ context.Context, accountID string, order schema.OrderRequest) (string, error) {
	m.accountID = accountID
	m.sent = append(m.sent, order)
	return "handle-1", nil
}
func (m *fakeMatching) CancelFutureOrder(_ context.Context, _ string, orderSysID string) error {
	m.canceled = append(m.canceled, orderSysID)
	return nil
}
func (m *fakeMatching) GetFuturePosition(string, string, schema.Direction) int64 { return 0 }

// fixedReports returns constants so tests can check the summary wiring.
type fixedReports struct {
	lots float64
	days int
}

func (r *fixedReports) TotalYield([]schema.AssetSnapshot, decimal.Decimal) float64 { return 0.1 }
func (r *fixedReports) AnnualYield(_ []schema.AssetSnapshot, _ decimal.Decimal, days int) float64 {
	r.days = days
	return 0.2
}
func (r *fixedReports) ProfitPerLot(_ []schema.AssetSnapshot, _ decimal.Decimal, lots float64) decimal.Decimal {
	r.lots = lots
	return decimal.NewFromInt(3)
}
func (r *fixedReports) MaxRetracement([]schema.AssetSnapshot, decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(4)
}
func (r *fixedReports) RetracementRatio([]schema.AssetSnapshot, decimal.Decimal) float64 { return 0.5 }
func (r *fixedReports) Sharpe([]schema.AssetSnapshot, decimal.Decimal) float64 { return 1.5 }

type countingIndicator struct {
	calls int
	err   error
}

func (c *countingIndicator) Recompute() error {
	c.calls++
	return c.err
}
