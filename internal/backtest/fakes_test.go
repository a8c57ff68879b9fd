package backtest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/schema"
)

var errStrategy = errors.New("strategy failed")

type journal struct {
	entries []string
}

func (j *journal) record(parts ...string) {
	j.entries = append(j.entries, strings.Join(parts, " "))
}

// between returns the entries strictly after the first from and before the next to.
func (j *journal) between(from, to string) []string {
	start := -1
	for i, entry := range j.entries {
		if start < 0 {
			if entry == from {
				start = i + 1
			}
			continue
		}
		if entry == to {
			return append([]string(nil), j.entries[start:i]...)
		}
	}
	return nil
}

func (j *journal) withPrefix(prefix string) []string {
	var out []string
	for _, entry := range j.entries {
		if strings.HasPrefix(entry, prefix) {
			out = append(out, entry)
		}
	}
	return out
}

type recordingAccounting struct {
	j       *journal
	begins  []schema.DayData
	dates   []time.Time
	closing decimal.Decimal
	current *schema.AssetSnapshot
}

func (a *recordingAccounting) DayBegin(_ context.Context, tradingDate time.Time, data schema.DayData) error {
	a.j.record("accounting.day_begin")
	a.begins = append(a.begins, data)
	a.dates = append(a.dates, tradingDate)
	a.current = data.Current
	return nil
}

func (a *recordingAccounting) DayEnd(context.Context) (schema.DayData, error) {
	a.j.record("accounting.day_end")
	if !a.closing.IsZero() {
		a.current.FundBalance = a.closing
	}
	next := a.current.Clone()
	next.PreFundBalance = a.current.FundBalance
	next.TradingDate = time.Time{}
	return schema.DayData{Current: a.current, Next: next}, nil
}

func (a *recordingAccounting) OnTick(_ context.Context, tick schema.Tick) error {
	a.j.record("accounting.on_tick", tick.InstrumentID)
	return nil
}

func (a *recordingAccounting) OnBar(_ context.Context, bar schema.Bar) error {
	a.j.record("accounting.on_bar", bar.InstrumentID)
	return nil
}

func (a *recordingAccounting) OnFutureTrade(_ context.Context, trade schema.Trade) error {
	a.j.record("accounting.on_future_trade", trade.TradeID)
	return nil
}

func (a *recordingAccounting) OnFutureOrder(_ context.Context, order schema.OrderRequest) error {
	a.j.record("accounting.on_future_order", order.OrderSysID)
	return nil
}

func (a *recordingAccounting) OnFutureOrderReject(_ context.Context, order schema.OrderRequest) error {
	a.j.record("accounting.on_future_order_reject", order.OrderSysID)
	return nil
}

func (a *recordingAccounting) OnFutureOrderCanceled(_ context.Context, order schema.OrderRequest) error {
	a.j.record("accounting.on_future_order_canceled", order.OrderSysID)
	return nil
}

func (a *recordingAccounting) OnFutureOrderCancelFailed(_ context.Context, order schema.OrderRequest) error {
	a.j.record("accounting.on_future_order_cancel_failed", order.OrderSysID)
	return nil
}

func (a *recordingAccounting) OnEnd(context.Context) error {
	a.j.record("accounting.on_end")
	return nil
}

func (a *recordingAccounting) GetFuturePosition(string, schema.Direction) (schema.Position, bool) {
	return schema.Position{}, false
}

func (a *recordingAccounting) AllFutureAssets() []schema.AssetSnapshot { return nil }
func (a *recordingAccounting) AllFutureOrders() []schema.OrderRequest { return nil }
func (a *recordingAccounting) AllFutureTrades() []schema.Trade { return nil }
func (a *recordingAccounting) AllFuturePositions() []schema.Position { return nil }
func (a *recordingAccounting) AllFuturePositionDetails() []schema.PositionDetail { return nil }

type recordingMatching struct {
	j         *journal
	callbacks [schema.TradeEventKindCount]schema.TradeCallback
	// fillOn makes MatchByTick of that instrument report a fill.
	fillOn string
	sent   []schema.OrderRequest
}

func (m *recordingMatching) RegisterEvent(kind schema.TradeEventKind, cb schema.TradeCallback) error {
	if m.callbacks[kind] != nil {
		return errs.New("fake", errs.CodeConflict, errs.WithMessage("callback already registered"))
	}
	m.callbacks[kind] = cb
	return nil
}

func (m *recordingMatching) fire(ctx context.Context, evt schema.TradeEvent) error {
	return m.callbacks[evt.Kind](ctx, evt)
}

func (m *recordingMatching) OnTick(_ context.Context, tick schema.Tick) error {
	m.j.record("matching.on_tick", tick.InstrumentID)
	return nil
}

func (m *recordingMatching) OnBar(_ context.Context, bar schema.Bar) error {
	m.j.record("matching.on_bar", bar.InstrumentID)
	return nil
}

func (m *recordingMatching) MatchByTick(ctx context.Context, tick schema.Tick) error {
	m.j.record("matching.match_by_tick", tick.InstrumentID)
	if tick.InstrumentID != m.fillOn {
		return nil
	}
	trade := schema.Trade{TradeID: "t1", OrderSysID: "o1", InstrumentID: tick.InstrumentID}
	if err := m.fire(ctx, schema.TradeEvent{Kind: schema.TradeEventTrade, Trade: &trade}); err != nil {
		return err
	}
	order := schema.OrderRequest{OrderSysID: "o1", InstrumentID: tick.InstrumentID, OrderStatus: schema.OrderStatusAllTraded}
	return m.fire(ctx, schema.TradeEvent{Kind: schema.TradeEventOrder, Order: &order})
}

func (m *recordingMatching) MatchByBar(_ context.Context, bar schema.Bar) error {
	m.j.record("matching.match_by_bar", bar.InstrumentID)
	return nil
}

func (m *recordingMatching) SendFutureOrder(_ context.Context, _ string, order schema.OrderRequest) (string, error) {
	m.j.record("matching.send_future_order", order.InstrumentID)
	m.sent = append(m.sent, order)
	return "h1", nil
}

func (m *recordingMatching) CancelFutureOrder(_ context.Context, _, orderSysID string) error {
	m.j.record("matching.cancel_future_order", orderSysID)
	return nil
}

func (m *recordingMatching) GetFuturePosition(string, string, schema.Direction) int64 { return 0 }

type recordingStrategy struct {
	j *journal
	// failOn names the callback that returns errStrategy.
	failOn string
}

func (s *recordingStrategy) call(name string, args ...string) error {
	s.j.record(append([]string{"strategy." + name}, args...)...)
	if s.failOn == name {
		return errStrategy
	}
	return nil
}

func (s *recordingStrategy) OnStart(context.Context) error { return s.call("on_start") }
func (s *recordingStrategy) OnInit(context.Context) error { return s.call("on_init") }
func (s *recordingStrategy) OnEnd(context.Context) error { return s.call("on_end") }

func (s *recordingStrategy) OnTick(_ context.Context, tick schema.Tick) error {
	return s.call("on_tick", tick.InstrumentID)
}

func (s *recordingStrategy) OnBar(_ context.Context, bar schema.Bar) error {
	return s.call("on_bar", bar.InstrumentID)
}

func (s *recordingStrategy) OnFutureTrade(_ context.Context, trade schema.Trade) error {
	return s.call("on_future_trade", trade.TradeID)
}

func (s *recordingStrategy) OnFutureOrder(_ context.Context, order schema.OrderRequest) error {
	return s.call("on_future_order", order.OrderSysID)
}

func (s *recordingStrategy) OnFutureOrderReject(_ context.Context, order schema.OrderRequest) error {
	return s.call("on_future_order_reject", order.OrderSysID)
}

func (s *recordingStrategy) OnFutureOrderCanceled(_ context.Context, order schema.OrderRequest) error {
	return s.call("on_future_order_canceled", order.OrderSysID)
}

func (s *recordingStrategy) OnFutureOrderCancelFailed(_ context.Context, order schema.OrderRequest) error {
	return s.call("on_future_order_cancel_failed", order.OrderSysID)
}

// scriptChannel replays a fixed list of events.
type scriptChannel struct {
	callbacks [schema.QuoteEventKindCount]schema.QuoteCallback
	events    []schema.QuoteEvent
}

func (c *scriptChannel) RegisterEvent(kind schema.QuoteEventKind, cb schema.QuoteCallback) error {
	if c.callbacks[kind] != nil {
		return errs.New("fake", errs.CodeConflict, errs.WithMessage("callback already registered"))
	}
	c.callbacks[kind] = cb
	return nil
}

func (c *scriptChannel) Start(ctx context.Context) error {
	for _, evt := range c.events {
		cb := c.callbacks[evt.Kind]
		if cb == nil {
			continue
		}
		if err := cb(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

type journalIndicator struct {
	j *journal
}

func (i journalIndicator) Recompute() error {
	i.j.record("facade.refresh")
	return nil
}

// steppingClock advances one second per reading.
type steppingClock struct {
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

// runFunc adapts a function to Runner.
type runFunc struct {
	run     func(ctx context.Context) error
	summary schema.Summary
}

func (r runFunc) Run(ctx context.Context) error { return r.run(ctx) }

func (r runFunc) Summary() (schema.Summary, bool) { return r.summary, true }
