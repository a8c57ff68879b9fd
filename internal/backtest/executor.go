// Package backtest orchestrates a replay: it subscribes to a replay channel and a matching
// engine and fans every event out to accounting, the strategy facade, the matching engine and
// the strategy in a fixed order.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/schema"
	"github.com/coachpo/meltica-replay/internal/strategy"
	"github.com/coachpo/meltica-replay/internal/telemetry"
)

const component = "backtest"

// Channel is the replay channel contract the executor subscribes to.
type Channel interface {
	RegisterEvent(kind schema.QuoteEventKind, cb schema.QuoteCallback) error
	Start(ctx context.Context) error
}

// State is the lifecycle position of an executor.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateDayOpen
	StateDayClosed
	StateEnded
)

var stateNames = [...]string{"created", "started", "day_open", "day_closed", "ended"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Config wires the executor's collaborators. Every field is required.
type Config struct {
	Function   *strategy.Function
	Strategy   strategy.Strategy
	Accounting schema.Accounting
	Matching   schema.MatchingEngine
	Channel    Channel
}

type executorConfig struct {
	logger logrus.FieldLogger
	meter  metric.Meter
	now    func() time.Time
}

// Option configures optional executor behaviour.
type Option func(*executorConfig)

// WithLogger overrides the default logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(cfg *executorConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMeter records run metrics on meter instead of the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(cfg *executorConfig) {
		if meter != nil {
			cfg.meter = meter
		}
	}
}

// WithWallClock overrides the wall clock used for duration reporting.
func WithWallClock(now func() time.Time) Option {
	return func(cfg *executorConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// SimulateExecutor drives one backtest run. It is single-threaded: every event is fully
// dispatched before the channel produces the next one.
type SimulateExecutor struct {
	fn         *strategy.Function
	strategy   strategy.Strategy
	accounting schema.Accounting
	matching   schema.MatchingEngine
	channel    Channel

	logger logrus.FieldLogger
	now    func() time.Time

	dispatched  metric.Int64Counter
	dayDuration metric.Float64Histogram

	state      State
	data       schema.DayData
	runStarted time.Time
	dayStarted time.Time
	elapsed    time.Duration
}

// NewSimulateExecutor wires the collaborators and registers every trade and quote callback.
// The executor starts in StateCreated.
func NewSimulateExecutor(cfg Config, opts ...Option) (*SimulateExecutor, error) {
	switch {
	case cfg.Function == nil:
		return nil, errs.Required(component, "function")
	case cfg.Strategy == nil:
		return nil, errs.Required(component, "strategy")
	case cfg.Accounting == nil:
		return nil, errs.Required(component, "accounting")
	case cfg.Matching == nil:
		return nil, errs.Required(component, "matching engine")
	case cfg.Channel == nil:
		return nil, errs.Required(component, "channel")
	}

	options := executorConfig{
		logger: logrus.StandardLogger(),
		meter:  otel.Meter(component),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	e := &SimulateExecutor{
		fn:         cfg.Function,
		strategy:   cfg.Strategy,
		accounting: cfg.Accounting,
		matching:   cfg.Matching,
		channel:    cfg.Channel,
		logger:     options.logger.WithField("strategy_id", cfg.Function.StrategyID()),
		now:        options.now,
		state:      StateCreated,
	}
	e.dispatched, _ = options.meter.Int64Counter(telemetry.MetricEventsDispatched,
		metric.WithDescription("Replay events dispatched by the backtest executor"),
		metric.WithUnit("{event}"))
	e.dayDuration, _ = options.meter.Float64Histogram(telemetry.MetricDayDuration,
		metric.WithDescription("Wall time spent replaying one trading sub-session"),
		metric.WithUnit("ms"))

	trade := [schema.TradeEventKindCount]schema.TradeCallback{
		schema.TradeEventTrade:             e.onFutureTrade,
		schema.TradeEventOrder:             e.onFutureOrder,
		schema.TradeEventOrderReject:       e.onFutureOrderReject,
		schema.TradeEventOrderCanceled:     e.onFutureOrderCanceled,
		schema.TradeEventOrderCancelFailed: e.onFutureOrderCancelFailed,
	}
	for kind, cb := range trade {
		if err := e.matching.RegisterEvent(schema.TradeEventKind(kind), cb); err != nil {
			return nil, fmt.Errorf("register %s: %w", schema.TradeEventKind(kind), err)
		}
	}

	quote := [schema.QuoteEventKindCount]schema.QuoteCallback{
		schema.QuoteEventStart:    e.onStart,
		schema.QuoteEventDayBegin: e.onDayBegin,
		schema.QuoteEventDayEnd:   e.onDayEnd,
		schema.QuoteEventTick:     e.onTick,
		schema.QuoteEventBar:      e.onBar,
		schema.QuoteEventEnd:      e.onEnd,
	}
	for kind, cb := range quote {
		if err := e.channel.RegisterEvent(schema.QuoteEventKind(kind), cb); err != nil {
			return nil, fmt.Errorf("register %s: %w", schema.QuoteEventKind(kind), err)
		}
	}
	return e, nil
}

// Run starts the channel and returns once the replay is exhausted or an error aborts it.
func (e *SimulateExecutor) Run(ctx context.Context) error {
	if err := e.channel.Start(ctx); err != nil {
		return err
	}
	if e.state != StateEnded {
		return errs.New(component, errs.CodeConflict, errs.WithMessage("replay finished without an end event"),
			errs.WithField("state", e.state.String()))
	}
	return nil
}

// Stop is a hook for callers that manage executors uniformly. A replay cannot be interrupted
// from inside; cancel the context passed to Run instead.
func (e *SimulateExecutor) Stop() {}

// State returns the lifecycle state.
func (e *SimulateExecutor) State() State { return e.state }

// Function returns the strategy facade.
func (e *SimulateExecutor) Function() *strategy.Function { return e.fn }

// Summary returns the summary built when the run ended.
func (e *SimulateExecutor) Summary() (schema.Summary, bool) { return e.fn.Summary() }

// Elapsed returns the wall time of a finished run.
func (e *SimulateExecutor) Elapsed() time.Duration { return e.elapsed }

func (e *SimulateExecutor) transition(to State, from ...State) error {
	for _, allowed := range from {
		if e.state == allowed {
			e.state = to
			return nil
		}
	}
	return errs.New(component, errs.CodeConflict, errs.WithMessage("invalid state transition"),
		errs.WithField("from", e.state.String()), errs.WithField("to", to.String()))
}

func (e *SimulateExecutor) count(ctx context.Context, kind schema.QuoteEventKind) {
	e.dispatched.Add(ctx, 1, metric.WithAttributes(telemetry.AttrEventKind.String(kind.String())))
}

func (e *SimulateExecutor) onStart(ctx context.Context, _ schema.QuoteEvent) error {
	if err := e.transition(StateStarted, StateCreated); err != nil {
		return err
	}
	e.count(ctx, schema.QuoteEventStart)
	e.runStarted = e.now()
	window := e.fn.Window()
	e.logger.WithFields(logrus.Fields{
		"instrument": e.fn.DriveInstrument(),
		"start_date": window.Start().Format(time.DateOnly),
		"end_date":   window.End().Format(time.DateOnly),
	}).Info("backtest started")
	return e.strategy.OnStart(ctx)
}

func (e *SimulateExecutor) onDayBegin(ctx context.Context, evt schema.QuoteEvent) error {
	if err := e.transition(StateDayOpen, StateStarted, StateDayClosed); err != nil {
		return err
	}
	e.count(ctx, schema.QuoteEventDayBegin)
	e.dayStarted = e.now()
	if err := e.fn.DayBegin(ctx, evt.Date); err != nil {
		return err
	}

	first, err := e.fn.Calendar().FirstTradingDay(evt.Date)
	if err != nil {
		return fmt.Errorf("normalise %s: %w", evt.Date.Format(time.DateOnly), err)
	}
	if first.Equal(evt.Date) {
		e.data = e.bootstrap(evt.Date)
	}
	if err := e.accounting.DayBegin(ctx, evt.Date, e.data); err != nil {
		return err
	}
	e.logger.WithField("trading_date", evt.Date.Format(time.DateTime)).Debug("day begin")
	return e.strategy.OnInit(ctx)
}

// bootstrap builds the asset record of a trading day's first sub-session. The first day is
// seeded from the configured fund; later days start from the record accounting handed back at
// the previous day end.
func (e *SimulateExecutor) bootstrap(tradingDate time.Time) schema.DayData {
	var snapshot *schema.AssetSnapshot
	if e.data.Next == nil {
		snapshot = schema.NewAssetSnapshot(e.fn.ProductCode(), e.fn.StrategyID(), e.fn.FundBalance(), tradingDate)
	} else {
		snapshot = e.data.Next.Clone()
		snapshot.TradingDate = tradingDate
	}
	return schema.DayData{Current: snapshot, Next: snapshot}
}

func (e *SimulateExecutor) onDayEnd(ctx context.Context, evt schema.QuoteEvent) error {
	if err := e.transition(StateDayClosed, StateDayOpen); err != nil {
		return err
	}
	e.count(ctx, schema.QuoteEventDayEnd)
	data, err := e.accounting.DayEnd(ctx)
	if err != nil {
		return err
	}
	e.data = data
	if err := e.fn.DayEnd(ctx); err != nil {
		return err
	}
	e.dayDuration.Record(ctx, float64(e.now().Sub(e.dayStarted))/float64(time.Millisecond))
	e.logger.WithField("trading_date", evt.Date.Format(time.DateOnly)).Debug("day end")
	return nil
}

func (e *SimulateExecutor) requireDayOpen(kind schema.QuoteEventKind) error {
	if e.state == StateDayOpen {
		return nil
	}
	return errs.New(component, errs.CodeConflict, errs.WithMessage("market data outside a trading day"),
		errs.WithField("state", e.state.String()), errs.WithField("event", kind.String()))
}

// onTick matches first, then lets accounting and the facade see replay instruments before the
// drive instrument. The strategy only sees drive-instrument ticks.
func (e *SimulateExecutor) onTick(ctx context.Context, evt schema.QuoteEvent) error {
	if err := e.requireDayOpen(schema.QuoteEventTick); err != nil {
		return err
	}
	e.count(ctx, schema.QuoteEventTick)
	drive := evt.Tick

	if err := e.matching.OnTick(ctx, drive); err != nil {
		return err
	}
	if err := e.matching.MatchByTick(ctx, drive); err != nil {
		return err
	}
	for _, tick := range evt.ReplayTicks {
		if !tick.LastPrice.IsPositive() {
			continue
		}
		if err := e.matching.MatchByTick(ctx, tick); err != nil {
			return err
		}
	}

	for _, tick := range evt.ReplayTicks {
		if err := e.accounting.OnTick(ctx, tick); err != nil {
			return err
		}
		if err := e.fn.OnTick(ctx, tick); err != nil {
			return err
		}
	}
	if err := e.accounting.OnTick(ctx, drive); err != nil {
		return err
	}
	if err := e.fn.OnTick(ctx, drive); err != nil {
		return err
	}

	if drive.InstrumentID != e.fn.DriveInstrument() {
		return nil
	}
	return e.strategy.OnTick(ctx, drive)
}

// onBar mirrors onTick: bookkeeping and the strategy come first and matching last. The strategy
// sees every drive bar without an instrument check.
func (e *SimulateExecutor) onBar(ctx context.Context, evt schema.QuoteEvent) error {
	if err := e.requireDayOpen(schema.QuoteEventBar); err != nil {
		return err
	}
	e.count(ctx, schema.QuoteEventBar)
	drive := evt.Bar

	for _, bar := range evt.ReplayBars {
		if err := e.accounting.OnBar(ctx, bar); err != nil {
			return err
		}
		if err := e.fn.OnBar(ctx, bar); err != nil {
			return err
		}
	}
	if err := e.accounting.OnBar(ctx, drive); err != nil {
		return err
	}
	if err := e.fn.OnBar(ctx, drive); err != nil {
		return err
	}
	if err := e.strategy.OnBar(ctx, drive); err != nil {
		return err
	}

	if err := e.matching.OnBar(ctx, drive); err != nil {
		return err
	}
	if err := e.matching.MatchByBar(ctx, drive); err != nil {
		return err
	}
	for _, bar := range evt.ReplayBars {
		if !bar.Close.IsPositive() {
			continue
		}
		if err := e.matching.MatchByBar(ctx, bar); err != nil {
			return err
		}
	}
	return nil
}

func (e *SimulateExecutor) onEnd(ctx context.Context, _ schema.QuoteEvent) error {
	if err := e.transition(StateEnded, StateStarted, StateDayClosed); err != nil {
		return err
	}
	e.count(ctx, schema.QuoteEventEnd)
	if err := e.accounting.OnEnd(ctx); err != nil {
		return err
	}
	summary, err := e.fn.OnEnd(ctx)
	if err != nil {
		return err
	}
	if err := e.strategy.OnEnd(ctx); err != nil {
		return err
	}

	e.elapsed = e.now().Sub(e.runStarted)
	fields := logrus.Fields{
		"instrument":   summary.InstrumentID,
		"trading_days": summary.TradingDayNum,
		"elapsed":      e.elapsed.String(),
	}
	// a window that normalises to a single trading day reports total time only
	if window := e.fn.Window(); summary.TradingDayNum > 0 && window.Start().Before(window.End()) {
		fields["per_day"] = (e.elapsed / time.Duration(summary.TradingDayNum)).String()
	}
	e.logger.WithFields(fields).Info("backtest finished")
	return nil
}

func (e *SimulateExecutor) onFutureTrade(ctx context.Context, evt schema.TradeEvent) error {
	if evt.Trade == nil {
		return errs.Required(component, "trade")
	}
	if err := e.accounting.OnFutureTrade(ctx, *evt.Trade); err != nil {
		return err
	}
	return e.strategy.OnFutureTrade(ctx, *evt.Trade)
}

func (e *SimulateExecutor) onFutureOrder(ctx context.Context, evt schema.TradeEvent) error {
	if evt.Order == nil {
		return errs.Required(component, "order")
	}
	if err := e.accounting.OnFutureOrder(ctx, *evt.Order); err != nil {
		return err
	}
	return e.strategy.OnFutureOrder(ctx, *evt.Order)
}

func (e *SimulateExecutor) onFutureOrderReject(ctx context.Context, evt schema.TradeEvent) error {
	if evt.Order == nil {
		return errs.Required(component, "order")
	}
	if err := e.accounting.OnFutureOrderReject(ctx, *evt.Order); err != nil {
		return err
	}
	return e.strategy.OnFutureOrderReject(ctx, *evt.Order)
}

func (e *SimulateExecutor) onFutureOrderCanceled(ctx context.Context, evt schema.TradeEvent) error {
	if evt.Order == nil {
		return errs.Required(component, "order")
	}
	if err := e.accounting.OnFutureOrderCanceled(ctx, *evt.Order); err != nil {
		return err
	}
	return e.strategy.OnFutureOrderCanceled(ctx, *evt.Order)
}

func (e *SimulateExecutor) onFutureOrderCancelFailed(ctx context.Context, evt schema.TradeEvent) error {
	if evt.Order == nil {
		return errs.Required(component, "order")
	}
	if err := e.accounting.OnFutureOrderCancelFailed(ctx, *evt.Order); err != nil {
		return err
	}
	return e.strategy.OnFutureOrderCancelFailed(ctx, *evt.Order)
}
