package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/schema"
)

const component = "strategy"

// Mode selects how the facade treats incoming market data.
type Mode string

const (
	// ModeSimulate replays history; only drive-instrument updates refresh indicators.
	ModeSimulate Mode = "simulate"
	// ModeLive refreshes indicators on every update.
	ModeLive Mode = "live"
)

// FunctionConfig enumerates everything a Function is built from. Collaborators and identity
// fields are required.
type FunctionConfig struct {
	StrategyID  string
	AccountID   string
	ProductCode string
	Drive       schema.DriveSpec
	Instruments []string
	Window      schema.TradingWindow
	FundBalance decimal.Decimal
	Mode        Mode
	// Params are strategy parameters recorded verbatim in the provenance table.
	Params map[string]any

	Calendar   schema.Calendar
	Directory  schema.InstrumentDirectory
	Accounting schema.Accounting
	Matching   schema.MatchingEngine
	Reports    schema.ReportBuilder
	Logger     logrus.FieldLogger
}

func (c FunctionConfig) validate() error {
	required := []struct {
		name    string
		missing bool
	}{
		{"strategy id", strings.TrimSpace(c.StrategyID) == ""},
		{"account id", strings.TrimSpace(c.AccountID) == ""},
		{"drive instrument", strings.TrimSpace(c.Drive.InstrumentID) == ""},
		{"window", c.Window.Start().IsZero() || c.Window.End().IsZero()},
		{"fund balance", !c.FundBalance.IsPositive()},
		{"calendar", c.Calendar == nil},
		{"instrument directory", c.Directory == nil},
		{"accounting", c.Accounting == nil},
		{"matching engine", c.Matching == nil},
		{"report builder", c.Reports == nil},
	}
	for _, field := range required {
		if field.missing {
			return errs.Required(component, field.name)
		}
	}
	if c.Drive.BarType != "" && !c.Drive.BarType.Valid() {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("unsupported bar type"),
			errs.WithField("bar_type", string(c.Drive.BarType)))
	}
	switch c.Mode {
	case ModeSimulate, ModeLive:
	default:
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("unsupported mode"),
			errs.WithField("mode", string(c.Mode)))
	}
	return nil
}

// Function is the single surface strategy code trades through. It owns the simulation clock and
// the indicator set and delegates bookkeeping and order handling to its collaborators.
type Function struct {
	cfg    FunctionConfig
	logger logrus.FieldLogger

	clock       *SimulationClock
	indicators  IndicatorSet
	tradingDate time.Time
	lastTicks   map[string]schema.Tick
	lastBars    map[string]schema.Bar

	summary *schema.Summary
}

// NewFunction validates cfg and builds a facade. A missing required field fails immediately.
func NewFunction(cfg FunctionConfig) (*Function, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeSimulate
	}
	cfg.StrategyID = strings.TrimSpace(cfg.StrategyID)
	cfg.AccountID = strings.TrimSpace(cfg.AccountID)
	cfg.Drive.InstrumentID = strings.TrimSpace(cfg.Drive.InstrumentID)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Function{
		cfg:       cfg,
		logger:    logger.WithField("strategy_id", cfg.StrategyID),
		clock:     NewSimulationClock(cfg.Window.Start()),
		lastTicks: make(map[string]schema.Tick),
		lastBars:  make(map[string]schema.Bar),
	}, nil
}

// StrategyID returns the configured strategy identifier.
func (f *Function) StrategyID() string { return f.cfg.StrategyID }

// AccountID returns the trading account orders are submitted under.
func (f *Function) AccountID() string { return f.cfg.AccountID }

// ProductCode returns the product code stamped on asset snapshots.
func (f *Function) ProductCode() string { return f.cfg.ProductCode }

// DriveInstrument returns the instrument whose updates are decision points.
func (f *Function) DriveInstrument() string { return f.cfg.Drive.InstrumentID }

// Drive returns the drive instrument, bar interval and bar type.
func (f *Function) Drive() schema.DriveSpec { return f.cfg.Drive }

// Instruments returns the replay instruments.
func (f *Function) Instruments() []string { return append([]string(nil), f.cfg.Instruments...) }

// Window returns the normalised trading window.
func (f *Function) Window() schema.TradingWindow { return f.cfg.Window }

// FundBalance returns the starting fund balance.
func (f *Function) FundBalance() decimal.Decimal { return f.cfg.FundBalance }

// Mode returns the facade mode.
func (f *Function) Mode() Mode { return f.cfg.Mode }

// Calendar returns the trading calendar collaborator.
func (f *Function) Calendar() schema.Calendar { return f.cfg.Calendar }

// Clock returns the simulation clock.
func (f *Function) Clock() *SimulationClock { return f.clock }

// Now returns the simulated time.
func (f *Function) Now() time.Time { return f.clock.Now() }

// TradingDate returns the date of the current sub-session.
func (f *Function) TradingDate() time.Time { return f.tradingDate }

// Logger returns the facade logger, scoped to the strategy.
func (f *Function) Logger() logrus.FieldLogger { return f.logger }

// AddIndicator registers ind after computing it once.
func (f *Function) AddIndicator(ind Indicator) error {
	return f.indicators.Add(ind)
}

// Indicators returns the number of registered indicators.
func (f *Function) Indicators() int { return f.indicators.Len() }

// DayBegin records the sub-session date and resets the clock to just before the drive
// instrument's first session.
func (f *Function) DayBegin(_ context.Context, tradingDate time.Time) error {
	f.tradingDate = tradingDate
	tt, err := f.cfg.Directory.TradingTime(tradingDate, f.cfg.Drive.InstrumentID)
	if err != nil {
		return fmt.Errorf("trading time for %s: %w", f.cfg.Drive.InstrumentID, err)
	}
	f.clock.ResetForDayOpen(tt)
	return nil
}

// DayEnd is a hook kept for symmetry with DayBegin.
func (f *Function) DayEnd(context.Context) error {
	return nil
}

// OnTick advances the clock, caches tick and refreshes indicators. In live mode the tick is
// also forwarded to accounting; in simulate mode the orchestrator has already done so.
func (f *Function) OnTick(ctx context.Context, tick schema.Tick) error {
	f.clock.AdvanceTo(tick.Timestamp)
	f.lastTicks[tick.InstrumentID] = tick
	// SimulateExecutor forwards replayed ticks to accounting before calling the facade.
	if f.cfg.Mode == ModeLive {
		if err := f.cfg.Accounting.OnTick(ctx, tick); err != nil {
			return err
		}
	}
	return f.refresh(tick.InstrumentID)
}

// OnBar is the bar counterpart of OnTick.
func (f *Function) OnBar(ctx context.Context, bar schema.Bar) error {
	f.clock.AdvanceTo(bar.Timestamp())
	f.lastBars[bar.InstrumentID] = bar
	// SimulateExecutor forwards replayed bars to accounting before calling the facade.
	if f.cfg.Mode == ModeLive {
		if err := f.cfg.Accounting.OnBar(ctx, bar); err != nil {
			return err
		}
	}
	return f.refresh(bar.InstrumentID)
}

func (f *Function) refresh(instrumentID string) error {
	if f.cfg.Mode == ModeSimulate && instrumentID != f.cfg.Drive.InstrumentID {
		return nil
	}
	return f.indicators.RecomputeAll()
}

// LastTick returns the most recent tick seen for instrumentID.
func (f *Function) LastTick(instrumentID string) (schema.Tick, bool) {
	tick, ok := f.lastTicks[instrumentID]
	return tick, ok
}

// LastBar returns the most recent bar seen for instrumentID.
func (f *Function) LastBar(instrumentID string) (schema.Bar, bool) {
	bar, ok := f.lastBars[instrumentID]
	return bar, ok
}

// OrderOption overrides a defaulted OrderRequest field.
type OrderOption func(*schema.OrderRequest)

// WithHedgeFlag sets the hedge flag.
func WithHedgeFlag(flag schema.HedgeFlag) OrderOption {
	return func(o *schema.OrderRequest) { o.HedgeFlag = flag }
}

// WithPriceType sets the price type.
func WithPriceType(priceType schema.PriceType) OrderOption {
	return func(o *schema.OrderRequest) { o.PriceType = priceType }
}

// WithOrderType sets the time-in-force.
func WithOrderType(orderType schema.OrderType) OrderOption {
	return func(o *schema.OrderRequest) { o.OrderType = orderType }
}

// WithOrderTime stamps the order with an explicit order time.
func WithOrderTime(ts time.Time) OrderOption {
	return func(o *schema.OrderRequest) {
		t := ts
		o.OrderTime = &t
	}
}

// NewOrderRequest builds an order with every engine-owned field at its initial value.
func NewOrderRequest(instrumentID string, price decimal.Decimal, volume int64, direction schema.Direction, offset schema.OffsetFlag, opts ...OrderOption) schema.OrderRequest {
	order := schema.OrderRequest{
		OrderSysID:        "",
		InstrumentID:      instrumentID,
		Direction:         direction,
		OffsetFlag:        offset,
		HedgeFlag:         schema.HedgeSpeculation,
		PriceType:         schema.PriceTypeLimit,
		OrderType:         schema.OrderTypeNormal,
		Price:             price,
		Volume:            volume,
		OrderStatus:       schema.OrderStatusUnknown,
		OrderRejectReason: schema.RejectReasonUnknown,
		MatchPrice:        decimal.Zero,
		MatchAmount:       decimal.Zero,
		FrozenAmount:      decimal.Zero,
		TransactionCost:   decimal.Zero,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&order)
		}
	}
	return order
}

// SendFutureOrder builds an order and hands it to the matching engine, returning the engine's
// order handle.
func (f *Function) SendFutureOrder(ctx context.Context, instrumentID string, price decimal.Decimal, volume int64, direction schema.Direction, offset schema.OffsetFlag, opts ...OrderOption) (string, error) {
	order := NewOrderRequest(instrumentID, price, volume, direction, offset, opts...)
	order.StrategyID = f.cfg.StrategyID
	order.TradingDay = schema.DateOf(f.tradingDate)
	order.InsertTime = f.clock.Now()
	return f.cfg.Matching.SendFutureOrder(ctx, f.cfg.AccountID, order)
}

// CancelFutureOrder asks the matching engine to cancel a working order.
func (f *Function) CancelFutureOrder(ctx context.Context, orderSysID string) error {
	return f.cfg.Matching.CancelFutureOrder(ctx, f.cfg.AccountID, orderSysID)
}

// GetFuturePosition returns the accounting position for one side of instrumentID.
func (f *Function) GetFuturePosition(instrumentID string, direction schema.Direction) (schema.Position, bool) {
	return f.cfg.Accounting.GetFuturePosition(instrumentID, direction)
}

// OnEnd pulls the run's ledgers from accounting and builds the summary record.
func (f *Function) OnEnd(context.Context) (schema.Summary, error) {
	assets := f.cfg.Accounting.AllFutureAssets()
	orders := f.cfg.Accounting.AllFutureOrders()
	trades := f.cfg.Accounting.AllFutureTrades()
	positions := f.cfg.Accounting.AllFuturePositions()
	details := f.cfg.Accounting.AllFuturePositionDetails()

	start, end := f.cfg.Window.Start(), f.cfg.Window.End()
	days := f.cfg.Calendar.TradingDayCount(start, end)

	var traded int64
	for _, trade := range trades {
		traded += trade.Volume
	}
	// a round trip is an open leg and a close leg
	lots := float64(traded) / 2
	perDay := 0.0
	if days > 0 {
		perDay = lots / float64(days)
	}

	fund := f.cfg.FundBalance
	rb := f.cfg.Reports
	summary := schema.Summary{
		InstrumentID:     f.cfg.Drive.InstrumentID,
		StartDate:        start,
		EndDate:          end,
		TradingDayNum:    days,
		TotalTradeLots:   lots,
		LotsPerDay:       perDay,
		TotalYield:       rb.TotalYield(assets, fund),
		AnnualYield:      rb.AnnualYield(assets, fund, days),
		ProfitPerLot:     rb.ProfitPerLot(assets, fund, lots),
		MaxRetracement:   rb.MaxRetracement(assets, fund),
		RetracementRatio: rb.RetracementRatio(assets, fund),
		Sharpe:           rb.Sharpe(assets, fund),
	}
	f.summary = &summary

	f.logger.WithFields(logrus.Fields{
		"instrument":      summary.InstrumentID,
		"trading_days":    days,
		"orders":          len(orders),
		"trades":          len(trades),
		"positions":       len(positions),
		"details":         len(details),
		"total_yield":     summary.TotalYield,
		"max_retracement": summary.MaxRetracement.String(),
	}).Info("backtest summary")
	return summary, nil
}

// Summary returns the record built by OnEnd.
func (f *Function) Summary() (schema.Summary, bool) {
	if f.summary == nil {
		return schema.Summary{}, false
	}
	return *f.summary, true
}

// Provenance lists the construction parameters of the facade, collaborators excluded, in a
// stable order.
func (f *Function) Provenance() []schema.Param {
	c := f.cfg
	params := []schema.Param{
		{Name: "strategy_id", Value: c.StrategyID},
		{Name: "account_id", Value: c.AccountID},
		{Name: "product_code", Value: c.ProductCode},
		{Name: "drive_instrument", Value: c.Drive.InstrumentID},
		{Name: "bar_interval", Value: c.Drive.BarInterval},
		{Name: "bar_type", Value: string(c.Drive.BarType)},
		{Name: "instruments", Value: append([]string(nil), c.Instruments...)},
		{Name: "start_date", Value: c.Window.Start().Format(time.DateOnly)},
		{Name: "end_date", Value: c.Window.End().Format(time.DateOnly)},
		{Name: "fund_balance", Value: c.FundBalance.String()},
		{Name: "mode", Value: string(c.Mode)},
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params = append(params, schema.Param{Name: k, Value: c.Params[k]})
	}
	return params
}
