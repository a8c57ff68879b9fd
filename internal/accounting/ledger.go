// Package accounting keeps positions, cash and per-day asset records for a backtest run.
package accounting

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/calendar"
	"github.com/coachpo/meltica-replay/internal/schema"
)

const component = "accounting"

// ContractSpecs resolves contract multipliers and margin rates.
type ContractSpecs interface {
	Instrument(id string) (calendar.Instrument, bool)
}

type positionKey struct {
	instrumentID string
	direction    schema.Direction
}

// Ledger is a simple mark-to-market futures ledger implementing schema.Accounting.
type Ledger struct {
	specs  ContractSpecs
	logger logrus.FieldLogger

	tradingDay time.Time
	current    *schema.AssetSnapshot
	lastPrices map[string]decimal.Decimal
	positions  map[positionKey]*schema.Position
	details    map[positionKey][]*schema.PositionDetail

	assets          []schema.AssetSnapshot
	orders          []schema.OrderRequest
	orderIndex      map[string]int
	trades          []schema.Trade
	positionHistory []schema.Position
	detailHistory   []schema.PositionDetail
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger overrides the default logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates an empty ledger. specs may be nil, in which case every contract has a
// multiplier of one and no margin.
func NewLedger(specs ContractSpecs, opts ...Option) *Ledger {
	l := &Ledger{
		specs:      specs,
		logger:     logrus.StandardLogger(),
		lastPrices: make(map[string]decimal.Decimal),
		positions:  make(map[positionKey]*schema.Position),
		details:    make(map[positionKey][]*schema.PositionDetail),
		orderIndex: make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DayBegin takes ownership of data.Current for the sub-session starting at tradingDate.
func (l *Ledger) DayBegin(_ context.Context, tradingDate time.Time, data schema.DayData) error {
	if data.Current == nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("day data carries no current asset"))
	}
	day := schema.DateOf(tradingDate)
	if !day.Equal(l.tradingDay) {
		for _, pos := range l.positions {
			pos.YesterdayVolume += pos.TodayVolume
			pos.TodayVolume = 0
			pos.TradingDay = day
		}
	}
	l.tradingDay = day
	l.current = data.Current
	l.current.TradingDate = day
	l.revalue()
	return nil
}

// DayEnd settles the sub-session and returns the container the next trading day starts from.
// Next carries PreFundBalance equal to the closing fund balance.
func (l *Ledger) DayEnd(_ context.Context) (schema.DayData, error) {
	if l.current == nil {
		return schema.DayData{}, errs.New(component, errs.CodeConflict, errs.WithMessage("day end without day begin"))
	}
	l.revalue()
	l.recordAsset(*l.current)
	l.recordPositions()

	next := l.current.Clone()
	next.PreFundBalance = l.current.FundBalance
	next.CloseProfit = decimal.Zero
	next.Commission = decimal.Zero
	next.TradingDate = time.Time{}

	l.logger.WithFields(logrus.Fields{
		"trading_date": l.tradingDay.Format(time.DateOnly),
		"fund_balance": l.current.FundBalance.String(),
	}).Debug("accounting day settled")

	return schema.DayData{Current: l.current, Next: next}, nil
}

// OnTick marks positions to the tick's last price.
func (l *Ledger) OnTick(_ context.Context, tick schema.Tick) error {
	l.mark(tick.InstrumentID, tick.LastPrice)
	return nil
}

// OnBar marks positions to the bar's close.
func (l *Ledger) OnBar(_ context.Context, bar schema.Bar) error {
	l.mark(bar.InstrumentID, bar.Close)
	return nil
}

func (l *Ledger) mark(instrumentID string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	l.lastPrices[instrumentID] = price
	l.revalue()
}

// OnFutureTrade applies a fill to positions and cash.
func (l *Ledger) OnFutureTrade(_ context.Context, trade schema.Trade) error {
	if l.current == nil {
		return errs.New(component, errs.CodeConflict, errs.WithMessage("trade outside a trading day"), errs.WithField("trade_id", trade.TradeID))
	}
	if trade.Volume <= 0 {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("trade volume must be positive"), errs.WithField("trade_id", trade.TradeID))
	}
	mult, _ := l.contract(trade.InstrumentID)

	if trade.OffsetFlag.IsClose() {
		if err := l.close(trade, mult); err != nil {
			return err
		}
	} else {
		l.open(trade, mult)
	}

	l.current.Commission = l.current.Commission.Add(trade.Commission)
	l.current.Cash = l.current.Cash.Sub(trade.Commission)
	l.trades = append(l.trades, trade)
	if _, ok := l.lastPrices[trade.InstrumentID]; !ok {
		l.lastPrices[trade.InstrumentID] = trade.Price
	}
	l.revalue()
	return nil
}

func (l *Ledger) open(trade schema.Trade, mult decimal.Decimal) {
	key := positionKey{instrumentID: trade.InstrumentID, direction: trade.Direction}
	pos := l.position(key, trade.HedgeFlag)
	pos.Volume += trade.Volume
	pos.TodayVolume += trade.Volume
	pos.OpenCost = pos.OpenCost.Add(trade.Price.Mul(decimal.NewFromInt(trade.Volume)).Mul(mult))
	pos.AvgPrice = pos.OpenCost.Div(decimal.NewFromInt(pos.Volume).Mul(mult))

	l.details[key] = append(l.details[key], &schema.PositionDetail{
		TradeID:      trade.TradeID,
		InstrumentID: trade.InstrumentID,
		Direction:    trade.Direction,
		OpenDate:     l.tradingDay,
		OpenPrice:    trade.Price,
		Volume:       trade.Volume,
		CloseProfit:  decimal.Zero,
		TradingDay:   l.tradingDay,
	})
}

func (l *Ledger) close(trade schema.Trade, mult decimal.Decimal) error {
	key := positionKey{instrumentID: trade.InstrumentID, direction: trade.Direction.Opposite()}
	pos, ok := l.positions[key]
	if !ok || pos.Volume < trade.Volume {
		return errs.New(component, errs.CodeConflict,
			errs.WithMessage("close exceeds open position"),
			errs.WithField("instrument", trade.InstrumentID),
			errs.WithField("trade_id", trade.TradeID))
	}

	sign := decimal.NewFromInt(1)
	if key.direction == schema.DirectionSell {
		sign = decimal.NewFromInt(-1)
	}

	remaining := trade.Volume
	realized := decimal.Zero
	costReleased := decimal.Zero
	lots := l.details[key]
	for len(lots) > 0 && remaining > 0 {
		lot := lots[0]
		open := lot.Volume - lot.CloseVolume
		qty := min(open, remaining)
		vol := decimal.NewFromInt(qty)
		profit := trade.Price.Sub(lot.OpenPrice).Mul(vol).Mul(mult).Mul(sign)
		lot.CloseVolume += qty
		lot.CloseProfit = lot.CloseProfit.Add(profit)
		realized = realized.Add(profit)
		costReleased = costReleased.Add(lot.OpenPrice.Mul(vol).Mul(mult))
		remaining -= qty
		if lot.CloseVolume == lot.Volume {
			l.detailHistory = append(l.detailHistory, *lot)
			lots = lots[1:]
		}
	}
	l.details[key] = lots

	pos.Volume -= trade.Volume
	fromToday := min(pos.TodayVolume, trade.Volume)
	if trade.OffsetFlag != schema.OffsetCloseToday {
		fromToday = max(trade.Volume-pos.YesterdayVolume, 0)
	}
	pos.TodayVolume -= fromToday
	pos.YesterdayVolume -= trade.Volume - fromToday
	pos.OpenCost = pos.OpenCost.Sub(costReleased)
	pos.CloseProfit = pos.CloseProfit.Add(realized)
	if pos.Volume == 0 {
		pos.OpenCost = decimal.Zero
		pos.AvgPrice = decimal.Zero
	} else {
		pos.AvgPrice = pos.OpenCost.Div(decimal.NewFromInt(pos.Volume).Mul(mult))
	}

	l.current.CloseProfit = l.current.CloseProfit.Add(realized)
	l.current.Cash = l.current.Cash.Add(realized)
	return nil
}

func (l *Ledger) position(key positionKey, hedge schema.HedgeFlag) *schema.Position {
	pos, ok := l.positions[key]
	if !ok {
		pos = &schema.Position{
			InstrumentID:   key.instrumentID,
			Direction:      key.direction,
			HedgeFlag:      hedge,
			OpenCost:       decimal.Zero,
			AvgPrice:       decimal.Zero,
			Margin:         decimal.Zero,
			PositionProfit: decimal.Zero,
			CloseProfit:    decimal.Zero,
			TradingDay:     l.tradingDay,
		}
		l.positions[key] = pos
	}
	return pos
}

func (l *Ledger) contract(instrumentID string) (multiplier, marginRate decimal.Decimal) {
	multiplier, marginRate = decimal.NewFromInt(1), decimal.Zero
	if l.specs == nil {
		return multiplier, marginRate
	}
	if inst, ok := l.specs.Instrument(instrumentID); ok {
		if !inst.Multiplier.IsZero() {
			multiplier = inst.Multiplier
		}
		marginRate = inst.MarginRate
	}
	return multiplier, marginRate
}

func (l *Ledger) revalue() {
	if l.current == nil {
		return
	}
	positionProfit := decimal.Zero
	margin := decimal.Zero
	for key, pos := range l.positions {
		if pos.Volume == 0 {
			pos.PositionProfit = decimal.Zero
			pos.Margin = decimal.Zero
			continue
		}
		price, ok := l.lastPrices[key.instrumentID]
		if !ok {
			continue
		}
		mult, rate := l.contract(key.instrumentID)
		vol := decimal.NewFromInt(pos.Volume)
		value := price.Mul(vol).Mul(mult)
		profit := value.Sub(pos.OpenCost)
		if key.direction == schema.DirectionSell {
			profit = profit.Neg()
		}
		pos.PositionProfit = profit
		pos.Margin = value.Mul(rate)
		positionProfit = positionProfit.Add(profit)
		margin = margin.Add(pos.Margin)
	}
	l.current.PositionProfit = positionProfit
	l.current.Margin = margin
	l.current.FundBalance = l.current.Cash.Add(positionProfit)
	l.current.AvailableCash = l.current.FundBalance.Sub(margin)
}

func (l *Ledger) recordAsset(asset schema.AssetSnapshot) {
	if n := len(l.assets); n > 0 && l.assets[n-1].TradingDate.Equal(asset.TradingDate) {
		l.assets[n-1] = asset
		return
	}
	l.assets = append(l.assets, asset)
}

func (l *Ledger) recordPositions() {
	kept := l.positionHistory[:0]
	for _, p := range l.positionHistory {
		if !p.TradingDay.Equal(l.tradingDay) {
			kept = append(kept, p)
		}
	}
	l.positionHistory = kept
	for _, pos := range l.sortedPositions() {
		if pos.Volume == 0 {
			continue
		}
		snapshot := *pos
		snapshot.TradingDay = l.tradingDay
		l.positionHistory = append(l.positionHistory, snapshot)
	}
}

func (l *Ledger) sortedPositions() []*schema.Position {
	out := make([]*schema.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstrumentID != out[j].InstrumentID {
			return out[i].InstrumentID < out[j].InstrumentID
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

func (l *Ledger) upsertOrder(order schema.OrderRequest) {
	if idx, ok := l.orderIndex[order.OrderSysID]; ok && order.OrderSysID != "" {
		l.orders[idx] = order
		return
	}
	l.orderIndex[order.OrderSysID] = len(l.orders)
	l.orders = append(l.orders, order)
}

// OnFutureOrder records an order status update.
func (l *Ledger) OnFutureOrder(_ context.Context, order schema.OrderRequest) error {
	l.upsertOrder(order)
	return nil
}

// OnFutureOrderReject records a rejected order.
func (l *Ledger) OnFutureOrderReject(_ context.Context, order schema.OrderRequest) error {
	l.upsertOrder(order)
	l.logger.WithFields(logrus.Fields{
		"order_sys_id": order.OrderSysID,
		"instrument":   order.InstrumentID,
		"reason":       order.OrderRejectReason,
	}).Info("order rejected")
	return nil
}

// OnFutureOrderCanceled records a canceled order.
func (l *Ledger) OnFutureOrderCanceled(_ context.Context, order schema.OrderRequest) error {
	l.upsertOrder(order)
	return nil
}

// OnFutureOrderCancelFailed leaves the order record untouched; the order is still working or
// already finished.
func (l *Ledger) OnFutureOrderCancelFailed(_ context.Context, order schema.OrderRequest) error {
	l.logger.WithField("order_sys_id", order.OrderSysID).Info("order cancel failed")
	return nil
}

// OnEnd performs a final revaluation.
func (l *Ledger) OnEnd(_ context.Context) error {
	l.revalue()
	return nil
}

// GetFuturePosition returns the open position for instrumentID and direction.
func (l *Ledger) GetFuturePosition(instrumentID string, direction schema.Direction) (schema.Position, bool) {
	pos, ok := l.positions[positionKey{instrumentID: instrumentID, direction: direction}]
	if !ok {
		return schema.Position{}, false
	}
	return *pos, true
}

// Current returns a copy of the asset snapshot being mutated.
func (l *Ledger) Current() (schema.AssetSnapshot, bool) {
	if l.current == nil {
		return schema.AssetSnapshot{}, false
	}
	return *l.current, true
}

// AllFutureAssets returns one settled snapshot per trading day.
func (l *Ledger) AllFutureAssets() []schema.AssetSnapshot {
	return append([]schema.AssetSnapshot(nil), l.assets...)
}

// AllFutureOrders returns the latest state of every order seen.
func (l *Ledger) AllFutureOrders() []schema.OrderRequest {
	return append([]schema.OrderRequest(nil), l.orders...)
}

// AllFutureTrades returns every fill in arrival order.
func (l *Ledger) AllFutureTrades() []schema.Trade {
	return append([]schema.Trade(nil), l.trades...)
}

// AllFuturePositions returns end-of-day position snapshots.
func (l *Ledger) AllFuturePositions() []schema.Position {
	return append([]schema.Position(nil), l.positionHistory...)
}

// AllFuturePositionDetails returns closed lots followed by lots still open.
func (l *Ledger) AllFuturePositionDetails() []schema.PositionDetail {
	out := append([]schema.PositionDetail(nil), l.detailHistory...)
	for _, pos := range l.sortedPositions() {
		for _, lot := range l.details[positionKey{instrumentID: pos.InstrumentID, direction: pos.Direction}] {
			out = append(out, *lot)
		}
	}
	return out
}
