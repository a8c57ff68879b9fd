// Package matching simulates an exchange that fills working futures orders against replayed
// ticks and bars.
package matching

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/errs"
	"github.com/coachpo/meltica-replay/internal/schema"
)

const component = "matching"

type positionKey struct {
	accountID    string
	instrumentID string
	direction    schema.Direction
}

// Option configures an Engine.
type Option func(*Engine)

// WithFeeModel overrides the default commission model.
func WithFeeModel(model FeeModel) Option {
	return func(e *Engine) {
		if model != nil {
			e.fees = model
		}
	}
}

// WithSlippageModel supplies a slippage model for market orders.
func WithSlippageModel(model SlippageModel) Option {
	return func(e *Engine) {
		e.slippage = model
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNamespace seeds generated order and trade ids. Engines sharing a namespace produce the
// same id sequence.
func WithNamespace(ns uuid.UUID) Option {
	return func(e *Engine) {
		e.namespace = ns
	}
}

// Engine implements schema.MatchingEngine. It is driven from a single goroutine.
type Engine struct {
	callbacks [schema.TradeEventKindCount]schema.TradeCallback

	fees      FeeModel
	slippage  SlippageModel
	logger    logrus.FieldLogger
	namespace uuid.UUID
	seq       uint64

	now        time.Time
	tradingDay time.Time
	books      map[string]*OrderBook
	orders     map[string]*schema.OrderRequest
	positions  map[positionKey]int64
}

// NewEngine creates a matching engine with no registered callbacks.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		fees:      NoFee{},
		logger:    logrus.StandardLogger(),
		namespace: uuid.NameSpaceOID,
		books:     make(map[string]*OrderBook),
		orders:    make(map[string]*schema.OrderRequest),
		positions: make(map[positionKey]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterEvent installs the callback for kind.
func (e *Engine) RegisterEvent(kind schema.TradeEventKind, cb schema.TradeCallback) error {
	if !kind.Valid() {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("unknown trade event kind"),
			errs.WithField("kind", strconv.Itoa(int(kind))))
	}
	if cb == nil {
		return errs.Required(component, "callback")
	}
	if e.callbacks[kind] != nil {
		return errs.New(component, errs.CodeConflict, errs.WithMessage("callback already registered"),
			errs.WithField("kind", kind.String()))
	}
	e.callbacks[kind] = cb
	return nil
}

func (e *Engine) emit(ctx context.Context, evt schema.TradeEvent) error {
	cb := e.callbacks[evt.Kind]
	if cb == nil {
		return nil
	}
	return cb(ctx, evt)
}

func (e *Engine) nextID(prefix string) string {
	e.seq++
	return uuid.NewSHA1(e.namespace, []byte(prefix+"-"+strconv.FormatUint(e.seq, 10))).String()
}

// OnTick records the latest market time.
func (e *Engine) OnTick(_ context.Context, tick schema.Tick) error {
	e.observe(tick.Timestamp, tick.TradingDay)
	return nil
}

// OnBar records the latest market time.
func (e *Engine) OnBar(_ context.Context, bar schema.Bar) error {
	e.observe(bar.Timestamp(), bar.TradingDay)
	return nil
}

func (e *Engine) observe(ts, tradingDay time.Time) {
	if ts.After(e.now) {
		e.now = ts
	}
	if !tradingDay.IsZero() {
		e.tradingDay = schema.DateOf(tradingDay)
	}
}

// MatchByTick fills working orders of the tick's instrument that the tick crosses. Buys take the
// ask and sells the bid, falling back to the last price when a side is empty.
func (e *Engine) MatchByTick(ctx context.Context, tick schema.Tick) error {
	if !tick.LastPrice.IsPositive() {
		return nil
	}
	book, ok := e.books[tick.InstrumentID]
	if !ok || book.Len() == 0 {
		return nil
	}
	ask := tick.AskPrice
	if !ask.IsPositive() {
		ask = tick.LastPrice
	}
	bid := tick.BidPrice
	if !bid.IsPositive() {
		bid = tick.LastPrice
	}
	for _, order := range book.Orders() {
		if order.OrderStatus.Finished() {
			continue
		}
		reference := bid
		if order.Direction == schema.DirectionBuy {
			reference = ask
		}
		price, crossed := crossing(order, reference, reference)
		if err := e.settle(ctx, book, order, price, crossed); err != nil {
			return err
		}
	}
	return nil
}

// MatchByBar fills working orders of the bar's instrument whose limit lies within the bar's
// range. Market orders fill at the close.
func (e *Engine) MatchByBar(ctx context.Context, bar schema.Bar) error {
	if !bar.Close.IsPositive() {
		return nil
	}
	book, ok := e.books[bar.InstrumentID]
	if !ok || book.Len() == 0 {
		return nil
	}
	for _, order := range book.Orders() {
		if order.OrderStatus.Finished() {
			continue
		}
		touch := bar.High
		if order.Direction == schema.DirectionBuy {
			touch = bar.Low
		}
		price, crossed := crossing(order, touch, bar.Close)
		if err := e.settle(ctx, book, order, price, crossed); err != nil {
			return err
		}
	}
	return nil
}

// crossing reports whether order trades against touch and at which price. Limit orders fill at
// their limit, market orders at market.
func crossing(order *schema.OrderRequest, touch, market decimal.Decimal) (decimal.Decimal, bool) {
	if order.PriceType == schema.PriceTypeAnyPrice {
		return market, true
	}
	if order.Direction == schema.DirectionBuy {
		if touch.LessThanOrEqual(order.Price) {
			return order.Price, true
		}
		return decimal.Zero, false
	}
	if touch.GreaterThanOrEqual(order.Price) {
		return order.Price, true
	}
	return decimal.Zero, false
}

func (e *Engine) settle(ctx context.Context, book *OrderBook, order *schema.OrderRequest, price decimal.Decimal, crossed bool) error {
	if crossed {
		if e.slippage != nil {
			price = e.slippage.Adjust(*order, price)
		}
		return e.fill(ctx, book, order, price)
	}
	if order.OrderType == schema.OrderTypeFAK || order.OrderType == schema.OrderTypeFOK {
		return e.cancel(ctx, book, order)
	}
	return nil
}

func (e *Engine) fill(ctx context.Context, book *OrderBook, order *schema.OrderRequest, price decimal.Decimal) error {
	volume := order.VolumeLeft()
	qty := decimal.NewFromInt(volume)
	commission := e.fees.Fee(*order, qty, price)

	order.VolumeTraded += volume
	order.MatchAmount = order.MatchAmount.Add(price.Mul(qty))
	order.MatchPrice = order.MatchAmount.Div(decimal.NewFromInt(order.VolumeTraded))
	order.TransactionCost = order.TransactionCost.Add(commission)
	order.OrderStatus = schema.OrderStatusAllTraded
	book.Remove(order.OrderSysID)

	if order.OffsetFlag.IsClose() {
		e.positions[positionKey{order.AccountID, order.InstrumentID, order.Direction.Opposite()}] -= volume
	} else {
		e.positions[positionKey{order.AccountID, order.InstrumentID, order.Direction}] += volume
	}

	trade := schema.Trade{
		TradeID:      e.nextID("trade"),
		OrderSysID:   order.OrderSysID,
		AccountID:    order.AccountID,
		StrategyID:   order.StrategyID,
		InstrumentID: order.InstrumentID,
		Direction:    order.Direction,
		OffsetFlag:   order.OffsetFlag,
		HedgeFlag:    order.HedgeFlag,
		Price:        price,
		Volume:       volume,
		Commission:   commission,
		TradingDay:   e.tradingDay,
		TradeTime:    e.now,
	}
	e.logger.WithFields(logrus.Fields{
		"order":      order.OrderSysID,
		"instrument": order.InstrumentID,
		"price":      price.String(),
		"volume":     volume,
	}).Debug("order filled")

	if err := e.emit(ctx, schema.TradeEvent{Kind: schema.TradeEventTrade, Trade: &trade}); err != nil {
		return err
	}
	snapshot := *order
	return e.emit(ctx, schema.TradeEvent{Kind: schema.TradeEventOrder, Order: &snapshot})
}

func (e *Engine) cancel(ctx context.Context, book *OrderBook, order *schema.OrderRequest) error {
	now := e.now
	order.VolumeCanceled = order.VolumeLeft()
	order.OrderStatus = schema.OrderStatusCanceled
	order.CancelTime = &now
	book.Remove(order.OrderSysID)
	snapshot := *order
	return e.emit(ctx, schema.TradeEvent{Kind: schema.TradeEventOrderCanceled, Order: &snapshot})
}

// SendFutureOrder validates and queues order, returning its order handle. Rejected orders still
// receive a handle and are reported through the reject callback.
func (e *Engine) SendFutureOrder(ctx context.Context, accountID string, order schema.OrderRequest) (string, error) {
	if order.InstrumentID == "" {
		return "", errs.Required(component, "instrument id")
	}
	order.AccountID = accountID
	order.OrderSysID = e.nextID("order")
	if order.InsertTime.IsZero() {
		order.InsertTime = e.now
	}
	if order.TradingDay.IsZero() {
		order.TradingDay = e.tradingDay
	}
	order.VolumeTraded = 0
	order.VolumeCanceled = 0

	if reason, ok := e.validate(order); !ok {
		order.OrderStatus = schema.OrderStatusRejected
		order.OrderRejectReason = reason
		e.orders[order.OrderSysID] = &order
		e.logger.WithFields(logrus.Fields{
			"order":      order.OrderSysID,
			"instrument": order.InstrumentID,
			"reason":     string(reason),
		}).Debug("order rejected")
		snapshot := order
		return order.OrderSysID, e.emit(ctx, schema.TradeEvent{Kind: schema.TradeEventOrderReject, Order: &snapshot})
	}

	order.OrderStatus = schema.OrderStatusNoTradeQueueing
	stored := &order
	e.orders[order.OrderSysID] = stored
	book, ok := e.books[order.InstrumentID]
	if !ok {
		book = NewOrderBook()
		e.books[order.InstrumentID] = book
	}
	book.AddOrder(stored)
	snapshot := order
	return order.OrderSysID, e.emit(ctx, schema.TradeEvent{Kind: schema.TradeEventOrder, Order: &snapshot})
}

func (e *Engine) validate(order schema.OrderRequest) (schema.OrderRejectReason, bool) {
	if order.Volume <= 0 {
		return schema.RejectReasonInvalidVolume, false
	}
	if order.PriceType == schema.PriceTypeLimit && !order.Price.IsPositive() {
		return schema.RejectReasonInvalidPrice, false
	}
	if order.OffsetFlag.IsClose() {
		held := e.positions[positionKey{order.AccountID, order.InstrumentID, order.Direction.Opposite()}]
		if held-e.pendingClose(order) < order.Volume {
			return schema.RejectReasonInsufficientPosition, false
		}
	}
	return schema.RejectReasonUnknown, true
}

// pendingClose sums working close volume on the same side as order.
func (e *Engine) pendingClose(order schema.OrderRequest) int64 {
	book, ok := e.books[order.InstrumentID]
	if !ok {
		return 0
	}
	var total int64
	for _, working := range book.Orders() {
		if working.AccountID == order.AccountID && working.Direction == order.Direction && working.OffsetFlag.IsClose() {
			total += working.VolumeLeft()
		}
	}
	return total
}

// CancelFutureOrder cancels a working order. Cancelling a finished order reports through the
// cancel-failed callback; an unknown handle is an error.
func (e *Engine) CancelFutureOrder(ctx context.Context, accountID, orderSysID string) error {
	order, ok := e.orders[orderSysID]
	if !ok || order.AccountID != accountID {
		return errs.New(component, errs.CodeNotFound, errs.WithMessage("unknown order"),
			errs.WithField("order", orderSysID))
	}
	if order.OrderStatus.Finished() {
		snapshot := *order
		return e.emit(ctx, schema.TradeEvent{Kind: schema.TradeEventOrderCancelFailed, Order: &snapshot})
	}
	return e.cancel(ctx, e.books[order.InstrumentID], order)
}

// GetFuturePosition returns the filled open volume of the account on one side.
func (e *Engine) GetFuturePosition(accountID, instrumentID string, direction schema.Direction) int64 {
	return e.positions[positionKey{accountID, instrumentID, direction}]
}

// Order returns the latest state of the order with the given handle.
func (e *Engine) Order(orderSysID string) (schema.OrderRequest, bool) {
	order, ok := e.orders[orderSysID]
	if !ok {
		return schema.OrderRequest{}, false
	}
	return *order, true
}

// WorkingOrders returns the number of orders still queued.
func (e *Engine) WorkingOrders() int {
	total := 0
	for _, book := range e.books {
		total += book.Len()
	}
	return total
}
