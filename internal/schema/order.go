package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction captures the side of an order or position.
type Direction string

const (
	// DirectionBuy buys (long side).
	DirectionBuy Direction = "Buy"
	// DirectionSell sells (short side).
	DirectionSell Direction = "Sell"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// OffsetFlag distinguishes opening from closing orders.
type OffsetFlag string

const (
	// OffsetOpen opens a new position.
	OffsetOpen OffsetFlag = "Open"
	// OffsetClose closes an existing position.
	OffsetClose OffsetFlag = "Close"
	// OffsetCloseToday closes a position opened on the current trading day.
	OffsetCloseToday OffsetFlag = "CloseToday"
	// OffsetCloseYesterday closes a position carried from a previous trading day.
	OffsetCloseYesterday OffsetFlag = "CloseYesterday"
)

// IsClose reports whether the flag closes a position.
func (o OffsetFlag) IsClose() bool {
	return o == OffsetClose || o == OffsetCloseToday || o == OffsetCloseYesterday
}

// HedgeFlag classifies the purpose of an order.
type HedgeFlag string

const (
	// HedgeSpeculation is the default hedge flag.
	HedgeSpeculation HedgeFlag = "Speculation"
	// HedgeArbitrage marks arbitrage orders.
	HedgeArbitrage HedgeFlag = "Arbitrage"
	// HedgeHedge marks hedging orders.
	HedgeHedge HedgeFlag = "Hedge"
)

// PriceType selects limit or market pricing.
type PriceType string

const (
	// PriceTypeLimit executes at the order price or better.
	PriceTypeLimit PriceType = "Limit"
	// PriceTypeAnyPrice executes at the prevailing market price.
	PriceTypeAnyPrice PriceType = "AnyPrice"
)

// OrderType enumerates time-in-force variants.
type OrderType string

const (
	// OrderTypeNormal rests until filled or canceled.
	OrderTypeNormal OrderType = "Normal"
	// OrderTypeFAK fills what it can against the next update and cancels the rest.
	OrderTypeFAK OrderType = "FAK"
	// OrderTypeFOK fills completely against the next update or cancels.
	OrderTypeFOK OrderType = "FOK"
)

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusUnknown            OrderStatus = "Unknown"
	OrderStatusNoTradeQueueing    OrderStatus = "NoTradeQueueing"
	OrderStatusPartTradedQueueing OrderStatus = "PartTradedQueueing"
	OrderStatusAllTraded          OrderStatus = "AllTraded"
	OrderStatusCanceled           OrderStatus = "Canceled"
	OrderStatusRejected           OrderStatus = "Rejected"
)

// Finished reports whether the order can no longer trade.
func (s OrderStatus) Finished() bool {
	return s == OrderStatusAllTraded || s == OrderStatusCanceled || s == OrderStatusRejected
}

// OrderRejectReason explains rejections.
type OrderRejectReason string

const (
	RejectReasonUnknown              OrderRejectReason = "Unknown"
	RejectReasonInvalidVolume        OrderRejectReason = "InvalidVolume"
	RejectReasonInvalidPrice         OrderRejectReason = "InvalidPrice"
	RejectReasonInsufficientPosition OrderRejectReason = "InsufficientPosition"
	RejectReasonNoMarketData         OrderRejectReason = "NoMarketData"
)

// OrderRequest is a futures order as submitted by the strategy and tracked by the matching
// engine.
type OrderRequest struct {
	AccountID         string            `json:"account_id"`
	StrategyID        string            `json:"strategy_id"`
	OrderSysID        string            `json:"order_sys_id"`
	InstrumentID      string            `json:"instrument_id"`
	Direction         Direction         `json:"direction"`
	OffsetFlag        OffsetFlag        `json:"offset_flag"`
	HedgeFlag         HedgeFlag         `json:"hedge_flag"`
	PriceType         PriceType         `json:"price_type"`
	OrderType         OrderType         `json:"order_type"`
	Price             decimal.Decimal   `json:"price"`
	Volume            int64             `json:"volume"`
	OrderStatus       OrderStatus       `json:"order_status"`
	VolumeTraded      int64             `json:"volume_traded"`
	VolumeCanceled    int64             `json:"volume_canceled"`
	OrderRejectReason OrderRejectReason `json:"order_reject_reason"`
	MatchPrice        decimal.Decimal   `json:"match_price"`
	MatchAmount       decimal.Decimal   `json:"match_amount"`
	FrozenAmount      decimal.Decimal   `json:"frozen_amount"`
	TransactionCost   decimal.Decimal   `json:"transaction_cost"`
	TradingDay        time.Time         `json:"trading_day"`
	InsertTime        time.Time         `json:"insert_time"`
	OrderTime         *time.Time        `json:"order_time,omitempty"`
	CancelTime        *time.Time        `json:"cancel_time,omitempty"`
}

// VolumeLeft returns the volume still working.
func (o OrderRequest) VolumeLeft() int64 {
	left := o.Volume - o.VolumeTraded - o.VolumeCanceled
	if left < 0 {
		return 0
	}
	return left
}

// Trade is a single fill produced by the matching engine.
type Trade struct {
	TradeID      string          `json:"trade_id"`
	OrderSysID   string          `json:"order_sys_id"`
	AccountID    string          `json:"account_id"`
	StrategyID   string          `json:"strategy_id"`
	InstrumentID string          `json:"instrument_id"`
	Direction    Direction       `json:"direction"`
	OffsetFlag   OffsetFlag      `json:"offset_flag"`
	HedgeFlag    HedgeFlag       `json:"hedge_flag"`
	Price        decimal.Decimal `json:"price"`
	Volume       int64           `json:"volume"`
	Commission   decimal.Decimal `json:"commission"`
	TradingDay   time.Time       `json:"trading_day"`
	TradeTime    time.Time       `json:"trade_time"`
}
