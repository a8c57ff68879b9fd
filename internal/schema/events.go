package schema

import (
	"context"
	"time"
)

// TradeEventKind enumerates the order lifecycle notifications raised by the matching engine.
type TradeEventKind int

const (
	TradeEventTrade TradeEventKind = iota
	TradeEventOrder
	TradeEventOrderReject
	TradeEventOrderCanceled
	TradeEventOrderCancelFailed

	// TradeEventKindCount sizes dispatch tables indexed by TradeEventKind.
	TradeEventKindCount
)

var tradeEventNames = [TradeEventKindCount]string{
	"on_future_trade",
	"on_future_order",
	"on_future_order_reject",
	"on_future_order_canceled",
	"on_future_order_cancel_failed",
}

// Valid reports whether k is a known kind.
func (k TradeEventKind) Valid() bool {
	return k >= 0 && k < TradeEventKindCount
}

func (k TradeEventKind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return tradeEventNames[k]
}

// TradeEvent is the payload of a trade-event callback. Trade is set for TradeEventTrade,
// Order for every other kind.
type TradeEvent struct {
	Kind  TradeEventKind
	Trade *Trade
	Order *OrderRequest
}

// TradeCallback receives one trade event.
type TradeCallback func(ctx context.Context, evt TradeEvent) error

// QuoteEventKind enumerates the lifecycle events emitted by a replay channel.
type QuoteEventKind int

const (
	QuoteEventStart QuoteEventKind = iota
	QuoteEventDayBegin
	QuoteEventDayEnd
	QuoteEventTick
	QuoteEventBar
	QuoteEventEnd

	// QuoteEventKindCount sizes dispatch tables indexed by QuoteEventKind.
	QuoteEventKindCount
)

var quoteEventNames = [QuoteEventKindCount]string{
	"start",
	"day_begin",
	"day_end",
	"tick",
	"bar",
	"end",
}

// Valid reports whether k is a known kind.
func (k QuoteEventKind) Valid() bool {
	return k >= 0 && k < QuoteEventKindCount
}

func (k QuoteEventKind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return quoteEventNames[k]
}

// QuoteEvent is the payload of a replay channel callback. Only the fields relevant to Kind
// are populated: Date for DayBegin, Tick and ReplayTicks for Tick, Bar and ReplayBars for Bar.
type QuoteEvent struct {
	Kind        QuoteEventKind
	Date        time.Time
	Tick        Tick
	ReplayTicks []Tick
	Bar         Bar
	ReplayBars  []Bar
}

// QuoteCallback receives one replay channel event.
type QuoteCallback func(ctx context.Context, evt QuoteEvent) error
