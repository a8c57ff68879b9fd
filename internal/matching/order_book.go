package matching

import (
	"sort"

	"github.com/coachpo/meltica-replay/internal/schema"
)

// OrderBook holds the working orders of a single instrument, best price first per side and
// arrival order within a price.
type OrderBook struct {
	bids []*schema.OrderRequest
	asks []*schema.OrderRequest
}

// NewOrderBook creates an empty order book.
func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: make([]*schema.OrderRequest, 0),
		asks: make([]*schema.OrderRequest, 0),
	}
}

// AddOrder inserts a working order. Market orders sort ahead of every limit order.
func (ob *OrderBook) AddOrder(order *schema.OrderRequest) {
	switch order.Direction {
	case schema.DirectionBuy:
		ob.bids = append(ob.bids, order)
		sort.SliceStable(ob.bids, func(i, j int) bool {
			return priority(ob.bids[i], ob.bids[j], true)
		})
	case schema.DirectionSell:
		ob.asks = append(ob.asks, order)
		sort.SliceStable(ob.asks, func(i, j int) bool {
			return priority(ob.asks[i], ob.asks[j], false)
		})
	}
}

func priority(a, b *schema.OrderRequest, buy bool) bool {
	aMarket := a.PriceType == schema.PriceTypeAnyPrice
	bMarket := b.PriceType == schema.PriceTypeAnyPrice
	if aMarket != bMarket {
		return aMarket
	}
	if buy {
		return a.Price.GreaterThan(b.Price)
	}
	return a.Price.LessThan(b.Price)
}

// Remove deletes the order with the given id and reports whether it was present.
func (ob *OrderBook) Remove(orderSysID string) bool {
	for i, o := range ob.bids {
		if o.OrderSysID == orderSysID {
			ob.bids = append(ob.bids[:i], ob.bids[i+1:]...)
			return true
		}
	}
	for i, o := range ob.asks {
		if o.OrderSysID == orderSysID {
			ob.asks = append(ob.asks[:i], ob.asks[i+1:]...)
			return true
		}
	}
	return false
}

// Orders returns a snapshot of working orders, bids first.
func (ob *OrderBook) Orders() []*schema.OrderRequest {
	out := make([]*schema.OrderRequest, 0, len(ob.bids)+len(ob.asks))
	out = append(out, ob.bids...)
	return append(out, ob.asks...)
}

// Len returns the number of working orders.
func (ob *OrderBook) Len() int {
	return len(ob.bids) + len(ob.asks)
}

// Best returns the highest-priority working order of a side.
func (ob *OrderBook) Best(direction schema.Direction) *schema.OrderRequest {
	side := ob.asks
	if direction == schema.DirectionBuy {
		side = ob.bids
	}
	if len(side) == 0 {
		return nil
	}
	return side[0]
}
