package orderbook

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// OrderBook holds the open orders of one symbol, indexed by side and kept in
// arrival order. It does no matching of its own.
//
// The book is not safe for concurrent use by itself: callers hold Lock for
// the whole of a matching pass so no reader observes a half-applied fill.
type OrderBook struct {
	sync.Mutex

	symbol core.Symbol

	// FIFO queues per side (creation order, oldest first)
	bids []*core.Order
	asks []*core.Order

	// Order index for O(1) fill application
	index map[int64]*core.Order
}

func NewOrderBook(symbol core.Symbol) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		index:  make(map[int64]*core.Order),
	}
}

func (ob *OrderBook) Symbol() core.Symbol { return ob.symbol }

func (ob *OrderBook) queue(side core.Side) *[]*core.Order {
	if side == core.Buy {
		return &ob.bids
	}
	return &ob.asks
}

// Insert rests an open order at the back of its side's queue.
func (ob *OrderBook) Insert(o *core.Order) int64 {
	if !o.IsOpen() {
		return o.ID
	}
	q := ob.queue(o.Side)
	*q = append(*q, o)
	ob.index[o.ID] = o
	return o.ID
}

// Get returns the open order with the given id.
func (ob *OrderBook) Get(id int64) (*core.Order, bool) {
	o, ok := ob.index[id]
	return o, ok
}

// OpenOrders returns the open orders on one side, oldest first. The slice is
// a fresh copy but the orders are the live records.
func (ob *OrderBook) OpenOrders(side core.Side) []*core.Order {
	q := *ob.queue(side)
	out := make([]*core.Order, len(q))
	copy(out, q)
	return out
}

// ApplyFill sets the remaining quantity of a resting order. Reaching zero
// (within core.Epsilon) marks the order filled and drops it from the book.
// Priority is untouched on partial fill.
func (ob *OrderBook) ApplyFill(id int64, remaining decimal.Decimal) bool {
	o, ok := ob.index[id]
	if !ok {
		return false
	}
	if remaining.LessThanOrEqual(core.Epsilon) {
		return ob.MarkFilled(id)
	}
	o.Quantity = remaining
	return true
}

// MarkFilled transitions an open order to filled and removes it from its queue.
func (ob *OrderBook) MarkFilled(id int64) bool {
	o, ok := ob.index[id]
	if !ok {
		return false
	}
	o.Quantity = decimal.Zero
	o.Status = core.StatusFilled

	q := ob.queue(o.Side)
	for i, cand := range *q {
		if cand.ID == id {
			*q = append((*q)[:i:i], (*q)[i+1:]...)
			break
		}
	}
	delete(ob.index, id)
	return true
}

// Replace swaps in the committed version of a resting order: an open order
// takes the place of the old record, a filled one leaves the book.
func (ob *OrderBook) Replace(o *core.Order) {
	if !o.IsOpen() {
		ob.MarkFilled(o.ID)
		return
	}
	cur, ok := ob.index[o.ID]
	if !ok {
		ob.Insert(o)
		return
	}
	cur.Quantity = o.Quantity
}

// Snapshot returns copies of every open order on both sides ordered by
// createdAt ascending (id breaks ties).
func (ob *OrderBook) Snapshot() []*core.Order {
	out := make([]*core.Order, 0, len(ob.bids)+len(ob.asks))
	for _, o := range ob.bids {
		out = append(out, o.Clone())
	}
	for _, o := range ob.asks {
		out = append(out, o.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of open orders on both sides.
func (ob *OrderBook) Len() int { return len(ob.index) }

// Depth returns the open order count per side.
func (ob *OrderBook) Depth() (bids, asks int) { return len(ob.bids), len(ob.asks) }
