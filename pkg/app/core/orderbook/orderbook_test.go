package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func limit(id int64, side core.Side, qty, px int64, at time.Time) *core.Order {
	p := decimal.NewFromInt(px)
	q := decimal.NewFromInt(qty)
	return &core.Order{
		ID: id, UserID: 1, Symbol: "GOOG", Side: side,
		OriginalQuantity: q, Quantity: q, Price: &p,
		Status: core.StatusOpen, CreatedAt: at,
	}
}

func ids(orders []*core.Order) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestOpenOrdersKeepArrivalOrder(t *testing.T) {
	ob := NewOrderBook("GOOG")
	ob.Insert(limit(1, core.Sell, 10, 100, t0))
	ob.Insert(limit(2, core.Sell, 5, 99, t0.Add(time.Second)))
	ob.Insert(limit(3, core.Buy, 1, 90, t0.Add(2*time.Second)))
	ob.Insert(limit(4, core.Sell, 5, 98, t0.Add(3*time.Second)))

	// arrival order, never re-sorted by price
	assert.Equal(t, []int64{1, 2, 4}, ids(ob.OpenOrders(core.Sell)))
	assert.Equal(t, []int64{3}, ids(ob.OpenOrders(core.Buy)))
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(ob.Snapshot()))
	assert.Equal(t, 4, ob.Len())
}

func TestApplyFillPartialKeepsPriority(t *testing.T) {
	ob := NewOrderBook("GOOG")
	ob.Insert(limit(1, core.Sell, 10, 100, t0))
	ob.Insert(limit(2, core.Sell, 5, 100, t0.Add(time.Second)))

	require.True(t, ob.ApplyFill(1, decimal.NewFromInt(4)))

	asks := ob.OpenOrders(core.Sell)
	assert.Equal(t, []int64{1, 2}, ids(asks))
	assert.True(t, asks[0].Quantity.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, core.StatusOpen, asks[0].Status)
}

func TestApplyFillToZeroMarksFilled(t *testing.T) {
	ob := NewOrderBook("GOOG")
	o := limit(1, core.Buy, 3, 100, t0)
	ob.Insert(o)

	require.True(t, ob.ApplyFill(1, decimal.New(1, -12)))
	assert.Equal(t, core.StatusFilled, o.Status)
	assert.True(t, o.Quantity.IsZero())
	assert.Empty(t, ob.OpenOrders(core.Buy))

	_, ok := ob.Get(1)
	assert.False(t, ok)
	assert.False(t, ob.MarkFilled(1), "filled orders are gone from the book")
}

func TestInsertIgnoresFilledOrders(t *testing.T) {
	ob := NewOrderBook("GOOG")
	o := limit(1, core.Buy, 3, 100, t0)
	o.Status = core.StatusFilled
	ob.Insert(o)
	assert.Equal(t, 0, ob.Len())
}

func TestSnapshotReturnsCopies(t *testing.T) {
	ob := NewOrderBook("GOOG")
	ob.Insert(limit(1, core.Buy, 3, 100, t0))

	snap := ob.Snapshot()
	snap[0].Quantity = decimal.NewFromInt(99)
	*snap[0].Price = decimal.NewFromInt(1)

	live, _ := ob.Get(1)
	assert.True(t, live.Quantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, live.Price.Equal(decimal.NewFromInt(100)))
}

func TestReplace(t *testing.T) {
	ob := NewOrderBook("GOOG")
	ob.Insert(limit(1, core.Buy, 3, 100, t0))

	next := limit(1, core.Buy, 3, 100, t0)
	next.Quantity = decimal.NewFromInt(1)
	ob.Replace(next)
	live, _ := ob.Get(1)
	assert.True(t, live.Quantity.Equal(decimal.NewFromInt(1)))

	next = next.Clone()
	next.Fill(decimal.NewFromInt(1))
	ob.Replace(next)
	assert.Equal(t, 0, ob.Len())
}
