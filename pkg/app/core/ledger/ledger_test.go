package ledger

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func trade(id int64, sym core.Symbol, at time.Time) *core.Trade {
	return &core.Trade{
		ID: id, Symbol: sym,
		Price:    decimal.NewFromInt(100),
		Quantity: decimal.NewFromInt(1),
		TradedAt: at,
	}
}

func tradeIDs(trades []*core.Trade) []int64 {
	out := make([]int64, len(trades))
	for i, t := range trades {
		out[i] = t.ID
	}
	return out
}

func TestRecentNewestFirst(t *testing.T) {
	l := New()
	l.Append(trade(1, "GOOG", t0))
	l.Append(trade(2, "TSLA", t0.Add(time.Second)))
	l.Append(trade(3, "GOOG", t0.Add(2*time.Second)))

	assert.Equal(t, []int64{3, 2, 1}, tradeIDs(l.Recent("", 10)))
	assert.Equal(t, []int64{3, 1}, tradeIDs(l.Recent("GOOG", 10)))
	assert.Equal(t, []int64{3}, tradeIDs(l.Recent("GOOG", 1)))
	assert.Empty(t, l.Recent("NVDA", 10))
	assert.Equal(t, 3, l.Len())
}

func TestAppendOutOfOrderIsPlacedByTime(t *testing.T) {
	l := New()
	l.Append(trade(2, "GOOG", t0.Add(time.Second)))
	l.Append(trade(1, "TSLA", t0))
	l.Append(trade(3, "GOOG", t0.Add(time.Second)))

	assert.Equal(t, []int64{3, 2, 1}, tradeIDs(l.All("")))
}

func TestRestoreMovesAllocatorPastHighestID(t *testing.T) {
	l := New()
	l.Restore([]*core.Trade{trade(7, "GOOG", t0), trade(3, "GOOG", t0)})
	assert.Equal(t, int64(8), l.NextID())
}

func TestNextIDUniqueUnderConcurrency(t *testing.T) {
	l := New()
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := l.NextID()
				l.Append(trade(id, "GOOG", t0))
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
	assert.Equal(t, 800, l.Len())
}

func TestWriteCSV(t *testing.T) {
	buy := int64(10)
	tr := trade(1, "GOOG", time.UnixMilli(1700000000000))
	tr.BuyOrderID = &buy
	tr.Price = decimal.RequireFromString("2800.5")

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*core.Trade{tr}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,buy_order_id,sell_order_id,symbol,price,quantity,traded_at", lines[0])
	assert.Equal(t, "1,10,,GOOG,2800.5,1,1700000000000", lines[1])
}
