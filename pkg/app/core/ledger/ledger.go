package ledger

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// Ledger is the append-only in-memory record of executed trades, ordered by
// (tradedAt, id). It has no update or delete operation.
type Ledger struct {
	mu     sync.RWMutex
	trades []*core.Trade

	lastID atomic.Int64
}

func New() *Ledger { return &Ledger{} }

// NextID allocates a trade id. Ids are unique and increase monotonically
// across all symbols.
func (l *Ledger) NextID() int64 { return l.lastID.Add(1) }

// Restore loads previously persisted trades and moves the id allocator past
// the highest id seen.
func (l *Ledger) Restore(trades []*core.Trade) {
	for _, t := range trades {
		l.Append(t)
	}
}

// Append records a committed trade.
func (l *Ledger) Append(t *core.Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		last := l.lastID.Load()
		if t.ID <= last || l.lastID.CompareAndSwap(last, t.ID) {
			break
		}
	}

	// Books for different symbols commit concurrently, so a trade can land
	// out of order. Binary search for its slot by (tradedAt, id).
	i := sort.Search(len(l.trades), func(i int) bool { return after(l.trades[i], t) })
	if i == len(l.trades) {
		l.trades = append(l.trades, t)
		return
	}
	l.trades = append(l.trades, nil)
	copy(l.trades[i+1:], l.trades[i:])
	l.trades[i] = t
}

func after(a, b *core.Trade) bool {
	if a.TradedAt.Equal(b.TradedAt) {
		return a.ID > b.ID
	}
	return a.TradedAt.After(b.TradedAt)
}

// Recent returns at most limit trades, newest first. An empty symbol means
// every symbol; limit <= 0 means no limit.
func (l *Ledger) Recent(symbol core.Symbol, limit int) []*core.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*core.Trade, 0)
	for i := len(l.trades) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		t := l.trades[i]
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, t)
	}
	return out
}

// All returns every trade for symbol (or all symbols), newest first.
func (l *Ledger) All(symbol core.Symbol) []*core.Trade { return l.Recent(symbol, 0) }

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}
