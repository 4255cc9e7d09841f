package prices

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/market"
)

// Price is the reference price of one symbol.
type Price struct {
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Table holds exactly one reference price per registered symbol for the life
// of the process. Readers always see a whole tick, never a partial one.
type Table struct {
	mu     sync.RWMutex
	prices map[core.Symbol]Price
}

// NewTable seeds every symbol of the registry at time now.
func NewTable(reg *market.Registry, now time.Time) *Table {
	t := &Table{prices: make(map[core.Symbol]Price, reg.Count())}
	for _, m := range reg.Markets() {
		t.prices[m.Symbol] = Price{Price: m.SeedPrice, UpdatedAt: now}
	}
	return t
}

// Get returns the current reference price of symbol.
func (t *Table) Get(symbol core.Symbol) (Price, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[symbol]
	return p, ok
}

// Snapshot copies the whole table under one read lock.
func (t *Table) Snapshot() map[core.Symbol]Price {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[core.Symbol]Price, len(t.prices))
	for k, v := range t.prices {
		out[k] = v
	}
	return out
}

// replace installs a full tick. Only the Generator calls it.
func (t *Table) replace(next map[core.Symbol]Price) {
	t.mu.Lock()
	t.prices = next
	t.mu.Unlock()
}
