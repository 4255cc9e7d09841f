package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// Market is the static configuration of one tradable symbol.
type Market struct {
	Symbol    core.Symbol
	SeedPrice decimal.Decimal // reference price at startup
	Amplitude decimal.Decimal // width of the per-tick random walk
}

// Registry is the closed, ordered set of symbols known at startup. It is
// immutable once built, so lookups take no lock.
type Registry struct {
	ordered []*Market
	markets map[core.Symbol]*Market // symbol -> market
}

// NewRegistry builds a registry; duplicate symbols and non-positive seed
// prices are rejected.
func NewRegistry(markets ...Market) (*Registry, error) {
	r := &Registry{markets: make(map[core.Symbol]*Market, len(markets))}
	for i := range markets {
		m := markets[i]
		if m.Symbol == "" {
			return nil, fmt.Errorf("market %d has empty symbol", i)
		}
		if _, exists := r.markets[m.Symbol]; exists {
			return nil, fmt.Errorf("market %s already registered", m.Symbol)
		}
		if !m.SeedPrice.IsPositive() {
			return nil, fmt.Errorf("market %s seed price must be positive", m.Symbol)
		}
		r.markets[m.Symbol] = &m
		r.ordered = append(r.ordered, &m)
	}
	return r, nil
}

// Default returns the five equities the venue lists out of the box.
func Default() *Registry {
	r, err := NewRegistry(
		Market{Symbol: "GOOG", SeedPrice: decimal.NewFromInt(2800), Amplitude: decimal.NewFromInt(10)},
		Market{Symbol: "TSLA", SeedPrice: decimal.NewFromInt(700), Amplitude: decimal.NewFromInt(10)},
		Market{Symbol: "AMZN", SeedPrice: decimal.NewFromInt(3300), Amplitude: decimal.NewFromInt(10)},
		Market{Symbol: "META", SeedPrice: decimal.NewFromInt(330), Amplitude: decimal.NewFromInt(10)},
		Market{Symbol: "NVDA", SeedPrice: decimal.NewFromInt(400), Amplitude: decimal.NewFromInt(20)},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Get retrieves a market by symbol.
func (r *Registry) Get(symbol core.Symbol) (*Market, bool) {
	m, ok := r.markets[symbol]
	return m, ok
}

func (r *Registry) Exists(symbol core.Symbol) bool {
	_, ok := r.markets[symbol]
	return ok
}

// Validate returns a ValidationError for symbols outside the registry.
func (r *Registry) Validate(symbol core.Symbol) error {
	if !r.Exists(symbol) {
		return core.Invalid("symbol", fmt.Sprintf("unsupported symbol %q", symbol))
	}
	return nil
}

// Symbols returns the supported symbols in registration order.
func (r *Registry) Symbols() []core.Symbol {
	out := make([]core.Symbol, len(r.ordered))
	for i, m := range r.ordered {
		out[i] = m.Symbol
	}
	return out
}

// Markets returns the markets in registration order.
func (r *Registry) Markets() []*Market {
	out := make([]*Market, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Count() int { return len(r.ordered) }
