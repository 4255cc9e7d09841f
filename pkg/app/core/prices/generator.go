package prices

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/market"
	"github.com/uhyunpark/tickerbook/pkg/util"
)

// Precision is the number of decimal places reference prices are rounded to.
const Precision = 2

// DefaultFloor is the lowest reference price any symbol can reach.
var DefaultFloor = decimal.New(1, -Precision)

// TickFunc receives the full table after every tick.
type TickFunc func(snapshot map[core.Symbol]Price)

// GeneratorConfig controls the random walk.
type GeneratorConfig struct {
	Interval time.Duration
	Floor    decimal.Decimal
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{Interval: time.Second, Floor: DefaultFloor}
}

// Generator moves every reference price once per interval:
// next = max(floor, current + U(-amplitude/2, +amplitude/2)), rounded to
// Precision places.
type Generator struct {
	cfg    GeneratorConfig
	reg    *market.Registry
	table  *Table
	clock  util.Clock
	rng    *rand.Rand
	logger *zap.Logger

	OnTick TickFunc
}

func NewGenerator(cfg GeneratorConfig, reg *market.Registry, table *Table, clock util.Clock, rng *rand.Rand, logger *zap.Logger) *Generator {
	if !cfg.Floor.IsPositive() {
		cfg.Floor = DefaultFloor
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(clock.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, reg: reg, table: table, clock: clock, rng: rng, logger: logger}
}

// Floor returns the configured minimum price.
func (g *Generator) Floor() decimal.Decimal { return g.cfg.Floor }

// Tick applies one transition to every symbol and notifies OnTick once with
// the whole table.
func (g *Generator) Tick() map[core.Symbol]Price {
	now := g.clock.Now()
	current := g.table.Snapshot()
	next := make(map[core.Symbol]Price, len(current))

	for _, m := range g.reg.Markets() {
		cur := current[m.Symbol].Price
		drift := decimal.NewFromFloat(g.rng.Float64() - 0.5).Mul(m.Amplitude)
		px := cur.Add(drift).Round(Precision)
		if px.LessThan(g.cfg.Floor) {
			px = g.cfg.Floor
		}
		next[m.Symbol] = Price{Price: px, UpdatedAt: now}
	}
	g.table.replace(next)

	if g.OnTick != nil {
		out := make(map[core.Symbol]Price, len(next))
		for k, v := range next {
			out[k] = v
		}
		g.OnTick(out)
	}
	return next
}

// Run ticks until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info("price_generator_started",
		zap.Duration("interval", g.cfg.Interval),
		zap.String("floor", g.cfg.Floor.String()))

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("price_generator_stopped")
			return nil
		case <-g.clock.After(g.cfg.Interval):
			g.Tick()
		}
	}
}
