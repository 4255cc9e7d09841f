package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
)

// Observer is one connected push-channel endpoint. Send must not block; it
// reports false when the event could not be queued.
type Observer interface {
	ID() string
	UserID() (int64, bool)
	Send(env Envelope) bool
}

// Interest decides whether a user belongs to a symbol's interest group.
type Interest interface {
	IsSubscribed(userID int64, symbol core.Symbol) bool
}

// Sink is an out-of-process consumer of the public feed (prices and trades).
type Sink interface {
	PublishPrices(ctx context.Context, snapshot map[core.Symbol]prices.Price) error
	PublishTrade(ctx context.Context, t *core.Trade) error
	Close() error
}

// DropRecorder counts events an observer could not take.
type DropRecorder interface {
	EventDropped(event string)
}

// Distributor fans events out to observers. Price ticks go to everyone;
// trade and order events only to the symbol's interest group, resolved
// against Interest at publish time. Delivery is best-effort: a slow
// observer loses events, it never stalls the publisher.
type Distributor struct {
	mu        sync.RWMutex
	observers map[string]Observer

	interest Interest
	sinks    []Sink
	drops    DropRecorder
	logger   *zap.Logger
}

func NewDistributor(interest Interest, logger *zap.Logger) *Distributor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributor{
		observers: make(map[string]Observer),
		interest:  interest,
		logger:    logger,
	}
}

// AddSink registers an external feed. Call before publishing starts.
func (d *Distributor) AddSink(s Sink) { d.sinks = append(d.sinks, s) }

func (d *Distributor) SetDropRecorder(r DropRecorder) { d.drops = r }

func (d *Distributor) Attach(o Observer) {
	d.mu.Lock()
	d.observers[o.ID()] = o
	n := len(d.observers)
	d.mu.Unlock()
	d.logger.Debug("observer_attached", zap.String("observer", o.ID()), zap.Int("total", n))
}

func (d *Distributor) Detach(o Observer) {
	d.mu.Lock()
	delete(d.observers, o.ID())
	n := len(d.observers)
	d.mu.Unlock()
	d.logger.Debug("observer_detached", zap.String("observer", o.ID()), zap.Int("total", n))
}

func (d *Distributor) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

func (d *Distributor) deliver(o Observer, env Envelope) {
	if !o.Send(env) {
		if d.drops != nil {
			d.drops.EventDropped(env.Event)
		}
		d.logger.Warn("event_dropped", zap.String("observer", o.ID()), zap.String("event", env.Event))
	}
}

// targets returns the observers that should see an event for symbol, or
// every observer when symbol is empty.
func (d *Distributor) targets(symbol core.Symbol) []Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Observer, 0, len(d.observers))
	for _, o := range d.observers {
		if symbol == "" {
			out = append(out, o)
			continue
		}
		uid, ok := o.UserID()
		if ok && d.interest.IsSubscribed(uid, symbol) {
			out = append(out, o)
		}
	}
	return out
}

// Greet sends the join snapshot to one observer.
func (d *Distributor) Greet(o Observer, g Greeting) {
	subs := g.Subscriptions
	if subs == nil {
		subs = []core.Symbol{}
	}
	trades := g.Trades
	if trades == nil {
		trades = []*core.Trade{}
	}
	d.deliver(o, Envelope{Event: PricesInit, Data: PricesSnapshot{Supported: g.Supported, Prices: g.Prices}})
	d.deliver(o, Envelope{Event: SubscriptionsInit, Data: subs})
	d.deliver(o, Envelope{Event: TradesInit, Data: trades})
}

// SendSubscriptions confirms a subscription change to the requester only.
func (d *Distributor) SendSubscriptions(o Observer, subs []core.Symbol) {
	if subs == nil {
		subs = []core.Symbol{}
	}
	d.deliver(o, Envelope{Event: SubscriptionsUpdate, Data: subs})
}

// Reply sends a direct response to one observer.
func (d *Distributor) Reply(o Observer, event string, data any) {
	d.deliver(o, Envelope{Event: event, Data: data})
}

// PublishPrices broadcasts a full tick to every observer regardless of
// subscriptions.
func (d *Distributor) PublishPrices(ctx context.Context, snapshot map[core.Symbol]prices.Price) {
	env := Envelope{Event: PricesUpdate, Data: snapshot}
	for _, o := range d.targets("") {
		d.deliver(o, env)
	}
	for _, s := range d.sinks {
		if err := s.PublishPrices(ctx, snapshot); err != nil {
			d.logger.Warn("sink_publish_failed", zap.String("event", PricesUpdate), zap.Error(err))
		}
	}
}

// PublishTrade sends one trade to the symbol's interest group.
func (d *Distributor) PublishTrade(ctx context.Context, t *core.Trade) {
	env := Envelope{Event: TradesUpdate, Data: t}
	for _, o := range d.targets(t.Symbol) {
		d.deliver(o, env)
	}
	for _, s := range d.sinks {
		if err := s.PublishTrade(ctx, t); err != nil {
			d.logger.Warn("sink_publish_failed", zap.String("event", TradesUpdate), zap.Error(err))
		}
	}
}

// PublishOrderChange notifies the symbol's interest group that its book
// changed.
func (d *Distributor) PublishOrderChange(symbol core.Symbol, orderID int64) {
	env := Envelope{Event: OrdersUpdate, Data: OrdersChanged{Symbol: symbol, OrderID: orderID}}
	for _, o := range d.targets(symbol) {
		d.deliver(o, env)
	}
}

// Close shuts down every sink.
func (d *Distributor) Close() error {
	var first error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
