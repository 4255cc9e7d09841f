package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
	"github.com/uhyunpark/tickerbook/pkg/app/core/subscriptions"
)

type fakeObserver struct {
	id     string
	userID int64
	joined bool
	limit  int

	mu  sync.Mutex
	got []Envelope
}

func (f *fakeObserver) ID() string { return f.id }

func (f *fakeObserver) UserID() (int64, bool) { return f.userID, f.joined }

func (f *fakeObserver) Send(env Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && len(f.got) >= f.limit {
		return false
	}
	f.got = append(f.got, env)
	return true
}

func (f *fakeObserver) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.got))
	for i, e := range f.got {
		out[i] = e.Event
	}
	return out
}

type countingDrops struct{ n map[string]int }

func (c *countingDrops) EventDropped(event string) { c.n[event]++ }

func setup(t *testing.T) (*Distributor, *subscriptions.Registry) {
	t.Helper()
	subs := subscriptions.NewRegistry(nil)
	return NewDistributor(subs, nil), subs
}

func sampleTrade(sym core.Symbol) *core.Trade {
	return &core.Trade{
		ID:       1,
		Symbol:   sym,
		Price:    decimal.NewFromInt(100),
		Quantity: decimal.NewFromInt(2),
		TradedAt: time.Unix(1700000000, 0),
	}
}

func TestPricesReachEveryObserver(t *testing.T) {
	d, _ := setup(t)
	anon := &fakeObserver{id: "a"}
	joined := &fakeObserver{id: "b", userID: 7, joined: true}
	d.Attach(anon)
	d.Attach(joined)

	d.PublishPrices(context.Background(), map[core.Symbol]prices.Price{"GOOG": {Price: decimal.NewFromInt(2800)}})

	assert.Equal(t, []string{PricesUpdate}, anon.events())
	assert.Equal(t, []string{PricesUpdate}, joined.events())
}

func TestTradesScopedToInterestGroup(t *testing.T) {
	d, subs := setup(t)
	ctx := context.Background()
	require.NoError(t, subs.Subscribe(ctx, 1, "GOOG"))
	require.NoError(t, subs.Subscribe(ctx, 2, "TSLA"))

	goog := &fakeObserver{id: "goog", userID: 1, joined: true}
	tsla := &fakeObserver{id: "tsla", userID: 2, joined: true}
	anon := &fakeObserver{id: "anon"}
	d.Attach(goog)
	d.Attach(tsla)
	d.Attach(anon)

	d.PublishTrade(ctx, sampleTrade("GOOG"))
	d.PublishOrderChange("GOOG", 3)

	assert.Equal(t, []string{TradesUpdate, OrdersUpdate}, goog.events())
	assert.Empty(t, tsla.events())
	assert.Empty(t, anon.events())

	payload, ok := goog.got[1].Data.(OrdersChanged)
	require.True(t, ok)
	assert.Equal(t, core.Symbol("GOOG"), payload.Symbol)
	assert.Equal(t, int64(3), payload.OrderID)
}

func TestInterestResolvedAtPublishTime(t *testing.T) {
	d, subs := setup(t)
	ctx := context.Background()
	obs := &fakeObserver{id: "o", userID: 1, joined: true}
	d.Attach(obs)

	d.PublishTrade(ctx, sampleTrade("AMZN"))
	require.NoError(t, subs.Subscribe(ctx, 1, "AMZN"))
	d.PublishTrade(ctx, sampleTrade("AMZN"))
	require.NoError(t, subs.Unsubscribe(ctx, 1, "AMZN"))
	d.PublishTrade(ctx, sampleTrade("AMZN"))

	assert.Equal(t, []string{TradesUpdate}, obs.events())
}

func TestGreetSendsSnapshotInOrder(t *testing.T) {
	d, _ := setup(t)
	obs := &fakeObserver{id: "o"}
	d.Attach(obs)

	d.Greet(obs, Greeting{
		Supported: []core.Symbol{"GOOG"},
		Prices:    map[core.Symbol]prices.Price{"GOOG": {Price: decimal.NewFromInt(2800)}},
	})

	require.Equal(t, []string{PricesInit, SubscriptionsInit, TradesInit}, obs.events())
	assert.Equal(t, []core.Symbol{}, obs.got[1].Data)
	assert.Equal(t, []*core.Trade{}, obs.got[2].Data)
}

func TestSubscriptionsUpdateOnlyToRequester(t *testing.T) {
	d, _ := setup(t)
	a := &fakeObserver{id: "a", userID: 1, joined: true}
	b := &fakeObserver{id: "b", userID: 1, joined: true}
	d.Attach(a)
	d.Attach(b)

	d.SendSubscriptions(a, []core.Symbol{"META"})

	assert.Equal(t, []string{SubscriptionsUpdate}, a.events())
	assert.Empty(t, b.events())
}

func TestDetachedObserverGetsNothing(t *testing.T) {
	d, _ := setup(t)
	obs := &fakeObserver{id: "o"}
	d.Attach(obs)
	require.Equal(t, 1, d.Count())
	d.Detach(obs)
	require.Equal(t, 0, d.Count())

	d.PublishPrices(context.Background(), nil)
	assert.Empty(t, obs.events())
}

func TestSlowObserverDropsWithoutBlocking(t *testing.T) {
	d, _ := setup(t)
	drops := &countingDrops{n: map[string]int{}}
	d.SetDropRecorder(drops)

	slow := &fakeObserver{id: "slow", limit: 1}
	fast := &fakeObserver{id: "fast"}
	d.Attach(slow)
	d.Attach(fast)

	for i := 0; i < 3; i++ {
		d.PublishPrices(context.Background(), nil)
	}

	assert.Len(t, slow.events(), 1)
	assert.Len(t, fast.events(), 3)
	assert.Equal(t, 2, drops.n[PricesUpdate])
}

type recordingSink struct {
	prices int
	trades []*core.Trade
	err    error
	closed bool
}

func (s *recordingSink) PublishPrices(context.Context, map[core.Symbol]prices.Price) error {
	s.prices++
	return s.err
}

func (s *recordingSink) PublishTrade(_ context.Context, t *core.Trade) error {
	s.trades = append(s.trades, t)
	return s.err
}

func (s *recordingSink) Close() error { s.closed = true; return nil }

func TestSinkReceivesPublicFeed(t *testing.T) {
	d, _ := setup(t)
	sink := &recordingSink{err: errors.New("broker down")}
	d.AddSink(sink)

	d.PublishPrices(context.Background(), nil)
	d.PublishTrade(context.Background(), sampleTrade("NVDA"))
	d.PublishOrderChange("NVDA", 1)

	assert.Equal(t, 1, sink.prices)
	assert.Len(t, sink.trades, 1)
	require.NoError(t, d.Close())
	assert.True(t, sink.closed)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSinkKeysTradesBySymbol(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}

	require.NoError(t, sink.PublishTrade(context.Background(), sampleTrade("TSLA")))
	require.NoError(t, sink.PublishPrices(context.Background(), map[core.Symbol]prices.Price{}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "TSLA", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"event":"trades:update"`)
	assert.Equal(t, "prices", string(w.msgs[1].Key))
}
