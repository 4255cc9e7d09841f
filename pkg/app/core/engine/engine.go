package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/ledger"
	"github.com/uhyunpark/tickerbook/pkg/app/core/market"
	"github.com/uhyunpark/tickerbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
	"github.com/uhyunpark/tickerbook/pkg/util"
)

// PriceSource supplies the reference price used for market orders and
// unpriced crossings.
type PriceSource interface {
	Get(symbol core.Symbol) (prices.Price, bool)
}

// Journal makes order and trade records durable. Commit applies a batch
// atomically or not at all.
type Journal interface {
	Commit(ctx context.Context, b core.Batch) error
}

// Metrics receives engine instrumentation. Implementations must be cheap:
// they are called inside the book lock.
type Metrics interface {
	OrderSubmitted(symbol core.Symbol, side core.Side, kind core.OrderKind)
	OrderRejected(reason string)
	TradeExecuted(symbol core.Symbol)
	ObserveMatch(symbol core.Symbol, d time.Duration)
}

// Request is an incoming order submission.
type Request struct {
	UserID     int64
	Symbol     core.Symbol
	Side       core.Side
	Quantity   decimal.Decimal
	Kind       core.OrderKind
	LimitPrice *decimal.Decimal
}

// Execution is one fill: the trade and, for limit matching, the resting
// order as it stands after the fill.
type Execution struct {
	Trade   *core.Trade
	Resting *core.Order
}

// Result describes the outcome of a submission. Order is the incoming order
// after matching.
type Result struct {
	Order      *core.Order
	Executions []Execution
}

// Trades returns the trades of the submission in execution order.
func (r *Result) Trades() []*core.Trade {
	out := make([]*core.Trade, len(r.Executions))
	for i, e := range r.Executions {
		out[i] = e.Trade
	}
	return out
}

// Engine matches orders per symbol. Every symbol has its own book and lock:
// submissions for one symbol are serialized, different symbols run in
// parallel.
type Engine struct {
	reg     *market.Registry
	books   map[core.Symbol]*orderbook.OrderBook
	prices  PriceSource
	ledger  *ledger.Ledger
	journal Journal
	clock   util.Clock
	logger  *zap.Logger
	metrics Metrics

	lastOrderID atomic.Int64

	// committed versions of every order ever seen, id -> *core.Order.
	// Stored values are never mutated.
	history sync.Map
}

type Option func(*Engine)

func WithClock(c util.Clock) Option      { return func(e *Engine) { e.clock = c } }
func WithLogger(l *zap.Logger) Option    { return func(e *Engine) { e.logger = l } }
func WithMetrics(m Metrics) Option       { return func(e *Engine) { e.metrics = m } }
func WithJournal(j Journal) Option       { return func(e *Engine) { e.journal = j } }
func WithLedger(l *ledger.Ledger) Option { return func(e *Engine) { e.ledger = l } }

func New(reg *market.Registry, src PriceSource, opts ...Option) *Engine {
	e := &Engine{
		reg:     reg,
		books:   make(map[core.Symbol]*orderbook.OrderBook, reg.Count()),
		prices:  src,
		ledger:  ledger.New(),
		journal: nopJournal{},
		clock:   util.RealClock{},
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
	}
	for _, sym := range reg.Symbols() {
		e.books[sym] = orderbook.NewOrderBook(sym)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Restore rebuilds the books from persisted orders. It must run before the
// first Submit.
func (e *Engine) Restore(orders []*core.Order) {
	sorted := make([]*core.Order, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	for _, o := range sorted {
		if o.ID > e.lastOrderID.Load() {
			e.lastOrderID.Store(o.ID)
		}
		e.history.Store(o.ID, o.Clone())
		if book, ok := e.books[o.Symbol]; ok && o.IsOpen() {
			book.Lock()
			book.Insert(o.Clone())
			book.Unlock()
		}
	}
}

// validate rejects a request before any state is touched.
func (e *Engine) validate(req *Request) error {
	if err := e.reg.Validate(req.Symbol); err != nil {
		return err
	}
	if !req.Side.Valid() {
		return core.Invalid("side", "must be buy or sell")
	}
	if !req.Quantity.IsPositive() {
		return core.Invalid("quantity", "must be greater than zero")
	}
	switch req.Kind {
	case core.Market:
	case core.Limit:
		if req.LimitPrice == nil {
			return core.Invalid("price", "limit order requires a price")
		}
		if !req.LimitPrice.IsPositive() {
			return core.Invalid("price", "must be greater than zero")
		}
	default:
		return core.Invalid("type", "must be market or limit")
	}
	return nil
}

// Validate runs the submission checks without touching any state, so
// callers can reject a request before provisioning anything for it.
func (e *Engine) Validate(req Request) error {
	if err := e.validate(&req); err != nil {
		e.metrics.OrderRejected(rejectReason(err))
		return err
	}
	return nil
}

// Submit validates and executes one order.
func (e *Engine) Submit(ctx context.Context, req Request) (*Result, error) {
	if err := e.validate(&req); err != nil {
		e.metrics.OrderRejected(rejectReason(err))
		return nil, err
	}
	e.metrics.OrderSubmitted(req.Symbol, req.Side, req.Kind)

	book := e.books[req.Symbol]
	book.Lock()
	defer book.Unlock()

	start := time.Now()
	defer func() { e.metrics.ObserveMatch(req.Symbol, time.Since(start)) }()

	if req.Kind == core.Market {
		return e.executeMarket(ctx, req)
	}
	return e.matchLimit(ctx, book, req)
}

func (e *Engine) newOrder(req Request) *core.Order {
	var price *decimal.Decimal
	if req.Kind == core.Limit {
		p := *req.LimitPrice
		price = &p
	}
	return &core.Order{
		ID:               e.lastOrderID.Add(1),
		UserID:           req.UserID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		OriginalQuantity: req.Quantity,
		Quantity:         req.Quantity,
		Price:            price,
		Status:           core.StatusOpen,
		CreatedAt:        e.clock.Now(),
	}
}

// executeMarket fills the whole quantity at the reference price in a single
// trade. The order never rests.
func (e *Engine) executeMarket(ctx context.Context, req Request) (*Result, error) {
	ref, ok := e.prices.Get(req.Symbol)
	if !ok {
		return nil, fmt.Errorf("no reference price for %s", req.Symbol)
	}

	order := e.newOrder(req)
	order.Fill(order.Quantity)

	trade := &core.Trade{
		ID:       e.ledger.NextID(),
		Symbol:   req.Symbol,
		Price:    ref.Price,
		Quantity: order.OriginalQuantity,
		TradedAt: order.CreatedAt,
	}
	id := order.ID
	if req.Side == core.Buy {
		trade.BuyOrderID = &id
	} else {
		trade.SellOrderID = &id
	}

	if err := e.journal.Commit(ctx, core.Batch{Orders: []*core.Order{order}, Trades: []*core.Trade{trade}}); err != nil {
		return nil, fmt.Errorf("commit market order: %w", err)
	}
	e.history.Store(order.ID, order.Clone())
	e.ledger.Append(trade)
	e.metrics.TradeExecuted(req.Symbol)

	e.logger.Debug("market_fill",
		zap.Int64("order_id", order.ID),
		zap.String("symbol", string(req.Symbol)),
		zap.String("side", string(req.Side)),
		zap.String("price", trade.Price.String()),
		zap.String("qty", trade.Quantity.String()))

	return &Result{Order: order.Clone(), Executions: []Execution{{Trade: trade}}}, nil
}

// matchLimit rests the order, then scans the opposite side oldest-first.
// Candidates that do not cross are skipped in place; there is no price
// re-sort. Each fill is committed before it becomes visible in the book.
func (e *Engine) matchLimit(ctx context.Context, book *orderbook.OrderBook, req Request) (*Result, error) {
	incoming := e.newOrder(req)
	if err := e.journal.Commit(ctx, core.Batch{Orders: []*core.Order{incoming}}); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	e.history.Store(incoming.ID, incoming.Clone())
	book.Insert(incoming)

	res := &Result{}
	for _, cand := range book.OpenOrders(req.Side.Opposite()) {
		if !incoming.IsOpen() {
			break
		}
		px, ok := e.executionPrice(incoming, cand)
		if !ok {
			continue
		}

		qty := decimal.Min(incoming.Quantity, cand.Quantity)
		nextIn := incoming.Clone()
		nextIn.Fill(qty)
		nextCand := cand.Clone()
		nextCand.Fill(qty)

		trade := &core.Trade{
			ID:       e.ledger.NextID(),
			Symbol:   req.Symbol,
			Price:    px,
			Quantity: qty,
			TradedAt: e.clock.Now(),
		}
		buyID, sellID := incoming.ID, cand.ID
		if incoming.Side == core.Sell {
			buyID, sellID = cand.ID, incoming.ID
		}
		trade.BuyOrderID, trade.SellOrderID = &buyID, &sellID

		batch := core.Batch{Orders: []*core.Order{nextIn, nextCand}, Trades: []*core.Trade{trade}}
		if err := e.journal.Commit(ctx, batch); err != nil {
			res.Order = incoming.Clone()
			return res, fmt.Errorf("commit fill %d/%d: %w", incoming.ID, cand.ID, err)
		}

		// incoming and cand are the book's live records; Replace updates
		// them in place and drops whichever side is now filled.
		book.Replace(nextCand)
		book.Replace(nextIn)
		e.history.Store(nextIn.ID, nextIn)
		e.history.Store(nextCand.ID, nextCand)
		e.ledger.Append(trade)
		e.metrics.TradeExecuted(req.Symbol)

		res.Executions = append(res.Executions, Execution{Trade: trade, Resting: nextCand.Clone()})

		e.logger.Debug("limit_fill",
			zap.String("symbol", string(req.Symbol)),
			zap.Int64("taker", incoming.ID),
			zap.Int64("maker", cand.ID),
			zap.String("price", px.String()),
			zap.String("qty", qty.String()))
	}

	res.Order = incoming.Clone()
	return res, nil
}

// executionPrice resolves the fill price of incoming against cand, or false
// when both carry prices that do not cross.
func (e *Engine) executionPrice(incoming, cand *core.Order) (decimal.Decimal, bool) {
	switch {
	case !incoming.HasPrice() && !cand.HasPrice():
		ref, ok := e.prices.Get(incoming.Symbol)
		return ref.Price, ok
	case !incoming.HasPrice():
		return *cand.Price, true
	case !cand.HasPrice():
		return *incoming.Price, true
	}

	in, rest := *incoming.Price, *cand.Price
	if incoming.Side == core.Buy && in.LessThan(rest) {
		return decimal.Decimal{}, false
	}
	if incoming.Side == core.Sell && in.GreaterThan(rest) {
		return decimal.Decimal{}, false
	}
	return rest, true
}

// OpenOrders returns a copy of symbol's open orders, oldest first. Unknown
// symbols yield an empty slice.
func (e *Engine) OpenOrders(symbol core.Symbol) []*core.Order {
	book, ok := e.books[symbol]
	if !ok {
		return []*core.Order{}
	}
	book.Lock()
	defer book.Unlock()
	return book.Snapshot()
}

// Order returns the latest committed state of an order of any status.
func (e *Engine) Order(id int64) (*core.Order, bool) {
	v, ok := e.history.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*core.Order).Clone(), true
}

func rejectReason(err error) string {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return "other"
}

type nopJournal struct{}

func (nopJournal) Commit(context.Context, core.Batch) error { return nil }

type nopMetrics struct{}

func (nopMetrics) OrderSubmitted(core.Symbol, core.Side, core.OrderKind) {}
func (nopMetrics) OrderRejected(string)                                   {}
func (nopMetrics) TradeExecuted(core.Symbol)                              {}
func (nopMetrics) ObserveMatch(core.Symbol, time.Duration)                {}
