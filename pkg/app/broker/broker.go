package broker

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/engine"
	"github.com/uhyunpark/tickerbook/pkg/app/core/ledger"
	"github.com/uhyunpark/tickerbook/pkg/app/core/market"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
	"github.com/uhyunpark/tickerbook/pkg/app/core/subscriptions"
	"github.com/uhyunpark/tickerbook/pkg/app/core/users"
	"github.com/uhyunpark/tickerbook/pkg/events"
	"github.com/uhyunpark/tickerbook/pkg/metrics"
	"github.com/uhyunpark/tickerbook/pkg/storage"
	"github.com/uhyunpark/tickerbook/pkg/util"
)

type Config struct {
	AdminKey           string
	TradesInitLimit    int
	TradesDefaultLimit int
	UserCacheTTL       time.Duration
}

func DefaultConfig() Config {
	return Config{
		TradesInitLimit:    100,
		TradesDefaultLimit: 200,
		UserCacheTTL:       10 * time.Minute,
	}
}

// Deps are the collaborators the service is built from. Registry, Table and
// Store are required; the rest default to no-ops.
type Deps struct {
	Registry *market.Registry
	Table    *prices.Table
	Store    storage.Store
	Metrics  *metrics.Metrics
	Clock    util.Clock
	Logger   *zap.Logger
}

// App is the entry surface both transports call into. It owns the core
// components and turns engine results into events once the book lock is
// released.
type App struct {
	cfg     Config
	reg     *market.Registry
	table   *prices.Table
	engine  *engine.Engine
	ledger  *ledger.Ledger
	users   *users.Directory
	subs    *subscriptions.Registry
	store   storage.Store
	events  *events.Distributor
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New builds the service and restores persisted state from the store.
func New(ctx context.Context, cfg Config, deps Deps) (*App, error) {
	if deps.Registry == nil || deps.Table == nil || deps.Store == nil {
		return nil, errors.New("broker: registry, price table and store are required")
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TradesInitLimit <= 0 {
		cfg.TradesInitLimit = def.TradesInitLimit
	}
	if cfg.TradesDefaultLimit <= 0 {
		cfg.TradesDefaultLimit = def.TradesDefaultLimit
	}
	if cfg.UserCacheTTL <= 0 {
		cfg.UserCacheTTL = def.UserCacheTTL
	}

	dir, err := users.NewDirectory(deps.Store, cfg.UserCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("user directory: %w", err)
	}

	led := ledger.New()
	subs := subscriptions.NewRegistry(deps.Store)
	eng := engine.New(deps.Registry, deps.Table,
		engine.WithLedger(led),
		engine.WithJournal(deps.Store),
		engine.WithMetrics(deps.Metrics),
		engine.WithClock(deps.Clock),
		engine.WithLogger(deps.Logger.Named("engine")),
	)

	dist := events.NewDistributor(subs, deps.Logger.Named("events"))
	dist.SetDropRecorder(deps.Metrics)

	a := &App{
		cfg:     cfg,
		reg:     deps.Registry,
		table:   deps.Table,
		engine:  eng,
		ledger:  led,
		users:   dir,
		subs:    subs,
		store:   deps.Store,
		events:  dist,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
	if err := a.recover(ctx); err != nil {
		dir.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) recover(ctx context.Context) error {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := a.users.Restore(ctx); err != nil {
		return fmt.Errorf("restore users: %w", err)
	}
	a.subs.Restore(snap.Subscriptions)
	a.ledger.Restore(snap.Trades)
	a.engine.Restore(snap.Orders)

	a.logger.Info("state_recovered",
		zap.Int("users", len(snap.Users)),
		zap.Int("subscriptions", len(snap.Subscriptions)),
		zap.Int("orders", len(snap.Orders)),
		zap.Int("trades", len(snap.Trades)))
	return nil
}

// Events exposes the distributor so transports can attach observers and
// the price loop can publish ticks.
func (a *App) Events() *events.Distributor { return a.events }

func (a *App) Close() {
	a.users.Close()
	if err := a.events.Close(); err != nil {
		a.logger.Warn("event_sinks_close_failed", zap.Error(err))
	}
}

func (a *App) ListSupportedSymbols() []core.Symbol { return a.reg.Symbols() }

func (a *App) Prices() map[core.Symbol]prices.Price { return a.table.Snapshot() }

// OnTick is the generator callback: it updates gauges and broadcasts the
// full table.
func (a *App) OnTick(ctx context.Context, snapshot map[core.Symbol]prices.Price) {
	for sym, p := range snapshot {
		a.metrics.SetReferencePrice(sym, p.Price)
	}
	a.events.PublishPrices(ctx, snapshot)
}

// OrderRequest is an order as it arrives from a transport, before parsing.
type OrderRequest struct {
	Email    string
	Symbol   string
	Side     string
	Quantity decimal.Decimal
	Type     string
	Price    *decimal.Decimal
}

// Placement is what the submitter gets back.
type Placement struct {
	OrderID int64            `json:"orderId"`
	Status  core.OrderStatus `json:"status"`
	Trades  []*core.Trade    `json:"trades"`
}

// PlaceOrder provisions the user, runs the engine and then publishes the
// resulting events. A failed persistence step part way through a match
// still publishes the executions that committed before it.
func (a *App) PlaceOrder(ctx context.Context, req OrderRequest) (*Placement, error) {
	side, err := core.ParseSide(req.Side)
	if err != nil {
		a.metrics.OrderRejected("side")
		return nil, err
	}
	kind, err := core.ParseOrderKind(req.Type)
	if err != nil {
		a.metrics.OrderRejected("type")
		return nil, err
	}
	sub := engine.Request{
		Symbol:     core.Symbol(req.Symbol),
		Side:       side,
		Quantity:   req.Quantity,
		Kind:       kind,
		LimitPrice: req.Price,
	}
	if err := a.engine.Validate(sub); err != nil {
		return nil, err
	}
	user, err := a.users.Ensure(ctx, req.Email)
	if err != nil {
		a.metrics.OrderRejected("email")
		return nil, err
	}
	sub.UserID = user.ID

	res, err := a.engine.Submit(ctx, sub)
	if res != nil && res.Order != nil {
		a.publish(ctx, kind, res)
	}
	if err != nil {
		if !core.IsValidation(err) {
			a.logger.Error("order_failed", zap.String("email", user.Email), zap.String("symbol", req.Symbol), zap.Error(err))
		}
		return nil, err
	}

	a.logger.Info("order_placed",
		zap.Int64("order_id", res.Order.ID),
		zap.Int64("user_id", user.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(side)),
		zap.String("type", string(kind)),
		zap.Int("trades", len(res.Executions)))

	trades := res.Trades()
	return &Placement{OrderID: res.Order.ID, Status: res.Order.Status, Trades: trades}, nil
}

func (a *App) publish(ctx context.Context, kind core.OrderKind, res *engine.Result) {
	sym := res.Order.Symbol
	if kind == core.Market {
		for _, ex := range res.Executions {
			a.events.PublishTrade(ctx, ex.Trade)
		}
		return
	}
	a.events.PublishOrderChange(sym, res.Order.ID)
	for _, ex := range res.Executions {
		a.events.PublishTrade(ctx, ex.Trade)
		if ex.Resting != nil {
			a.events.PublishOrderChange(sym, ex.Resting.ID)
		}
	}
}

// GetOrder returns an order of any status.
func (a *App) GetOrder(id int64) (*core.Order, bool) { return a.engine.Order(id) }

// GetOpenOrders returns symbol's open book, oldest first.
func (a *App) GetOpenOrders(symbol core.Symbol) []*core.Order { return a.engine.OpenOrders(symbol) }

// GetTrades returns up to limit trades, newest first. An empty symbol means
// every symbol; a non-positive limit uses the configured default.
func (a *App) GetTrades(symbol core.Symbol, limit int) []*core.Trade {
	if limit <= 0 {
		limit = a.cfg.TradesDefaultLimit
	}
	return a.ledger.Recent(symbol, limit)
}

// Subscribe adds symbol to the user's interest set and returns the new set.
func (a *App) Subscribe(ctx context.Context, email string, symbol core.Symbol) ([]core.Symbol, error) {
	if err := a.reg.Validate(symbol); err != nil {
		return nil, err
	}
	user, err := a.users.Ensure(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := a.subs.Subscribe(ctx, user.ID, symbol); err != nil {
		return nil, err
	}
	return a.subs.SubscriptionsOf(user.ID), nil
}

// Unsubscribe removes symbol from the user's set. Unknown users and symbols
// are no-ops.
func (a *App) Unsubscribe(ctx context.Context, email string, symbol core.Symbol) ([]core.Symbol, error) {
	user, ok, err := a.users.Lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []core.Symbol{}, nil
	}
	if err := a.subs.Unsubscribe(ctx, user.ID, symbol); err != nil {
		return nil, err
	}
	return a.subs.SubscriptionsOf(user.ID), nil
}

// GetSubscriptions returns the user's symbols; an unknown email yields an
// empty set rather than an error.
func (a *App) GetSubscriptions(ctx context.Context, email string) ([]core.Symbol, error) {
	user, ok, err := a.users.Lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []core.Symbol{}, nil
	}
	return a.subs.SubscriptionsOf(user.ID), nil
}

// Join provisions the user behind an observer and returns its snapshot.
func (a *App) Join(ctx context.Context, email string) (core.User, events.Greeting, error) {
	user, err := a.users.Ensure(ctx, email)
	if err != nil {
		return core.User{}, events.Greeting{}, err
	}
	return user, events.Greeting{
		Supported:     a.reg.Symbols(),
		Prices:        a.table.Snapshot(),
		Subscriptions: a.subs.SubscriptionsOf(user.ID),
		Trades:        a.ledger.Recent("", a.cfg.TradesInitLimit),
	}, nil
}

// CheckAdminKey gates the admin reads. With no key configured every caller
// is let through.
func (a *App) CheckAdminKey(key string) error {
	if a.cfg.AdminKey == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.AdminKey)) == 1 {
		return nil
	}
	return core.ErrUnauthorized
}

func (a *App) ListUsers(ctx context.Context, key string) ([]core.User, error) {
	if err := a.CheckAdminKey(key); err != nil {
		return nil, err
	}
	return a.users.All(ctx)
}

// SubscriptionRow is a subscription joined with its user's email.
type SubscriptionRow struct {
	Email  string      `json:"email"`
	Symbol core.Symbol `json:"symbol"`
}

func (a *App) ListAllSubscriptions(ctx context.Context, key string) ([]SubscriptionRow, error) {
	if err := a.CheckAdminKey(key); err != nil {
		return nil, err
	}
	all, err := a.users.All(ctx)
	if err != nil {
		return nil, err
	}
	emails := make(map[int64]string, len(all))
	for _, u := range all {
		emails[u.ID] = u.Email
	}

	rows := make([]SubscriptionRow, 0)
	for _, s := range a.subs.All() {
		rows = append(rows, SubscriptionRow{Email: emails[s.UserID], Symbol: s.Symbol})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Email == rows[j].Email {
			return rows[i].Symbol < rows[j].Symbol
		}
		return rows[i].Email < rows[j].Email
	})
	return rows, nil
}

// ExportTradesCSV writes every trade for symbol (all when empty), newest
// first.
func (a *App) ExportTradesCSV(w io.Writer, key string, symbol core.Symbol) error {
	if err := a.CheckAdminKey(key); err != nil {
		return err
	}
	return ledger.WriteCSV(w, a.ledger.All(symbol))
}
