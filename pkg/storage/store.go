package storage

import (
	"context"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/engine"
	"github.com/uhyunpark/tickerbook/pkg/app/core/subscriptions"
	"github.com/uhyunpark/tickerbook/pkg/app/core/users"
)

// Store is the full persistence surface the broker needs.
type Store interface {
	engine.Journal
	subscriptions.Store
	users.Store

	// Load returns everything needed to rebuild in-memory state.
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}

// Snapshot is the persisted state, each slice in id order.
type Snapshot struct {
	Users         []core.User
	Subscriptions []core.Subscription
	Orders        []*core.Order
	Trades        []*core.Trade
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PebbleStore)(nil)
)
