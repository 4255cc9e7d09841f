package subscriptions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// Store persists the (user, symbol) relation.
type Store interface {
	PutSubscription(ctx context.Context, sub core.Subscription) error
	DeleteSubscription(ctx context.Context, sub core.Subscription) error
}

// Registry is the per-user set of symbols a user wants live updates for.
// It only filters event fan-out; the matching path never reads it.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]map[core.Symbol]struct{}
	store  Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		byUser: make(map[int64]map[core.Symbol]struct{}),
		store:  store,
	}
}

// Restore loads persisted memberships without writing them back.
func (r *Registry) Restore(subs []core.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range subs {
		r.add(s.UserID, s.Symbol)
	}
}

func (r *Registry) add(userID int64, symbol core.Symbol) {
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[core.Symbol]struct{})
		r.byUser[userID] = set
	}
	set[symbol] = struct{}{}
}

// Subscribe is idempotent: a second call for the same pair changes nothing.
func (r *Registry) Subscribe(ctx context.Context, userID int64, symbol core.Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[userID][symbol]; ok {
		return nil
	}
	if r.store != nil {
		if err := r.store.PutSubscription(ctx, core.Subscription{UserID: userID, Symbol: symbol}); err != nil {
			return fmt.Errorf("persist subscription: %w", err)
		}
	}
	r.add(userID, symbol)
	return nil
}

// Unsubscribe is idempotent: removing a missing pair is a no-op.
func (r *Registry) Unsubscribe(ctx context.Context, userID int64, symbol core.Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	if _, ok := set[symbol]; !ok {
		return nil
	}
	if r.store != nil {
		if err := r.store.DeleteSubscription(ctx, core.Subscription{UserID: userID, Symbol: symbol}); err != nil {
			return fmt.Errorf("delete subscription: %w", err)
		}
	}
	delete(set, symbol)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
	return nil
}

// SubscriptionsOf returns the user's symbols sorted by name. Unknown users
// get an empty slice.
func (r *Registry) SubscriptionsOf(userID int64) []core.Symbol {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.Symbol, 0, len(r.byUser[userID]))
	for sym := range r.byUser[userID] {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSubscribed reports whether userID is in symbol's interest group.
func (r *Registry) IsSubscribed(userID int64, symbol core.Symbol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID][symbol]
	return ok
}

// All returns every membership, ordered by user id then symbol.
func (r *Registry) All() []core.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []core.Subscription
	for uid, set := range r.byUser {
		for sym := range set {
			out = append(out, core.Subscription{UserID: uid, Symbol: sym})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID == out[j].UserID {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
