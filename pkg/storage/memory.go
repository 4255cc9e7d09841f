package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// MemoryStore keeps every record in process memory. State is lost on exit.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[int64]core.User
	emails        map[string]int64
	subscriptions map[core.Subscription]struct{}
	orders        map[int64]*core.Order
	trades        map[int64]*core.Trade
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]core.User),
		emails:        make(map[string]int64),
		subscriptions: make(map[core.Subscription]struct{}),
		orders:        make(map[int64]*core.Order),
		trades:        make(map[int64]*core.Trade),
	}
}

func (s *MemoryStore) Commit(_ context.Context, b core.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range b.Orders {
		s.orders[o.ID] = o.Clone()
	}
	for _, t := range b.Trades {
		cp := *t
		s.trades[t.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) SaveUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (core.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return core.User{}, false, nil
	}
	return s.users[id], true, nil
}

func (s *MemoryStore) Users(context.Context) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutSubscription(_ context.Context, sub core.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub] = struct{}{}
	return nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, sub core.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, sub)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	var err error
	if snap.Users, err = s.Users(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscriptions {
		snap.Subscriptions = append(snap.Subscriptions, sub)
	}
	sort.Slice(snap.Subscriptions, func(i, j int) bool {
		a, b := snap.Subscriptions[i], snap.Subscriptions[j]
		if a.UserID == b.UserID {
			return a.Symbol < b.Symbol
		}
		return a.UserID < b.UserID
	})
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o.Clone())
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	for _, t := range s.trades {
		cp := *t
		snap.Trades = append(snap.Trades, &cp)
	}
	sort.Slice(snap.Trades, func(i, j int) bool { return snap.Trades[i].ID < snap.Trades[j].ID })
	return snap, nil
}

func (s *MemoryStore) Close() error { return nil }
