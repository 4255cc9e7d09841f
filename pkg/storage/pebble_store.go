package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// PebbleStore persists users, subscriptions, orders and trades in a Pebble
// database. Every write is synced before it returns.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit writes all orders and trades of b in one atomic batch.
func (s *PebbleStore) Commit(_ context.Context, b core.Batch) error {
	if b.Empty() {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, o := range b.Orders {
		val, err := encode(o)
		if err != nil {
			return err
		}
		if err := batch.Set(orderKey(o.ID), val, nil); err != nil {
			return fmt.Errorf("stage order %d: %w", o.ID, err)
		}
	}
	for _, t := range b.Trades {
		val, err := encode(t)
		if err != nil {
			return err
		}
		if err := batch.Set(tradeKey(t.ID), val, nil); err != nil {
			return fmt.Errorf("stage trade %d: %w", t.ID, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// SaveUser writes the user record and its email index together.
func (s *PebbleStore) SaveUser(_ context.Context, u core.User) error {
	val, err := encode(u)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(userKey(u.ID), val, nil); err != nil {
		return fmt.Errorf("stage user: %w", err)
	}
	if err := batch.Set(emailKey(u.Email), encodeID(u.ID), nil); err != nil {
		return fmt.Errorf("stage email index: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// UserByEmail returns false when no user has that email.
func (s *PebbleStore) UserByEmail(_ context.Context, email string) (core.User, bool, error) {
	raw, closer, err := s.db.Get(emailKey(email))
	if errors.Is(err, pebble.ErrNotFound) {
		return core.User{}, false, nil
	}
	if err != nil {
		return core.User{}, false, fmt.Errorf("get email index: %w", err)
	}
	id, err := decodeID(raw)
	closer.Close()
	if err != nil {
		return core.User{}, false, err
	}

	val, closer, err := s.db.Get(userKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return core.User{}, false, nil
	}
	if err != nil {
		return core.User{}, false, fmt.Errorf("get user: %w", err)
	}
	defer closer.Close()

	var u core.User
	if err := decode(val, &u); err != nil {
		return core.User{}, false, err
	}
	return u, true, nil
}

func (s *PebbleStore) Users(_ context.Context) ([]core.User, error) {
	out := make([]core.User, 0)
	err := s.scan([]byte(prefixUser), func(val []byte) error {
		var u core.User
		if err := decode(val, &u); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

func (s *PebbleStore) PutSubscription(_ context.Context, sub core.Subscription) error {
	val, err := encode(sub)
	if err != nil {
		return err
	}
	if err := s.db.Set(subscriptionKey(sub.UserID, sub.Symbol), val, pebble.Sync); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (s *PebbleStore) DeleteSubscription(_ context.Context, sub core.Subscription) error {
	if err := s.db.Delete(subscriptionKey(sub.UserID, sub.Symbol), pebble.Sync); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// Load reads back the whole store for startup recovery.
func (s *PebbleStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	var err error
	if snap.Users, err = s.Users(ctx); err != nil {
		return nil, err
	}

	err = s.scan([]byte(prefixSubscription), func(val []byte) error {
		var sub core.Subscription
		if err := decode(val, &sub); err != nil {
			return err
		}
		snap.Subscriptions = append(snap.Subscriptions, sub)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan([]byte(prefixOrder), func(val []byte) error {
		var o core.Order
		if err := decode(val, &o); err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, &o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan([]byte(prefixTrade), func(val []byte) error {
		var t core.Trade
		if err := decode(val, &t); err != nil {
			return err
		}
		snap.Trades = append(snap.Trades, &t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// scan visits every value under prefix in key order.
func (s *PebbleStore) scan(prefix []byte, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("new iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return fmt.Errorf("scan %s: %w", prefix, err)
		}
	}
	return iter.Error()
}
