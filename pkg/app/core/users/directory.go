package users

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// Store is the durable home of user records.
type Store interface {
	SaveUser(ctx context.Context, u core.User) error
	UserByEmail(ctx context.Context, email string) (core.User, bool, error)
	Users(ctx context.Context) ([]core.User, error)
}

// Directory provisions users lazily by email. The email is a bare
// identifier, not a credential.
type Directory struct {
	store  Store
	cache  *ristretto.Cache
	ttl    time.Duration
	lastID atomic.Int64

	// serializes the check-then-create path so one email maps to one id
	createMu sync.Mutex
}

func NewDirectory(store Store, cacheTTL time.Duration) (*Directory, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("user cache: %w", err)
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Directory{store: store, cache: cache, ttl: cacheTTL}, nil
}

// Restore moves the id allocator past every persisted user.
func (d *Directory) Restore(ctx context.Context) error {
	all, err := d.store.Users(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, u := range all {
		if u.ID > d.lastID.Load() {
			d.lastID.Store(u.ID)
		}
	}
	return nil
}

func normalize(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", core.Invalid("email", "required")
	}
	return email, nil
}

// Lookup returns the user for email without creating one.
func (d *Directory) Lookup(ctx context.Context, email string) (core.User, bool, error) {
	email, err := normalize(email)
	if err != nil {
		return core.User{}, false, err
	}
	if v, ok := d.cache.Get(email); ok {
		return v.(core.User), true, nil
	}
	u, ok, err := d.store.UserByEmail(ctx, email)
	if err != nil || !ok {
		return core.User{}, false, err
	}
	d.cache.SetWithTTL(email, u, 1, d.ttl)
	return u, true, nil
}

// Ensure returns the user for email, creating it on first contact.
func (d *Directory) Ensure(ctx context.Context, email string) (core.User, error) {
	if u, ok, err := d.Lookup(ctx, email); err != nil || ok {
		return u, err
	}

	d.createMu.Lock()
	defer d.createMu.Unlock()

	email, _ = normalize(email)
	u, ok, err := d.store.UserByEmail(ctx, email)
	if err != nil {
		return core.User{}, err
	}
	if !ok {
		u = core.User{ID: d.lastID.Add(1), Email: email}
		if err := d.store.SaveUser(ctx, u); err != nil {
			return core.User{}, fmt.Errorf("save user: %w", err)
		}
	}
	d.cache.SetWithTTL(email, u, 1, d.ttl)
	return u, nil
}

// All returns every user, newest id first.
func (d *Directory) All(ctx context.Context) ([]core.User, error) {
	all, err := d.store.Users(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return all, nil
}

func (d *Directory) Close() { d.cache.Close() }
