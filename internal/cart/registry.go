package cart

import (
	"context"
	"sync"
	"time"

	"kasirstok/backend/internal/domain"
)

// SnapshotStore persists staged lines so a session survives a restart.
type SnapshotStore interface {
	Load(ctx context.Context, key string) ([]domain.CartItem, bool, error)
	Save(ctx context.Context, key string, items []domain.CartItem, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Registry hands out one Cart per session key.
type Registry struct {
	mu        sync.Mutex
	catalog   Catalog
	snapshots SnapshotStore
	ttl       time.Duration
	carts     map[string]*Cart
}

func NewRegistry(catalog Catalog, snapshots SnapshotStore, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Registry{
		catalog:   catalog,
		snapshots: snapshots,
		ttl:       ttl,
		carts:     make(map[string]*Cart),
	}
}

// Get returns the session's cart, rehydrating it from the snapshot store on
// first use in this process.
func (r *Registry) Get(ctx context.Context, key string) (*Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.carts[key]; ok {
		return c, nil
	}

	c := New(r.catalog)
	if r.snapshots != nil {
		items, found, err := r.snapshots.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			c.Restore(items)
		}
	}
	r.carts[key] = c
	return c, nil
}

// Persist writes the cart's current lines to the snapshot store. An empty
// cart deletes its snapshot.
func (r *Registry) Persist(ctx context.Context, key string, c *Cart) error {
	if r.snapshots == nil {
		return nil
	}
	items := c.Items()
	if len(items) == 0 {
		return r.snapshots.Delete(ctx, key)
	}
	return r.snapshots.Save(ctx, key, items, r.ttl)
}

// Drop forgets the session entirely.
func (r *Registry) Drop(ctx context.Context, key string) error {
	r.mu.Lock()
	delete(r.carts, key)
	r.mu.Unlock()

	if r.snapshots == nil {
		return nil
	}
	return r.snapshots.Delete(ctx, key)
}

func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carts)
}
