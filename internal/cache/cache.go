package cache

import (
	"context"
	"time"

	"kasirstok/backend/internal/cart"
	"kasirstok/backend/internal/domain"
)

var _ cart.SnapshotStore = NoopCartSnapshots{}

// NoopCartSnapshots keeps nothing; carts then live only in process memory.
type NoopCartSnapshots struct{}

func (NoopCartSnapshots) Load(_ context.Context, _ string) ([]domain.CartItem, bool, error) {
	return nil, false, nil
}

func (NoopCartSnapshots) Save(_ context.Context, _ string, _ []domain.CartItem, _ time.Duration) error {
	return nil
}

func (NoopCartSnapshots) Delete(_ context.Context, _ string) error {
	return nil
}
