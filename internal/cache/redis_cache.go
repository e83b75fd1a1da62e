package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirstok/backend/internal/cart"
	"kasirstok/backend/internal/domain"
)

const cartKeyPrefix = "kasirstok:cart:"

var _ cart.SnapshotStore = (*RedisCartSnapshots)(nil)

type RedisCartSnapshots struct {
	client *redis.Client
}

func NewRedisCartSnapshots(addr string, password string, db int) *RedisCartSnapshots {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCartSnapshots{client: client}
}

func (c *RedisCartSnapshots) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartSnapshots) Close() error {
	return c.client.Close()
}

func (c *RedisCartSnapshots) Load(ctx context.Context, key string) ([]domain.CartItem, bool, error) {
	val, err := c.client.Get(ctx, cartKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []domain.CartItem
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (c *RedisCartSnapshots) Save(ctx context.Context, key string, items []domain.CartItem, ttl time.Duration) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cartKeyPrefix+key, payload, ttl).Err()
}

func (c *RedisCartSnapshots) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, cartKeyPrefix+key).Err()
}
