// Package redis implements the order read-through cache on Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/mothership-commerce/internal/domain/order"
)

const (
	orderKeyPrefix  = "order:"
	defaultCacheTTL = 5 * time.Minute
)

// Config configures the Redis connection.
type Config struct {
	Addr     string        `default:"" usage:"Redis address; empty disables the order cache"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	TTL      time.Duration `default:"5m" usage:"Order cache TTL"`
}

var _ order.Cache = (*OrderCache)(nil)

// OrderCache implements order.Cache using Redis. Orders are stored as JSON
// under "order:<id>".
type OrderCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewClient connects to the Redis server described by cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewOrderCache returns an OrderCache over client. A zero ttl selects the
// default of five minutes.
func NewOrderCache(client redis.UniversalClient, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &OrderCache{client: client, ttl: ttl}
}

// Get returns the cached order or nil, nil on a miss.
func (c *OrderCache) Get(ctx context.Context, id string) (*order.Order, error) {
	data, err := c.client.Get(ctx, orderKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		zctx.From(ctx).Debug("Cache miss", zap.String("order_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting order %q from cache: %w", id, err)
	}

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decoding cached order %q: %w", id, err)
	}
	zctx.From(ctx).Debug("Cache hit", zap.String("order_id", id))
	return &o, nil
}

// Set stores o until the TTL expires.
func (c *OrderCache) Set(ctx context.Context, o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding order %q: %w", o.ID, err)
	}
	if err := c.client.Set(ctx, orderKeyPrefix+o.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching order %q: %w", o.ID, err)
	}
	return nil
}

// Delete evicts order id.
func (c *OrderCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, orderKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("evicting order %q: %w", id, err)
	}
	return nil
}

// Ping checks the connection.
func (c *OrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
