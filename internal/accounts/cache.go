package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const balanceKeyPrefix = "accounts:balance:"

// BalanceCache keeps recent balances in Redis for the read path. Writers
// invalidate on every persisted mutation; the store row stays authoritative.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache instantiates the cache helper. A nil client disables
// caching without changing behaviour.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

// Get returns the cached balance, or ok=false on miss.
func (c *BalanceCache) Get(ctx context.Context, id uuid.UUID) (decimal.Decimal, bool) {
	if c == nil || c.client == nil {
		return decimal.Zero, false
	}
	raw, err := c.client.Get(ctx, balanceKeyPrefix+id.String()).Result()
	if err != nil {
		return decimal.Zero, false
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return bal, true
}

// Set stores a balance with the configured TTL.
func (c *BalanceCache) Set(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, balanceKeyPrefix+id.String(), balance.String(), c.ttl).Err()
}

// Invalidate drops the cached balance after a mutation.
func (c *BalanceCache) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	if c == nil || c.client == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, balanceKeyPrefix+id.String())
	}
	err := c.client.Del(ctx, keys...).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
