package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

const rateCacheKey = "rates:current"

// RateCache implements ports.RateCache. The current rate row is stored as JSON
// under a single key.
type RateCache struct {
	client *goredis.Client
	key    string
}

// NewRateCache creates a Redis-backed rate cache.
func NewRateCache(client *goredis.Client) *RateCache {
	return &RateCache{client: client, key: rateCacheKey}
}

// Get returns the cached rate, or nil, nil on a miss.
func (c *RateCache) Get(ctx context.Context) (*domain.ConversionRate, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis rate cache get: %w", err)
	}

	var rate domain.ConversionRate
	if err := json.Unmarshal(val, &rate); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		return nil, nil
	}
	return &rate, nil
}

func (c *RateCache) Set(ctx context.Context, rate *domain.ConversionRate, ttl time.Duration) error {
	data, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("marshaling rate: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis rate cache set: %w", err)
	}
	return nil
}

func (c *RateCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("redis rate cache invalidate: %w", err)
	}
	return nil
}
