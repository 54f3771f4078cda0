package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// PaymentLock implements ports.PaymentLock using Redis SET NX.
// The TTL bounds how long a crashed holder can block an order.
type PaymentLock struct {
	client *goredis.Client
	prefix string
}

// NewPaymentLock creates a Redis-backed payment lock.
func NewPaymentLock(client *goredis.Client) *PaymentLock {
	return &PaymentLock{
		client: client,
		prefix: "payment_lock:",
	}
}

// Acquire returns true if the lock for orderID was free and is now held by
// the returned token.
func (l *PaymentLock) Acquire(ctx context.Context, orderID uuid.UUID, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	result, err := l.client.SetArgs(ctx, l.prefix+orderID.String(), token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis payment lock acquire: %w", err)
	}
	if result != "OK" {
		return "", false, nil
	}
	return token, true, nil
}

// Release is a no-op once the lock expired and another attempt took it.
func (l *PaymentLock) Release(ctx context.Context, orderID uuid.UUID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + orderID.String()}, token).Err(); err != nil {
		return fmt.Errorf("redis payment lock release: %w", err)
	}
	return nil
}
