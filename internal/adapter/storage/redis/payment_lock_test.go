package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentLock_AcquireOnce(t *testing.T) {
	_, client := newTestClient(t)
	lock := NewPaymentLock(client)
	ctx := context.Background()
	orderID := uuid.New()

	token, ok, err := lock.Acquire(ctx, orderID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "free lock should be acquired")
	assert.NotEmpty(t, token)

	_, ok, err = lock.Acquire(ctx, orderID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock should not be acquired twice")
}

func TestPaymentLock_Release(t *testing.T) {
	_, client := newTestClient(t)
	lock := NewPaymentLock(client)
	ctx := context.Background()
	orderID := uuid.New()

	token, _, err := lock.Acquire(ctx, orderID, time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx, orderID, token))

	_, ok, err := lock.Acquire(ctx, orderID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPaymentLock_StaleReleaseKeepsNewHolder(t *testing.T) {
	s, client := newTestClient(t)
	lock := NewPaymentLock(client)
	ctx := context.Background()
	orderID := uuid.New()

	stale, _, err := lock.Acquire(ctx, orderID, 2*time.Second)
	require.NoError(t, err)
	s.FastForward(3 * time.Second)

	current, ok, err := lock.Acquire(ctx, orderID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, orderID, stale))

	_, ok, err = lock.Acquire(ctx, orderID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "expired holder must not release the new holder's lock")

	got, err := s.Get("payment_lock:" + orderID.String())
	require.NoError(t, err)
	assert.Equal(t, current, got)

	require.NoError(t, lock.Release(ctx, orderID, current))
	assert.False(t, s.Exists("payment_lock:"+orderID.String()))
}

func TestPaymentLock_ExpiresAfterTTL(t *testing.T) {
	s, client := newTestClient(t)
	lock := NewPaymentLock(client)
	ctx := context.Background()
	orderID := uuid.New()

	_, _, err := lock.Acquire(ctx, orderID, 2*time.Second)
	require.NoError(t, err)
	s.FastForward(3 * time.Second)

	_, ok, err := lock.Acquire(ctx, orderID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be free")
}

func TestPaymentLock_OrdersAreIndependent(t *testing.T) {
	_, client := newTestClient(t)
	lock := NewPaymentLock(client)
	ctx := context.Background()

	_, ok1, err := lock.Acquire(ctx, uuid.New(), time.Minute)
	require.NoError(t, err)
	_, ok2, err := lock.Acquire(ctx, uuid.New(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestPaymentLock_ServerDown(t *testing.T) {
	s, client := newTestClient(t)
	lock := NewPaymentLock(client)
	s.Close()

	_, _, err := lock.Acquire(context.Background(), uuid.New(), time.Minute)
	assert.Error(t, err)
}
