package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketpay-backend/pkg/redis"
)

// memStore is an in-memory IdempotencyStore; ttls are recorded, not enforced.
type memStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[key]
	if !ok {
		return "", redis.ErrNil
	}
	return v, nil
}

func (m *memStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memStore) IdempotencyKey(scope, id string) string {
	return "mp:idempotency:" + scope + ":" + id
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestGuardClaimsOnce(t *testing.T) {
	t.Setenv("WORKER_ID", "publisher-1")
	store := newMemStore()
	guard, err := NewGuard(store, "outbox-publisher", 24*time.Hour)
	require.NoError(t, err)

	id := uuid.New()
	key := "mp:idempotency:evt:published:outbox-publisher:" + id.String()

	first, err := guard.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, "publisher-1", store.values[key])
	assert.Equal(t, 24*time.Hour, store.ttls[key])

	second, err := guard.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, second)

	holder, err := guard.Holder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "publisher-1", holder)
}

func TestGuardReleaseOnlyOwnMarker(t *testing.T) {
	store := newMemStore()
	t.Setenv("WORKER_ID", "publisher-1")
	mine, err := NewGuard(store, "outbox-publisher", time.Hour)
	require.NoError(t, err)
	t.Setenv("WORKER_ID", "publisher-2")
	theirs, err := NewGuard(store, "outbox-publisher", time.Hour)
	require.NoError(t, err)

	id := uuid.New()
	claimed, err := mine.Claim(context.Background(), id)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, theirs.Release(context.Background(), id))
	holder, _ := mine.Holder(context.Background(), id)
	assert.Equal(t, "publisher-1", holder)

	require.NoError(t, mine.Release(context.Background(), id))
	holder, err = mine.Holder(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, holder)

	// released events can be claimed again
	claimed, err = theirs.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestGuardErrors(t *testing.T) {
	_, err := NewGuard(nil, "", -time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
	assert.Contains(t, err.Error(), "publisher name is required")
	assert.Contains(t, err.Error(), "ttl")

	store := newMemStore()
	guard, err := NewGuard(store, "outbox-publisher", time.Hour)
	require.NoError(t, err)
	_, err = guard.Claim(context.Background(), uuid.Nil)
	assert.Error(t, err)

	store.err = errors.New("redis down")
	_, err = guard.Claim(context.Background(), uuid.New())
	assert.Error(t, err)
	assert.Error(t, guard.Release(context.Background(), uuid.New()))
}
