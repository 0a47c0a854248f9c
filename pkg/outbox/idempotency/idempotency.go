// Package idempotency stops an outbox publisher from sending the same event
// twice when the write that marks it published fails.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/instance"
	"github.com/angelmondragon/marketpay-backend/pkg/redis"
)

// Guard holds one delivery marker per event, written with SET NX under
// <prefix>:idempotency:evt:published:<publisher>:<event_id>. The marker's
// value names the process that claimed it.
type Guard struct {
	store  redis.IdempotencyStore
	scope  string
	holder string
	ttl    time.Duration
}

func NewGuard(store redis.IdempotencyStore, publisher string, ttl time.Duration) (*Guard, error) {
	var errs []error
	if store == nil {
		errs = append(errs, errors.New("idempotency store is required"))
	}
	if publisher == "" {
		errs = append(errs, errors.New("publisher name is required"))
	}
	if ttl < 0 {
		errs = append(errs, errors.New("ttl must be non-negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Guard{store: store, scope: "evt:published:" + publisher, holder: instance.GetID(), ttl: ttl}, nil
}

// Claim reports whether this process now owns delivery of eventID. False
// means an earlier attempt already delivered it.
func (g *Guard) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, g.holder, g.ttl)
}

// Holder names the process that claimed eventID, or "" when unclaimed.
func (g *Guard) Holder(ctx context.Context, eventID uuid.UUID) (string, error) {
	key, err := g.key(eventID)
	if err != nil {
		return "", err
	}
	holder, err := g.store.Get(ctx, key)
	if errors.Is(err, redis.ErrNil) {
		return "", nil
	}
	return holder, err
}

// Release drops a marker this process holds so the next poll retries the
// event. Markers held by another process are left alone.
func (g *Guard) Release(ctx context.Context, eventID uuid.UUID) error {
	holder, err := g.Holder(ctx, eventID)
	if err != nil || holder != g.holder {
		return err
	}
	key, _ := g.key(eventID)
	return g.store.Del(ctx, key)
}

func (g *Guard) key(eventID uuid.UUID) (string, error) {
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(g.scope, eventID.String()), nil
}
