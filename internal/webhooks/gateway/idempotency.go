package gatewaywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/escrow-ledger/pkg/redis"
)

const defaultLeaseTTL = 2 * time.Minute

// DeliveryLease keeps two replicas from dispatching the same event at the
// same time. Completed deliveries are deduplicated by the webhook_events
// table, so a lease only lives while one delivery is being processed.
type DeliveryLease struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewDeliveryLease(store redis.IdempotencyStore, ttl time.Duration, scope string) (*DeliveryLease, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = defaultLeaseTTL
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &DeliveryLease{store: store, ttl: ttl, scope: scope}, nil
}

// Acquire reports whether the caller now owns eventID. A false result means
// another delivery of the same event is in flight.
func (l *DeliveryLease) Acquire(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	acquired, err := l.store.SetNX(ctx, l.store.IdempotencyKey(l.scope, eventID), "1", l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire delivery lease: %w", err)
	}
	return acquired, nil
}

func (l *DeliveryLease) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return l.store.Del(ctx, l.store.IdempotencyKey(l.scope, eventID))
}
