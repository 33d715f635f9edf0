package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/marginguard-backend/pkg/redis"
)

const processedScope = "evt:processed:"

// Manager remembers which queue deliveries a consumer has already handled.
// Keys look like mg:idempotency:evt:processed:<consumer>:<delivery key> and
// hold the time the delivery was first claimed.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager keeps claims for ttl; zero keeps them until deleted.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// CheckAndMarkProcessed claims key for consumer. It reports true when an
// earlier delivery already holds the claim.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error) {
	full, err := m.key(consumer, key)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, full, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Delete drops the claim so a redelivery is processed again.
func (m *Manager) Delete(ctx context.Context, consumer, key string) error {
	full, err := m.key(consumer, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, full)
}

func (m *Manager) key(consumer, key string) (string, error) {
	if consumer == "" || key == "" {
		return "", errors.New("consumer and delivery key are required")
	}
	return m.store.IdempotencyKey(processedScope+consumer, key), nil
}
