package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// defaultLockTTL outlives a slow cycle but frees the lock if the holder dies.
const defaultLockTTL = 30 * time.Minute

// Lock coordinates exclusive cron cycles across replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	LockKey(name string) string
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	GetOptional(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock implements Lock using SETNX with an owner token.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	owner string
}

// NewRedisLock builds a lock named name inside the client's lock namespace.
func NewRedisLock(store lockStore, name string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: store.LockKey(name), ttl: ttl}, nil
}

// Key returns the namespaced redis key.
func (l *RedisLock) Key() string { return l.key }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release drops the key only while this instance still owns it. An expired
// lock picked up by another replica is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, found, err := l.store.GetOptional(ctx, l.key)
	if err != nil {
		return fmt.Errorf("read lock owner: %w", err)
	}
	owner := l.owner
	l.owner = ""
	if !found || value != owner {
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
