// Package runlock keeps two reconciliation runs from writing the same store
// at once.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another run holds the lock.
var ErrHeld = errors.New("lock held by another run")

// Unlock releases a held lock.
type Unlock func(context.Context) error

// Locker acquires a named lock.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Noop is a Locker that always succeeds. It is used when no lock backend is
// configured.
type Noop struct{}

// Lock implements Locker.
func (Noop) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis locks with SET NX and a TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Locker on client. Keys are prefixed with prefix.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	k := r.prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", k, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire lock %s: %w", k, ErrHeld)
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", k, err)
		}
		return nil
	}, nil
}

// Open returns a Redis Locker for addr, or Noop when addr is empty.
func Open(addr, password string, db int, prefix string, ttl time.Duration) Locker {
	if addr == "" {
		return Noop{}
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return NewRedis(client, prefix, ttl)
}
