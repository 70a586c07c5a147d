// Package lock provides a best-effort mutual exclusion across leadline replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lock expired or belongs to another holder.
var ErrNotHeld = errors.New("lock not held")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named leases. TryAcquire returns (nil, nil) when the lock is taken.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Redis implements Locker with SET NX PX and a token-checked release.
type Redis struct {
	Client *redis.Client
	Prefix string
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{Client: client, Prefix: "leadline:lock:"}, nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	full := r.Prefix + key
	ok, err := r.Client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return redisLease{client: r.Client, key: full, token: token}, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Local always grants the lease; used when no redis is configured.
type Local struct{}

func (Local) TryAcquire(context.Context, string, time.Duration) (Lease, error) {
	return localLease{}, nil
}

type localLease struct{}

func (localLease) Release(context.Context) error { return nil }
