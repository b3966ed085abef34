package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/stravasync/internal/logging"
)

const (
	DefaultLeaseTTL     = 30 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by every replica talking to the same
// server. The lease must outlast one refresh round-trip.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	interval time.Duration
	logger   logging.Logger
}

type RedisOption func(*Redis)

func WithLeaseTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) { r.interval = d }
}

func WithLogger(l logging.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

func NewRedis(client redis.UniversalClient, prefix string, opts ...RedisOption) *Redis {
	r := &Redis{
		client:   client,
		prefix:   prefix,
		ttl:      DefaultLeaseTTL,
		interval: DefaultPollInterval,
		logger:   logging.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	full := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", full, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be cancelled
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.ttl)
			defer cancel()

			n, err := releaseScript.Run(ctx, r.client, []string{full}, token).Int()
			switch {
			case err != nil:
				r.logger.Warn(ctx, "lock release failed", "key", full, "error", err)
			case n == 0:
				r.logger.Warn(ctx, "lock release failed", "key", full, "error", ErrNotHeld)
			}
		})
	}, nil
}
