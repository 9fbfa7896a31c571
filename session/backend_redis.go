package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrebq/turnstile/store"
	"github.com/redis/go-redis/v9"
)

type RedisBackend struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

const DefaultRedisPrefix = "turnstile:sess:"

// ConnectRedis accepts either a redis:// url or a plain host:port. The
// client honors context deadlines, which bound every backend call.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opt := &redis.Options{Addr: redisURL}
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		var err error
		opt, err = redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("unable to parse redis url, cause %w", err)
		}
	}
	opt.ContextTimeoutEnabled = true
	return redis.NewClient(opt), nil
}

// NewRedisBackend stores each session under prefix+id with a TTL matching
// its expiration, so redis evicts them without a janitor.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, timeout: store.DefaultTimeout, now: time.Now}
}

func (r *RedisBackend) Get(ctx context.Context, id string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	buf, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, store.MarkUnavailable("redis get", err)
	}
	return decodeRecord(id, buf)
}

func (r *RedisBackend) Put(ctx context.Context, rec Record) error {
	ttl := rec.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, rec.ID)
	}
	ctx, cancel := r.writeContext(ctx)
	defer cancel()
	err := r.client.Set(ctx, r.prefix+rec.ID, encodeRecord(rec), ttl).Err()
	return store.MarkUnavailable("redis set", err)
}

func (r *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.writeContext(ctx)
	defer cancel()
	return store.MarkUnavailable("redis del", r.client.Del(ctx, r.prefix+id).Err())
}

// Purge is a no-op, redis expires keys on its own.
func (r *RedisBackend) Purge(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return store.MarkUnavailable("redis ping", r.client.Ping(ctx).Err())
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}
