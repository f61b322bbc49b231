package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys inside a shared Redis.
const DefaultRedisPrefix = "lexgen:cache:"

// RedisStore keeps entries as JSON values whose Redis TTL is the entry's
// remaining lifetime, so Redis drops stale rows on its own.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis cache store: %w", err)
	}
	return &RedisStore{client: client, prefix: DefaultRedisPrefix, now: time.Now}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("cache get: decode entry: %w", err)
	}
	return e, true, nil
}

// Put implements Store. Entries that are already stale are deleted instead.
func (r *RedisStore) Put(ctx context.Context, e Entry) error {
	ttl := e.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		if err := r.client.Del(ctx, r.prefix+e.Key).Err(); err != nil {
			return fmt.Errorf("cache put: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache put: encode entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+e.Key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats implements Store by scanning the prefix.
func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: "redis", Expired: -1}
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 500).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("cache stats: %w", err)
		}
		st.Entries += int64(len(keys))
		if next == 0 {
			return st, nil
		}
		cursor = next
	}
}

// Close closes the client.
func (r *RedisStore) Close() error { return r.client.Close() }
