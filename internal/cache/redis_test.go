package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/direitopremium/lexgen/providers"
)

func TestRedisStore_ImplementsStore(_ *testing.T) {
	var _ Store = (*RedisStore)(nil)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestNewRedisStoreFromClient_DefaultPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = client.Close() }()
	s := NewRedisStoreFromClient(client, "")
	if s.prefix != DefaultRedisPrefix {
		t.Errorf("prefix = %q", s.prefix)
	}
}

func TestRedisStore_PutGet(t *testing.T) {
	url := os.Getenv("LEXGEN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEXGEN_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer func() { _ = s.Close() }()
	s.prefix = "lexgen:test:" + time.Now().Format("150405.000000") + ":"

	now := time.Now().UTC().Truncate(time.Millisecond)
	e := Entry{
		Key:        "direito-penal:furto",
		Kind:       providers.KindText,
		Payload:    []byte("subtrair coisa alheia movel"),
		ProducedAt: now,
		ExpiresAt:  now.Add(time.Minute),
		Source:     Source{Provider: "gemini"},
	}
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get(ctx, e.Key)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(got.Payload) != string(e.Payload) || !got.ExpiresAt.Equal(e.ExpiresAt) {
		t.Errorf("got %+v", got)
	}
	ttl, err := s.client.TTL(ctx, s.prefix+e.Key).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v, %v", ttl, err)
	}

	st, err := s.Stats(ctx)
	if err != nil || st.Entries != 1 || st.Expired != -1 {
		t.Errorf("Stats = %+v, %v", st, err)
	}

	// A row that is already stale is removed instead of written.
	e.ExpiresAt = now.Add(-time.Second)
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("Put stale: %v", err)
	}
	if _, ok, _ := s.Get(ctx, e.Key); ok {
		t.Error("stale put should delete the key")
	}
	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("Get missing = %v, %v", ok, err)
	}
}
