package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/direitopremium/lexgen/providers"
)

func TestMemory_ImplementsStore(_ *testing.T) {
	var _ Store = (*Memory)(nil)
}

func TestMemory_PutAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	now := time.Now()

	err := m.Put(ctx, Entry{
		Key:       "direito-penal:furto",
		Kind:      providers.KindText,
		Payload:   []byte("subtrair coisa alheia"),
		ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := m.Get(ctx, "direito-penal:furto")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want hit", ok, err)
	}
	if string(got.Payload) != "subtrair coisa alheia" {
		t.Errorf("payload = %q", got.Payload)
	}
}

func TestMemory_Miss(t *testing.T) {
	m := NewMemory(10)
	_, ok, err := m.Get(context.Background(), "nonexistent")
	if ok || err != nil {
		t.Fatalf("Get = %v, %v; want miss", ok, err)
	}
}

func TestMemory_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	_ = m.Put(ctx, Entry{Key: "k", Payload: []byte("old")})
	_ = m.Put(ctx, Entry{Key: "k", Payload: []byte("new")})

	got, _, _ := m.Get(ctx, "k")
	if string(got.Payload) != "new" {
		t.Errorf("payload = %q, want new", got.Payload)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestMemory_ReturnsStaleRows(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	_ = m.Put(ctx, Entry{Key: "k", ExpiresAt: time.Now().Add(-time.Hour)})

	got, ok, _ := m.Get(ctx, "k")
	if !ok {
		t.Fatal("store should hand back stale rows; freshness is decided by ReadThrough")
	}
	if !got.Expired(time.Now()) {
		t.Error("expected row to be expired")
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	_ = m.Put(ctx, Entry{Key: "a"})
	_ = m.Put(ctx, Entry{Key: "b"})
	_, _, _ = m.Get(ctx, "a") // a becomes most recent
	_ = m.Put(ctx, Entry{Key: "c"})

	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok, _ := m.Get(ctx, k); !ok {
			t.Errorf("%s should still be present", k)
		}
	}
}

func TestMemory_PayloadIsCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	payload := []byte("abc")
	_ = m.Put(ctx, Entry{Key: "k", Payload: payload})
	payload[0] = 'X'

	got, _, _ := m.Get(ctx, "k")
	got.Payload[1] = 'Y'
	again, _, _ := m.Get(ctx, "k")
	if string(again.Payload) != "abc" {
		t.Errorf("payload = %q, want abc", again.Payload)
	}
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	_ = m.Put(ctx, Entry{Key: "k"})
	m.Delete("k")
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestMemory_Stats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	_ = m.Put(ctx, Entry{Key: "fresh", ExpiresAt: now.Add(time.Hour)})
	_ = m.Put(ctx, Entry{Key: "stale", ExpiresAt: now.Add(-time.Hour)})

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Backend != "memory" || st.Entries != 2 || st.Expired != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestMemory_DefaultCapacity(t *testing.T) {
	m := NewMemory(0)
	if m.capacity != DefaultMemoryCapacity {
		t.Errorf("capacity = %d, want %d", m.capacity, DefaultMemoryCapacity)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			_ = m.Put(ctx, Entry{Key: key, Payload: []byte(key)})
			_, _, _ = m.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	if m.Len() != 10 {
		t.Errorf("Len = %d, want 10", m.Len())
	}
}
