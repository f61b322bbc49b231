package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds Memory when no capacity is given.
const DefaultMemoryCapacity = 1000

// Memory is a thread-safe in-memory LRU store. Expiry comes from each
// entry's ExpiresAt; the least recently used row is evicted when full.
type Memory struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	evictList *list.List
	now       func() time.Time
}

// NewMemory creates a new in-memory LRU store.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		now:       time.Now,
	}
}

// Get returns the stored entry for key.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	m.evictList.MoveToFront(elem)
	return cloneEntry(*elem.Value.(*Entry)), true, nil
}

// Put inserts or replaces the entry for e.Key.
func (m *Memory) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e = cloneEntry(e)
	if elem, ok := m.items[e.Key]; ok {
		m.evictList.MoveToFront(elem)
		*elem.Value.(*Entry) = e
		return nil
	}

	if m.evictList.Len() >= m.capacity {
		m.removeOldest()
	}
	m.items[e.Key] = m.evictList.PushFront(&e)
	return nil
}

// Delete removes an entry.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

// Len returns the number of stored entries, stale ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Stats implements Store.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var expired int64
	for e := m.evictList.Front(); e != nil; e = e.Next() {
		if e.Value.(*Entry).Expired(now) {
			expired++
		}
	}
	return Stats{Backend: "memory", Entries: int64(m.evictList.Len()), Expired: expired}, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func (m *Memory) removeOldest() {
	elem := m.evictList.Back()
	if elem != nil {
		m.removeElement(elem)
	}
}

func (m *Memory) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	delete(m.items, elem.Value.(*Entry).Key)
}

// cloneEntry copies the payload so callers cannot mutate stored bytes.
func cloneEntry(e Entry) Entry {
	e.Payload = append([]byte(nil), e.Payload...)
	return e
}
