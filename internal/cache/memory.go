package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is a bounded in-memory LRU with per-entry TTL. Expired entries are
// dropped lazily on read; capacity eviction runs the on-evict hook so the
// owner can flush state that only lived in the cache.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	onEvict    EvictFunc
	order      *list.List
	entries    map[string]*list.Element

	// now is swappable for TTL tests.
	now func() int64
}

type memoryEntry struct {
	key      string
	value    any
	expireAt int64
}

// NewMemory creates an LRU holding at most maxEntries items (0 means
// unbounded). onEvict may be nil.
func NewMemory(maxEntries int, onEvict EvictFunc) *Memory {
	return &Memory{
		maxEntries: maxEntries,
		onEvict:    onEvict,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// SetOnEvict registers the eviction hook after construction.
func (m *Memory) SetOnEvict(fn EvictFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if entry.expireAt != 0 && entry.expireAt <= m.now() {
		m.order.Remove(elem)
		delete(m.entries, key)
		return nil, false, nil
	}
	m.order.MoveToFront(elem)
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, expireAt int64) error {
	m.mu.Lock()
	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expireAt = expireAt
		m.order.MoveToFront(elem)
		m.mu.Unlock()
		return nil
	}
	elem := m.order.PushFront(&memoryEntry{key: key, value: value, expireAt: expireAt})
	m.entries[key] = elem

	var evicted *memoryEntry
	if m.maxEntries > 0 && m.order.Len() > m.maxEntries {
		if oldest := m.order.Back(); oldest != nil {
			evicted = oldest.Value.(*memoryEntry)
			m.order.Remove(oldest)
			delete(m.entries, evicted.key)
		}
	}
	hook := m.onEvict
	m.mu.Unlock()

	// Outside the lock so the hook may touch the cache again.
	if evicted != nil && hook != nil {
		hook(evicted.key, evicted.value)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[key]; ok {
		m.order.Remove(elem)
		delete(m.entries, key)
	}
	return nil
}

// Len reports the live entry count, expired entries included until read.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
