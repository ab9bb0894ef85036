package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryTier is the bounded, volatile in-process tier (L1).
//
// Entries are kept on an intrusive recency list (front = most recently
// accessed). When the tier is full, the victim is the least recently accessed
// entry whose priority is not high; high priority entries only leave through
// expiry, explicit delete or a tenant clear.
type MemoryTier struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
	cfg   TierConfig
	now   Clock

	evictions   *xsync.Counter
	expirations *xsync.Counter
}

// NewMemoryTier creates an empty L1 tier. A nil clock uses time.Now.
func NewMemoryTier(cfg TierConfig, clock Clock) *MemoryTier {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryTier{
		items:       make(map[string]*list.Element),
		lru:         list.New(),
		cfg:         cfg,
		now:         clock,
		evictions:   xsync.NewCounter(),
		expirations: xsync.NewCounter(),
	}
}

// Get returns a copy of the live entry for key. Expired entries are removed
// and reported as absent.
func (m *MemoryTier) Get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return Entry{}, false
	}

	now := m.now()
	entry := el.Value.(*Entry)
	if entry.Expired(now) {
		m.removeElement(el)
		m.expirations.Inc()
		return Entry{}, false
	}

	entry.AccessCount++
	entry.LastAccess = now
	m.lru.MoveToFront(el)
	return *entry, true
}

// Set stores value under key, resetting any previous metadata for the key.
func (m *MemoryTier) Set(key string, value any, opts EntryOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	entry := &Entry{
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		TTL:        ttl,
		TenantID:   opts.TenantID,
		Priority:   opts.Priority.orDefault(),
		LastAccess: now,
	}

	if el, ok := m.items[key]; ok {
		el.Value = entry
		m.lru.MoveToFront(el)
		return
	}

	if m.cfg.MaxEntries > 0 && len(m.items) >= m.cfg.MaxEntries {
		m.evictOne(now)
	}

	m.items[key] = m.lru.PushFront(entry)
}

// evictOne removes the least recently accessed non-high entry. When every
// resident entry is high priority only expired ones are dropped.
func (m *MemoryTier) evictOne(now time.Time) {
	for el := m.lru.Back(); el != nil; el = el.Prev() {
		if el.Value.(*Entry).Priority != PriorityHigh {
			m.removeElement(el)
			m.evictions.Inc()
			return
		}
	}

	for el := m.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*Entry).Expired(now) {
			m.removeElement(el)
			m.expirations.Inc()
		}
		el = prev
	}
}

// Delete removes key and reports whether it was present.
func (m *MemoryTier) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return false
	}
	m.removeElement(el)
	return true
}

// DeletePrefix removes every key starting with prefix, across tenants.
func (m *MemoryTier) DeletePrefix(prefix string) int {
	return m.deleteWhere(func(e *Entry) bool {
		return strings.HasPrefix(e.Key, prefix)
	})
}

// DeleteTenantPrefix removes keys starting with prefix that belong to tenantID.
func (m *MemoryTier) DeleteTenantPrefix(tenantID, prefix string) int {
	return m.deleteWhere(func(e *Entry) bool {
		return e.TenantID == tenantID && strings.HasPrefix(e.Key, prefix)
	})
}

// ClearTenant removes every entry owned by tenantID.
func (m *MemoryTier) ClearTenant(tenantID string) int {
	return m.deleteWhere(func(e *Entry) bool {
		return e.TenantID == tenantID
	})
}

// Clear drops all entries.
func (m *MemoryTier) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]*list.Element)
	m.lru.Init()
}

// Len returns the number of resident entries, expired ones included.
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Keys returns resident keys from most to least recently accessed.
func (m *MemoryTier) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for el := m.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*Entry).Key)
	}
	return keys
}

// Evictions returns the number of capacity evictions so far.
func (m *MemoryTier) Evictions() int64 {
	return m.evictions.Value()
}

// Expirations returns the number of entries dropped because their TTL passed.
func (m *MemoryTier) Expirations() int64 {
	return m.expirations.Value()
}

func (m *MemoryTier) deleteWhere(match func(*Entry) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for el := m.lru.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*Entry)) {
			m.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

func (m *MemoryTier) removeElement(el *list.Element) {
	entry := el.Value.(*Entry)
	delete(m.items, entry.Key)
	m.lru.Remove(el)
}
