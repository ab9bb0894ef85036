package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var errStoreDown = errors.New("disk I/O error")

// memStore is an in-memory PersistentStore. Setting fail makes every call
// return errStoreDown.
type memStore struct {
	mu      sync.Mutex
	entries map[string]StoredEntry
	fail    bool
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]StoredEntry)}
}

func (s *memStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *memStore) put(entry StoredEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
}

func (s *memStore) Get(ctx context.Context, key string) (StoredEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return StoredEntry{}, false, errStoreDown
	}
	entry, ok := s.entries[key]
	return entry, ok, nil
}

func (s *memStore) Set(ctx context.Context, entry StoredEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	s.entries[entry.Key] = entry
	return nil
}

func (s *memStore) Touch(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	if entry, ok := s.entries[key]; ok {
		entry.LastAccess = at
		entry.AccessCount++
		s.entries[key] = entry
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, errStoreDown
	}
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

func (s *memStore) deleteWhere(match func(StoredEntry) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errStoreDown
	}
	n := 0
	for key, entry := range s.entries {
		if match(entry) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return s.deleteWhere(func(e StoredEntry) bool { return strings.HasPrefix(e.Key, prefix) })
}

func (s *memStore) DeleteTenantPrefix(ctx context.Context, tenantID, prefix string) (int, error) {
	return s.deleteWhere(func(e StoredEntry) bool {
		return e.TenantID == tenantID && strings.HasPrefix(e.Key, prefix)
	})
}

func (s *memStore) ClearTenant(ctx context.Context, tenantID string) (int, error) {
	return s.deleteWhere(func(e StoredEntry) bool { return e.TenantID == tenantID })
}

func (s *memStore) Clear(ctx context.Context) error {
	_, err := s.deleteWhere(func(StoredEntry) bool { return true })
	return err
}

func (s *memStore) Trim(ctx context.Context, maxEntries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errStoreDown
	}

	excess := len(s.entries) - maxEntries
	if excess <= 0 {
		return 0, nil
	}

	var victims []StoredEntry
	for _, entry := range s.entries {
		if entry.Priority != PriorityHigh {
			victims = append(victims, entry)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].LastAccess.Before(victims[j].LastAccess)
	})

	n := 0
	for _, victim := range victims {
		if n == excess {
			break
		}
		delete(s.entries, victim.Key)
		n++
	}
	return n, nil
}

func (s *memStore) Purge(ctx context.Context, now, createdBefore time.Time) (int, error) {
	return s.deleteWhere(func(e StoredEntry) bool {
		return e.Expired(now) || e.CreatedAt.Before(createdBefore)
	})
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// stepClock is a manually advanced Clock.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
