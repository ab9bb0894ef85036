package cacheinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-offline-cache/cache"
	"github.com/uptrace/bun"
)

var _ cache.PersistentStore = (*EntryStore)(nil)

type entryModel struct {
	bun.BaseModel `bun:"table:cache_entries,alias:ce"`

	Key         string `bun:"cache_key,pk"`
	TenantID    string `bun:"tenant_id,notnull"`
	Payload     []byte `bun:"payload"`
	Priority    string `bun:"priority,notnull"`
	CreatedAt   int64  `bun:"created_at,notnull"`
	ExpiresAt   int64  `bun:"expires_at,notnull"`
	AccessCount int64  `bun:"access_count,notnull"`
	LastAccess  int64  `bun:"last_access,notnull"`
}

func (m entryModel) toEntry() cache.StoredEntry {
	return cache.StoredEntry{
		Key:         m.Key,
		TenantID:    m.TenantID,
		Payload:     m.Payload,
		Priority:    cache.ParsePriority(m.Priority),
		CreatedAt:   fromMillis(m.CreatedAt),
		ExpiresAt:   fromMillis(m.ExpiresAt),
		AccessCount: m.AccessCount,
		LastAccess:  fromMillis(m.LastAccess),
	}
}

// EntryStore persists L2 cache entries in the cache_entries table.
type EntryStore struct {
	db bun.IDB
}

// NewEntryStore wraps an opened database.
func NewEntryStore(db bun.IDB) *EntryStore {
	return &EntryStore{db: db}
}

// Get implements cache.PersistentStore.
func (s *EntryStore) Get(ctx context.Context, key string) (cache.StoredEntry, bool, error) {
	var m entryModel
	err := s.db.NewSelect().Model(&m).Where("cache_key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.StoredEntry{}, false, nil
	}
	if err != nil {
		return cache.StoredEntry{}, false, fmt.Errorf("select entry: %w", err)
	}
	return m.toEntry(), true, nil
}

// Set implements cache.PersistentStore. Existing rows are replaced.
func (s *EntryStore) Set(ctx context.Context, entry cache.StoredEntry) error {
	m := &entryModel{
		Key:         entry.Key,
		TenantID:    entry.TenantID,
		Payload:     entry.Payload,
		Priority:    string(entry.Priority),
		CreatedAt:   toMillis(entry.CreatedAt),
		ExpiresAt:   toMillis(entry.ExpiresAt),
		AccessCount: entry.AccessCount,
		LastAccess:  toMillis(entry.LastAccess),
	}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (cache_key) DO UPDATE").
		Set("tenant_id = EXCLUDED.tenant_id").
		Set("payload = EXCLUDED.payload").
		Set("priority = EXCLUDED.priority").
		Set("created_at = EXCLUDED.created_at").
		Set("expires_at = EXCLUDED.expires_at").
		Set("access_count = EXCLUDED.access_count").
		Set("last_access = EXCLUDED.last_access").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// Touch implements cache.PersistentStore.
func (s *EntryStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*entryModel)(nil)).
		Set("access_count = access_count + 1").
		Set("last_access = ?", toMillis(at)).
		Where("cache_key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touch entry: %w", err)
	}
	return nil
}

// Delete implements cache.PersistentStore.
func (s *EntryStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.deleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("cache_key = ?", key)
	})
	return n > 0, err
}

// DeletePrefix implements cache.PersistentStore using a key range scan.
func (s *EntryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return s.deleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return wherePrefix(q, prefix)
	})
}

// DeleteTenantPrefix implements cache.PersistentStore.
func (s *EntryStore) DeleteTenantPrefix(ctx context.Context, tenantID, prefix string) (int, error) {
	return s.deleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return wherePrefix(q.Where("tenant_id = ?", tenantID), prefix)
	})
}

// ClearTenant implements cache.PersistentStore.
func (s *EntryStore) ClearTenant(ctx context.Context, tenantID string) (int, error) {
	return s.deleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("tenant_id = ?", tenantID)
	})
}

// Clear implements cache.PersistentStore.
func (s *EntryStore) Clear(ctx context.Context) error {
	_, err := s.deleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("1 = 1")
	})
	return err
}

// Trim implements cache.PersistentStore.
func (s *EntryStore) Trim(ctx context.Context, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}

	total, err := s.db.NewSelect().Model((*entryModel)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	excess := total - maxEntries
	if excess <= 0 {
		return 0, nil
	}

	victims := s.db.NewSelect().
		Model((*entryModel)(nil)).
		Column("cache_key").
		Where("priority != ?", string(cache.PriorityHigh)).
		OrderExpr("last_access ASC").
		Limit(excess)

	return s.deleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("cache_key IN (?)", victims)
	})
}

// Purge implements cache.PersistentStore.
func (s *EntryStore) Purge(ctx context.Context, now, createdBefore time.Time) (int, error) {
	return s.deleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("expires_at < ? OR created_at < ?", toMillis(now), toMillis(createdBefore))
	})
}

// Count returns the number of stored rows.
func (s *EntryStore) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*entryModel)(nil)).Count(ctx)
}

func (s *EntryStore) deleteWhere(ctx context.Context, where func(*bun.DeleteQuery) *bun.DeleteQuery) (int, error) {
	res, err := where(s.db.NewDelete().Model((*entryModel)(nil))).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// wherePrefix restricts q to keys in [prefix, prefixUpperBound(prefix)) so
// SQLite can answer from the primary key index.
func wherePrefix(q *bun.DeleteQuery, prefix string) *bun.DeleteQuery {
	if prefix == "" {
		return q.Where("1 = 1")
	}
	q = q.Where("cache_key >= ?", prefix)
	if upper, ok := prefixUpperBound(prefix); ok {
		q = q.Where("cache_key < ?", upper)
	}
	return q
}

// prefixUpperBound returns the smallest string greater than every string
// starting with prefix. ok is false when no such bound exists.
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
