package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// PersistentStore is the durable backend behind the L2 tier. Implementations
// report storage faults as errors; the tier converts them into misses.
type PersistentStore interface {
	Get(ctx context.Context, key string) (StoredEntry, bool, error)
	Set(ctx context.Context, entry StoredEntry) error
	Touch(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) (bool, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	DeleteTenantPrefix(ctx context.Context, tenantID, prefix string) (int, error)
	ClearTenant(ctx context.Context, tenantID string) (int, error)
	Clear(ctx context.Context) error
	// Trim deletes the least recently accessed non-high rows beyond maxEntries.
	Trim(ctx context.Context, maxEntries int) (int, error)
	// Purge deletes rows expired at now or created before createdBefore.
	Purge(ctx context.Context, now, createdBefore time.Time) (int, error)
}

// persistentTier is the L2 tier boundary: nothing below it may surface an
// error to callers of the cache.
type persistentTier struct {
	store  PersistentStore
	cfg    TierConfig
	now    Clock
	logger *zap.Logger
	faults *xsync.Counter
}

func newPersistentTier(store PersistentStore, cfg TierConfig, clock Clock, logger *zap.Logger) *persistentTier {
	return &persistentTier{
		store:  store,
		cfg:    cfg,
		now:    clock,
		logger: logger.Named("l2"),
		faults: xsync.NewCounter(),
	}
}

func (t *persistentTier) get(ctx context.Context, key string) (StoredEntry, bool) {
	entry, ok, err := t.store.Get(ctx, key)
	if err != nil {
		t.fault("get", key, err)
		return StoredEntry{}, false
	}
	if !ok {
		return StoredEntry{}, false
	}

	now := t.now()
	if entry.Expired(now) {
		t.delete(ctx, key)
		return StoredEntry{}, false
	}

	if err := t.store.Touch(ctx, key, now); err != nil {
		t.fault("touch", key, err)
	}
	entry.AccessCount++
	entry.LastAccess = now
	return entry, true
}

func (t *persistentTier) set(ctx context.Context, key string, payload []byte, opts EntryOptions) {
	now := t.now()
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = t.cfg.DefaultTTL
	}

	entry := StoredEntry{
		Key:        key,
		TenantID:   opts.TenantID,
		Payload:    payload,
		Priority:   opts.Priority.orDefault(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
	}

	if err := t.store.Set(ctx, entry); err != nil {
		t.fault("set", key, err)
		return
	}

	if _, err := t.store.Trim(ctx, t.cfg.MaxEntries); err != nil {
		t.fault("trim", key, err)
	}
}

func (t *persistentTier) delete(ctx context.Context, key string) bool {
	ok, err := t.store.Delete(ctx, key)
	if err != nil {
		t.fault("delete", key, err)
		return false
	}
	return ok
}

func (t *persistentTier) deletePrefix(ctx context.Context, prefix string) int {
	n, err := t.store.DeletePrefix(ctx, prefix)
	if err != nil {
		t.fault("delete_prefix", prefix, err)
	}
	return n
}

func (t *persistentTier) deleteTenantPrefix(ctx context.Context, tenantID, prefix string) int {
	n, err := t.store.DeleteTenantPrefix(ctx, tenantID, prefix)
	if err != nil {
		t.fault("delete_tenant_prefix", prefix, err, zap.String("tenant_id", tenantID))
	}
	return n
}

func (t *persistentTier) clearTenant(ctx context.Context, tenantID string) int {
	n, err := t.store.ClearTenant(ctx, tenantID)
	if err != nil {
		t.fault("clear_tenant", "", err, zap.String("tenant_id", tenantID))
	}
	return n
}

func (t *persistentTier) clear(ctx context.Context) {
	if err := t.store.Clear(ctx); err != nil {
		t.fault("clear", "", err)
	}
}

func (t *persistentTier) cleanup(ctx context.Context, retention time.Duration) int {
	now := t.now()
	n, err := t.store.Purge(ctx, now, now.Add(-retention))
	if err != nil {
		t.fault("purge", "", err)
		return 0
	}
	return n
}

func (t *persistentTier) fault(op, key string, err error, fields ...zap.Field) {
	t.faults.Inc()
	fields = append(fields,
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
	t.logger.Warn("persistent tier fault, degrading to miss", fields...)
}
