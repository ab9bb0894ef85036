package cacheinfra_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-offline-cache/cache"
	"github.com/goliatone/go-offline-cache/internal/cacheinfra"
	"github.com/goliatone/go-offline-cache/pkg/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func entry(key, tenantID string, priority cache.Priority, created time.Time, ttl time.Duration) cache.StoredEntry {
	return cache.StoredEntry{
		Key:        key,
		TenantID:   tenantID,
		Payload:    []byte(key),
		Priority:   priority,
		CreatedAt:  created,
		ExpiresAt:  created.Add(ttl),
		LastAccess: created,
	}
}

func seed(t *testing.T, store *cacheinfra.EntryStore, entries ...cache.StoredEntry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, store.Set(context.Background(), e))
	}
}

func TestEntryStore_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewEntryStore(testsupport.OpenTestDB(t))

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	want := cache.StoredEntry{
		Key:         "tenant:acme::inventory::A1",
		TenantID:    "acme",
		Payload:     []byte{0x01, 0x02, 0x03},
		Priority:    cache.PriorityHigh,
		CreatedAt:   t0,
		ExpiresAt:   t0.Add(time.Hour),
		AccessCount: 3,
		LastAccess:  t0.Add(time.Minute),
	}
	require.NoError(t, store.Set(ctx, want))

	got, ok, err := store.Get(ctx, want.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestEntryStore_SetReplacesExistingRow(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewEntryStore(testsupport.OpenTestDB(t))

	seed(t, store, entry("k", "acme", cache.PriorityLow, t0, time.Minute))

	replacement := entry("k", "globex", cache.PriorityHigh, t0.Add(time.Hour), time.Hour)
	replacement.Payload = []byte("v2")
	require.NoError(t, store.Set(ctx, replacement))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, replacement, got)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEntryStore_Touch(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewEntryStore(testsupport.OpenTestDB(t))
	seed(t, store, entry("k", "", cache.PriorityMedium, t0, time.Hour))

	at := t0.Add(5 * time.Minute)
	require.NoError(t, store.Touch(ctx, "k", at))
	require.NoError(t, store.Touch(ctx, "k", at))
	require.NoError(t, store.Touch(ctx, "missing", at))

	got, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.AccessCount)
	assert.Equal(t, at, got.LastAccess)
}

func TestEntryStore_Deletes(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewEntryStore(testsupport.OpenTestDB(t))

	seed(t, store,
		entry("tenant:a::orders::1", "a", "", t0, time.Hour),
		entry("tenant:a::orders::2", "a", "", t0, time.Hour),
		entry("tenant:a::profile", "a", "", t0, time.Hour),
		entry("tenant:ab::orders::1", "ab", "", t0, time.Hour),
		entry("tenant:b::orders::1", "b", "", t0, time.Hour),
		entry("catalog::1", "", "", t0, time.Hour),
	)

	removed, err := store.Delete(ctx, "catalog::1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Delete(ctx, "catalog::1")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := store.DeleteTenantPrefix(ctx, "a", "tenant:a::orders::")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeleteTenantPrefix(ctx, "a", "tenant:b::")
	require.NoError(t, err)
	assert.Zero(t, n, "rows of another tenant are untouched")

	n, err = store.DeletePrefix(ctx, "tenant:a::")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "tenant:ab:: does not share the tenant:a:: prefix")

	n, err = store.ClearTenant(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := store.Get(ctx, "tenant:ab::orders::1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Clear(ctx))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEntryStore_TrimKeepsHighPriorityAndRecent(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewEntryStore(testsupport.OpenTestDB(t))

	seed(t, store,
		entry("pinned", "", cache.PriorityHigh, t0, time.Hour),
		entry("oldest", "", cache.PriorityLow, t0.Add(time.Second), time.Hour),
		entry("older", "", cache.PriorityMedium, t0.Add(2*time.Second), time.Hour),
		entry("newest", "", cache.PriorityMedium, t0.Add(3*time.Second), time.Hour),
	)

	n, err := store.Trim(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for key, want := range map[string]bool{"pinned": true, "oldest": false, "older": false, "newest": true} {
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, ok, key)
	}

	n, err = store.Trim(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEntryStore_Purge(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewEntryStore(testsupport.OpenTestDB(t))

	now := t0.Add(10 * 24 * time.Hour)
	seed(t, store,
		entry("expired", "", "", now.Add(-2*time.Hour), time.Hour),
		entry("ancient", "", "", now.Add(-8*24*time.Hour), 30*24*time.Hour),
		entry("live", "", "", now.Add(-time.Hour), 24*time.Hour),
	)

	n, err := store.Purge(ctx, now, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := store.Get(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntryStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db := testsupport.OpenFileDB(t, dir)
	seed(t, cacheinfra.NewEntryStore(db), entry("durable", "acme", cache.PriorityHigh, t0, time.Hour))
	require.NoError(t, db.Close())

	db = testsupport.OpenFileDB(t, dir)
	defer db.Close()

	got, ok, err := cacheinfra.NewEntryStore(db).Get(ctx, "durable")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, cache.PriorityHigh, got.Priority)
}

func TestEntryStore_BacksMultiTierCache(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewEntryStore(testsupport.OpenTestDB(t))

	c, err := cache.NewMultiTierCache(cache.DefaultConfig(), store)
	require.NoError(t, err)

	type stock struct {
		SKU string `json:"sku"`
		Qty int    `json:"qty"`
	}
	c.Set(ctx, "stock::A1", stock{SKU: "A1", Qty: 4}, cache.SetOptions{TenantID: "acme"})
	c.L1().Clear()

	got, ok := cache.Get(ctx, c, "stock::A1", cache.GetOptions[stock]{TenantID: "acme"})
	require.True(t, ok)
	assert.Equal(t, stock{SKU: "A1", Qty: 4}, got)

	row, ok, err := store.Get(ctx, "stock::A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, row.AccessCount)
}
