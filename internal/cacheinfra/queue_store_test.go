package cacheinfra_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-offline-cache/internal/cacheinfra"
	"github.com/goliatone/go-offline-cache/offline"
	"github.com/goliatone/go-offline-cache/pkg/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueItem(id, tenantID string) offline.QueueItem {
	return offline.QueueItem{
		ID:         id,
		Operation:  offline.Mutation("updateInventory", map[string]any{"source": "pos"}),
		Variables:  map[string]any{"sku": "A1", "qty": 5, "meta": map[string]any{"note": "recount"}},
		EnqueuedAt: t0,
		MaxRetries: 3,
		TenantID:   tenantID,
	}
}

func TestQueueStore_InsertLoadPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewQueueStore(testsupport.OpenTestDB(t))

	ids := []string{"z", "a", "m"}
	for _, id := range ids {
		require.NoError(t, store.Insert(ctx, queueItem(id, "acme")))
	}

	items, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, id := range ids {
		assert.Equal(t, id, items[i].ID)
	}
}

func TestQueueStore_RoundTripDecodesLoosely(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewQueueStore(testsupport.OpenTestDB(t))
	require.NoError(t, store.Insert(ctx, queueItem("q1", "acme")))

	items, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, offline.KindMutation, got.Operation.Kind)
	assert.Equal(t, "updateInventory", got.Operation.Name)
	assert.Equal(t, map[string]any{"source": "pos"}, got.Operation.Payload)
	assert.Equal(t, "A1", got.Variables["sku"])
	assert.Equal(t, int64(5), got.Variables["qty"], "integers come back as int64")
	assert.Equal(t, map[string]any{"note": "recount"}, got.Variables["meta"])
	assert.Equal(t, t0, got.EnqueuedAt)
	assert.Equal(t, 3, got.MaxRetries)
	assert.Equal(t, "acme", got.TenantID)
}

func TestQueueStore_NilPayloadAndVariables(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewQueueStore(testsupport.OpenTestDB(t))

	item := offline.QueueItem{ID: "bare", Operation: offline.Mutation("ping", nil), EnqueuedAt: t0, MaxRetries: 1}
	require.NoError(t, store.Insert(ctx, item))

	items, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Operation.Payload)
	assert.Nil(t, items[0].Variables)
}

func TestQueueStore_UpdateRetryAndDelete(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewQueueStore(testsupport.OpenTestDB(t))
	require.NoError(t, store.Insert(ctx, queueItem("q1", "acme")))

	require.NoError(t, store.UpdateRetry(ctx, "q1", 2, "502 bad gateway"))
	items, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, items[0].RetryCount)
	assert.Equal(t, "502 bad gateway", items[0].LastError)

	require.NoError(t, store.Delete(ctx, "q1"))
	items, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.ErrorIs(t, store.Delete(ctx, "q1"), offline.ErrNotFound)
	assert.ErrorIs(t, store.UpdateRetry(ctx, "q1", 1, ""), offline.ErrNotFound)
}

func TestQueueStore_RejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewQueueStore(testsupport.OpenTestDB(t))

	require.NoError(t, store.Insert(ctx, queueItem("q1", "acme")))
	assert.Error(t, store.Insert(ctx, queueItem("q1", "acme")))
}

func TestQueueStore_CountTenant(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewQueueStore(testsupport.OpenTestDB(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Insert(ctx, queueItem(fmt.Sprintf("a%d", i), "acme")))
	}
	require.NoError(t, store.Insert(ctx, queueItem("g0", "globex")))

	n, err := store.CountTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestQueueStore_QueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db := testsupport.OpenFileDB(t, dir)
	queue, err := offline.OpenQueue(ctx, cacheinfra.NewQueueStore(db))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		item := queueItem(fmt.Sprintf("op-%d", i), "acme")
		item.EnqueuedAt = t0.Add(time.Duration(i) * time.Second)
		require.NoError(t, queue.Enqueue(ctx, item))
	}
	_, err = queue.IncrementRetry(ctx, "op-1", "timeout")
	require.NoError(t, err)
	require.NoError(t, queue.Remove(ctx, "op-0"))
	require.NoError(t, db.Close())

	db = testsupport.OpenFileDB(t, dir)
	defer db.Close()
	reopened, err := offline.OpenQueue(ctx, cacheinfra.NewQueueStore(db))
	require.NoError(t, err)

	items := reopened.All()
	require.Len(t, items, 2)
	assert.Equal(t, "op-1", items[0].ID)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, "timeout", items[0].LastError)
	assert.Equal(t, "op-2", items[1].ID)
}

func TestQueueStore_NormalizeMatchesLoad(t *testing.T) {
	ctx := context.Background()
	store := cacheinfra.NewQueueStore(testsupport.OpenTestDB(t))

	item := queueItem("q1", "acme")
	item.EnqueuedAt = t0.Add(1500 * time.Microsecond)
	normalized, err := store.Normalize(item)
	require.NoError(t, err)
	assert.Equal(t, int64(5), normalized.Variables["qty"])

	require.NoError(t, store.Insert(ctx, item))
	items, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, items[0], normalized)
}

func TestQueueStore_QueueMirrorsStoredForm(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db := testsupport.OpenFileDB(t, dir)
	queue, err := offline.OpenQueue(ctx, cacheinfra.NewQueueStore(db))
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, queueItem("q1", "acme")))

	live, ok := queue.Get("q1")
	require.True(t, ok)
	require.NoError(t, db.Close())

	db = testsupport.OpenFileDB(t, dir)
	defer db.Close()
	reopened, err := offline.OpenQueue(ctx, cacheinfra.NewQueueStore(db))
	require.NoError(t, err)

	restored, ok := reopened.Get("q1")
	require.True(t, ok)
	assert.Equal(t, restored.Variables, live.Variables)
	assert.Equal(t, restored.Operation, live.Operation)
	assert.IsType(t, int64(0), live.Variables["qty"])
}

func TestQueueStore_NormalizeRejectsUnencodableVariables(t *testing.T) {
	store := cacheinfra.NewQueueStore(testsupport.OpenTestDB(t))

	item := queueItem("q1", "acme")
	item.Variables = map[string]any{"callback": func() {}}
	_, err := store.Normalize(item)
	assert.Error(t, err)

	queue, err := offline.OpenQueue(context.Background(), store)
	require.NoError(t, err)
	err = queue.Enqueue(context.Background(), item)
	assert.ErrorIs(t, err, offline.ErrInvalidOperation)
	assert.Zero(t, queue.Size())
}
