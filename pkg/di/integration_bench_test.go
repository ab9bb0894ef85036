package di

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-offline-cache/cache"
	"github.com/goliatone/go-offline-cache/internal/cacheinfra"
	"github.com/goliatone/go-offline-cache/offline"
	"github.com/goliatone/go-offline-cache/offlinecache"
	"github.com/goliatone/go-offline-cache/pkg/testsupport"
)

// TestConcurrentAccess tests concurrent reads through the facade
func TestConcurrentAccess(t *testing.T) {
	svc := newMockInventoryService()
	for i := 0; i < 100; i++ {
		svc.seed("acme", fmt.Sprintf("sku-%d", i), i)
	}
	container := newTestContainer(t, memoryConfig(), svc, WithRegistry(inventoryRules()))
	facade := container.Facade()

	ctx := context.Background()
	const numGoroutines = 50
	const operationsPerGoroutine = 20

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*operationsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for j := 0; j < operationsPerGoroutine; j++ {
				n := (workerID*operationsPerGoroutine + j) % 100
				sku := fmt.Sprintf("sku-%d", n)

				item, err := offlinecache.GetOrFetch(ctx, facade, "item::"+sku, svc.GetItem("acme", sku),
					offlinecache.ReadOptions[Item]{TenantID: "acme"})
				if err != nil {
					errs <- fmt.Errorf("worker %d operation %d failed: %v", workerID, j, err)
					continue
				}
				if item.Quantity != n {
					errs <- fmt.Errorf("worker %d read %s = %d, want %d", workerID, sku, item.Quantity, n)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	var errorCount int
	for err := range errs {
		t.Error(err)
		errorCount++
		if errorCount > 10 {
			t.Error("... and more errors")
			break
		}
	}
	if errorCount > 0 {
		t.Fatalf("Concurrent access test failed with %d errors", errorCount)
	}

	totalOperations := numGoroutines * operationsPerGoroutine
	loads := svc.getCallCount("GetItem")
	if loads >= totalOperations {
		t.Errorf("Expected cache to reduce origin reads: got %d loads for %d operations", loads, totalOperations)
	}

	t.Logf("Concurrent test completed: %d operations resulted in %d origin reads (%.1f%% hit rate)",
		totalOperations, loads, float64(totalOperations-loads)/float64(totalOperations)*100)
}

// TestConcurrentQueueAndSync queues writes from many goroutines while replay
// passes run, then checks every write landed exactly once.
func TestConcurrentQueueAndSync(t *testing.T) {
	executor := testsupport.NewRecordingExecutor()
	config := memoryConfig()
	config.StartOnline = false
	container := newTestContainer(t, config, executor)
	facade := container.Facade()

	ctx := context.Background()
	const writers = 10
	const writesPerWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writesPerWriter; i++ {
				_, err := facade.Mutate(ctx, offline.Mutation("updateInventory", nil),
					map[string]any{"writer": w, "seq": i}, offlinecache.MutateOptions{TenantID: "acme"})
				if err != nil {
					t.Errorf("Mutate() failed: %v", err)
				}
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		facade.SetOnline(true)
	}()
	wg.Wait()

	// Anything queued after the reconnect pass is picked up here.
	facade.SyncNow(ctx)

	if size := container.SyncManager().Queue().Size(); size != 0 {
		t.Fatalf("Expected empty queue, %d items left", size)
	}

	seen := make(map[string]int)
	for _, call := range executor.Calls() {
		seen[fmt.Sprintf("%v/%v", call.Variables["writer"], call.Variables["seq"])]++
	}
	if len(seen) != writers*writesPerWriter {
		t.Errorf("Expected %d distinct writes, got %d", writers*writesPerWriter, len(seen))
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("Write %s executed %d times", key, n)
		}
	}
}

// TestTTLExpiryIntegration checks that an expired L1 entry is refilled from L2
// and an entry expired in both tiers goes back to the origin.
func TestTTLExpiryIntegration(t *testing.T) {
	ctx := context.Background()
	clock := testsupport.NewManualClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	cfg := cache.DefaultConfig()
	cfg.L1.DefaultTTL = time.Minute
	cfg.L2.DefaultTTL = time.Hour

	db := testsupport.OpenTestDB(t)
	c, err := cache.NewMultiTierCache(cfg, cacheinfra.NewEntryStore(db), cache.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewMultiTierCache() failed: %v", err)
	}

	loads := 0
	load := func(context.Context) (string, error) {
		loads++
		return fmt.Sprintf("v%d", loads), nil
	}

	get := func() string {
		v, err := cache.GetOrFetch(ctx, c, "report", load, cache.GetOptions[string]{})
		if err != nil {
			t.Fatalf("GetOrFetch() failed: %v", err)
		}
		return v
	}

	if got := get(); got != "v1" {
		t.Fatalf("Expected v1, got %s", got)
	}

	clock.Advance(2 * time.Minute)
	if got := get(); got != "v1" {
		t.Errorf("Expected v1 from the persistent tier, got %s", got)
	}
	if c.Stats().L2Hits != 1 {
		t.Errorf("Expected 1 L2 hit, got %d", c.Stats().L2Hits)
	}

	clock.Advance(2 * time.Hour)
	if got := get(); got != "v2" {
		t.Errorf("Expected reload after both tiers expired, got %s", got)
	}
}

func BenchmarkKeySerializationPerformance(b *testing.B) {
	serializer := cache.NewDefaultKeySerializer()

	testCases := []struct {
		name string
		args []any
	}{
		{"NoArgs", []any{}},
		{"SingleString", []any{"sku-123"}},
		{"MultipleArgs", []any{"acme", 10, true}},
		{"ComplexStruct", []any{Item{SKU: "A1", Quantity: 3}}},
		{"Map", []any{map[string]any{"warehouse": "north", "page": 2}}},
	}

	for _, tc := range testCases {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = serializer.SerializeKey("GetItem", tc.args...)
			}
		})
	}
}

func BenchmarkCachedVsOrigin(b *testing.B) {
	svc := newMockInventoryService()
	svc.seed("acme", "A1", 10)

	config := memoryConfig()
	container, err := NewContainer(context.Background(), config, svc)
	if err != nil {
		b.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	ctx := context.Background()
	load := svc.GetItem("acme", "A1")

	b.Run("Origin", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := load(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Cached", func(b *testing.B) {
		opts := offlinecache.ReadOptions[Item]{TenantID: "acme"}
		for i := 0; i < b.N; i++ {
			if _, err := offlinecache.GetOrFetch(ctx, container.Facade(), "item::A1", load, opts); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkConcurrentCacheAccess(b *testing.B) {
	container, err := NewContainer(context.Background(), memoryConfig(), testsupport.NewRecordingExecutor())
	if err != nil {
		b.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	ctx := offlinecache.WithTenant(context.Background(), "acme")
	facade := container.Facade()
	for i := 0; i < 100; i++ {
		facade.Set(ctx, fmt.Sprintf("item::%d", i), i, offlinecache.WriteOptions{})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			offlinecache.Get(ctx, facade, fmt.Sprintf("item::%d", i%100), offlinecache.ReadOptions[int]{})
			i++
		}
	})
}
