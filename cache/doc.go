// Package cache provides the tiered read-through cache used by the offline layer.
//
// # Overview
//
// A MultiTierCache cascades every read through three tiers:
//
//   - L1, a MemoryTier: bounded, TTL aware, priority weighted LRU, lost on restart
//   - L2, a PersistentStore: durable, larger, slower, with tenant indexed deletes
//   - L3, a per call loader: the authoritative source, invoked at most once per read
//
// Hits in a slower tier are promoted into the faster tiers that missed.
//
// # Basic Usage
//
//	c, err := cache.NewMultiTierCache(cache.DefaultConfig(), store, cache.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//
//	order, ok := cache.Get(ctx, c, "tenant:acme::order::42", cache.GetOptions[Order]{
//		TenantID: "acme",
//		Loader: func(ctx context.Context) (Order, error) {
//			return api.FetchOrder(ctx, "42")
//		},
//	})
//
// # Eviction
//
// When L1 is full the least recently accessed entry that is not PriorityHigh is
// evicted before the new entry is inserted. High priority entries leave only by
// expiry, explicit delete, or a tenant clear.
//
// # Error Handling
//
// The persistent tier is an optimization, not the system of record. Every
// storage fault is logged and treated as a miss or a no-op; no error from a
// PersistentStore reaches callers of Get, Set or Delete. Loader failures fall
// back to one last L2 read and are otherwise reported through GetOrFetch.
//
// # Tenants
//
// Reads scoped with a TenantID never return another tenant's entry, and
// ClearTenant removes a tenant from both tiers. Use TenantKey to build keys that
// carry the tenant namespace so that prefix invalidation stays tenant local.
package cache
