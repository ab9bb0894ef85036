// Package offlinecache composes the multi-tier cache, the invalidation engine
// and the offline sync manager behind one Facade.
//
// Reads cascade through memory, the persistent store and an optional loader:
//
//	product, err := offlinecache.GetOrFetch(ctx, facade, key, loadProduct,
//		offlinecache.ReadOptions[Product]{})
//
// Writes go through Mutate. While online the write runs immediately and the
// matching invalidation rules purge stale entries once it succeeds. While
// offline the write is queued and replayed, in order, when connectivity
// returns:
//
//	outcome, err := facade.Mutate(ctx, offline.Mutation("updateInventory", nil),
//		map[string]any{"sku": "A1", "qty": 5}, offlinecache.MutateOptions{})
//
// The tenant for a call comes from the options or from WithTenant on the
// context. Keys are namespaced per tenant, so two tenants may use the same
// key without sharing data.
package offlinecache
