// Package invalidation maps write operations to the cache keys they make
// stale.
//
// Rules are static configuration. Each rule names a mutation type and one or
// more key patterns:
//
//	registry, err := invalidation.NewRegistry(
//		invalidation.Rule{
//			MutationType: "updateInventory",
//			Patterns: []invalidation.Pattern{
//				invalidation.Exact("inventory::{sku}"),
//				invalidation.TenantScoped("inventory-list::"),
//			},
//		},
//	)
//
// Exact and Prefix templates address raw cache keys and may include
// {tenantId} explicitly. TenantScoped templates are relative to the tenant's
// key namespace (see cache.TenantPrefix) and only ever remove entries owned
// by the mutating tenant.
//
// A pattern whose placeholders cannot be filled from the mutation variables
// is skipped rather than widened, and a mutation type without rules
// invalidates nothing. Both cases accept a window of staleness instead of
// over-invalidating.
package invalidation
