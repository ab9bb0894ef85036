package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by GetOrFetch when no tier holds the key and no
// loader was supplied.
var ErrNotFound = errors.New("cache: key not found")

// KeySerializer builds a cache key from a method name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn is the loader signature used on a full miss to fetch from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// GetOptions tunes a single read.
type GetOptions[T any] struct {
	// TenantID scopes the read. Entries stored for another tenant are absent.
	TenantID string

	// Loader is invoked at most once when both local tiers miss.
	Loader FetchFn[T]

	// Priority applies to values written back after a promotion or load.
	Priority Priority
}

// SetOptions tunes a single write. Zero TTLs fall back to the tier defaults.
type SetOptions struct {
	TenantID string
	Priority Priority
	L1TTL    time.Duration
	L2TTL    time.Duration
}

// Get reads key through L1, L2 and the optional loader. The boolean is false
// when every step missed or failed.
func Get[T any](ctx context.Context, c *MultiTierCache, key string, opts GetOptions[T]) (T, bool) {
	value, err := get(ctx, c, key, opts)
	return value, err == nil
}

// GetOrFetch is Get with the loader as a required argument. When the value
// cannot be produced the loader error (or ErrNotFound) is returned.
func GetOrFetch[T any](ctx context.Context, c *MultiTierCache, key string, fetchFn FetchFn[T], opts GetOptions[T]) (T, error) {
	opts.Loader = fetchFn
	return get(ctx, c, key, opts)
}
