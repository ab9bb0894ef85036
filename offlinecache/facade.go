package offlinecache

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-offline-cache/cache"
	"github.com/goliatone/go-offline-cache/invalidation"
	"github.com/goliatone/go-offline-cache/offline"
	"go.uber.org/zap"
)

// Facade is the single entry point for reads, writes and offline replay.
// Keys passed to it are relative to the tenant in effect: the facade stores
// them under cache.TenantPrefix(tenant) so tenants never share entries.
type Facade struct {
	cache      *cache.MultiTierCache
	engine     *invalidation.Engine
	sync       *offline.SyncManager
	monitor    *offline.NetworkMonitor
	serializer cache.KeySerializer
	logger     *zap.Logger
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithKeySerializer replaces the serializer used by Key and KeyFor.
func WithKeySerializer(serializer cache.KeySerializer) Option {
	return func(f *Facade) {
		if serializer != nil {
			f.serializer = serializer
		}
	}
}

// New composes the facade. Every component is required.
func New(c *cache.MultiTierCache, engine *invalidation.Engine, syncManager *offline.SyncManager, monitor *offline.NetworkMonitor, opts ...Option) (*Facade, error) {
	if c == nil || engine == nil || syncManager == nil || monitor == nil {
		return nil, errors.New("offlinecache: cache, engine, sync manager and monitor are required")
	}

	f := &Facade{
		cache:      c,
		engine:     engine,
		sync:       syncManager,
		monitor:    monitor,
		serializer: cache.NewDefaultKeySerializer(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("facade")
	return f, nil
}

// ReadOptions tunes a facade read.
type ReadOptions[T any] struct {
	// TenantID overrides the tenant from the context.
	TenantID string
	Loader   cache.FetchFn[T]
	Priority cache.Priority
}

// WriteOptions tunes a facade write. Zero TTLs fall back to tier defaults.
type WriteOptions struct {
	TenantID string
	Priority cache.Priority
	TTL      time.Duration
	// PersistentTTL overrides TTL for the persistent tier.
	PersistentTTL time.Duration
}

// Get reads key through every tier. The boolean is false on a full miss.
func Get[T any](ctx context.Context, f *Facade, key string, opts ReadOptions[T]) (T, bool) {
	tenantID := resolveTenant(ctx, opts.TenantID)
	return cache.Get(ctx, f.cache, scopedKey(tenantID, key), cache.GetOptions[T]{
		TenantID: tenantID,
		Loader:   opts.Loader,
		Priority: opts.Priority,
	})
}

// GetOrFetch reads key and falls back to fetchFn, returning its error when
// nothing could be produced.
func GetOrFetch[T any](ctx context.Context, f *Facade, key string, fetchFn cache.FetchFn[T], opts ReadOptions[T]) (T, error) {
	tenantID := resolveTenant(ctx, opts.TenantID)
	return cache.GetOrFetch(ctx, f.cache, scopedKey(tenantID, key), fetchFn, cache.GetOptions[T]{
		TenantID: tenantID,
		Priority: opts.Priority,
	})
}

// Key builds a cache key from a method name and arguments.
func (f *Facade) Key(method string, args ...any) string {
	return f.serializer.SerializeKey(method, args...)
}

// Set stores value in both local tiers.
func (f *Facade) Set(ctx context.Context, key string, value any, opts WriteOptions) {
	tenantID := resolveTenant(ctx, opts.TenantID)
	l2TTL := opts.PersistentTTL
	if l2TTL == 0 {
		l2TTL = opts.TTL
	}
	f.cache.Set(ctx, scopedKey(tenantID, key), value, cache.SetOptions{
		TenantID: tenantID,
		Priority: opts.Priority,
		L1TTL:    opts.TTL,
		L2TTL:    l2TTL,
	})
}

// Delete removes key for the tenant in ctx.
func (f *Facade) Delete(ctx context.Context, key string) bool {
	tenantID := resolveTenant(ctx, "")
	return f.cache.Delete(ctx, scopedKey(tenantID, key))
}

// ClearTenant drops every cached entry of tenantID.
func (f *Facade) ClearTenant(ctx context.Context, tenantID string) int {
	return f.cache.ClearTenant(ctx, tenantID)
}

// WarmCache pre-populates entries concurrently. Entry keys are relative to
// their TenantID, or to the tenant in ctx when that is empty.
func (f *Facade) WarmCache(ctx context.Context, entries []cache.WarmEntry) int {
	scoped := make([]cache.WarmEntry, len(entries))
	for i, entry := range entries {
		entry.TenantID = resolveTenant(ctx, entry.TenantID)
		entry.Key = scopedKey(entry.TenantID, entry.Key)
		scoped[i] = entry
	}
	return f.cache.WarmCache(ctx, scoped)
}

// Invalidate runs the invalidation rules for mutationType as if that
// mutation had just succeeded for the tenant in ctx.
func (f *Facade) Invalidate(ctx context.Context, mutationType string, variables map[string]any) invalidation.Result {
	return f.engine.Invalidate(ctx, mutationType, variables, resolveTenant(ctx, ""))
}

// MutateOptions tunes Mutate.
type MutateOptions struct {
	TenantID   string
	MaxRetries int
}

// MutationOutcome reports what Mutate did with a write.
type MutationOutcome struct {
	// Result is the executor result when the write ran immediately.
	Result any
	// Queued is true when the write was deferred to the offline queue.
	Queued bool
	Item   offline.QueueItem
}

// Mutate executes op now when online and invalidates the affected keys on
// success. Offline, or when the direct attempt fails with a retryable error,
// the write is queued for replay. Permanent failures are returned as is.
func (f *Facade) Mutate(ctx context.Context, op offline.Operation, variables map[string]any, opts MutateOptions) (MutationOutcome, error) {
	tenantID := resolveTenant(ctx, opts.TenantID)
	queueOpts := offline.QueueOptions{TenantID: tenantID, MaxRetries: opts.MaxRetries}

	if f.monitor.IsOnline() {
		result, err := f.sync.Execute(ctx, op, variables, tenantID)
		if err == nil {
			return MutationOutcome{Result: result}, nil
		}
		if offline.IsPermanent(err) || ctx.Err() != nil {
			return MutationOutcome{}, err
		}

		f.logger.Warn("direct write failed, queueing for replay",
			zap.String("operation", op.Name),
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		// The origin just failed, so skip the immediate replay and leave
		// the item for the next sync pass.
		queueOpts.Defer = true
		queueOpts.LastError = err.Error()
	}

	item, err := f.sync.QueueMutation(ctx, op, variables, queueOpts)
	if err != nil {
		return MutationOutcome{}, err
	}
	return MutationOutcome{Queued: true, Item: item}, nil
}

// SyncNow runs a replay pass immediately.
func (f *Facade) SyncNow(ctx context.Context) offline.SyncResult {
	return f.sync.SyncOperations(ctx)
}

// OnSync registers fn for every completed replay pass.
func (f *Facade) OnSync(fn func(offline.SyncResult)) {
	f.sync.OnSync(fn)
}

// Metrics returns the offline queue metrics.
func (f *Facade) Metrics() offline.Metrics {
	return f.sync.Metrics()
}

// Stats returns the cache counters.
func (f *Facade) Stats() cache.Stats {
	return f.cache.Stats()
}

// Online reports the current connectivity state.
func (f *Facade) Online() bool {
	return f.monitor.IsOnline()
}

// SetOnline forwards a transport connectivity event to the monitor.
func (f *Facade) SetOnline(online bool) {
	f.monitor.SetOnline(online)
}

// Cache exposes the underlying multi-tier cache.
func (f *Facade) Cache() *cache.MultiTierCache {
	return f.cache
}

func scopedKey(tenantID, key string) string {
	if tenantID == "" {
		return key
	}
	return cache.TenantPrefix(tenantID) + key
}
