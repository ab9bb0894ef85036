package cache

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// MultiTierCache cascades reads through the in-process tier (L1), the
// persistent tier (L2) and a caller supplied loader (L3), writing values back
// into the tiers that missed.
type MultiTierCache struct {
	cfg     Config
	l1      *MemoryTier
	l2      *persistentTier
	codec   Codec
	logger  *zap.Logger
	now     Clock
	breaker *gobreaker.CircuitBreaker
	flight  singleflight.Group
	stats   counters
}

type counters struct {
	l1Hits         *xsync.Counter
	l2Hits         *xsync.Counter
	loaderHits     *xsync.Counter
	misses         *xsync.Counter
	loaderCalls    *xsync.Counter
	loaderFailures *xsync.Counter
	staleFallbacks *xsync.Counter
	decodeFailures *xsync.Counter
}

// Option configures a MultiTierCache.
type Option func(*MultiTierCache)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *MultiTierCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now for every tier.
func WithClock(clock Clock) Option {
	return func(c *MultiTierCache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithCodec replaces the msgpack codec used for persistent payloads.
func WithCodec(codec Codec) Option {
	return func(c *MultiTierCache) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// NewMultiTierCache validates cfg and builds the cascade. A nil store runs
// the cache in L1-only mode.
func NewMultiTierCache(cfg Config, store PersistentStore, opts ...Option) (*MultiTierCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &MultiTierCache{
		cfg:    cfg,
		codec:  MsgpackCodec{},
		logger: zap.NewNop(),
		now:    time.Now,
		stats: counters{
			l1Hits:         xsync.NewCounter(),
			l2Hits:         xsync.NewCounter(),
			loaderHits:     xsync.NewCounter(),
			misses:         xsync.NewCounter(),
			loaderCalls:    xsync.NewCounter(),
			loaderFailures: xsync.NewCounter(),
			staleFallbacks: xsync.NewCounter(),
			decodeFailures: xsync.NewCounter(),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cache")

	c.l1 = NewMemoryTier(cfg.L1, c.now)
	if store != nil {
		c.l2 = newPersistentTier(store, cfg.L2, c.now, c.logger)
	}
	if cfg.LoaderBreaker != nil {
		c.breaker = newLoaderBreaker(*cfg.LoaderBreaker, c.logger)
	}

	return c, nil
}

func newLoaderBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache-loader",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("loader breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func get[T any](ctx context.Context, c *MultiTierCache, key string, opts GetOptions[T]) (T, error) {
	var zero T

	if value, ok := lookupL1[T](c, key, opts.TenantID); ok {
		c.stats.l1Hits.Inc()
		return value, nil
	}

	if value, ok := lookupL2(ctx, c, key, opts); ok {
		c.stats.l2Hits.Inc()
		return value, nil
	}

	if opts.Loader == nil {
		c.stats.misses.Inc()
		return zero, ErrNotFound
	}

	value, err := load(ctx, c, key, opts)
	if err == nil {
		c.stats.loaderHits.Inc()
		return value, nil
	}

	c.stats.loaderFailures.Inc()
	c.logger.Warn("fallback loader failed",
		zap.String("key", key),
		zap.String("tenant_id", opts.TenantID),
		zap.Error(err),
	)

	// Another writer may have filled L2 while the loader was running.
	if value, ok := lookupL2(ctx, c, key, opts); ok {
		c.stats.staleFallbacks.Inc()
		return value, nil
	}

	c.stats.misses.Inc()
	return zero, err
}

func lookupL1[T any](c *MultiTierCache, key, tenantID string) (T, bool) {
	var zero T
	entry, ok := c.l1.Get(key)
	if !ok || !tenantMatches(entry.TenantID, tenantID) {
		return zero, false
	}
	value, ok := entry.Value.(T)
	return value, ok
}

func lookupL2[T any](ctx context.Context, c *MultiTierCache, key string, opts GetOptions[T]) (T, bool) {
	var value T
	if c.l2 == nil {
		return value, false
	}

	stored, ok := c.l2.get(ctx, key)
	if !ok || !tenantMatches(stored.TenantID, opts.TenantID) {
		return value, false
	}

	if err := c.codec.Decode(stored.Payload, &value); err != nil {
		c.stats.decodeFailures.Inc()
		c.logger.Warn("dropping undecodable persistent entry",
			zap.String("key", key),
			zap.Error(err),
		)
		c.l2.delete(ctx, key)
		return value, false
	}

	// A zero TTL means "tier default" to L1, so an entry at its expiry
	// instant is a miss rather than a promotion.
	remaining := stored.ExpiresAt.Sub(c.now())
	if remaining <= 0 {
		var zero T
		return zero, false
	}
	ttl := c.cfg.L1.DefaultTTL
	if remaining < ttl {
		ttl = remaining
	}
	priority := opts.Priority
	if priority == "" {
		priority = stored.Priority
	}
	c.l1.Set(key, value, EntryOptions{
		TenantID: stored.TenantID,
		Priority: priority,
		TTL:      ttl,
	})

	return value, true
}

func load[T any](ctx context.Context, c *MultiTierCache, key string, opts GetOptions[T]) (T, error) {
	var zero T

	// Concurrent misses on the same key and type share one loader call. The
	// flight is detached from the caller that started it so one cancelled
	// reader does not fail the others; LoaderTimeout still bounds it.
	flightKey := opts.TenantID + "\x00" + key + "\x00" + reflect.TypeOf((*T)(nil)).Elem().String()
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		return fetch(flightCtx, c, key, opts)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if res.Err != nil {
		return zero, res.Err
	}
	if res.Val == nil {
		return zero, nil
	}

	typed, ok := res.Val.(T)
	if !ok {
		// Distinct types can share a name; never hand back another caller's value.
		c.logger.Debug("shared load returned a different type, loading again",
			zap.String("key", key),
			zap.String("got", fmt.Sprintf("%T", res.Val)),
		)
		value, err := fetch(ctx, c, key, opts)
		if err != nil {
			return zero, err
		}
		typed, _ = value.(T)
	}
	return typed, nil
}

// fetch runs the caller's loader and writes the result into both tiers.
func fetch[T any](ctx context.Context, c *MultiTierCache, key string, opts GetOptions[T]) (any, error) {
	value, err := c.invokeLoader(ctx, func(ctx context.Context) (any, error) {
		return opts.Loader(ctx)
	})
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, value, SetOptions{TenantID: opts.TenantID, Priority: opts.Priority})
	return value, nil
}

func (c *MultiTierCache) invokeLoader(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	c.stats.loaderCalls.Inc()

	if c.cfg.LoaderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.LoaderTimeout)
		defer cancel()
	}

	call := func() (any, error) {
		value, err := fn(ctx)
		if err == nil && ctx.Err() != nil {
			err = fmt.Errorf("loader finished after deadline: %w", ctx.Err())
		}
		return value, err
	}

	if c.breaker == nil {
		return call()
	}
	return c.breaker.Execute(call)
}

// Set writes value into both tiers. A failure to persist into L2 is logged
// and otherwise ignored; L1 still holds the value.
func (c *MultiTierCache) Set(ctx context.Context, key string, value any, opts SetOptions) {
	c.l1.Set(key, value, EntryOptions{
		TenantID: opts.TenantID,
		Priority: opts.Priority,
		TTL:      opts.L1TTL,
	})

	if c.l2 == nil {
		return
	}

	payload, err := c.codec.Encode(value)
	if err != nil {
		c.logger.Warn("skipping persistent write, value not encodable",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}

	c.l2.set(ctx, key, payload, EntryOptions{
		TenantID: opts.TenantID,
		Priority: opts.Priority,
		TTL:      opts.L2TTL,
	})
}

// Delete removes key from both tiers and reports whether any tier held it.
func (c *MultiTierCache) Delete(ctx context.Context, key string) bool {
	removed := c.l1.Delete(key)
	if c.l2 != nil && c.l2.delete(ctx, key) {
		removed = true
	}
	return removed
}

// DeletePrefix removes every key starting with prefix from both tiers.
func (c *MultiTierCache) DeletePrefix(ctx context.Context, prefix string) int {
	removed := c.l1.DeletePrefix(prefix)
	if c.l2 != nil {
		removed += c.l2.deletePrefix(ctx, prefix)
	}
	return removed
}

// DeleteTenantPrefix removes keys starting with prefix owned by tenantID.
func (c *MultiTierCache) DeleteTenantPrefix(ctx context.Context, tenantID, prefix string) int {
	removed := c.l1.DeleteTenantPrefix(tenantID, prefix)
	if c.l2 != nil {
		removed += c.l2.deleteTenantPrefix(ctx, tenantID, prefix)
	}
	return removed
}

// ClearTenant removes every entry of tenantID from both tiers.
func (c *MultiTierCache) ClearTenant(ctx context.Context, tenantID string) int {
	removed := c.l1.ClearTenant(tenantID)
	if c.l2 != nil {
		removed += c.l2.clearTenant(ctx, tenantID)
	}
	c.logger.Debug("tenant cleared",
		zap.String("tenant_id", tenantID),
		zap.Int("removed", removed),
	)
	return removed
}

// Clear drops everything from both tiers.
func (c *MultiTierCache) Clear(ctx context.Context) {
	c.l1.Clear()
	if c.l2 != nil {
		c.l2.clear(ctx)
	}
}

// Cleanup purges persistent entries that expired or outlived the retention
// horizon. It returns the number of rows removed.
func (c *MultiTierCache) Cleanup(ctx context.Context) int {
	if c.l2 == nil {
		return 0
	}
	n := c.l2.cleanup(ctx, c.cfg.RetentionHorizon)
	if n > 0 {
		c.logger.Debug("persistent tier cleanup", zap.Int("purged", n))
	}
	return n
}

// WarmEntry describes one key to pre-populate.
type WarmEntry struct {
	Key      string
	Loader   FetchFn[any]
	TenantID string
	Priority Priority
	TTL      time.Duration
}

// WarmCache runs all loaders concurrently and stores the successful results.
// Individual failures are logged; the number of warmed keys is returned.
func (c *MultiTierCache) WarmCache(ctx context.Context, entries []WarmEntry) int {
	warmed := xsync.NewCounter()

	var g errgroup.Group
	g.SetLimit(c.cfg.WarmConcurrency)

	for _, entry := range entries {
		entry := entry
		if entry.Loader == nil {
			continue
		}
		g.Go(func() error {
			value, err := c.invokeLoader(ctx, entry.Loader)
			if err != nil {
				c.stats.loaderFailures.Inc()
				c.logger.Warn("cache warm-up loader failed",
					zap.String("key", entry.Key),
					zap.String("tenant_id", entry.TenantID),
					zap.Error(err),
				)
				return nil
			}
			c.Set(ctx, entry.Key, value, SetOptions{
				TenantID: entry.TenantID,
				Priority: entry.Priority,
				L1TTL:    entry.TTL,
				L2TTL:    entry.TTL,
			})
			warmed.Inc()
			return nil
		})
	}
	_ = g.Wait()

	return int(warmed.Value())
}

// L1 exposes the in-process tier.
func (c *MultiTierCache) L1() *MemoryTier {
	return c.l1
}

// HasPersistentTier reports whether an L2 store is configured.
func (c *MultiTierCache) HasPersistentTier() bool {
	return c.l2 != nil
}

// Config returns the configuration the cache was built with.
func (c *MultiTierCache) Config() Config {
	return c.cfg
}

// Stats returns a snapshot of the cache counters.
func (c *MultiTierCache) Stats() Stats {
	s := Stats{
		L1Hits:         c.stats.l1Hits.Value(),
		L2Hits:         c.stats.l2Hits.Value(),
		LoaderHits:     c.stats.loaderHits.Value(),
		Misses:         c.stats.misses.Value(),
		LoaderCalls:    c.stats.loaderCalls.Value(),
		LoaderFailures: c.stats.loaderFailures.Value(),
		StaleFallbacks: c.stats.staleFallbacks.Value(),
		DecodeFailures: c.stats.decodeFailures.Value(),
		L1Entries:      c.l1.Len(),
		L1Evictions:    c.l1.Evictions(),
		L1Expirations:  c.l1.Expirations(),
	}
	if c.l2 != nil {
		s.L2Faults = c.l2.faults.Value()
	}
	return s
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	L1Hits         int64
	L2Hits         int64
	LoaderHits     int64
	Misses         int64
	LoaderCalls    int64
	LoaderFailures int64
	StaleFallbacks int64
	DecodeFailures int64
	L1Entries      int
	L1Evictions    int64
	L1Expirations  int64
	L2Faults       int64
}

func tenantMatches(owner, requested string) bool {
	return requested == "" || owner == requested
}
