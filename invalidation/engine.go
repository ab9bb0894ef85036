package invalidation

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Store is the part of the cache the engine deletes from.
// *cache.MultiTierCache satisfies it.
type Store interface {
	Delete(ctx context.Context, key string) bool
	DeletePrefix(ctx context.Context, prefix string) int
	DeleteTenantPrefix(ctx context.Context, tenantID, prefix string) int
}

// Result describes one invalidation request.
type Result struct {
	MutationType string
	// Rules is the number of rules that matched the mutation type.
	Rules   int
	Targets []Target
	// Skipped counts patterns left unresolved by missing variables or tenant.
	Skipped int
	Removed int
}

// Stats is a snapshot of engine activity.
type Stats struct {
	Requests    int64
	Unmatched   int64
	KeysRemoved int64
	Skipped     int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine turns mutation events into cache deletions using a Registry.
type Engine struct {
	registry *Registry
	store    Store
	logger   *zap.Logger

	requests  *xsync.Counter
	unmatched *xsync.Counter
	removed   *xsync.Counter
	skipped   *xsync.Counter
}

// NewEngine builds an engine over registry. A nil registry matches nothing.
func NewEngine(registry *Registry, store Store, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		store:     store,
		logger:    zap.NewNop(),
		requests:  xsync.NewCounter(),
		unmatched: xsync.NewCounter(),
		removed:   xsync.NewCounter(),
		skipped:   xsync.NewCounter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("invalidation")
	return e
}

// Resolve returns the concrete targets a mutation would invalidate without
// touching the cache, and the number of patterns that had to be skipped.
func (e *Engine) Resolve(mutationType string, variables map[string]any, tenantID string) ([]Target, int) {
	var (
		targets []Target
		skipped int
	)
	for _, rule := range e.registry.Match(mutationType) {
		for _, pattern := range rule.Patterns {
			target, ok := pattern.resolve(variables, tenantID)
			if !ok {
				skipped++
				continue
			}
			targets = append(targets, target)
		}
	}
	return targets, skipped
}

// Invalidate deletes every key the rules for mutationType resolve to. An
// unknown mutation type is a no-op. Call it only after the write succeeded.
func (e *Engine) Invalidate(ctx context.Context, mutationType string, variables map[string]any, tenantID string) Result {
	e.requests.Inc()

	result := Result{
		MutationType: mutationType,
		Rules:        len(e.registry.Match(mutationType)),
	}
	if result.Rules == 0 {
		e.unmatched.Inc()
		e.logger.Debug("no invalidation rule for mutation", zap.String("mutation", mutationType))
		return result
	}

	result.Targets, result.Skipped = e.Resolve(mutationType, variables, tenantID)
	for _, target := range result.Targets {
		result.Removed += e.apply(ctx, target)
	}

	e.removed.Add(int64(result.Removed))
	e.skipped.Add(int64(result.Skipped))

	if result.Skipped > 0 {
		e.logger.Warn("invalidation patterns skipped, unresolved placeholders",
			zap.String("mutation", mutationType),
			zap.String("tenant_id", tenantID),
			zap.Int("skipped", result.Skipped),
		)
	}
	e.logger.Debug("mutation invalidated",
		zap.String("mutation", mutationType),
		zap.String("tenant_id", tenantID),
		zap.Stringers("targets", result.Targets),
		zap.Int("removed", result.Removed),
	)
	return result
}

// InvalidateFromMutation is Invalidate reduced to the number of removed
// entries. It satisfies offline.Invalidator.
func (e *Engine) InvalidateFromMutation(ctx context.Context, mutationType string, variables map[string]any, tenantID string) int {
	return e.Invalidate(ctx, mutationType, variables, tenantID).Removed
}

func (e *Engine) apply(ctx context.Context, target Target) int {
	if e.store == nil {
		return 0
	}
	switch target.Kind {
	case KindExact:
		if e.store.Delete(ctx, target.Key) {
			return 1
		}
		return 0
	case KindPrefix:
		return e.store.DeletePrefix(ctx, target.Key)
	case KindTenantScoped:
		return e.store.DeleteTenantPrefix(ctx, target.TenantID, target.Key)
	default:
		e.logger.Error("unknown pattern kind", zap.String("kind", string(target.Kind)))
		return 0
	}
}

// Registry returns the rule table.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Requests:    e.requests.Value(),
		Unmatched:   e.unmatched.Value(),
		KeysRemoved: e.removed.Value(),
		Skipped:     e.skipped.Value(),
	}
}
