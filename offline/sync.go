package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-offline-cache/internal/schedule"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// SyncError describes one item that did not replay successfully.
type SyncError struct {
	ItemID    string
	Operation string
	TenantID  string
	Err       error
	// Permanent is true when the item was dropped from the queue.
	Permanent bool
}

// SyncResult summarises one replay pass.
type SyncResult struct {
	Successful int
	Failed     int
	Skipped    int
	Errors     []SyncError
}

// Dropped returns the errors for items that were removed without succeeding.
func (r SyncResult) Dropped() []SyncError {
	var out []SyncError
	for _, e := range r.Errors {
		if e.Permanent {
			out = append(out, e)
		}
	}
	return out
}

// QueueOptions tunes QueueMutation.
type QueueOptions struct {
	TenantID string
	// MaxRetries defaults to Config.DefaultMaxRetries when zero.
	MaxRetries int
	// Defer skips the immediate sync pass QueueMutation runs while online.
	Defer bool
	// LastError records why the write was queued, if it already failed once.
	LastError string
}

// Metrics is a read-only snapshot of offline activity.
type Metrics struct {
	Queued            int
	TotalQueued       int64
	Synced            int64
	Failed            int64
	PermanentlyFailed int64
	Skipped           int64
	TotalOfflineTime  time.Duration
	SyncInProgress    bool
	LastSyncAt        time.Time
}

// SyncManager replays queued writes through an Executor once connectivity is
// available and invalidates the cache after each confirmed success.
type SyncManager struct {
	queue        *Queue
	monitor      *NetworkMonitor
	executor     Executor
	invalidator  Invalidator
	mutationType func(Operation) string
	cfg          Config
	logger       *zap.Logger
	now          Clock

	syncing     atomic.Bool
	lastSyncAt  atomic.Int64
	unsubscribe func()

	listenersMu sync.Mutex
	listeners   []func(SyncResult)

	totalQueued *xsync.Counter
	synced      *xsync.Counter
	failed      *xsync.Counter
	permanent   *xsync.Counter
	skipped     *xsync.Counter
}

// NewSyncManager wires the queue, monitor and executor together and
// subscribes to reconnect events. invalidator may be nil.
func NewSyncManager(queue *Queue, monitor *NetworkMonitor, executor Executor, invalidator Invalidator, cfg Config, opts ...Option) (*SyncManager, error) {
	if queue == nil || monitor == nil || executor == nil {
		return nil, errors.New("offline: queue, monitor and executor are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("offline config: %w", err)
	}

	o := applyOptions(opts)
	m := &SyncManager{
		queue:        queue,
		monitor:      monitor,
		executor:     executor,
		invalidator:  invalidator,
		mutationType: o.mutationType,
		cfg:          cfg,
		logger:       o.logger.Named("sync"),
		now:          o.clock,
		totalQueued:  xsync.NewCounter(),
		synced:       xsync.NewCounter(),
		failed:       xsync.NewCounter(),
		permanent:    xsync.NewCounter(),
		skipped:      xsync.NewCounter(),
	}

	m.unsubscribe = monitor.Subscribe(func(state ConnectivityState) {
		if state.Online {
			m.SyncOperations(context.Background())
		}
	})
	return m, nil
}

// Close detaches the manager from the network monitor.
func (m *SyncManager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// OnSync registers fn to receive the result of every completed pass.
func (m *SyncManager) OnSync(fn func(SyncResult)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// QueueMutation appends a write to the offline queue. When online a sync pass
// runs immediately so the write does not wait for a reconnect event.
func (m *SyncManager) QueueMutation(ctx context.Context, op Operation, variables map[string]any, opts QueueOptions) (QueueItem, error) {
	if op.Name == "" {
		return QueueItem{}, fmt.Errorf("%w: name is required", ErrInvalidOperation)
	}
	if op.Kind == "" {
		op.Kind = KindMutation
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.cfg.DefaultMaxRetries
	}

	item := QueueItem{
		ID:         uuid.NewString(),
		Operation:  op,
		Variables:  variables,
		EnqueuedAt: m.now(),
		MaxRetries: maxRetries,
		TenantID:   opts.TenantID,
		LastError:  opts.LastError,
	}
	if err := m.queue.Enqueue(ctx, item); err != nil {
		return QueueItem{}, err
	}
	if stored, ok := m.queue.Get(item.ID); ok {
		item = stored
	}
	m.totalQueued.Inc()

	m.logger.Debug("operation queued",
		zap.String("item_id", item.ID),
		zap.String("operation", op.Name),
		zap.String("tenant_id", opts.TenantID),
	)

	if !opts.Defer && m.monitor.IsOnline() {
		m.SyncOperations(ctx)
	}
	return item, nil
}

// Execute runs op immediately and, on success, invalidates the cache for it.
// It does not touch the queue, but variables are normalized the way the queue
// stores them, so the executor sees the same types on both paths.
func (m *SyncManager) Execute(ctx context.Context, op Operation, variables map[string]any, tenantID string) (any, error) {
	normalized, err := m.queue.Normalize(QueueItem{Operation: op, Variables: variables})
	if err != nil {
		return nil, Permanent(err)
	}
	op, variables = normalized.Operation, normalized.Variables

	result, err := m.execute(ctx, op, variables)
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx, op, variables, tenantID)
	return result, nil
}

// SyncOperations replays the queue in FIFO order. It returns a zero result
// without doing anything when a pass is already running or when offline.
func (m *SyncManager) SyncOperations(ctx context.Context) SyncResult {
	if !m.syncing.CompareAndSwap(false, true) {
		return SyncResult{}
	}
	defer m.syncing.Store(false)

	if !m.monitor.IsOnline() {
		return SyncResult{}
	}

	var result SyncResult
	for _, item := range m.queue.All() {
		if ctx.Err() != nil || !m.monitor.IsOnline() {
			// Remaining items keep their retry budget for the next pass.
			break
		}
		m.replay(ctx, item, &result)
	}

	m.lastSyncAt.Store(m.now().UnixNano())
	m.logger.Info("sync pass finished",
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("remaining", m.queue.Size()),
	)

	m.notify(result)
	return result
}

func (m *SyncManager) replay(ctx context.Context, item QueueItem, result *SyncResult) {
	if item.Exhausted() {
		m.drop(ctx, item, ErrRetriesExhausted)
		m.skipped.Inc()
		result.Skipped++
		result.Errors = append(result.Errors, syncError(item, ErrRetriesExhausted, true))
		return
	}

	if _, err := m.execute(ctx, item.Operation, item.Variables); err != nil {
		m.handleFailure(ctx, item, err, result)
		return
	}

	if err := m.queue.Remove(ctx, item.ID); err != nil && !errors.Is(err, ErrNotFound) {
		// The write landed; a failed removal means it may replay again.
		m.logger.Error("replayed item could not be removed from queue",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
	m.synced.Inc()
	result.Successful++
	m.invalidate(ctx, item.Operation, item.Variables, item.TenantID)
}

func (m *SyncManager) handleFailure(ctx context.Context, item QueueItem, err error, result *SyncResult) {
	m.failed.Inc()
	result.Failed++

	if IsPermanent(err) {
		m.drop(ctx, item, err)
		result.Errors = append(result.Errors, syncError(item, err, true))
		return
	}

	updated, incErr := m.queue.IncrementRetry(ctx, item.ID, err.Error())
	if incErr != nil {
		m.logger.Error("retry count could not be persisted",
			zap.String("item_id", item.ID),
			zap.Error(incErr),
		)
		result.Errors = append(result.Errors, syncError(item, err, false))
		return
	}

	if updated.Exhausted() {
		m.drop(ctx, updated, err)
		result.Errors = append(result.Errors, syncError(updated, fmt.Errorf("%w: %w", ErrRetriesExhausted, err), true))
		return
	}

	m.logger.Debug("replay failed, will retry",
		zap.String("item_id", item.ID),
		zap.String("operation", item.Operation.Name),
		zap.Int("retry_count", updated.RetryCount),
		zap.Int("max_retries", updated.MaxRetries),
		zap.Error(err),
	)
	result.Errors = append(result.Errors, syncError(updated, err, false))
}

// drop removes an item that will never be retried. Data is being discarded,
// so this is always logged.
func (m *SyncManager) drop(ctx context.Context, item QueueItem, cause error) {
	m.permanent.Inc()
	if err := m.queue.Remove(ctx, item.ID); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Error("dropped item could not be removed from queue",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
	m.logger.Warn("offline operation dropped",
		zap.String("item_id", item.ID),
		zap.String("operation", item.Operation.Name),
		zap.String("tenant_id", item.TenantID),
		zap.Int("retry_count", item.RetryCount),
		zap.Error(cause),
	)
}

func (m *SyncManager) execute(ctx context.Context, op Operation, variables map[string]any) (any, error) {
	if m.cfg.ExecuteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ExecuteTimeout)
		defer cancel()
	}

	result, err := m.executor.Execute(ctx, op, variables)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("execution finished after deadline: %w", ctx.Err())
	}
	return result, err
}

func (m *SyncManager) invalidate(ctx context.Context, op Operation, variables map[string]any, tenantID string) {
	if m.invalidator == nil {
		return
	}
	mutationType := m.mutationType(op)
	removed := m.invalidator.InvalidateFromMutation(ctx, mutationType, variables, tenantID)
	m.logger.Debug("cache invalidated after mutation",
		zap.String("mutation", mutationType),
		zap.String("tenant_id", tenantID),
		zap.Int("removed", removed),
	)
}

func (m *SyncManager) notify(result SyncResult) {
	m.listenersMu.Lock()
	listeners := make([]func(SyncResult), len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("sync listener panicked", zap.Any("panic", r))
				}
			}()
			fn(result)
		}()
	}
}

// SyncTask returns the periodic online sync pass as a schedulable task.
func (m *SyncManager) SyncTask() schedule.Task {
	return schedule.Task{
		Name:     "offline-sync",
		Interval: m.cfg.SyncInterval,
		Run: func(ctx context.Context) {
			if m.queue.Size() > 0 {
				m.SyncOperations(ctx)
			}
		},
	}
}

// InProgress reports whether a sync pass is running.
func (m *SyncManager) InProgress() bool {
	return m.syncing.Load()
}

// Queue exposes the underlying queue.
func (m *SyncManager) Queue() *Queue {
	return m.queue
}

// Metrics returns a snapshot of offline activity.
func (m *SyncManager) Metrics() Metrics {
	metrics := Metrics{
		Queued:            m.queue.Size(),
		TotalQueued:       m.totalQueued.Value(),
		Synced:            m.synced.Value(),
		Failed:            m.failed.Value(),
		PermanentlyFailed: m.permanent.Value(),
		Skipped:           m.skipped.Value(),
		TotalOfflineTime:  m.monitor.AccumulatedOfflineTime(),
		SyncInProgress:    m.syncing.Load(),
	}
	if ns := m.lastSyncAt.Load(); ns != 0 {
		metrics.LastSyncAt = time.Unix(0, ns)
	}
	return metrics
}

func syncError(item QueueItem, err error, permanent bool) SyncError {
	return SyncError{
		ItemID:    item.ID,
		Operation: item.Operation.Name,
		TenantID:  item.TenantID,
		Err:       err,
		Permanent: permanent,
	}
}
