package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goliatone/go-offline-cache/cache"
	"github.com/goliatone/go-offline-cache/internal/cacheinfra"
	"github.com/goliatone/go-offline-cache/internal/schedule"
	"github.com/goliatone/go-offline-cache/internal/telemetry"
	"github.com/goliatone/go-offline-cache/invalidation"
	"github.com/goliatone/go-offline-cache/offline"
	"github.com/goliatone/go-offline-cache/offlinecache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Container owns every component of the offline cache and their lifecycle.
// Build it once at startup, call Start to launch the background tasks and
// Close on shutdown.
type Container struct {
	config    Config
	logger    *zap.Logger
	db        *bun.DB
	cache     *cache.MultiTierCache
	engine    *invalidation.Engine
	queue     *offline.Queue
	monitor   *offline.NetworkMonitor
	sync      *offline.SyncManager
	facade    *offlinecache.Facade
	scheduler *schedule.Scheduler
	collector *telemetry.Collector
}

type options struct {
	logger     *zap.Logger
	registry   *invalidation.Registry
	prober     offline.Prober
	registerer prometheus.Registerer
	serializer cache.KeySerializer
}

// Option customises NewContainer.
type Option func(*options)

// WithLogger sets the structured logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry supplies invalidation rules directly, taking precedence over
// Config.RulesFile.
func WithRegistry(registry *invalidation.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithProber replaces the HTTP prober built from Config.ProbeURL.
func WithProber(prober offline.Prober) Option {
	return func(o *options) { o.prober = prober }
}

// WithRegisterer registers the metrics collector with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithKeySerializer replaces the facade's key serializer.
func WithKeySerializer(serializer cache.KeySerializer) Option {
	return func(o *options) { o.serializer = serializer }
}

// NewContainer validates config, opens the database and wires the cache,
// invalidation engine, offline queue, network monitor, sync manager and
// facade together. executor performs queued writes against the origin.
func NewContainer(ctx context.Context, config Config, executor offline.Executor, opts ...Option) (*Container, error) {
	if executor == nil {
		return nil, errors.New("di: executor is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	registry, err := loadRegistry(config, o.registry)
	if err != nil {
		return nil, err
	}

	db, err := cacheinfra.Open(ctx, config.DBPath)
	if err != nil {
		return nil, err
	}

	c := &Container{config: config, logger: o.logger, db: db}
	if err := c.wire(ctx, registry, executor, o); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDefaults builds a container from DefaultConfig.
func NewContainerWithDefaults(ctx context.Context, executor offline.Executor, opts ...Option) (*Container, error) {
	return NewContainer(ctx, DefaultConfig(), executor, opts...)
}

func loadRegistry(config Config, registry *invalidation.Registry) (*invalidation.Registry, error) {
	if registry != nil {
		return registry, nil
	}
	if config.RulesFile == "" {
		return invalidation.NewRegistry()
	}
	registry, err := invalidation.LoadRulesFile(config.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load invalidation rules: %w", err)
	}
	return registry, nil
}

func (c *Container) wire(ctx context.Context, registry *invalidation.Registry, executor offline.Executor, o options) error {
	var err error

	c.cache, err = cache.NewMultiTierCache(c.config.CacheConfig(), cacheinfra.NewEntryStore(c.db), cache.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}

	c.engine = invalidation.NewEngine(registry, c.cache, invalidation.WithLogger(c.logger))

	c.queue, err = offline.OpenQueue(ctx, cacheinfra.NewQueueStore(c.db))
	if err != nil {
		return err
	}

	offlineCfg := c.config.OfflineConfig()
	prober := o.prober
	if prober == nil && c.config.ProbeURL != "" {
		prober = offline.HTTPProber{
			URL:    c.config.ProbeURL,
			Client: &http.Client{Timeout: offlineCfg.ProbeTimeout},
		}
	}
	c.monitor = offline.NewNetworkMonitor(c.config.StartOnline, prober, offlineCfg, offline.WithLogger(c.logger))

	c.sync, err = offline.NewSyncManager(c.queue, c.monitor, executor, c.engine, offlineCfg, offline.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("build sync manager: %w", err)
	}

	facadeOpts := []offlinecache.Option{offlinecache.WithLogger(c.logger)}
	if o.serializer != nil {
		facadeOpts = append(facadeOpts, offlinecache.WithKeySerializer(o.serializer))
	}
	c.facade, err = offlinecache.New(c.cache, c.engine, c.sync, c.monitor, facadeOpts...)
	if err != nil {
		c.sync.Close()
		return err
	}

	c.collector = telemetry.NewCollector(c.config.MetricsNamespace, telemetry.Sources{
		Cache:        c.cache.Stats,
		Offline:      c.sync.Metrics,
		Invalidation: c.engine.Stats,
		Online:       c.monitor.IsOnline,
	})
	if o.registerer != nil {
		if err := o.registerer.Register(c.collector); err != nil {
			c.sync.Close()
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	c.scheduler = schedule.New(c.logger)
	if err := c.scheduleTasks(prober != nil); err != nil {
		c.sync.Close()
		return err
	}

	c.logger.Info("offline cache ready",
		zap.String("db_path", c.config.DBPath),
		zap.Int("rules", registry.Len()),
		zap.Int("queued", c.queue.Size()),
		zap.Bool("online", c.monitor.IsOnline()),
	)
	return nil
}

func (c *Container) scheduleTasks(probing bool) error {
	tasks := []schedule.Task{{
		Name:     "cache-cleanup",
		Interval: c.config.CleanupInterval,
		Run:      func(ctx context.Context) { c.cache.Cleanup(ctx) },
	}}
	if probing {
		tasks = append(tasks, c.monitor.ProbeTask())
	}
	if c.config.SyncInterval > 0 {
		tasks = append(tasks, c.sync.SyncTask())
	}

	for _, task := range tasks {
		if err := c.scheduler.Add(task); err != nil {
			return fmt.Errorf("schedule %s: %w", task.Name, err)
		}
	}
	return nil
}

// Start replays anything left in the queue from a previous run, when online,
// and launches the background tasks.
func (c *Container) Start(ctx context.Context) error {
	if c.queue.Size() > 0 {
		c.sync.SyncOperations(ctx)
	}
	return c.scheduler.Start(ctx)
}

// Close stops background work and closes the database.
func (c *Container) Close() error {
	c.scheduler.Stop()
	c.sync.Close()
	return c.db.Close()
}

// Facade returns the unified entry point.
func (c *Container) Facade() *offlinecache.Facade {
	return c.facade
}

// Cache returns the multi-tier cache.
func (c *Container) Cache() *cache.MultiTierCache {
	return c.cache
}

// Engine returns the invalidation engine.
func (c *Container) Engine() *invalidation.Engine {
	return c.engine
}

// SyncManager returns the offline sync manager.
func (c *Container) SyncManager() *offline.SyncManager {
	return c.sync
}

// Monitor returns the network monitor.
func (c *Container) Monitor() *offline.NetworkMonitor {
	return c.monitor
}

// Collector returns the Prometheus collector, registered or not.
func (c *Container) Collector() prometheus.Collector {
	return c.collector
}

// Scheduler returns the background task scheduler.
func (c *Container) Scheduler() *schedule.Scheduler {
	return c.scheduler
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}
