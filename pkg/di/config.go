package di

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-offline-cache/cache"
	"github.com/goliatone/go-offline-cache/offline"
)

// EnvPrefix is prepended to every environment variable read by ConfigFromEnv.
const EnvPrefix = "OFFLINECACHE_"

// Config is the flat, environment friendly configuration of a Container.
type Config struct {
	// DBPath is the SQLite file backing the persistent tier and the offline
	// queue. Use cacheinfra.MemoryPath for a throwaway database.
	DBPath string `env:"DB_PATH" envDefault:"offline-cache.db"`

	L1MaxEntries int           `env:"L1_MAX_ENTRIES" envDefault:"500"`
	L1TTL        time.Duration `env:"L1_TTL" envDefault:"5m"`
	L2MaxEntries int           `env:"L2_MAX_ENTRIES" envDefault:"10000"`
	L2TTL        time.Duration `env:"L2_TTL" envDefault:"24h"`

	LoaderTimeout    time.Duration `env:"LOADER_TIMEOUT" envDefault:"10s"`
	RetentionHorizon time.Duration `env:"RETENTION_HORIZON" envDefault:"168h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	WarmConcurrency  int           `env:"WARM_CONCURRENCY" envDefault:"8"`
	LoaderBreaker    bool          `env:"LOADER_BREAKER" envDefault:"true"`

	// ProbeURL is requested while offline to detect recovery. Empty disables
	// active probing.
	ProbeURL       string        `env:"PROBE_URL"`
	ProbeInterval  time.Duration `env:"PROBE_INTERVAL" envDefault:"30s"`
	ProbeTimeout   time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`
	ExecuteTimeout time.Duration `env:"EXECUTE_TIMEOUT" envDefault:"30s"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3"`
	SyncInterval   time.Duration `env:"SYNC_INTERVAL" envDefault:"1m"`
	StartOnline    bool          `env:"START_ONLINE" envDefault:"true"`

	// RulesFile is an optional YAML invalidation rule table.
	RulesFile string `env:"RULES_FILE"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"offlinecache"`
}

// DefaultConfig returns the configuration produced by an empty environment.
func DefaultConfig() Config {
	var cfg Config
	// Only defaults are applied, so this cannot fail.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// ConfigFromEnv reads OFFLINECACHE_* variables on top of the defaults and
// validates the result.
func ConfigFromEnv() (Config, error) {
	return configFromEnvironment(nil)
}

func configFromEnvironment(environment map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix, Environment: environment}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DBPath, validation.Required),
		validation.Field(&c.L1MaxEntries, validation.Required, validation.Min(1)),
		validation.Field(&c.L1TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.L2MaxEntries, validation.Required, validation.Min(1)),
		validation.Field(&c.L2TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.LoaderTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RetentionHorizon, validation.Required),
		validation.Field(&c.CleanupInterval, validation.Required),
		validation.Field(&c.WarmConcurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.ProbeURL, is.RequestURL),
		validation.Field(&c.ProbeInterval, validation.Required),
		validation.Field(&c.ProbeTimeout, validation.Required),
		validation.Field(&c.ExecuteTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&c.SyncInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.MetricsNamespace, validation.Required),
	)
}

// CacheConfig maps the flat settings onto cache.Config.
func (c Config) CacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.L1 = cache.TierConfig{MaxEntries: c.L1MaxEntries, DefaultTTL: c.L1TTL}
	cfg.L2 = cache.TierConfig{MaxEntries: c.L2MaxEntries, DefaultTTL: c.L2TTL}
	cfg.LoaderTimeout = c.LoaderTimeout
	cfg.RetentionHorizon = c.RetentionHorizon
	cfg.CleanupInterval = c.CleanupInterval
	cfg.WarmConcurrency = c.WarmConcurrency
	if !c.LoaderBreaker {
		cfg.LoaderBreaker = nil
	}
	return cfg
}

// OfflineConfig maps the flat settings onto offline.Config.
func (c Config) OfflineConfig() offline.Config {
	return offline.Config{
		ProbeInterval:     c.ProbeInterval,
		ProbeTimeout:      c.ProbeTimeout,
		ExecuteTimeout:    c.ExecuteTimeout,
		DefaultMaxRetries: c.MaxRetries,
		SyncInterval:      c.SyncInterval,
	}
}
