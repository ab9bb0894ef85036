package cache

import (
	"time"
)

// TierConfig bounds a single tier. It is fixed for the lifetime of the tier.
type TierConfig struct {
	// MaxEntries caps the number of resident entries. Must be greater than 0.
	MaxEntries int

	// DefaultTTL applies to writes that do not carry their own TTL.
	// Must be greater than 0.
	DefaultTTL time.Duration
}

// Config holds the options for a MultiTierCache.
type Config struct {
	// L1 configures the in-process tier.
	L1 TierConfig

	// L2 configures the persistent tier. Ignored when no store is supplied.
	L2 TierConfig

	// LoaderTimeout bounds a single fallback loader call. A timeout is handled
	// like any other loader failure. Zero disables the bound.
	LoaderTimeout time.Duration

	// RetentionHorizon is the maximum age of a persistent entry regardless of
	// its TTL. Cleanup purges anything older.
	RetentionHorizon time.Duration

	// CleanupInterval sets how often the persistent tier is purged when the
	// cleanup task is scheduled.
	CleanupInterval time.Duration

	// WarmConcurrency limits the number of loaders WarmCache runs at once.
	WarmConcurrency int

	// LoaderBreaker guards fallback loaders with a circuit breaker.
	// If nil, loaders are always invoked.
	LoaderBreaker *BreakerConfig
}

// BreakerConfig mirrors the gobreaker settings used around fallback loaders.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval after which closed-state counts are cleared. Zero never clears.
	Interval time.Duration

	// Timeout spent open before moving to half-open.
	Timeout time.Duration

	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		L1: TierConfig{
			MaxEntries: 500,
			DefaultTTL: 5 * time.Minute,
		},
		L2: TierConfig{
			MaxEntries: 10000,
			DefaultTTL: 24 * time.Hour,
		},
		LoaderTimeout:    10 * time.Second,
		RetentionHorizon: 7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
		WarmConcurrency:  8,
		LoaderBreaker: &BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if err := c.L1.validate("L1"); err != nil {
		return err
	}

	if err := c.L2.validate("L2"); err != nil {
		return err
	}

	if c.LoaderTimeout < 0 {
		return &ConfigError{Field: "LoaderTimeout", Message: "must be non-negative"}
	}

	if c.RetentionHorizon <= 0 {
		return &ConfigError{Field: "RetentionHorizon", Message: "must be greater than 0"}
	}

	if c.CleanupInterval <= 0 {
		return &ConfigError{Field: "CleanupInterval", Message: "must be greater than 0"}
	}

	if c.WarmConcurrency <= 0 {
		return &ConfigError{Field: "WarmConcurrency", Message: "must be greater than 0"}
	}

	if c.LoaderBreaker != nil {
		if c.LoaderBreaker.ConsecutiveFailures == 0 {
			return &ConfigError{Field: "LoaderBreaker.ConsecutiveFailures", Message: "must be greater than 0"}
		}
		if c.LoaderBreaker.Interval < 0 {
			return &ConfigError{Field: "LoaderBreaker.Interval", Message: "must be non-negative"}
		}
		if c.LoaderBreaker.Timeout < 0 {
			return &ConfigError{Field: "LoaderBreaker.Timeout", Message: "must be non-negative"}
		}
	}

	return nil
}

func (t TierConfig) validate(name string) error {
	if t.MaxEntries <= 0 {
		return &ConfigError{Field: name + ".MaxEntries", Message: "must be greater than 0"}
	}
	if t.DefaultTTL <= 0 {
		return &ConfigError{Field: name + ".DefaultTTL", Message: "must be greater than 0"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
