package offline

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the offline queue and connectivity settings.
type Config struct {
	// ProbeInterval is how often connectivity is probed while offline.
	ProbeInterval time.Duration `json:"probe_interval"`

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration `json:"probe_timeout"`

	// ExecuteTimeout bounds a single replayed operation. A timeout counts as a
	// failed attempt.
	ExecuteTimeout time.Duration `json:"execute_timeout"`

	// DefaultMaxRetries applies when QueueMutation is called without one.
	DefaultMaxRetries int `json:"default_max_retries"`

	// SyncInterval is how often a sync pass runs while online, picking up
	// items deferred after a failed direct execution. Zero disables it.
	SyncInterval time.Duration `json:"sync_interval"`
}

// DefaultConfig returns the stock offline settings.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:     30 * time.Second,
		ProbeTimeout:      5 * time.Second,
		ExecuteTimeout:    30 * time.Second,
		DefaultMaxRetries: 3,
		SyncInterval:      time.Minute,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ProbeInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ProbeTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ExecuteTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultMaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&c.SyncInterval, validation.Min(time.Duration(0))),
	)
}
