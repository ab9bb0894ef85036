package offline

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	logger       *zap.Logger
	clock        Clock
	mutationType func(Operation) string
}

// Option configures the monitor and the sync manager.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMutationType overrides how a mutation type is derived from an
// operation. By default the operation name is used.
func WithMutationType(fn func(Operation) string) Option {
	return func(o *options) {
		if fn != nil {
			o.mutationType = fn
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop(),
		clock:  time.Now,
		mutationType: func(op Operation) string {
			return op.Name
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
