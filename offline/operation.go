package offline

import (
	"context"
	"time"
)

// KindMutation is the only operation kind the queue replays today.
const KindMutation = "mutation"

// Operation is an explicit descriptor of a deferred write. Name doubles as
// the mutation type used to look up invalidation rules.
type Operation struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Mutation builds a mutation descriptor.
func Mutation(name string, payload any) Operation {
	return Operation{Kind: KindMutation, Name: name, Payload: payload}
}

// Executor performs a previously deferred write against the authoritative
// source.
type Executor interface {
	Execute(ctx context.Context, op Operation, variables map[string]any) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, op Operation, variables map[string]any) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, op Operation, variables map[string]any) (any, error) {
	return f(ctx, op, variables)
}

// Invalidator purges cache entries made stale by a successful mutation.
type Invalidator interface {
	InvalidateFromMutation(ctx context.Context, mutationType string, variables map[string]any, tenantID string) int
}

// Clock returns the current time.
type Clock func() time.Time
