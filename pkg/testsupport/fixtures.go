package testsupport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-offline-cache/internal/cacheinfra"
	"github.com/goliatone/go-offline-cache/offline"
	"github.com/uptrace/bun"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// OpenTestDB opens a migrated in-memory database that is closed when the test
// ends.
func OpenTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := cacheinfra.Open(context.Background(), cacheinfra.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// OpenFileDB opens a migrated database file inside a per-test directory. Use
// it to check that state survives a reopen.
func OpenFileDB(t *testing.T, dir string) *bun.DB {
	t.Helper()

	db, err := cacheinfra.Open(context.Background(), filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("failed to open database in %s: %v", dir, err)
	}
	return db
}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts the clock at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current fake time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Call is one recorded executor invocation.
type Call struct {
	Operation offline.Operation
	Variables map[string]any
}

// RecordingExecutor records every call and replays scripted failures per
// operation name. Once the script for a name is used up, calls succeed.
type RecordingExecutor struct {
	mu      sync.Mutex
	calls   []Call
	scripts map[string][]error
	// Hook runs inside Execute before the result is returned.
	Hook func(op offline.Operation)
}

// NewRecordingExecutor returns an executor where every call succeeds.
func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{scripts: make(map[string][]error)}
}

// FailNext queues errs to be returned by the next calls for name.
func (e *RecordingExecutor) FailNext(name string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[name] = append(e.scripts[name], errs...)
}

// Execute implements offline.Executor. The result echoes the operation name.
func (e *RecordingExecutor) Execute(ctx context.Context, op offline.Operation, variables map[string]any) (any, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Operation: op, Variables: variables})
	var err error
	if script := e.scripts[op.Name]; len(script) > 0 {
		err = script[0]
		e.scripts[op.Name] = script[1:]
	}
	hook := e.Hook
	e.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	if err != nil {
		return nil, err
	}
	return op.Name, nil
}

// Calls returns the recorded calls in order.
func (e *RecordingExecutor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Names returns the operation names of the recorded calls in order.
func (e *RecordingExecutor) Names() []string {
	calls := e.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Operation.Name
	}
	return out
}

// Invalidation is one recorded invalidation request.
type Invalidation struct {
	MutationType string
	Variables    map[string]any
	TenantID     string
}

// RecordingInvalidator implements offline.Invalidator and records requests.
// When Next is set the request is forwarded to it.
type RecordingInvalidator struct {
	Next offline.Invalidator

	mu    sync.Mutex
	calls []Invalidation
}

// InvalidateFromMutation implements offline.Invalidator.
func (r *RecordingInvalidator) InvalidateFromMutation(ctx context.Context, mutationType string, variables map[string]any, tenantID string) int {
	r.mu.Lock()
	r.calls = append(r.calls, Invalidation{MutationType: mutationType, Variables: variables, TenantID: tenantID})
	r.mu.Unlock()

	if r.Next == nil {
		return 0
	}
	return r.Next.InvalidateFromMutation(ctx, mutationType, variables, tenantID)
}

// Calls returns the recorded requests in order.
func (r *RecordingInvalidator) Calls() []Invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invalidation, len(r.calls))
	copy(out, r.calls)
	return out
}

// StaticProber returns a prober whose outcome is controlled by the returned
// setter.
func StaticProber(reachable bool) (offline.Prober, func(bool)) {
	var mu sync.Mutex
	state := reachable
	prober := offline.ProberFunc(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if !state {
			return errUnreachable
		}
		return nil
	})
	return prober, func(v bool) {
		mu.Lock()
		defer mu.Unlock()
		state = v
	}
}

var errUnreachable = errors.New("origin unreachable")
