// Package schedule runs periodic background tasks with an explicit lifecycle.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStarted is returned when tasks are added to, or Start is called on, a
// running scheduler.
var ErrStarted = errors.New("schedule: scheduler already started")

// Task is a unit of periodic work. Run is invoked once per Interval and never
// concurrently with itself.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler owns one ticker goroutine per task.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []Task
	logger  *zap.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates an idle scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger.Named("schedule")}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("schedule: task %q has no run function", task.Name)
	}
	if task.Interval <= 0 {
		return fmt.Errorf("schedule: task %q interval must be greater than 0", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrStarted
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start launches every registered task. Tasks stop when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
	return nil
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, task)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r),
			)
		}
	}()
	task.Run(ctx)
}
