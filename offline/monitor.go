package offline

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-offline-cache/internal/schedule"
	"go.uber.org/zap"
)

// ConnectivityState is the process wide view of connectivity.
type ConnectivityState struct {
	Online       bool
	LastOnlineAt time.Time
	OfflineSince time.Time
}

// Listener is notified after every Online/Offline transition.
type Listener func(ConnectivityState)

type listenerEntry struct {
	id int
	fn Listener
}

// NetworkMonitor is a two-state (online/offline) machine driven by transport
// events and, while offline, by an active probe.
type NetworkMonitor struct {
	mu          sync.Mutex
	state       ConnectivityState
	accumulated time.Duration
	listeners   []listenerEntry
	nextID      int

	prober Prober
	cfg    Config
	logger *zap.Logger
	now    Clock
}

// NewNetworkMonitor creates a monitor in the given initial state. A nil
// prober disables active probing.
func NewNetworkMonitor(online bool, prober Prober, cfg Config, opts ...Option) *NetworkMonitor {
	o := applyOptions(opts)
	m := &NetworkMonitor{
		prober: prober,
		cfg:    cfg,
		logger: o.logger.Named("network"),
		now:    o.clock,
	}

	now := m.now()
	m.state.Online = online
	if online {
		m.state.LastOnlineAt = now
	} else {
		m.state.OfflineSince = now
	}
	return m
}

// SetOnline records a transport level connectivity event. Listeners run
// synchronously, in registration order, only when the state actually changes.
// It reports whether a transition happened.
func (m *NetworkMonitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.state.Online == online {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	if online {
		m.accumulated += now.Sub(m.state.OfflineSince)
		m.state.OfflineSince = time.Time{}
		m.state.LastOnlineAt = now
	} else {
		m.state.OfflineSince = now
	}
	m.state.Online = online

	snapshot := m.state
	listeners := make([]listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("online", online))
	for _, l := range listeners {
		m.notify(l, snapshot)
	}
	return true
}

func (m *NetworkMonitor) notify(l listenerEntry, state ConnectivityState) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity listener panicked",
				zap.Int("listener", l.id),
				zap.Any("panic", r),
			)
		}
	}()
	l.fn(state)
}

// Subscribe registers fn and returns a function that removes it.
func (m *NetworkMonitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// IsOnline reports the current state.
func (m *NetworkMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Online
}

// State returns a copy of the connectivity state.
func (m *NetworkMonitor) State() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TotalOfflineTime returns the length of the current offline period, or zero
// while online.
func (m *NetworkMonitor) TotalOfflineTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Online {
		return 0
	}
	return m.now().Sub(m.state.OfflineSince)
}

// AccumulatedOfflineTime returns the summed length of every offline period,
// the current one included.
func (m *NetworkMonitor) AccumulatedOfflineTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.accumulated
	if !m.state.Online {
		total += m.now().Sub(m.state.OfflineSince)
	}
	return total
}

// Probe actively checks connectivity while offline and transitions to online
// on success. It is a no-op while online. It returns the resulting state.
func (m *NetworkMonitor) Probe(ctx context.Context) bool {
	if m.IsOnline() {
		return true
	}
	if m.prober == nil {
		return false
	}

	if m.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
	}

	if err := m.prober.Probe(ctx); err != nil {
		m.logger.Debug("connectivity probe failed", zap.Error(err))
		return false
	}

	m.SetOnline(true)
	return true
}

// ProbeTask returns the periodic probe as a schedulable task.
func (m *NetworkMonitor) ProbeTask() schedule.Task {
	return schedule.Task{
		Name:     "network-probe",
		Interval: m.cfg.ProbeInterval,
		Run: func(ctx context.Context) {
			if !m.IsOnline() {
				m.Probe(ctx)
			}
		},
	}
}
