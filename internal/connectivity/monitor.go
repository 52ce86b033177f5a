// Package connectivity tracks whether the remote service is reachable and
// notifies listeners on transitions.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Listener is called with the new reachability after every transition.
type Listener func(connected bool)

// Prober answers whether the remote is reachable right now.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// Monitor caches the last known reachability and fans out transitions.
type Monitor struct {
	prober Prober
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	nextID    uint64
	listeners map[uint64]Listener
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = l
	}
}

// NewMonitor returns a Monitor whose initial snapshot is connected.
func NewMonitor(prober Prober, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		prober:    prober,
		logger:    slog.Default(),
		connected: true,
		listeners: map[uint64]Listener{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Snapshot returns the last known reachability without probing.
func (m *Monitor) Snapshot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Check probes the remote, updates the snapshot and notifies listeners if
// the value changed.
func (m *Monitor) Check(ctx context.Context) bool {
	connected := m.prober.Probe(ctx)
	m.set(connected)
	return connected
}

// Subscribe registers fn for transitions and returns a function that
// removes it.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) set(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.logger.Info("Connectivity changed", "connected", connected)
	for _, l := range listeners {
		l(connected)
	}
}

// Watch calls Check every interval until ctx is done.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// WaitForConnection returns true as soon as the monitor reports connected,
// or false once timeout elapses or ctx is done.
func (m *Monitor) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	ready := make(chan struct{}, 1)
	unsubscribe := m.Subscribe(func(connected bool) {
		if connected {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if m.Snapshot() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
