// Package connectivity tracks device network reachability and fans change
// notifications out to subscribers.
//
// The signal is best-effort: "connected" does not guarantee the authoritative
// backend is reachable. That stronger promise belongs to the availability
// gate, which layers a real probe on top of these notifications.
package connectivity

import (
	"context"
	"sync"
	"time"
)

// Change is one connectivity transition.
type Change struct {
	Connected bool
	At        time.Time
}

// Probe reports current reachability. Used by Run for environments without a
// push-style reachability signal from the platform.
type Probe func(ctx context.Context) bool

// Monitor holds the current connectivity snapshot and broadcasts transitions.
//
// The platform reachability primitive feeds the monitor through Set; tests
// and the conformance harness drive it the same way. Subscribers receive
// transitions on buffered channels with non-blocking delivery, so a slow
// consumer coalesces to "a change happened" rather than stalling the monitor.
//
// Thread-safety: all methods are safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	connected bool
	subs      map[chan Change]struct{}
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(connected bool) *Monitor {
	return &Monitor{
		connected: connected,
		subs:      make(map[chan Change]struct{}),
	}
}

// Connected returns the current snapshot.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Set records a new reachability state. Broadcasts only on transition;
// repeated sets of the same state are ignored.
func (m *Monitor) Set(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected == connected {
		return
	}
	m.connected = connected

	change := Change{Connected: connected, At: time.Now()}
	for ch := range m.subs {
		// Replace any undelivered change so the buffer always holds the
		// latest transition. A slow subscriber coalesces intermediate
		// flaps but must never act on a stale state.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- change:
		default:
		}
	}
}

// Subscribe registers a new subscription and returns its channel. The
// channel is buffered (size 1); callers must Unsubscribe when done.
func (m *Monitor) Subscribe() chan Change {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Change, 1)
	m.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Monitor) Unsubscribe(ch chan Change) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[ch]; !ok {
		return
	}
	delete(m.subs, ch)
	close(ch)
}

// Run polls probe at the given interval until ctx is cancelled, feeding
// results through Set. One immediate probe happens before the first tick.
func (m *Monitor) Run(ctx context.Context, probe Probe, interval time.Duration) {
	m.Set(probe(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Set(probe(ctx))
		}
	}
}
