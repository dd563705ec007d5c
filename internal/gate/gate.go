// Package gate tracks whether the remote backend is initialized and ready
// for transactions.
//
// The gate sits between the connectivity monitor's best-effort signal and the
// check-in coordinator's hard requirement: dependent operations must neither
// block forever on a backend that will never come up, nor fire prematurely
// against one that is still initializing.
//
// Retry behavior is an explicit bounded state machine: a fixed probe
// interval, an attempt counter capped at a configured maximum, and a terminal
// give-up state that is re-armed only by an external trigger (a
// connectivity-restored notification). Exhausting the budget is an
// operational backstop, never a process failure.
package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stridehq/stridesync/internal/connectivity"
)

// State is the gate lifecycle position.
type State int

const (
	// StateUnknown is the initial state before any probe has run.
	StateUnknown State = iota

	// StateInitializing means bounded retries are in flight.
	StateInitializing

	// StateAvailable means the last probe succeeded.
	StateAvailable

	// StateUnavailable means the retry budget was exhausted. The gate stays
	// eligible for re-arming on the next connectivity-restored event.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Probe checks whether the backend is initialized and reachable. A nil error
// means ready. Usually this is the remote store's Ping.
type Probe func(ctx context.Context) error

const (
	// DefaultInterval is the fixed probe period.
	DefaultInterval = time.Second

	// DefaultMaxAttempts is the retry budget per arming cycle.
	DefaultMaxAttempts = 5
)

// Gate is the backend availability gate.
//
// Thread-safety: IsReady, State, WaitUntilReady, and ProbeNow are safe from
// any goroutine. Run must be called from exactly one goroutine.
type Gate struct {
	probe       Probe
	interval    time.Duration
	maxAttempts int
	log         *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	changed  chan struct{} // closed and replaced on every state transition
}

// Option configures a Gate.
type Option func(*Gate)

// WithInterval overrides the probe period.
func WithInterval(d time.Duration) Option {
	return func(g *Gate) { g.interval = d }
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(g *Gate) { g.maxAttempts = n }
}

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// New creates a gate in StateUnknown.
func New(probe Probe, opts ...Option) *Gate {
	g := &Gate{
		probe:       probe,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		log:         slog.Default(),
		state:       StateUnknown,
		changed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsReady is the non-blocking readiness snapshot.
func (g *Gate) IsReady() bool {
	return g.State() == StateAvailable
}

// State returns the current lifecycle state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// WaitUntilReady blocks the calling goroutine until the gate is available,
// the timeout elapses, ctx is cancelled, or the gate gives up its retry
// budget. Returns whether readiness was achieved.
func (g *Gate) WaitUntilReady(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		g.mu.Lock()
		state, changed := g.state, g.changed
		g.mu.Unlock()

		switch state {
		case StateAvailable:
			return true
		case StateUnavailable:
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case <-changed:
		}
	}
}

// ProbeNow runs one probe immediately and resets the retry budget first.
// This is the connectivity-restored re-arm path; it is also useful at
// startup to seed the state synchronously.
func (g *Gate) ProbeNow(ctx context.Context) bool {
	g.mu.Lock()
	g.attempts = 0
	if g.state == StateUnavailable {
		g.transitionLocked(StateInitializing)
	}
	g.mu.Unlock()
	return g.probeOnce(ctx)
}

// Run drives the periodic probe loop until ctx is cancelled. Connectivity
// transitions on monitor re-arm the gate: a restored connection resets the
// attempt counter and probes immediately. monitor may be nil when no
// reachability signal exists (the fixed interval alone then drives probing).
func (g *Gate) Run(ctx context.Context, monitor *connectivity.Monitor) {
	var changes chan connectivity.Change
	if monitor != nil {
		changes = monitor.Subscribe()
		defer monitor.Unsubscribe(changes)
	}

	g.probeOnce(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if change.Connected {
				g.log.Debug("connectivity restored, re-arming gate")
				g.ProbeNow(ctx)
			}

		case <-ticker.C:
			g.probeOnce(ctx)
		}
	}
}

// probeOnce runs a single probe and applies the state machine transition.
// Probes stop once the budget is exhausted; only ProbeNow restarts them.
func (g *Gate) probeOnce(ctx context.Context) bool {
	g.mu.Lock()
	if g.state == StateUnavailable {
		g.mu.Unlock()
		return false
	}
	if g.state == StateUnknown {
		g.transitionLocked(StateInitializing)
	}
	g.mu.Unlock()

	err := g.probe(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		g.attempts = 0
		g.transitionLocked(StateAvailable)
		return true
	}

	g.attempts++
	g.log.Debug("backend probe failed", "attempt", g.attempts, "max", g.maxAttempts, "error", err)

	if g.attempts >= g.maxAttempts {
		g.log.Error("backend did not become available, giving up until connectivity returns",
			"attempts", g.attempts, "error", err)
		g.transitionLocked(StateUnavailable)
	} else {
		g.transitionLocked(StateInitializing)
	}
	return false
}

// transitionLocked moves to s and wakes waiters. Caller holds g.mu.
func (g *Gate) transitionLocked(s State) {
	if g.state == s {
		return
	}
	g.log.Debug("availability state changed", "from", g.state.String(), "to", s.String())
	g.state = s
	close(g.changed)
	g.changed = make(chan struct{})
}
