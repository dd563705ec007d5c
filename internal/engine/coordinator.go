// Package engine orchestrates check-ins: the coordinator decides between the
// online transaction path and the offline queue, and the reconciliation
// worker drains the queue once connectivity and backend availability return.
//
// Concurrency model: each CheckIn call and each reconciliation pass is an
// independent goroutine-friendly task. No shared mutable state is touched
// outside the remote store's transaction isolation and the pending queue's
// internal serialization, so neither side takes locks here.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stridehq/stridesync/internal/auth"
	"github.com/stridehq/stridesync/internal/challenge"
	"github.com/stridehq/stridesync/internal/connectivity"
	"github.com/stridehq/stridesync/internal/gate"
	"github.com/stridehq/stridesync/internal/local"
	"github.com/stridehq/stridesync/internal/remote"
)

const (
	// DefaultWaitTimeout bounds how long a check-in waits for the
	// availability gate before failing with BackendUnavailable.
	DefaultWaitTimeout = 5 * time.Second

	// DefaultTxTimeout is the fixed ceiling on the online transaction. A
	// transaction that completes after this deadline is ignored safely:
	// replaying its event resolves to already-checked-in.
	DefaultTxTimeout = 15 * time.Second
)

// Coordinator executes single check-ins against the remote store, falling
// back to the durable pending queue when the device is offline.
type Coordinator struct {
	store   remote.Store
	queue   local.Queue
	cache   *local.Cache
	gate    *gate.Gate
	monitor *connectivity.Monitor
	auth    auth.Provider
	clock   Clock
	loc     *time.Location
	log     *slog.Logger

	waitTimeout time.Duration
	txTimeout   time.Duration
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the wall clock (tests, harness).
func WithClock(c Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

// WithLocation sets the calendar timezone used for day normalization.
func WithLocation(loc *time.Location) CoordinatorOption {
	return func(co *Coordinator) { co.loc = loc }
}

// WithWaitTimeout overrides the availability-gate wait budget.
func WithWaitTimeout(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.waitTimeout = d }
}

// WithTxTimeout overrides the online transaction ceiling.
func WithTxTimeout(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.txTimeout = d }
}

// WithCoordinatorLogger sets the coordinator's logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(co *Coordinator) { co.log = l }
}

// NewCoordinator wires a coordinator from its collaborators. All
// dependencies are explicit; nothing here reaches for process-global state.
func NewCoordinator(
	store remote.Store,
	queue local.Queue,
	cache *local.Cache,
	g *gate.Gate,
	monitor *connectivity.Monitor,
	authp auth.Provider,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		store:       store,
		queue:       queue,
		cache:       cache,
		gate:        g,
		monitor:     monitor,
		auth:        authp,
		clock:       SystemClock{},
		loc:         time.Local,
		log:         slog.Default(),
		waitTimeout: DefaultWaitTimeout,
		txTimeout:   DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckIn records a completion for challengeID on the current calendar day.
//
// The path is:
//  1. Require a signed-in user.
//  2. Wait (bounded) for the availability gate.
//  3. Best-effort fast path: if the cache already shows a confirmed
//     completion today, stop without any write.
//  4. Offline: durably queue the event and report QueuedOffline.
//  5. Online: run the authoritative transaction under the fixed ceiling,
//     then mirror the confirmed state into the cache.
//
// The cache is mutated only after remote confirmation, never optimistically.
func (c *Coordinator) CheckIn(ctx context.Context, challengeID, note string, durationMinutes int) (Outcome, error) {
	userID, err := c.auth.CurrentUser(ctx)
	if err != nil {
		return Outcome{}, newError(CodeNotAuthenticated, challengeID, "sign in required", err)
	}

	if !c.gate.WaitUntilReady(ctx, c.waitTimeout) {
		return Outcome{}, newError(CodeBackendUnavailable, challengeID,
			"backend did not become available", nil)
	}

	now := c.clock.Now()

	// Fast path on confirmed local state only. A miss here is fine; the
	// remote transaction is the authority either way.
	if c.cache != nil && c.cache.CompletedOn(ctx, challengeID, now, c.loc) {
		cached, err := c.cache.Get(ctx, challengeID)
		if err == nil {
			return Outcome{Status: StatusAlreadyCheckedIn, Challenge: cached}, nil
		}
	}

	ev := challenge.NewCheckInEvent(userID, challengeID, now, note, durationMinutes)

	if !c.monitor.Connected() {
		return c.queueOffline(ctx, ev)
	}

	txCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	res, err := remote.ApplyCheckIn(txCtx, c.store, ev, c.loc)
	switch {
	case err == nil:

	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return Outcome{}, newError(CodeTimeout, challengeID, "transaction timed out", err)

	case remote.IsTransient(err):
		// Connectivity looked fine but the backend disagreed. Same promise
		// as the offline path: save locally, sync later.
		c.log.Info("backend unreachable mid check-in, queueing", "challenge", challengeID, "error", err)
		return c.queueOffline(ctx, ev)

	case errors.Is(err, remote.ErrVersionConflict):
		return Outcome{}, newError(CodeTransactionFailed, challengeID,
			"persistent write conflicts", err)

	default:
		return Outcome{}, newError(CodeBackendError, challengeID, "remote transaction failed", err)
	}

	c.updateCache(ctx, res.Challenge)

	if res.Outcome == remote.TxAlreadyCheckedIn {
		c.log.Debug("already checked in today", "challenge", challengeID)
		return Outcome{Status: StatusAlreadyCheckedIn, Event: ev, Challenge: res.Challenge}, nil
	}

	c.log.Info("check-in confirmed",
		"challenge", challengeID,
		"streak", res.Challenge.StreakCount,
		"days_completed", res.Challenge.DaysCompleted)
	return Outcome{Status: StatusConfirmed, Event: ev, Challenge: res.Challenge}, nil
}

// queueOffline appends ev to the durable queue and reports the reassuring
// "saved, will sync" outcome.
func (c *Coordinator) queueOffline(ctx context.Context, ev challenge.CheckInEvent) (Outcome, error) {
	if err := c.queue.Append(ctx, ev); err != nil {
		// Losing the durable write IS an error: the offline promise
		// depends on it.
		return Outcome{}, newError(CodeBackendError, ev.ChallengeID,
			"failed to queue offline check-in", err)
	}
	c.log.Info("check-in queued offline", "challenge", ev.ChallengeID, "event", ev.ID)
	return Outcome{Status: StatusQueuedOffline, Event: ev}, nil
}

// updateCache mirrors confirmed state. Cache failures are logged, not
// returned: the remote store already holds the truth.
func (c *Coordinator) updateCache(ctx context.Context, ch challenge.Challenge) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(ctx, ch); err != nil {
		c.log.Warn("failed to update challenge cache", "challenge", ch.ID, "error", err)
	}
}
