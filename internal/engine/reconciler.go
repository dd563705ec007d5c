package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stridehq/stridesync/internal/challenge"
	"github.com/stridehq/stridesync/internal/connectivity"
	"github.com/stridehq/stridesync/internal/gate"
	"github.com/stridehq/stridesync/internal/local"
	"github.com/stridehq/stridesync/internal/remote"
)

// DrainStats summarizes one reconciliation pass.
type DrainStats struct {
	Applied     int // events confirmed by the remote transaction
	AlreadyDone int // events discarded as already-checked-in (goal met)
	Dropped     int // events removed on permanent failure
	Retained    int // events kept for a later pass after a transient failure
}

// Reconciler drains the pending queue through the same authoritative
// transaction the online path uses.
//
// Events are processed strictly in insertion order and the whole pass stops
// at the first transient failure. Stopping (rather than skipping) preserves
// the per-challenge date monotonicity the streak engine assumes; retained
// events simply wait for the next trigger.
type Reconciler struct {
	store   remote.Store
	queue   local.Queue
	cache   *local.Cache
	gate    *gate.Gate
	monitor *connectivity.Monitor
	loc     *time.Location
	log     *slog.Logger
	tokens  TokenGenerator

	waitTimeout time.Duration
	txTimeout   time.Duration
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLocation sets the calendar timezone.
func WithReconcilerLocation(loc *time.Location) ReconcilerOption {
	return func(r *Reconciler) { r.loc = loc }
}

// WithReconcilerLogger sets the reconciler's logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = l }
}

// WithRunTokens overrides the run token generator (tests, harness).
func WithRunTokens(g TokenGenerator) ReconcilerOption {
	return func(r *Reconciler) { r.tokens = g }
}

// WithReconcilerTimeouts overrides the gate wait and per-event transaction
// budgets.
func WithReconcilerTimeouts(wait, tx time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		r.waitTimeout = wait
		r.txTimeout = tx
	}
}

// NewReconciler wires a reconciliation worker.
func NewReconciler(
	store remote.Store,
	queue local.Queue,
	cache *local.Cache,
	g *gate.Gate,
	monitor *connectivity.Monitor,
	opts ...ReconcilerOption,
) *Reconciler {
	r := &Reconciler{
		store:       store,
		queue:       queue,
		cache:       cache,
		gate:        g,
		monitor:     monitor,
		loc:         time.Local,
		log:         slog.Default(),
		tokens:      UUIDv7Generator{},
		waitTimeout: DefaultWaitTimeout,
		txTimeout:   DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Drain processes all pending events in insertion order.
//
// Per-event outcome handling:
//   - applied or already-checked-in: removed from the queue (terminal)
//   - transient failure: retained, and the pass stops so later events for
//     the same challenge cannot jump ahead
//   - anything else: removed as permanent, surfaced to the log only
//
// Queue mutations are per-event, so an interrupted pass never loses progress
// and never double-applies what it already confirmed.
func (r *Reconciler) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats

	events, err := r.queue.List(ctx)
	if err != nil {
		return stats, err
	}
	if len(events) == 0 {
		return stats, nil
	}

	log := r.log.With("run", r.tokens.Generate())
	log.Info("reconciliation pass started", "pending", len(events))

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			stats.Retained = len(events) - i
			return stats, err
		}

		txCtx, cancel := context.WithTimeout(ctx, r.txTimeout)
		res, err := remote.ApplyCheckIn(txCtx, r.store, ev, r.loc)
		cancel()

		switch {
		case err == nil:
			if res.Outcome == remote.TxApplied {
				stats.Applied++
				r.updateCache(ctx, log, res.Challenge)
				log.Info("queued check-in applied",
					"event", ev.ID, "challenge", ev.ChallengeID,
					"streak", res.Challenge.StreakCount)
			} else {
				stats.AlreadyDone++
				log.Debug("queued check-in already satisfied",
					"event", ev.ID, "challenge", ev.ChallengeID)
			}
			if err := r.queue.Remove(ctx, ev.ID); err != nil {
				// The event stays queued; replaying it later is safe.
				log.Warn("failed to remove drained event", "event", ev.ID, "error", err)
			}

		case remote.IsTransient(err) || errors.Is(err, context.DeadlineExceeded):
			stats.Retained = len(events) - i
			log.Info("backend still unreachable, stopping pass",
				"event", ev.ID, "retained", stats.Retained, "error", err)
			return stats, nil

		default:
			stats.Dropped++
			log.Warn("dropping permanently failed check-in",
				"event", ev.ID, "challenge", ev.ChallengeID, "error", err)
			if err := r.queue.Remove(ctx, ev.ID); err != nil {
				log.Warn("failed to remove dropped event", "event", ev.ID, "error", err)
			}
		}
	}

	log.Info("reconciliation pass finished",
		"applied", stats.Applied, "already_done", stats.AlreadyDone, "dropped", stats.Dropped)
	return stats, nil
}

// Run drains on startup (if anything is pending) and then on every
// connectivity-restored notification, until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	changes := r.monitor.Subscribe()
	defer r.monitor.Unsubscribe(changes)

	if n, err := r.queue.Len(ctx); err == nil && n > 0 {
		r.drainWhenReady(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Connected {
				r.drainWhenReady(ctx)
			}
		}
	}
}

// drainWhenReady waits (bounded) for the gate before draining, so queued
// events are not burned against a backend that is still initializing.
func (r *Reconciler) drainWhenReady(ctx context.Context) {
	if !r.gate.WaitUntilReady(ctx, r.waitTimeout) {
		r.log.Debug("skipping reconciliation, backend not ready")
		return
	}
	if _, err := r.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("reconciliation pass failed", "error", err)
	}
}

func (r *Reconciler) updateCache(ctx context.Context, log *slog.Logger, ch challenge.Challenge) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Put(ctx, ch); err != nil {
		log.Warn("failed to update challenge cache", "challenge", ch.ID, "error", err)
	}
}
