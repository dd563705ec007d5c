// Package remote defines the authoritative challenge store contract and the
// optimistic-concurrency check-in transaction that both the online check-in
// path and the reconciliation worker execute.
//
// The store itself is an external collaborator. This package ships two
// implementations: MemoryStore (tests, conformance harness) and SQLiteStore
// (self-hosted/dev deployments). Both satisfy the same conditional-write
// contract, so ApplyCheckIn behaves identically against either.
package remote

import (
	"context"
	"errors"

	"github.com/stridehq/stridesync/internal/challenge"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the challenge does not exist.
	ErrNotFound = errors.New("remote: challenge not found")

	// ErrVersionConflict indicates a conditional write lost a race with a
	// concurrent writer. The transaction loop retries on this error.
	ErrVersionConflict = errors.New("remote: version conflict")

	// ErrUnavailable indicates the backend could not be reached. Callers
	// treat it as transient.
	ErrUnavailable = errors.New("remote: backend unavailable")

	// ErrDuplicateEvent indicates a completion with the same client event ID
	// already exists. This is the structural idempotency backstop: replaying
	// an already-applied event can never create a second completion record.
	ErrDuplicateEvent = errors.New("remote: duplicate check-in event")
)

// Store is the authoritative challenge store.
//
// CompareAndPut is the transaction primitive: it writes the challenge and
// appends the completion record atomically, but only if the stored version
// still equals expectedVersion. The check-in transaction retries on
// ErrVersionConflict; implementations do no locking beyond that.
type Store interface {
	// GetChallenge returns the current challenge document for id.
	GetChallenge(ctx context.Context, id string) (challenge.Challenge, error)

	// PutChallenge writes c unconditionally, assigning it version 1 (or
	// incrementing an existing document's version). Used for seeding and
	// administrative repair, never by the check-in path.
	PutChallenge(ctx context.Context, c challenge.Challenge) error

	// CompareAndPut conditionally writes c and appends rec in one atomic
	// step. Fails with ErrVersionConflict if the stored version differs from
	// expectedVersion, and with ErrDuplicateEvent if rec.EventID was already
	// recorded. rec may be nil for version-checked writes without a new
	// completion. On success the stored version becomes expectedVersion+1
	// and rec.ID is assigned by the store.
	CompareAndPut(ctx context.Context, c challenge.Challenge, expectedVersion int64, rec *challenge.CompletionRecord) error

	// Completions returns the append-only completion records for a
	// challenge, in the order they were recorded.
	Completions(ctx context.Context, challengeID string) ([]challenge.CompletionRecord, error)

	// Ping reports whether the backend is reachable and initialized. Used
	// as the availability gate's probe.
	Ping(ctx context.Context) error
}

// IsTransient reports whether err is a backend-reachability failure that a
// later retry can reasonably expect to succeed. Version conflicts are not
// transient in this sense: the transaction loop handles them itself.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
