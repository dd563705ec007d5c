package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes check-in failures.
type ErrorCode string

const (
	// CodeNotAuthenticated means no signed-in user. Hard precondition
	// failure; never queued, never retried.
	CodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"

	// CodeBackendUnavailable means the availability gate never opened
	// within the wait budget.
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// CodeTimeout means the online transaction exceeded its fixed ceiling.
	// A late-landing transaction is idempotent-safe to ignore: the
	// already-checked-in branch absorbs any duplicate application.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeTransactionFailed means the optimistic-concurrency loop gave up
	// (persistent conflicts) or the conditional write was rejected.
	CodeTransactionFailed ErrorCode = "TRANSACTION_FAILED"

	// CodeBackendError wraps any other remote failure. Surfaced to the
	// caller for an explicit retry decision; never auto-retried.
	CodeBackendError ErrorCode = "BACKEND_ERROR"
)

// CheckInError is a structured check-in failure.
//
// Note what is NOT here: "network unavailable" is not an error at all. The
// coordinator converts it into a QueuedOffline outcome, because saving the
// check-in locally and syncing later is the product's core promise, not a
// failure mode.
type CheckInError struct {
	// Code identifies the failure category.
	Code ErrorCode

	// ChallengeID identifies the affected challenge.
	ChallengeID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *CheckInError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (challenge=%s): %v", e.Code, e.Message, e.ChallengeID, e.Err)
	}
	return fmt.Sprintf("%s: %s (challenge=%s)", e.Code, e.Message, e.ChallengeID)
}

func (e *CheckInError) Unwrap() error { return e.Err }

// newError builds a CheckInError.
func newError(code ErrorCode, challengeID, message string, cause error) *CheckInError {
	return &CheckInError{Code: code, ChallengeID: challengeID, Message: message, Err: cause}
}

// CodeOf extracts the error code from err, or "" if err is not a
// CheckInError. Uses errors.As to handle wrapping.
func CodeOf(err error) ErrorCode {
	var ce *CheckInError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsTransient reports whether err belongs to the transient class that the
// reconciliation worker retries automatically. Everything else is surfaced
// to the caller and never auto-retried, to avoid silent duplicate side
// effects.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeBackendUnavailable, CodeTimeout:
		return true
	}
	return false
}
