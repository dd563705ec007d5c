package engine

import "github.com/stridehq/stridesync/internal/challenge"

// Status classifies a successful check-in call.
type Status int

const (
	// StatusConfirmed means the remote transaction committed a new
	// completion and the local cache now mirrors it.
	StatusConfirmed Status = iota + 1

	// StatusAlreadyCheckedIn means the challenge was already completed on
	// this calendar day. Benign idempotent no-op, not an error.
	StatusAlreadyCheckedIn

	// StatusQueuedOffline means the event was durably queued for later
	// reconciliation. Callers must present this as "saved, will sync",
	// never as a failure.
	StatusQueuedOffline
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusAlreadyCheckedIn:
		return "already_checked_in"
	case StatusQueuedOffline:
		return "queued_offline"
	default:
		return "unknown"
	}
}

// Outcome is the result of a successful CheckIn call.
type Outcome struct {
	Status Status

	// Event is the check-in event that was applied or queued.
	Event challenge.CheckInEvent

	// Challenge is the confirmed state after the transaction. Zero for
	// StatusQueuedOffline, where no confirmed state exists yet.
	Challenge challenge.Challenge
}
