// Package challenge defines the data model for 100-day challenges and the
// pure streak computation applied on every check-in.
//
// Nothing in this package touches storage or the network. The types here are
// shared by the remote store (authoritative copy), the local cache (confirmed
// mirror), and the pending queue (serialized events awaiting sync).
package challenge

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// TargetDays is the fixed length of a challenge. A challenge is marked
// completed when DaysCompleted reaches this value.
const TargetDays = 100

// Challenge is one user commitment. The remote store owns the authoritative
// copy; the device cache holds an eventually-consistent mirror that is only
// updated after remote confirmation.
//
// INVARIANTS:
//   - DaysCompleted only increases, and never exceeds TargetDays
//   - LastCheckIn, when set, is the start-of-day of the most recent
//     confirmed completion
//   - Version is owned by the remote store and increments on every
//     successful conditional write (optimistic concurrency)
type Challenge struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	OwnerID        string     `json:"owner_id"`
	StartDate      time.Time  `json:"start_date"`
	DaysCompleted  int        `json:"days_completed"`
	StreakCount    int        `json:"streak_count"`
	LastCheckIn    *time.Time `json:"last_check_in,omitempty"`
	CompletedToday bool       `json:"completed_today"`
	Completed      bool       `json:"completed"`
	Archived       bool       `json:"archived"`
	LastModified   time.Time  `json:"last_modified"`
	Version        int64      `json:"version"`
}

// Clone returns a deep copy. LastCheckIn is the only pointer field.
func (c Challenge) Clone() Challenge {
	out := c
	if c.LastCheckIn != nil {
		t := *c.LastCheckIn
		out.LastCheckIn = &t
	}
	return out
}

// CheckInEvent is an immutable record of one completion attempt.
//
// ID is the client-generated idempotency key: the remote store enforces a
// uniqueness constraint on it, so replaying the same event twice can never
// produce two completion records.
//
// Events are created at the moment the user checks in and consumed exactly
// once, by either the online path or the reconciliation worker. They are
// removed from the pending queue only after remote confirmation or a
// decisively permanent rejection.
type CheckInEvent struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ChallengeID     string    `json:"challenge_id"`
	Date            time.Time `json:"date"`
	Note            string    `json:"note,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewCheckInEvent constructs an event with a fresh UUIDv7 ID.
//
// UUIDv7 embeds a timestamp in the most significant bits, so event IDs sort
// by creation time. That makes the ID a usable tiebreaker for insertion-order
// processing on top of the queue's own position counter.
//
// The note is NFC-normalized so the same logical text always serializes
// identically regardless of how the input method composed it.
func NewCheckInEvent(userID, challengeID string, date time.Time, note string, durationMinutes int) CheckInEvent {
	return CheckInEvent{
		ID:              uuid.Must(uuid.NewV7()).String(),
		UserID:          userID,
		ChallengeID:     challengeID,
		Date:            date,
		Note:            NormalizeText(note),
		DurationMinutes: durationMinutes,
		CreatedAt:       date,
	}
}

// CompletionRecord is one confirmed completion stored under a challenge in
// the remote store. ID is server-assigned; EventID is the client idempotency
// key of the event that produced it.
type CompletionRecord struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	ChallengeID     string    `json:"challenge_id"`
	Date            time.Time `json:"date"`
	Note            string    `json:"note,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

// NormalizeText returns s in Unicode NFC form. Titles and notes pass through
// here before they are hashed, compared, or persisted.
func NormalizeText(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}
