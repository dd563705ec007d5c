package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stridehq/stridesync/internal/challenge"
)

func isConflict(err error) bool  { return errors.Is(err, ErrVersionConflict) }
func isDuplicate(err error) bool { return errors.Is(err, ErrDuplicateEvent) }

// TxOutcome classifies a successful check-in transaction.
type TxOutcome int

const (
	// TxApplied means a new completion was recorded and the challenge
	// document was updated.
	TxApplied TxOutcome = iota + 1

	// TxAlreadyCheckedIn means the challenge was already completed on the
	// event's calendar day. The document was NOT mutated. This is a success
	// from the caller's point of view, not a conflict.
	TxAlreadyCheckedIn
)

// TxResult is the outcome of ApplyCheckIn plus the challenge state the
// transaction observed (post-write for TxApplied, as-read otherwise).
type TxResult struct {
	Outcome   TxOutcome
	Challenge challenge.Challenge
}

// DefaultMaxConflictRetries bounds the optimistic-concurrency retry loop.
// Five lost races against the same document in a row means something is
// systematically wrong, not just contended.
const DefaultMaxConflictRetries = 5

// ApplyCheckIn runs the authoritative check-in transaction for one event.
//
// The loop is read → compute streak → conditional write, retried on version
// conflict. The streak computation is pure, so re-running it with freshly
// read state on every retry is safe.
//
// Steps per attempt:
//  1. Read the current challenge document.
//  2. Compute the streak transition for the event's date.
//  3. Already checked in on that day: stop without a write, TxAlreadyCheckedIn.
//  4. Otherwise write the updated document and append the completion record
//     atomically, conditioned on the version read in step 1.
//
// A duplicate event ID (replay of an already-applied event) resolves to
// TxAlreadyCheckedIn rather than an error, for the same reason the same-day
// branch does: the goal was already met.
func ApplyCheckIn(ctx context.Context, s Store, ev challenge.CheckInEvent, loc *time.Location) (TxResult, error) {
	day := challenge.StartOfDay(ev.Date, loc)

	for attempt := 1; ; attempt++ {
		cur, err := s.GetChallenge(ctx, ev.ChallengeID)
		if err != nil {
			return TxResult{}, fmt.Errorf("read challenge %s: %w", ev.ChallengeID, err)
		}

		next := challenge.NextStreak(day, cur.LastCheckIn, cur.StreakCount, loc)
		if next.AlreadyCheckedInToday {
			return TxResult{Outcome: TxAlreadyCheckedIn, Challenge: cur}, nil
		}

		updated := cur.Clone()
		updated.DaysCompleted++
		updated.StreakCount = next.StreakCount
		updated.LastCheckIn = &day
		updated.CompletedToday = true
		updated.LastModified = ev.Date
		if updated.DaysCompleted >= challenge.TargetDays {
			updated.DaysCompleted = challenge.TargetDays
			updated.Completed = true
		}

		rec := &challenge.CompletionRecord{
			EventID:         ev.ID,
			ChallengeID:     ev.ChallengeID,
			Date:            day,
			Note:            ev.Note,
			DurationMinutes: ev.DurationMinutes,
		}

		err = s.CompareAndPut(ctx, updated, cur.Version, rec)
		switch {
		case err == nil:
			updated.Version = cur.Version + 1
			return TxResult{Outcome: TxApplied, Challenge: updated}, nil

		case isConflict(err):
			if attempt >= DefaultMaxConflictRetries {
				return TxResult{}, fmt.Errorf("check-in for %s: gave up after %d conflicts: %w",
					ev.ChallengeID, attempt, err)
			}
			// Lost the race; re-read and recompute.

		case isDuplicate(err):
			return TxResult{Outcome: TxAlreadyCheckedIn, Challenge: cur}, nil

		default:
			return TxResult{}, fmt.Errorf("write challenge %s: %w", ev.ChallengeID, err)
		}
	}
}
