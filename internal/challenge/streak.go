package challenge

import "time"

// StreakState is the result of applying one check-in date to a challenge's
// current streak.
type StreakState struct {
	// StreakCount is the streak after the check-in is applied.
	StreakCount int

	// AlreadyCheckedInToday reports that the challenge was already completed
	// on the same calendar day. Callers MUST treat this as a no-op: the
	// challenge document is not mutated and no completion record is written.
	AlreadyCheckedInToday bool
}

// NextStreak computes the streak transition for a check-in on today.
//
// All dates are normalized to start-of-day in loc before comparison, so any
// two instants on the same calendar day are equivalent inputs.
//
// Rules:
//   - lastCheckIn on the same day as today: streak unchanged,
//     AlreadyCheckedInToday=true
//   - lastCheckIn exactly one day before today: streak continues (current+1)
//   - lastCheckIn absent, more than one day old, or in the future
//     (clock skew): streak resets to 1
//
// First-ever completion, "missed a day", and negative day deltas all collapse
// to the same reset rule. That collapse is deliberate product behavior, not
// an accident of implementation.
//
// NextStreak is deterministic and side-effect-free so the remote transaction
// can re-invoke it on every optimistic-concurrency retry.
func NextStreak(today time.Time, lastCheckIn *time.Time, currentStreak int, loc *time.Location) StreakState {
	day := StartOfDay(today, loc)

	if lastCheckIn == nil {
		return StreakState{StreakCount: 1}
	}

	last := StartOfDay(*lastCheckIn, loc)
	switch DaysBetween(last, day) {
	case 0:
		return StreakState{StreakCount: currentStreak, AlreadyCheckedInToday: true}
	case 1:
		return StreakState{StreakCount: currentStreak + 1}
	default:
		return StreakState{StreakCount: 1}
	}
}

// StartOfDay truncates t to midnight of its calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween returns the number of calendar days from a to b. Both inputs
// must already be start-of-day values in the same location; the division
// rounds to absorb DST transitions (23h and 25h days both count as one).
func DaysBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		return -int((-d + 12*time.Hour) / (24 * time.Hour))
	}
	return int((d + 12*time.Hour) / (24 * time.Hour))
}
