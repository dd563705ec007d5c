package engine

import "time"

// Clock supplies wall-clock time. Every date decision in the coordinator and
// reconciler flows through a Clock, so tests and the conformance harness can
// pin "today" deterministically.
//
// Implemented by SystemClock (production) and testutil.FixedClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
