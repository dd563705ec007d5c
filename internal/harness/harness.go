// Package harness executes declarative scenarios against a fully wired
// check-in stack and records a deterministic trace of what happened.
//
// Scenarios drive the real coordinator and reconciler over a MemoryStore
// backend and a temp-directory device database, with a fixed clock and a
// manually toggled connectivity monitor. Traces never include generated
// event IDs, so repeated runs of the same scenario produce identical output
// suitable for golden-file comparison.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/stridehq/stridesync/internal/auth"
	"github.com/stridehq/stridesync/internal/challenge"
	"github.com/stridehq/stridesync/internal/connectivity"
	"github.com/stridehq/stridesync/internal/engine"
	"github.com/stridehq/stridesync/internal/gate"
	"github.com/stridehq/stridesync/internal/local"
	"github.com/stridehq/stridesync/internal/remote"
	"github.com/stridehq/stridesync/internal/testutil"
)

// TraceEvent is one entry in a scenario trace. Field presence follows the
// step kind; only deterministic values are recorded.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Kind string `json:"kind"`

	// check_in
	ChallengeID   string `json:"challenge_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Streak        *int   `json:"streak,omitempty"`
	DaysCompleted *int   `json:"days_completed,omitempty"`

	// connectivity / backend
	Connected *bool `json:"connected,omitempty"`
	Available *bool `json:"available,omitempty"`

	// advance_days
	Days int `json:"days,omitempty"`

	// drain
	Drain *DrainTrace `json:"drain,omitempty"`

	// Pending is the device queue length after the step.
	Pending int `json:"pending"`
}

// DrainTrace records the outcome counts of one reconciliation pass.
type DrainTrace struct {
	Applied     int `json:"applied"`
	AlreadyDone int `json:"already_done"`
	Dropped     int `json:"dropped"`
	Retained    int `json:"retained"`
}

// Result holds everything a scenario run produced.
type Result struct {
	Trace []TraceEvent
	Store *remote.MemoryStore
	Queue local.Queue
}

// Run executes a scenario and returns its trace. Expectation mismatches and
// failed final-state assertions are returned as errors, not panics, so the
// caller decides how to report them.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "stridesync-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create harness workspace: %w", err)
	}
	defer os.RemoveAll(dir)
	return runIn(scenario, dir)
}

func runIn(scenario *Scenario, dir string) (*Result, error) {
	ctx := context.Background()
	loc := time.UTC

	startDay, err := time.ParseInLocation(dayLayout, scenario.StartDay, loc)
	if err != nil {
		return nil, fmt.Errorf("start_day: %w", err)
	}
	clock := testutil.NewFixedClock(startDay.Add(9 * time.Hour))

	store := remote.NewMemoryStore()
	for _, seed := range scenario.Challenges {
		ch := challenge.Challenge{
			ID:            seed.ID,
			Title:         seed.Title,
			OwnerID:       scenario.User,
			StartDate:     startDay,
			DaysCompleted: seed.DaysCompleted,
			StreakCount:   seed.Streak,
		}
		if seed.LastCheckIn != "" {
			day, err := time.ParseInLocation(dayLayout, seed.LastCheckIn, loc)
			if err != nil {
				return nil, fmt.Errorf("challenge %s: %w", seed.ID, err)
			}
			ch.LastCheckIn = &day
		}
		if err := store.PutChallenge(ctx, ch); err != nil {
			return nil, fmt.Errorf("seeding challenge %s: %w", seed.ID, err)
		}
	}

	db, err := local.Open(filepath.Join(dir, "device.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open device database: %w", err)
	}
	defer db.Close()

	queue := local.NewSQLiteQueue(db)
	cache := local.NewCache(db)
	monitor := connectivity.NewMonitor(true)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	// The gate probes once while the backend is reachable and then stays
	// armed; availability toggles surface as transaction failures, which is
	// the path scenarios exercise.
	g := gate.New(store.Ping, gate.WithMaxAttempts(5), gate.WithLogger(quiet))
	if !g.ProbeNow(ctx) {
		return nil, fmt.Errorf("backend probe failed during setup")
	}

	var provider auth.Provider = auth.Static{ID: scenario.User}
	coord := engine.NewCoordinator(store, queue, cache, g, monitor, provider,
		engine.WithClock(clock),
		engine.WithLocation(loc),
		engine.WithWaitTimeout(time.Second),
		engine.WithCoordinatorLogger(quiet),
	)
	// One fixed token per drain step keeps run-scoped output reproducible.
	var tokens []string
	for i, step := range scenario.Steps {
		if step.Drain {
			tokens = append(tokens, fmt.Sprintf("run-%03d", i+1))
		}
	}
	rec := engine.NewReconciler(store, queue, cache, g, monitor,
		engine.WithReconcilerLocation(loc),
		engine.WithReconcilerLogger(quiet),
		engine.WithReconcilerTimeouts(time.Second, time.Second),
		engine.WithRunTokens(engine.NewFixedGenerator(tokens...)),
	)

	result := &Result{Store: store, Queue: queue}
	for i, step := range scenario.Steps {
		ev, err := runStep(ctx, &step, coord, rec, monitor, store, clock)
		if err != nil {
			return result, fmt.Errorf("steps[%d]: %w", i, err)
		}
		ev.Seq = i + 1
		if n, err := queue.Len(ctx); err == nil {
			ev.Pending = n
		}
		result.Trace = append(result.Trace, ev)
	}

	if err := checkFinal(ctx, scenario, store, queue); err != nil {
		return result, err
	}
	return result, nil
}

func runStep(
	ctx context.Context,
	step *Step,
	coord *engine.Coordinator,
	rec *engine.Reconciler,
	monitor *connectivity.Monitor,
	store *remote.MemoryStore,
	clock *testutil.FixedClock,
) (TraceEvent, error) {
	switch {
	case step.CheckIn != "":
		ev := TraceEvent{Kind: "check_in", ChallengeID: step.CheckIn}
		outcome, err := coord.CheckIn(ctx, step.CheckIn, step.Note, 0)
		if err != nil {
			ev.Status = "error:" + string(engine.CodeOf(err))
		} else {
			ev.Status = outcome.Status.String()
			if outcome.Status != engine.StatusQueuedOffline {
				streak := outcome.Challenge.StreakCount
				days := outcome.Challenge.DaysCompleted
				ev.Streak = &streak
				ev.DaysCompleted = &days
			}
		}
		if ev.Status != step.Expect {
			return ev, fmt.Errorf("check_in %s: got %q, expected %q", step.CheckIn, ev.Status, step.Expect)
		}
		return ev, nil

	case step.Connectivity != nil:
		monitor.Set(*step.Connectivity)
		return TraceEvent{Kind: "connectivity", Connected: step.Connectivity}, nil

	case step.Backend != nil:
		store.SetUnavailable(!*step.Backend)
		return TraceEvent{Kind: "backend", Available: step.Backend}, nil

	case step.AdvanceDays > 0:
		clock.AdvanceDays(step.AdvanceDays)
		return TraceEvent{Kind: "advance_days", Days: step.AdvanceDays}, nil

	case step.Drain:
		stats, err := rec.Drain(ctx)
		if err != nil {
			return TraceEvent{Kind: "drain"}, fmt.Errorf("drain: %w", err)
		}
		return TraceEvent{Kind: "drain", Drain: &DrainTrace{
			Applied:     stats.Applied,
			AlreadyDone: stats.AlreadyDone,
			Dropped:     stats.Dropped,
			Retained:    stats.Retained,
		}}, nil
	}
	return TraceEvent{}, errors.New("step has no action")
}

func checkFinal(ctx context.Context, scenario *Scenario, store *remote.MemoryStore, queue local.Queue) error {
	for i, f := range scenario.Final {
		if f.Pending != nil {
			n, err := queue.Len(ctx)
			if err != nil {
				return fmt.Errorf("final[%d]: %w", i, err)
			}
			if n != *f.Pending {
				return fmt.Errorf("final[%d]: pending = %d, expected %d", i, n, *f.Pending)
			}
		}
		if f.Challenge == "" {
			continue
		}
		ch, err := store.GetChallenge(ctx, f.Challenge)
		if err != nil {
			return fmt.Errorf("final[%d]: %w", i, err)
		}
		if f.DaysCompleted != nil && ch.DaysCompleted != *f.DaysCompleted {
			return fmt.Errorf("final[%d]: %s days_completed = %d, expected %d", i, f.Challenge, ch.DaysCompleted, *f.DaysCompleted)
		}
		if f.Streak != nil && ch.StreakCount != *f.Streak {
			return fmt.Errorf("final[%d]: %s streak = %d, expected %d", i, f.Challenge, ch.StreakCount, *f.Streak)
		}
		if f.Completed != nil && ch.Completed != *f.Completed {
			return fmt.Errorf("final[%d]: %s completed = %v, expected %v", i, f.Challenge, ch.Completed, *f.Completed)
		}
		if f.Completions != nil {
			recs, err := store.Completions(ctx, f.Challenge)
			if err != nil {
				return fmt.Errorf("final[%d]: %w", i, err)
			}
			if len(recs) != *f.Completions {
				return fmt.Errorf("final[%d]: %s completions = %d, expected %d", i, f.Challenge, len(recs), *f.Completions)
			}
		}
	}
	return nil
}
