package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridehq/stridesync/internal/auth"
	"github.com/stridehq/stridesync/internal/challenge"
	"github.com/stridehq/stridesync/internal/connectivity"
	"github.com/stridehq/stridesync/internal/gate"
	"github.com/stridehq/stridesync/internal/local"
	"github.com/stridehq/stridesync/internal/remote"
	"github.com/stridehq/stridesync/internal/testutil"
)

var loc = time.UTC

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// fixture wires a full coordinator/reconciler pair over an in-memory remote
// store and a real on-disk device database.
type fixture struct {
	store   *remote.MemoryStore
	queue   local.Queue
	cache   *local.Cache
	gate    *gate.Gate
	monitor *connectivity.Monitor
	clock   *testutil.FixedClock

	coordinator *Coordinator
	reconciler  *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := remote.NewMemoryStore()
	d, err := local.Open(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	f := &fixture{
		store:   store,
		queue:   local.NewSQLiteQueue(d),
		cache:   local.NewCache(d),
		gate:    gate.New(store.Ping),
		monitor: connectivity.NewMonitor(true),
		clock:   testutil.NewFixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, loc)),
	}
	f.gate.ProbeNow(context.Background())

	f.coordinator = NewCoordinator(
		store, f.queue, f.cache, f.gate, f.monitor, auth.Static{ID: "u1"},
		WithClock(f.clock),
		WithLocation(loc),
		WithWaitTimeout(50*time.Millisecond),
		WithTxTimeout(time.Second),
	)
	f.reconciler = NewReconciler(
		store, f.queue, f.cache, f.gate, f.monitor,
		WithReconcilerLocation(loc),
		WithReconcilerTimeouts(50*time.Millisecond, time.Second),
	)
	return f
}

func (f *fixture) seed(t *testing.T, id string, streak, days int, last *time.Time) {
	t.Helper()
	require.NoError(t, f.store.PutChallenge(context.Background(), challenge.Challenge{
		ID:            id,
		Title:         "Daily run",
		OwnerID:       "u1",
		StartDate:     day(2026, 1, 1),
		DaysCompleted: days,
		StreakCount:   streak,
		LastCheckIn:   last,
		LastModified:  day(2026, 1, 1),
	}))
}

func (f *fixture) pendingLen(t *testing.T) int {
	t.Helper()
	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	return n
}

func TestCheckIn_ConfirmedContinuation(t *testing.T) {
	f := newFixture(t)
	yesterday := day(2026, 3, 9)
	f.seed(t, "ch1", 4, 20, &yesterday)

	out, err := f.coordinator.CheckIn(context.Background(), "ch1", "morning run", 30)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Equal(t, 5, out.Challenge.StreakCount)
	assert.Equal(t, 21, out.Challenge.DaysCompleted)
	assert.True(t, out.Challenge.CompletedToday)
	assert.Equal(t, "morning run", out.Event.Note)
	assert.Equal(t, 30, out.Event.DurationMinutes)

	// Cache mirrors confirmed state.
	cached, err := f.cache.Get(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, 5, cached.StreakCount)
}

func TestCheckIn_StreakResetAfterGap(t *testing.T) {
	f := newFixture(t)
	threeDaysAgo := day(2026, 3, 7)
	f.seed(t, "ch1", 10, 40, &threeDaysAgo)

	out, err := f.coordinator.CheckIn(context.Background(), "ch1", "", 0)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Equal(t, 1, out.Challenge.StreakCount)
	assert.Equal(t, 41, out.Challenge.DaysCompleted)
}

func TestCheckIn_AlreadyCheckedInToday(t *testing.T) {
	f := newFixture(t)
	today := day(2026, 3, 10)
	f.seed(t, "ch1", 5, 20, &today)

	out, err := f.coordinator.CheckIn(context.Background(), "ch1", "", 0)
	require.NoError(t, err)

	assert.Equal(t, StatusAlreadyCheckedIn, out.Status)

	got, err := f.store.GetChallenge(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.DaysCompleted, "no mutation on repeat check-in")
	assert.Equal(t, 5, got.StreakCount)

	recs, err := f.store.Completions(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCheckIn_CacheFastPathSkipsRemote(t *testing.T) {
	f := newFixture(t)
	today := day(2026, 3, 10)
	f.seed(t, "ch1", 5, 20, &today)

	// First call populates the cache via the remote read.
	first, err := f.coordinator.CheckIn(context.Background(), "ch1", "", 0)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyCheckedIn, first.Status)

	// Kill the backend entirely. The cached completed-today state still
	// answers without a remote round trip.
	f.store.SetUnavailable(true)

	second, err := f.coordinator.CheckIn(context.Background(), "ch1", "", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyCheckedIn, second.Status)
}

func TestCheckIn_NotAuthenticated(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ch1", 0, 0, nil)

	c := NewCoordinator(f.store, f.queue, f.cache, f.gate, f.monitor, auth.Static{},
		WithClock(f.clock), WithLocation(loc))

	_, err := c.CheckIn(context.Background(), "ch1", "", 0)
	require.Error(t, err)
	assert.Equal(t, CodeNotAuthenticated, CodeOf(err))
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.False(t, IsTransient(err))
	assert.Zero(t, f.pendingLen(t), "precondition failures are never queued")
}

func TestCheckIn_OfflineQueues(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ch1", 0, 0, nil)
	f.monitor.Set(false)

	out, err := f.coordinator.CheckIn(context.Background(), "ch1", "offline note", 0)
	require.NoError(t, err, "queued offline is a success, not an error")

	assert.Equal(t, StatusQueuedOffline, out.Status)
	assert.NotEmpty(t, out.Event.ID)
	assert.Equal(t, 1, f.pendingLen(t))

	// Nothing reached the remote store.
	got, err := f.store.GetChallenge(context.Background(), "ch1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.DaysCompleted)
}

func TestCheckIn_BackendUnavailableMidFlight_Queues(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ch1", 0, 0, nil)

	// Monitor still says connected, but the store refuses. The coordinator
	// must fall back to the queue rather than fail.
	f.store.SetUnavailable(true)

	out, err := f.coordinator.CheckIn(context.Background(), "ch1", "", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusQueuedOffline, out.Status)
	assert.Equal(t, 1, f.pendingLen(t))
}

// blockingStore hangs every read until the caller's context expires,
// standing in for a backend that accepts the connection but never answers.
type blockingStore struct {
	remote.Store
}

func (s blockingStore) GetChallenge(ctx context.Context, id string) (challenge.Challenge, error) {
	<-ctx.Done()
	return challenge.Challenge{}, ctx.Err()
}

func TestCheckIn_TransactionTimeout(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ch1", 0, 0, nil)

	c := NewCoordinator(blockingStore{Store: f.store}, f.queue, f.cache, f.gate, f.monitor,
		auth.Static{ID: "u1"},
		WithClock(f.clock), WithLocation(loc), WithTxTimeout(20*time.Millisecond))

	_, err := c.CheckIn(context.Background(), "ch1", "", 0)
	require.Error(t, err)
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The ceiling fires mid-transaction; unlike the offline path nothing is
	// queued, and the cache only ever sees confirmed state.
	assert.Zero(t, f.pendingLen(t), "timed-out check-ins are not queued")
	_, err = f.cache.Get(context.Background(), "ch1")
	assert.ErrorIs(t, err, local.ErrCacheMiss)
}

func TestCheckIn_GateNeverReady(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ch1", 0, 0, nil)

	// A gate whose probe always fails and that nothing re-arms.
	deadGate := gate.New(func(ctx context.Context) error { return remote.ErrUnavailable })
	c := NewCoordinator(f.store, f.queue, f.cache, deadGate, f.monitor, auth.Static{ID: "u1"},
		WithClock(f.clock), WithLocation(loc), WithWaitTimeout(20*time.Millisecond))

	_, err := c.CheckIn(context.Background(), "ch1", "", 0)
	require.Error(t, err)
	assert.Equal(t, CodeBackendUnavailable, CodeOf(err))
	assert.True(t, IsTransient(err))
}

func TestCheckIn_PersistentConflicts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ch1", 0, 0, nil)

	f.store.FailNextWithConflict(remote.DefaultMaxConflictRetries + 1)

	_, err := f.coordinator.CheckIn(context.Background(), "ch1", "", 0)
	require.Error(t, err)
	assert.Equal(t, CodeTransactionFailed, CodeOf(err))
	assert.False(t, IsTransient(err), "conflicts are surfaced, not auto-retried")
}

func TestCheckIn_UnknownChallengeIsBackendError(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator.CheckIn(context.Background(), "ghost", "", 0)
	require.Error(t, err)
	assert.Equal(t, CodeBackendError, CodeOf(err))
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestCheckIn_CompletesChallengeAtTarget(t *testing.T) {
	f := newFixture(t)
	yesterday := day(2026, 3, 9)
	f.seed(t, "ch1", 99, challenge.TargetDays-1, &yesterday)

	out, err := f.coordinator.CheckIn(context.Background(), "ch1", "", 0)
	require.NoError(t, err)

	assert.Equal(t, challenge.TargetDays, out.Challenge.DaysCompleted)
	assert.True(t, out.Challenge.Completed)
}
