package connectivity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_InitialSnapshot(t *testing.T) {
	assert.True(t, NewMonitor(true).Connected())
	assert.False(t, NewMonitor(false).Connected())
}

func TestMonitor_BroadcastsOnTransition(t *testing.T) {
	m := NewMonitor(false)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	m.Set(true)

	select {
	case change := <-ch:
		assert.True(t, change.Connected)
		assert.False(t, change.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestMonitor_NoBroadcastWithoutTransition(t *testing.T) {
	m := NewMonitor(true)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	m.Set(true) // same state

	select {
	case <-ch:
		t.Fatal("repeated set of the same state must not notify")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMonitor_SlowSubscriberSeesLatestTransition(t *testing.T) {
	m := NewMonitor(true)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	// A disconnect sits undelivered in the buffer when the restore
	// arrives. The restore must win: acting on the stale disconnect would
	// leave gate re-arming and drain triggers wedged.
	m.Set(false)
	m.Set(true)

	select {
	case change := <-ch:
		assert.True(t, change.Connected)
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}

	select {
	case change := <-ch:
		t.Fatalf("unexpected extra notification: %+v", change)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMonitor_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewMonitor(false)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	// Nobody reads ch. Transitions coalesce into the single buffer slot
	// and Set never blocks.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Set(i%2 == 0)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Set blocked on a slow subscriber")
	}
}

func TestMonitor_UnsubscribeClosesChannel(t *testing.T) {
	m := NewMonitor(false)
	ch := m.Subscribe()

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe is a no-op, not a panic.
	m.Unsubscribe(ch)
}

func TestMonitor_RunFeedsProbeResults(t *testing.T) {
	m := NewMonitor(false)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	var up atomic.Bool
	up.Store(true)
	probe := func(ctx context.Context) bool { return up.Load() }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, probe, 5*time.Millisecond)

	// Immediate probe flips the monitor to connected.
	select {
	case change := <-ch:
		require.True(t, change.Connected)
	case <-time.After(time.Second):
		t.Fatal("expected connected notification")
	}

	up.Store(false)
	select {
	case change := <-ch:
		require.False(t, change.Connected)
	case <-time.After(time.Second):
		t.Fatal("expected disconnected notification")
	}
}
