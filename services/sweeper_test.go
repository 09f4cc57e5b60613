package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepPublishesOfflineForExpiredUsers(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.MarkOnline(ctx, "alice", time.Now())
	require.NoError(t, err)

	// Let the flag expire, then move the store's view of time past the
	// threshold so the index entry reads as stale too.
	mr.FastForward(301 * time.Second)
	store.clock = func() time.Time { return time.Now().Add(302 * time.Second) }

	notifier := NewChangeNotifier(testLogger())
	defer notifier.Close()
	sink := newCaptureSink()
	notifier.Subscribe([]string{"alice"}, sink)

	sweeper := NewSweeper(store, notifier, time.Minute, testLogger())
	removed := sweeper.Sweep(ctx)
	assert.Equal(t, 1, removed)

	delta := waitForDelta(t, sink)
	assert.Equal(t, "alice", delta.UserID)
	assert.False(t, delta.IsOnline)
}

func TestSweepStaysQuietWhenFlagStillLive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Stale index entry but a live flag: the user pinged long ago by index
	// time, yet the flag has not expired. The entry is reconciled away
	// without an offline delta.
	_, err := store.MarkOnline(ctx, "alice", time.Now().Add(-400*time.Second))
	require.NoError(t, err)

	notifier := NewChangeNotifier(testLogger())
	defer notifier.Close()
	sink := newCaptureSink()
	notifier.Subscribe([]string{"alice"}, sink)

	sweeper := NewSweeper(store, notifier, time.Minute, testLogger())
	removed := sweeper.Sweep(ctx)
	assert.Equal(t, 1, removed)

	assertNoDelta(t, sink)
}

func TestSweepSingleFlight(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.MarkOnline(ctx, "alice", time.Now().Add(-400*time.Second))
	require.NoError(t, err)

	sweeper := NewSweeper(store, nil, time.Minute, testLogger())

	// A pass in progress suppresses a newly scheduled one.
	sweeper.running.Store(true)
	assert.Equal(t, 0, sweeper.Sweep(ctx))
	sweeper.running.Store(false)

	assert.Equal(t, 1, sweeper.Sweep(ctx))
}

func TestSweeperStartStop(t *testing.T) {
	store, _ := newTestStore(t)

	sweeper := NewSweeper(store, nil, 10*time.Millisecond, testLogger())
	sweeper.Start()
	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()
}
