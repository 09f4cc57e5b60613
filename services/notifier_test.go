package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gambit/presence-service/models"
)

type captureSink struct {
	mu     sync.Mutex
	deltas []models.StatusDelta
	ch     chan models.StatusDelta
	fail   bool
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan models.StatusDelta, 32)}
}

func (s *captureSink) WriteDelta(delta models.StatusDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("write failed")
	}
	s.deltas = append(s.deltas, delta)
	select {
	case s.ch <- delta:
	default:
	}
	return nil
}

func (s *captureSink) received() []models.StatusDelta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StatusDelta, len(s.deltas))
	copy(out, s.deltas)
	return out
}

func waitForDelta(t *testing.T, sink *captureSink) models.StatusDelta {
	t.Helper()
	select {
	case delta := <-sink.ch:
		return delta
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta")
		return models.StatusDelta{}
	}
}

func assertNoDelta(t *testing.T, sink *captureSink) {
	t.Helper()
	select {
	case delta := <-sink.ch:
		t.Fatalf("unexpected delta delivered: %+v", delta)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishDeliversToMatchingScope(t *testing.T) {
	notifier := NewChangeNotifier(testLogger())
	defer notifier.Close()

	sink := newCaptureSink()
	notifier.Subscribe([]string{"alice", "bob"}, sink)

	published := models.StatusDelta{UserID: "alice", IsOnline: true, Timestamp: time.Now()}
	notifier.Publish(published)

	delta := waitForDelta(t, sink)
	assert.Equal(t, "alice", delta.UserID)
	assert.True(t, delta.IsOnline)
}

func TestPublishSkipsOutOfScope(t *testing.T) {
	notifier := NewChangeNotifier(testLogger())
	defer notifier.Close()

	sink := newCaptureSink()
	notifier.Subscribe([]string{"alice"}, sink)

	notifier.Publish(models.StatusDelta{UserID: "mallory", IsOnline: true, Timestamp: time.Now()})

	assertNoDelta(t, sink)
}

func TestPublishDeliversAtMostOnce(t *testing.T) {
	notifier := NewChangeNotifier(testLogger())
	defer notifier.Close()

	sink := newCaptureSink()
	notifier.Subscribe([]string{"alice"}, sink)

	notifier.Publish(models.StatusDelta{UserID: "alice", IsOnline: true, Timestamp: time.Now()})
	waitForDelta(t, sink)
	assertNoDelta(t, sink)

	require.Len(t, sink.received(), 1)
}

func TestWriteFailureDeregisters(t *testing.T) {
	notifier := NewChangeNotifier(testLogger())
	defer notifier.Close()

	sink := newCaptureSink()
	sink.fail = true
	notifier.Subscribe([]string{"alice"}, sink)
	require.Equal(t, 1, notifier.SubscriberCount())

	notifier.Publish(models.StatusDelta{UserID: "alice", IsOnline: true, Timestamp: time.Now()})

	deadline := time.Now().Add(time.Second)
	for notifier.SubscriberCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, notifier.SubscriberCount())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	notifier := NewChangeNotifier(testLogger())
	defer notifier.Close()

	sink := newCaptureSink()
	sub := notifier.Subscribe([]string{"alice"}, sink)
	notifier.Unsubscribe(sub)

	notifier.Publish(models.StatusDelta{UserID: "alice", IsOnline: true, Timestamp: time.Now()})

	assertNoDelta(t, sink)
	assert.Equal(t, 0, notifier.SubscriberCount())
}

func TestCloseTearsDownAllSubscriptions(t *testing.T) {
	notifier := NewChangeNotifier(testLogger())

	notifier.Subscribe([]string{"alice"}, newCaptureSink())
	notifier.Subscribe([]string{"bob"}, newCaptureSink())
	require.Equal(t, 2, notifier.SubscriberCount())

	notifier.Close()
	assert.Equal(t, 0, notifier.SubscriberCount())

	// Subscribing after shutdown is a no-op, not a panic.
	notifier.Subscribe([]string{"carol"}, newCaptureSink())
	assert.Equal(t, 0, notifier.SubscriberCount())
}
