package services

import (
	"sync"
	"time"

	"gambit/presence-service/models"
	"gambit/presence-service/utils"
)

const subscriptionBuffer = 16

// DeltaSink is the one-way push channel a subscription delivers into. A
// write error means the subscriber is gone; there is no acknowledgment
// signal beyond that.
type DeltaSink interface {
	WriteDelta(delta models.StatusDelta) error
}

// Subscription is a live presence stream restricted to a fixed id set. The
// scope is immutable for the subscription's lifetime; when the caller's
// relevant-id set changes it must tear down and re-subscribe.
type Subscription struct {
	scope      map[string]bool
	sink       DeltaSink
	deliveries chan models.StatusDelta
	done       chan struct{}
	createdAt  time.Time
	closeOnce  sync.Once
}

// CreatedAt reports when the subscription was registered. Deltas published
// before that moment are never delivered; callers establish baseline state
// with a full resolving fetch at subscribe time.
func (s *Subscription) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// ChangeNotifier fans presence transitions out to live subscriptions.
// Delivery is at-most-once and best-effort: no backlog, no replay, and a
// slow subscriber is dropped rather than allowed to block the publish path.
type ChangeNotifier struct {
	mu     sync.RWMutex
	subs   map[*Subscription]bool
	logger *utils.Logger
	wg     sync.WaitGroup
	closed bool
}

func NewChangeNotifier(logger *utils.Logger) *ChangeNotifier {
	return &ChangeNotifier{
		subs:   make(map[*Subscription]bool),
		logger: logger,
	}
}

// Subscribe registers a subscription for the given id scope and starts its
// writer goroutine.
func (n *ChangeNotifier) Subscribe(scope []string, sink DeltaSink) *Subscription {
	scopeSet := make(map[string]bool, len(scope))
	for _, id := range scope {
		scopeSet[id] = true
	}

	sub := &Subscription{
		scope:      scopeSet,
		sink:       sink,
		deliveries: make(chan models.StatusDelta, subscriptionBuffer),
		done:       make(chan struct{}),
		createdAt:  time.Now(),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		sub.close()
		return sub
	}
	n.subs[sub] = true
	n.mu.Unlock()

	n.wg.Add(1)
	go n.writeLoop(sub)

	return sub
}

// Unsubscribe deregisters the subscription and stops its writer. In-flight
// deliveries are silently dropped.
func (n *ChangeNotifier) Unsubscribe(sub *Subscription) {
	n.mu.Lock()
	delete(n.subs, sub)
	n.mu.Unlock()
	sub.close()
}

// Publish delivers the delta to every live subscription whose scope contains
// the user. The enqueue is non-blocking; a subscriber whose buffer is full
// misses the delta instead of stalling everyone else.
func (n *ChangeNotifier) Publish(delta models.StatusDelta) {
	n.mu.RLock()
	matched := make([]*Subscription, 0, len(n.subs))
	for sub := range n.subs {
		if sub.scope[delta.UserID] {
			matched = append(matched, sub)
		}
	}
	n.mu.RUnlock()

	for _, sub := range matched {
		select {
		case sub.deliveries <- delta:
		default:
			n.logger.Debug("dropping delta for slow subscriber", "user_id", delta.UserID)
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (n *ChangeNotifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close tears down all subscriptions and waits for their writers to exit.
func (n *ChangeNotifier) Close() {
	n.mu.Lock()
	n.closed = true
	for sub := range n.subs {
		delete(n.subs, sub)
		sub.close()
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *ChangeNotifier) writeLoop(sub *Subscription) {
	defer n.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case delta := <-sub.deliveries:
			if err := sub.sink.WriteDelta(delta); err != nil {
				// Disconnection is only detectable as a failed write.
				n.logger.Debug("subscriber write failed, deregistering", "error", err)
				n.Unsubscribe(sub)
				return
			}
		}
	}
}
