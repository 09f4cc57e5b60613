package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gambit/presence-service/models"
	"gambit/presence-service/utils"
)

// Sweeper periodically reconciles the online index against TTL expiry drift
// and publishes offline deltas for users whose presence flag has truly
// expired. The index may lag the flags by at most one sweep interval.
type Sweeper struct {
	store    *PresenceStore
	notifier *ChangeNotifier
	logger   *utils.Logger
	interval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

func NewSweeper(store *PresenceStore, notifier *ChangeNotifier, interval time.Duration, logger *utils.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:    store,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the periodic sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop shuts the sweep loop down and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Sweep(s.ctx)
			}()
		}
	}
}

// Sweep runs one reconciliation pass. A pass already in progress suppresses a
// newly scheduled one; overlapping sweeps are wasted work, not a correctness
// hazard.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("sweep already in progress, skipping")
		return 0
	}
	defer s.running.Store(false)

	removed, err := s.store.Cleanup(ctx)
	if err != nil {
		s.logger.Warn("cleanup sweep failed", "error", err)
		return 0
	}
	if len(removed) == 0 {
		return 0
	}

	// An id can reappear in the index between the range read and now if the
	// user pinged again; only publish offline for flags that are really gone.
	now := time.Now()
	for _, userID := range removed {
		online, err := s.store.IsOnline(ctx, userID)
		if err != nil || online {
			continue
		}
		if s.notifier != nil {
			s.notifier.Publish(models.StatusDelta{
				UserID:    userID,
				IsOnline:  false,
				Timestamp: now,
			})
		}
	}

	s.logger.Info("cleanup sweep completed", "removed", len(removed))
	return len(removed)
}
