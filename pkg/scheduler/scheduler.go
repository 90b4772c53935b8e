// Package scheduler runs the periodic expiry sweep that enforces lab
// TTLs without operator involvement.
package scheduler

import (
	"context"
	"time"

	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/manager"
)

// Scheduler triggers the manager's auto-cleanup on a fixed interval
type Scheduler struct {
	manager  *manager.Manager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a sweep scheduler over the given manager
func NewScheduler(m *manager.Manager, interval time.Duration) *Scheduler {
	return &Scheduler{
		manager:  m,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. One sweep runs immediately so a
// restart does not wait a full interval to clean up expired labs.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sweep() {
	cleaned, err := s.manager.AutoCleanup(context.Background())
	if err != nil {
		log.Errorf("expiry sweep failed", err)
		return
	}
	if len(cleaned) > 0 {
		logger := log.WithComponent("scheduler")
		logger.Info().
			Int("cleaned", len(cleaned)).
			Msg("expiry sweep removed labs")
	}
}
