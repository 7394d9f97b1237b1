// Package scheduler wires up the cron job that periodically triggers a
// matching run across all active agents.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"piata/matcher-service/internal/engine"
)

// Scheduler wraps robfig/cron and manages the periodic run loop.
type Scheduler struct {
	cron         *cron.Cron
	orchestrator *engine.Orchestrator
	spec         string // cron spec, e.g. "@every 60m"
}

// New creates a Scheduler that fires every intervalMinutes minutes.
func New(orchestrator *engine.Orchestrator, intervalMinutes int) *Scheduler {
	return &Scheduler{
		cron:         cron.New(cron.WithLogger(cron.DefaultLogger)),
		orchestrator: orchestrator,
		spec:         fmt.Sprintf("@every %dm", intervalMinutes),
	}
}

// Start registers the job and starts the scheduler. Also fires one run
// immediately so new deployments don't wait a full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started — spec: %s", s.spec)

	// Run immediately on startup (non-blocking)
	go s.runOnce(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] Cron stopped")
}

// runOnce triggers a run; an already-running batch (manual trigger holding
// the lock) is skipped quietly.
func (s *Scheduler) runOnce(ctx context.Context) {
	summary, err := s.orchestrator.Run(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrRunInProgress) {
			log.Println("[scheduler] Run already in progress — skipping tick")
			return
		}
		log.Printf("[scheduler] Run failed: %v", err)
		return
	}
	log.Printf("[scheduler] Scheduled run done — agents=%d matches=%d",
		summary.AgentsProcessed, summary.TotalMatches)
}
