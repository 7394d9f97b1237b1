package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"piata/matcher-service/internal/model"
)

const (
	// listingFetchLimit caps candidates per run, matching the original feed
	// query.
	listingFetchLimit = 50

	// admissionMargin is how much budget must remain for another agent to be
	// admitted. Agents left out are picked up by the next scheduled run.
	admissionMargin = 10 * time.Second
)

// ErrRunInProgress is returned when another invocation holds the run lock.
var ErrRunInProgress = errors.New("a matching run is already in progress")

// AgentStore lists the agents eligible for a run.
type AgentStore interface {
	ListActive(ctx context.Context) ([]model.ShoppingAgent, error)
}

// ListingStore fetches the candidate listing window.
type ListingStore interface {
	Recent(ctx context.Context, since time.Time, limit int) ([]model.Listing, error)
}

// Locker guards against overlapping runs (cron tick racing a manual
// trigger). A nil Locker disables locking.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// Orchestrator runs the full batch: loads active agents, fetches the listing
// window once, and fans agents out over a bounded worker pool under a
// wall-clock budget.
type Orchestrator struct {
	agents      AgentStore
	listings    ListingStore
	worker      *Worker
	lock        Locker
	window      time.Duration
	timeout     time.Duration
	concurrency int
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(agents AgentStore, listings ListingStore, worker *Worker, lock Locker, window, timeout time.Duration, concurrency int) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		agents:      agents,
		listings:    listings,
		worker:      worker,
		lock:        lock,
		window:      window,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// Run executes one batch over all active agents and returns the summary.
// Per-agent failures surface as result entries, never as a run error; only
// the inability to start at all (lock, agent or listing read) fails the run.
func (o *Orchestrator) Run(ctx context.Context) (*model.RunSummary, error) {
	if o.lock != nil {
		ok, err := o.lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer o.lock.Release(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	log.Println("[engine] Matching run started")

	agents, err := o.agents.ListActive(runCtx)
	if err != nil {
		return nil, fmt.Errorf("load active agents: %w", err)
	}
	if len(agents) == 0 {
		log.Println("[engine] No active agents — nothing to match")
		return &model.RunSummary{Results: []model.AgentResult{}}, nil
	}

	now := time.Now().UTC()
	listings, err := o.listings.Recent(runCtx, now.Add(-o.window), listingFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent listings: %w", err)
	}

	log.Printf("[engine] Running %d agent(s) against %d listing(s)", len(agents), len(listings))

	results := make([]model.AgentResult, len(agents))
	skipped := 0

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i, agent := range agents {
		if !o.admit(runCtx) {
			skipped = len(agents) - i
			log.Printf("[engine] Budget nearly exhausted — %d agent(s) deferred to the next run", skipped)
			break
		}
		i, agent := i, agent
		g.Go(func() error {
			results[i] = o.worker.ProcessAgent(runCtx, agent, listings, now)
			return nil
		})
	}
	_ = g.Wait()

	summary := &model.RunSummary{AgentsSkipped: skipped, Results: make([]model.AgentResult, 0, len(agents))}
	for _, r := range results {
		if r.Status == "" {
			continue
		}
		summary.AgentsProcessed++
		summary.TotalMatches += r.Matches
		summary.Results = append(summary.Results, r)
	}

	log.Printf("[engine] Run complete in %s — processed=%d matches=%d skipped=%d",
		time.Since(start).Round(time.Millisecond), summary.AgentsProcessed, summary.TotalMatches, skipped)
	return summary, nil
}

// admit reports whether enough budget remains to start another agent.
func (o *Orchestrator) admit(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > admissionMargin
}
