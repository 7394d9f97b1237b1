// Package engine runs the matching pipeline: per-agent processing with
// failure containment, and the run orchestrator with its bounded worker
// pool and wall-clock budget.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"piata/matcher-service/internal/match"
	"piata/matcher-service/internal/model"
	"piata/matcher-service/internal/notify"
)

// Scorer rates a listing against an agent's free-text intent. Contained:
// implementations return 0 instead of failing.
type Scorer interface {
	Score(ctx context.Context, intent string, l model.Listing) int
}

// MatchStore is the persistence surface the pipeline needs.
type MatchStore interface {
	Upsert(ctx context.Context, m model.Match) error
	Unnotified(ctx context.Context, agentID int64, minScore, limit int) ([]model.MatchedListing, error)
	MarkNotified(ctx context.Context, agentID int64, listingIDs []int64, now time.Time) error
}

// StatsStore updates agent bookkeeping and resolves owner contacts.
type StatsStore interface {
	TouchStats(ctx context.Context, agentID int64, now time.Time) error
	OwnerContact(ctx context.Context, userID string) (model.OwnerContact, error)
}

// Notifier delivers one digest per agent per run.
type Notifier interface {
	Dispatch(ctx context.Context, agent model.ShoppingAgent, owner model.OwnerContact, matches []model.MatchedListing) error
}

// Worker executes the full pipeline for a single agent:
// filter → score → persist → stats → notify.
type Worker struct {
	matches  MatchStore
	stats    StatsStore
	scorer   Scorer
	notifier Notifier
	policy   match.Policy
}

// NewWorker constructs a Worker. The scorer may be nil when the policy is
// hybrid, which needs no external scoring call.
func NewWorker(matches MatchStore, stats StatsStore, scorer Scorer, notifier Notifier, policy match.Policy) *Worker {
	return &Worker{matches: matches, stats: stats, scorer: scorer, notifier: notifier, policy: policy}
}

// ProcessAgent runs one agent against the candidate listings and returns a
// structured result. Nothing escapes: pair-level failures are logged and
// skipped, and an agent-level failure becomes a status "error" entry so the
// batch keeps going.
func (w *Worker) ProcessAgent(ctx context.Context, agent model.ShoppingAgent, listings []model.Listing, now time.Time) (res model.AgentResult) {
	res = model.AgentResult{AgentID: agent.ID, AgentName: agent.Name}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent processing panicked", "agentId", agent.ID, "panic", r)
			res.Status = model.StatusError
			res.Error = fmt.Sprint(r)
		}
	}()

	recorded := 0
	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			res.Status = model.StatusError
			res.Error = err.Error()
			return res
		}

		if !match.PassesFilters(agent.Filters, l) {
			continue
		}

		var score int
		switch w.policy {
		case match.PolicyAI:
			score = w.scorer.Score(ctx, agent.Description, l)
		default:
			score = match.HybridScore(agent.Filters, l)
		}

		if score < w.policy.RecordThreshold() {
			continue
		}

		m := model.Match{AgentID: agent.ID, ListingID: l.ID, MatchScore: score, MatchedAt: now}
		if err := w.upsertWithRetry(ctx, m); err != nil {
			slog.Warn("skipping pair after retry", "agentId", agent.ID, "listingId", l.ID, "err", err)
			continue
		}
		recorded++
	}

	res.Matches = recorded

	// Stats are touched whether or not anything matched; a partial failure
	// above still counts as a completed check.
	if err := w.stats.TouchStats(ctx, agent.ID, now); err != nil {
		slog.Warn("touch stats failed", "agentId", agent.ID, "err", err)
	}

	w.notifyOwner(ctx, agent, &res, now)

	if recorded > 0 {
		res.Status = model.StatusSuccess
	} else {
		res.Status = model.StatusNoMatches
	}
	return res
}

// upsertWithRetry writes the pair, retrying exactly once on failure.
func (w *Worker) upsertWithRetry(ctx context.Context, m model.Match) error {
	err := w.matches.Upsert(ctx, m)
	if err == nil {
		return nil
	}
	slog.Warn("match upsert failed, retrying once", "agentId", m.AgentID, "listingId", m.ListingID, "err", err)
	return w.matches.Upsert(ctx, m)
}

// notifyOwner sends the digest for qualifying not-yet-notified matches and
// stamps them on success. A send failure leaves the stamps unset so the next
// run retries (at-least-once, keyed by the unique pair).
func (w *Worker) notifyOwner(ctx context.Context, agent model.ShoppingAgent, res *model.AgentResult, now time.Time) {
	qualifying, err := w.matches.Unnotified(ctx, agent.ID, w.policy.NotifyThreshold(), notify.DigestLimit)
	if err != nil {
		slog.Warn("loading unnotified matches failed", "agentId", agent.ID, "err", err)
		return
	}
	if len(qualifying) == 0 {
		return
	}
	res.HighScoreMatches = len(qualifying)

	owner, err := w.stats.OwnerContact(ctx, agent.UserID)
	if err != nil || owner.Email == "" {
		slog.Warn("no contact address for agent owner", "agentId", agent.ID, "userId", agent.UserID, "err", err)
		return
	}

	if err := w.notifier.Dispatch(ctx, agent, owner, qualifying); err != nil {
		slog.Warn("digest send failed", "agentId", agent.ID, "err", err)
		return
	}

	ids := make([]int64, len(qualifying))
	for i, m := range qualifying {
		ids[i] = m.ListingID
	}
	if err := w.matches.MarkNotified(ctx, agent.ID, ids, now); err != nil {
		// Worst case the owner sees these matches again in the next digest.
		slog.Warn("mark notified failed", "agentId", agent.ID, "err", err)
	}
}
