package engine_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"piata/matcher-service/internal/engine"
	"piata/matcher-service/internal/match"
	"piata/matcher-service/internal/model"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type pair struct{ agentID, listingID int64 }

// fakeMatchStore keeps matches in a map keyed by the unique pair, so a
// duplicate row is structurally impossible — the same guarantee the real
// table's unique constraint gives.
type fakeMatchStore struct {
	mu          sync.Mutex
	rows        map[pair]model.Match
	listings    map[int64]model.Listing // for joining digest fields
	failUpserts int                     // fail this many Upsert calls first
	upsertCalls int
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{rows: map[pair]model.Match{}, listings: map[int64]model.Listing{}}
}

func (s *fakeMatchStore) Upsert(_ context.Context, m model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.failUpserts > 0 {
		s.failUpserts--
		return fmt.Errorf("simulated write failure")
	}
	key := pair{m.AgentID, m.ListingID}
	if existing, ok := s.rows[key]; ok {
		existing.MatchScore = m.MatchScore
		existing.MatchedAt = m.MatchedAt
		s.rows[key] = existing
		return nil
	}
	s.rows[key] = m
	return nil
}

func (s *fakeMatchStore) Unnotified(_ context.Context, agentID int64, minScore, limit int) ([]model.MatchedListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MatchedListing
	for key, m := range s.rows {
		if key.agentID != agentID || m.NotifiedAt != nil || m.MatchScore < minScore {
			continue
		}
		l := s.listings[key.listingID]
		out = append(out, model.MatchedListing{
			ListingID:  key.listingID,
			Title:      l.Title,
			Price:      l.Price,
			Location:   l.Location,
			MatchScore: m.MatchScore,
			MatchedAt:  m.MatchedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchScore > out[j].MatchScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeMatchStore) MarkNotified(_ context.Context, agentID int64, listingIDs []int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range listingIDs {
		key := pair{agentID, id}
		if m, ok := s.rows[key]; ok {
			t := now
			m.NotifiedAt = &t
			s.rows[key] = m
		}
	}
	return nil
}

func (s *fakeMatchStore) row(agentID, listingID int64) (model.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[pair{agentID, listingID}]
	return m, ok
}

func (s *fakeMatchStore) count(agentID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.rows {
		if key.agentID == agentID {
			n++
		}
	}
	return n
}

type fakeStats struct {
	mu      sync.Mutex
	touched map[int64]int
	noEmail bool
}

func (s *fakeStats) TouchStats(_ context.Context, agentID int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touched == nil {
		s.touched = map[int64]int{}
	}
	s.touched[agentID]++
	return nil
}

func (s *fakeStats) OwnerContact(_ context.Context, userID string) (model.OwnerContact, error) {
	if s.noEmail {
		return model.OwnerContact{}, nil
	}
	return model.OwnerContact{Email: userID + "@example.com", FullName: "Ion"}, nil
}

// stubScorer returns a fixed score and counts calls; 0 simulates a contained
// external failure.
type stubScorer struct {
	mu    sync.Mutex
	score int
	calls int
}

func (s *stubScorer) Score(context.Context, string, model.Listing) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.score
}

type fakeNotifier struct {
	mu         sync.Mutex
	fail       bool
	dispatches [][]model.MatchedListing
}

func (n *fakeNotifier) Dispatch(_ context.Context, _ model.ShoppingAgent, _ model.OwnerContact, matches []model.MatchedListing) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return fmt.Errorf("simulated send failure")
	}
	n.dispatches = append(n.dispatches, matches)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.dispatches)
}

// ─── Fixtures ────────────────────────────────────────────────────────────────

func f64(v float64) *float64 { return &v }

func carAgent() model.ShoppingAgent {
	return model.ShoppingAgent{
		ID:          1,
		UserID:      "u-1",
		Name:        "Car Finder",
		Description: "Finds cars under 10000 RON in Bucharest",
		Filters: model.AgentFilters{
			Keywords: []string{"car"},
			MinPrice: f64(1000),
			MaxPrice: f64(10000),
		},
		IsActive: true,
	}
}

func corollaListing() model.Listing {
	return model.Listing{
		ID:          101,
		Title:       "Used Toyota Corolla for sale",
		Description: "Well maintained car, low mileage",
		Price:       8500,
		Location:    "Bucharest",
		CategoryID:  12,
		Status:      "active",
	}
}

// ─── Filter pass + high AI score records one match ─────────────────────────

func TestProcessAgent_AIPolicy_HighScoreRecordsMatch(t *testing.T) {
	matches := newFakeMatchStore()
	matches.listings[101] = corollaListing()
	stats := &fakeStats{}
	scorer := &stubScorer{score: 85}
	notifier := &fakeNotifier{}
	w := engine.NewWorker(matches, stats, scorer, notifier, match.PolicyAI)

	now := time.Now().UTC()
	res := w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, now)

	if res.Status != model.StatusSuccess {
		t.Fatalf("status = %q, want %q (err: %s)", res.Status, model.StatusSuccess, res.Error)
	}
	if res.Matches != 1 {
		t.Errorf("matches = %d, want 1", res.Matches)
	}

	row, ok := matches.row(1, 101)
	if !ok {
		t.Fatal("expected a match row for (1, 101)")
	}
	if row.MatchScore != 85 {
		t.Errorf("match score = %d, want 85", row.MatchScore)
	}
	if stats.touched[1] != 1 {
		t.Errorf("stats touched %d times, want 1", stats.touched[1])
	}
	if notifier.count() != 1 {
		t.Errorf("dispatches = %d, want 1 digest", notifier.count())
	}
}

// ─── Filter fail short-circuits the external scorer ────────────────────────

func TestProcessAgent_FilterFailSkipsScoring(t *testing.T) {
	matches := newFakeMatchStore()
	scorer := &stubScorer{score: 99}
	w := engine.NewWorker(matches, &fakeStats{}, scorer, &fakeNotifier{}, match.PolicyAI)

	agent := carAgent()
	agent.Filters = model.AgentFilters{MinPrice: f64(50000)}

	res := w.ProcessAgent(context.Background(), agent, []model.Listing{corollaListing()}, time.Now())

	if scorer.calls != 0 {
		t.Errorf("scorer called %d times, want 0 — filters must short-circuit", scorer.calls)
	}
	if matches.count(agent.ID) != 0 {
		t.Error("no match row expected when filters fail")
	}
	if res.Status != model.StatusNoMatches {
		t.Errorf("status = %q, want %q", res.Status, model.StatusNoMatches)
	}
}

// ─── External scoring failure is contained as score 0 ──────────────────────

func TestProcessAgent_ScoringFailureContained(t *testing.T) {
	matches := newFakeMatchStore()
	scorer := &stubScorer{score: 0} // the scorer maps timeouts/errors to 0
	w := engine.NewWorker(matches, &fakeStats{}, scorer, &fakeNotifier{}, match.PolicyAI)

	listings := []model.Listing{corollaListing(), {ID: 102, Title: "Another car", Price: 5000}}
	res := w.ProcessAgent(context.Background(), carAgent(), listings, time.Now())

	if scorer.calls != 2 {
		t.Errorf("scorer calls = %d, want 2 — pipeline must continue past failures", scorer.calls)
	}
	if matches.count(1) != 0 {
		t.Error("score 0 is below the AI record threshold, no rows expected")
	}
	if res.Status != model.StatusNoMatches {
		t.Errorf("status = %q, want %q", res.Status, model.StatusNoMatches)
	}
}

// ─── Reprocessing the same pair refreshes in place ─────────────────────────

func TestProcessAgent_RerunUpdatesMatchInPlace(t *testing.T) {
	matches := newFakeMatchStore()
	matches.listings[101] = corollaListing()
	scorer := &stubScorer{score: 85}
	w := engine.NewWorker(matches, &fakeStats{}, scorer, &fakeNotifier{}, match.PolicyAI)

	first := time.Now().UTC()
	w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, first)

	// Price changed between runs; score and matched_at must refresh in place.
	scorer.score = 72
	second := first.Add(time.Hour)
	listing := corollaListing()
	listing.Price = 7900
	w.ProcessAgent(context.Background(), carAgent(), []model.Listing{listing}, second)

	if matches.count(1) != 1 {
		t.Fatalf("match rows = %d, want exactly 1 after two runs", matches.count(1))
	}
	row, _ := matches.row(1, 101)
	if row.MatchScore != 72 {
		t.Errorf("match score = %d, want refreshed 72", row.MatchScore)
	}
	if !row.MatchedAt.Equal(second) {
		t.Errorf("matched_at = %v, want refreshed %v", row.MatchedAt, second)
	}
}

// ─── Notification dedup across runs ────────────────────────────────────────

func TestProcessAgent_NotifiedMatchesExcludedFromNextDigest(t *testing.T) {
	matches := newFakeMatchStore()
	matches.listings[101] = corollaListing()
	notifier := &fakeNotifier{}
	w := engine.NewWorker(matches, &fakeStats{}, &stubScorer{score: 90}, notifier, match.PolicyAI)

	w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, time.Now())
	w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, time.Now())

	if notifier.count() != 1 {
		t.Errorf("dispatches = %d, want 1 — an already-notified match must not re-enter a digest", notifier.count())
	}
}

// ─── Send failure leaves matches unmarked for the next run ─────────────────

func TestProcessAgent_SendFailureRetriedNextRun(t *testing.T) {
	matches := newFakeMatchStore()
	matches.listings[101] = corollaListing()
	notifier := &fakeNotifier{fail: true}
	w := engine.NewWorker(matches, &fakeStats{}, &stubScorer{score: 90}, notifier, match.PolicyAI)

	res := w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, time.Now())
	if res.Status != model.StatusSuccess {
		t.Errorf("a failed send must not fail the agent: status = %q", res.Status)
	}

	row, _ := matches.row(1, 101)
	if row.NotifiedAt != nil {
		t.Fatal("match must stay unmarked after a failed send")
	}

	notifier.fail = false
	w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, time.Now())
	if notifier.count() != 1 {
		t.Errorf("dispatches = %d, want 1 delivered on the retry run", notifier.count())
	}
	row, _ = matches.row(1, 101)
	if row.NotifiedAt == nil {
		t.Error("match should be marked notified after the successful send")
	}
}

// ─── Persistence failure: one retry, then skip ─────────────────────────────

func TestProcessAgent_UpsertRetriesOnce(t *testing.T) {
	matches := newFakeMatchStore()
	matches.failUpserts = 1
	w := engine.NewWorker(matches, &fakeStats{}, &stubScorer{score: 85}, &fakeNotifier{}, match.PolicyAI)

	res := w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, time.Now())

	if matches.count(1) != 1 {
		t.Error("a single failure must be absorbed by the retry")
	}
	if res.Matches != 1 {
		t.Errorf("matches = %d, want 1", res.Matches)
	}
}

func TestProcessAgent_UpsertSkippedAfterRetry(t *testing.T) {
	matches := newFakeMatchStore()
	matches.failUpserts = 2
	w := engine.NewWorker(matches, &fakeStats{}, &stubScorer{score: 85}, &fakeNotifier{}, match.PolicyAI)

	res := w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, time.Now())

	if matches.count(1) != 0 {
		t.Error("pair must be skipped after the retry also fails")
	}
	if res.Status != model.StatusNoMatches {
		t.Errorf("status = %q, want %q — a skipped pair is not an agent error", res.Status, model.StatusNoMatches)
	}
}

// ─── Hybrid policy records low scores but only notifies at 80+ ─────────────

func TestProcessAgent_HybridPolicyThresholds(t *testing.T) {
	matches := newFakeMatchStore()
	matches.listings[101] = corollaListing()
	notifier := &fakeNotifier{}
	w := engine.NewWorker(matches, &fakeStats{}, nil, notifier, match.PolicyHybrid)

	agent := carAgent()
	agent.Filters = model.AgentFilters{} // no criteria: hybrid base score 50

	w.ProcessAgent(context.Background(), agent, []model.Listing{corollaListing()}, time.Now())

	if matches.count(1) != 1 {
		t.Fatal("hybrid policy records matches at any score")
	}
	row, _ := matches.row(1, 101)
	if row.MatchScore != 50 {
		t.Errorf("match score = %d, want 50", row.MatchScore)
	}
	if notifier.count() != 0 {
		t.Error("score 50 is below the hybrid notify threshold, no digest expected")
	}
}

// ─── Missing owner contact skips the digest, not the matches ───────────────

func TestProcessAgent_NoOwnerEmailSkipsDigest(t *testing.T) {
	matches := newFakeMatchStore()
	matches.listings[101] = corollaListing()
	notifier := &fakeNotifier{}
	stats := &fakeStats{noEmail: true}
	w := engine.NewWorker(matches, stats, &stubScorer{score: 90}, notifier, match.PolicyAI)

	res := w.ProcessAgent(context.Background(), carAgent(), []model.Listing{corollaListing()}, time.Now())

	if notifier.count() != 0 {
		t.Error("no digest without a contact address")
	}
	if res.Status != model.StatusSuccess || matches.count(1) != 1 {
		t.Error("matches must still be persisted when the digest is skipped")
	}
}
