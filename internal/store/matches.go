package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"piata/matcher-service/internal/model"
)

// MatchStore reads and writes agent_matches rows. The table carries a
// UNIQUE (agent_id, listing_id) constraint; Upsert leans on it to make
// repeated runs over overlapping listing windows safe.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore returns a configured MatchStore.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// Upsert writes a match for the (agent, listing) pair. On conflict the
// existing row's score and matched_at are refreshed in place — never a
// second row. notified_at is left untouched so reprocessing a pair cannot
// re-arm a notification that was already sent.
func (s *MatchStore) Upsert(ctx context.Context, m model.Match) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_matches (agent_id, listing_id, match_score, matched_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_id, listing_id)
		 DO UPDATE SET match_score = EXCLUDED.match_score,
		               matched_at  = EXCLUDED.matched_at`,
		m.AgentID, m.ListingID, m.MatchScore, m.MatchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert match (%d, %d): %w", m.AgentID, m.ListingID, err)
	}
	return nil
}

// Unnotified returns an agent's not-yet-notified matches scoring at least
// minScore, best first, joined with the listing fields the digest needs.
func (s *MatchStore) Unnotified(ctx context.Context, agentID int64, minScore, limit int) ([]model.MatchedListing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.listing_id, a.title, a.price, COALESCE(a.location, ''),
		        m.match_score, m.matched_at
		 FROM agent_matches m
		 JOIN anunturi a ON a.id = m.listing_id
		 WHERE m.agent_id = $1
		   AND m.notified_at IS NULL
		   AND m.match_score >= $2
		 ORDER BY m.match_score DESC, m.matched_at DESC
		 LIMIT $3`,
		agentID, minScore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unnotified matches: %w", err)
	}
	defer rows.Close()

	var matches []model.MatchedListing
	for rows.Next() {
		var m model.MatchedListing
		if err := rows.Scan(
			&m.ListingID, &m.Title, &m.Price, &m.Location,
			&m.MatchScore, &m.MatchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan matched listing: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// MarkNotified stamps notified_at on the given pairs after a successful
// digest send. Matches stay un-stamped when a send fails, so they are picked
// up by the next run (at-least-once delivery).
func (s *MatchStore) MarkNotified(ctx context.Context, agentID int64, listingIDs []int64, now time.Time) error {
	if len(listingIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE agent_matches
		 SET notified_at = $3
		 WHERE agent_id = $1 AND listing_id = ANY($2)`,
		agentID, listingIDs, now,
	)
	if err != nil {
		return fmt.Errorf("mark matches notified: %w", err)
	}
	return nil
}

// ListForAgent returns an agent's matches for the owner-facing API, newest
// first, joined with listing details.
func (s *MatchStore) ListForAgent(ctx context.Context, agentID int64, limit int) ([]model.MatchedListing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.listing_id, a.title, a.price, COALESCE(a.location, ''),
		        m.match_score, m.matched_at
		 FROM agent_matches m
		 JOIN anunturi a ON a.id = m.listing_id
		 WHERE m.agent_id = $1
		 ORDER BY m.matched_at DESC
		 LIMIT $2`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query agent matches: %w", err)
	}
	defer rows.Close()

	matches := make([]model.MatchedListing, 0)
	for rows.Next() {
		var m model.MatchedListing
		if err := rows.Scan(
			&m.ListingID, &m.Title, &m.Price, &m.Location,
			&m.MatchScore, &m.MatchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan matched listing: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
