// Package store implements persistence for agents, listings and matches
// over a shared pgxpool. It is transport-agnostic: used by the HTTP handlers
// and by the run engine.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"piata/matcher-service/internal/model"
)

// MaxAgentsPerOwner caps how many agents a single marketplace user may keep.
const MaxAgentsPerOwner = 5

const agentColumns = `id, user_id, name, description, filters, is_active,
	       last_checked_at, matches_found, created_at, updated_at`

// AgentStore reads and writes shopping_agents rows.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore returns a configured AgentStore.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

// ListActive returns every is_active = true agent, filters parsed. An agent
// whose filters blob does not decode is skipped with a warning; such rows
// cannot be created through the API and would otherwise poison the run.
func (s *AgentStore) ListActive(ctx context.Context) ([]model.ShoppingAgent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+`
		 FROM shopping_agents
		 WHERE is_active = true
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active agents: %w", err)
	}
	defer rows.Close()

	var agents []model.ShoppingAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			slog.Warn("skipping agent with bad row", "err", err)
			continue
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// ListByOwner returns the owner's agents, newest first.
func (s *AgentStore) ListByOwner(ctx context.Context, ownerID string) ([]model.ShoppingAgent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+`
		 FROM shopping_agents
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query agents by owner: %w", err)
	}
	defer rows.Close()

	agents := make([]model.ShoppingAgent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// Get returns one agent by ID, validating ownership.
func (s *AgentStore) Get(ctx context.Context, ownerID string, id int64) (*model.ShoppingAgent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+`
		 FROM shopping_agents
		 WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	)
	a, err := scanAgent(row)
	if err != nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// Create inserts a new active agent, enforcing the per-owner cap.
func (s *AgentStore) Create(ctx context.Context, ownerID, name, description string, filters model.AgentFilters) (*model.ShoppingAgent, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(description) == "" {
		return nil, &ValidationError{Msg: "name and description are required"}
	}

	var count int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM shopping_agents WHERE user_id = $1`, ownerID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count agents: %w", err)
	}
	if count >= MaxAgentsPerOwner {
		return nil, ErrAgentLimit
	}

	blob, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("marshal filters: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO shopping_agents (user_id, name, description, filters, is_active)
		 VALUES ($1, $2, $3, $4::jsonb, true)
		 RETURNING `+agentColumns,
		ownerID, name, description, string(blob),
	)
	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

// AgentUpdate carries the optional fields of a partial update. Nil fields
// are left untouched.
type AgentUpdate struct {
	Name        *string
	Description *string
	Filters     *model.AgentFilters
	IsActive    *bool
}

// Update applies a partial update and returns the new row.
// Returns ErrNotFound if the agent is missing or owned by someone else.
func (s *AgentStore) Update(ctx context.Context, ownerID string, id int64, upd AgentUpdate) (*model.ShoppingAgent, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id, ownerID}

	addArg := func(clause string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(clause, len(args)))
	}

	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, &ValidationError{Msg: "name must not be empty"}
		}
		addArg("name = $%d", *upd.Name)
	}
	if upd.Description != nil {
		addArg("description = $%d", *upd.Description)
	}
	if upd.Filters != nil {
		blob, err := json.Marshal(upd.Filters)
		if err != nil {
			return nil, fmt.Errorf("marshal filters: %w", err)
		}
		addArg("filters = $%d::jsonb", string(blob))
	}
	if upd.IsActive != nil {
		addArg("is_active = $%d", *upd.IsActive)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE shopping_agents
		 SET `+strings.Join(sets, ", ")+`
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+agentColumns,
		args...,
	)
	a, err := scanAgent(row)
	if err != nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// Delete removes an agent; its matches go with it via ON DELETE CASCADE.
func (s *AgentStore) Delete(ctx context.Context, ownerID string, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM shopping_agents WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchStats records a completed check: last_checked_at is set to now and
// matches_found is recomputed from the authoritative match-row count.
// Blind increments drift under retries and overlapping windows, so the
// counter is always reconciled, never added to.
func (s *AgentStore) TouchStats(ctx context.Context, agentID int64, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE shopping_agents
		 SET last_checked_at = $2,
		     matches_found   = (SELECT COUNT(*) FROM agent_matches WHERE agent_id = $1),
		     updated_at      = NOW()
		 WHERE id = $1`,
		agentID, now,
	)
	if err != nil {
		return fmt.Errorf("touch agent stats: %w", err)
	}
	return nil
}

// scanner matches both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*model.ShoppingAgent, error) {
	var (
		a   model.ShoppingAgent
		raw []byte
	)
	if err := row.Scan(
		&a.ID, &a.UserID, &a.Name, &a.Description, &raw, &a.IsActive,
		&a.LastCheckedAt, &a.MatchesFound, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}

	filters, err := model.ParseFilters(raw)
	if err != nil {
		return nil, fmt.Errorf("agent %d: %w", a.ID, err)
	}
	a.Filters = filters
	return &a, nil
}

// ─── Sentinel errors ─────────────────────────────────────────────────────────

// ErrNotFound is returned when an agent is missing or not owned by the caller.
var ErrNotFound = fmt.Errorf("agent not found")

// ErrAgentLimit is returned when an owner already has MaxAgentsPerOwner agents.
var ErrAgentLimit = fmt.Errorf("maximum %d agents allowed per user", MaxAgentsPerOwner)

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }
