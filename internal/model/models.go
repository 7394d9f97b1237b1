// Package model defines shared data structures for the matcher service.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ShoppingAgent mirrors a shopping_agents table row. The filters JSONB blob
// is parsed into an AgentFilters struct once, when the row is read.
type ShoppingAgent struct {
	ID            int64        `json:"id"`
	UserID        string       `json:"userId"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Filters       AgentFilters `json:"filters"`
	IsActive      bool         `json:"isActive"`
	LastCheckedAt *time.Time   `json:"lastCheckedAt"`
	MatchesFound  int          `json:"matchesFound"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// AgentFilters is the structured search criteria of an agent. Every field is
// optional; a zero-value AgentFilters matches every listing.
type AgentFilters struct {
	Keywords   []string `json:"keywords,omitempty"`
	MinPrice   *float64 `json:"minPrice,omitempty"`
	MaxPrice   *float64 `json:"maxPrice,omitempty"`
	Location   string   `json:"location,omitempty"`
	CategoryID *int64   `json:"categoryId,omitempty"`
}

// ParseFilters decodes the raw filters blob stored in shopping_agents.filters.
// An empty or NULL blob yields the zero value (matches everything).
func ParseFilters(raw []byte) (AgentFilters, error) {
	var f AgentFilters
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse filters blob: %w", err)
	}
	return f, nil
}

// Listing is a marketplace advertisement (anunturi table). Read-only here.
type Listing struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Location    string    `json:"location"`
	CategoryID  int64     `json:"categoryId"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Match links an agent to a listing with a confidence score. The pair
// (AgentID, ListingID) is unique in agent_matches.
type Match struct {
	AgentID    int64      `json:"agentId"`
	ListingID  int64      `json:"listingId"`
	MatchScore int        `json:"matchScore"`
	MatchedAt  time.Time  `json:"matchedAt"`
	NotifiedAt *time.Time `json:"notifiedAt,omitempty"`
}

// MatchedListing is a match joined with the listing fields needed for the
// digest email and the matches API.
type MatchedListing struct {
	ListingID  int64     `json:"listingId"`
	Title      string    `json:"title"`
	Price      float64   `json:"price"`
	Location   string    `json:"location"`
	MatchScore int       `json:"matchScore"`
	MatchedAt  time.Time `json:"matchedAt"`
}

// OwnerContact is the notification address of an agent's owner, read from
// the marketplace's user profiles.
type OwnerContact struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// Per-agent processing outcome values.
const (
	StatusSuccess   = "success"
	StatusNoMatches = "no_matches"
	StatusError     = "error"
)

// AgentResult is one agent's entry in the run summary.
type AgentResult struct {
	AgentID          int64  `json:"agent_id"`
	AgentName        string `json:"agent_name"`
	Matches          int    `json:"matches"`
	HighScoreMatches int    `json:"high_score_matches,omitempty"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
}

// RunSummary is returned to the run trigger caller. Partial failures appear
// as per-agent error entries, never as a failed run.
type RunSummary struct {
	AgentsProcessed int           `json:"agentsProcessed"`
	AgentsSkipped   int           `json:"agentsSkipped,omitempty"`
	TotalMatches    int           `json:"totalMatches"`
	Results         []AgentResult `json:"results"`
}
