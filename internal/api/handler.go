// Package api implements the HTTP surface of the matcher service.
//
// Agent management routes expect an x-user-id header forwarded by the
// Gateway. The run trigger authenticates with a shared-secret bearer token.
//
// Routes:
//
//	POST   /run                      → trigger a matching run (bearer auth)
//	GET    /agents                   → list caller's agents
//	POST   /agents                   → create agent (max 5 per owner)
//	PATCH  /agents/{id}              → partial update
//	DELETE /agents/{id}              → delete agent (cascades matches)
//	GET    /agents/{id}/matches      → list an agent's matches
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"piata/matcher-service/internal/engine"
	"piata/matcher-service/internal/model"
	"piata/matcher-service/internal/store"
)

// matchesPageLimit caps the matches listing, as the original UI did.
const matchesPageLimit = 50

// Runner triggers one matching batch. Implemented by engine.Orchestrator.
type Runner interface {
	Run(ctx context.Context) (*model.RunSummary, error)
}

// AgentStore is the agent persistence surface the handlers need.
// Implemented by store.AgentStore.
type AgentStore interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.ShoppingAgent, error)
	Get(ctx context.Context, ownerID string, id int64) (*model.ShoppingAgent, error)
	Create(ctx context.Context, ownerID, name, description string, filters model.AgentFilters) (*model.ShoppingAgent, error)
	Update(ctx context.Context, ownerID string, id int64, upd store.AgentUpdate) (*model.ShoppingAgent, error)
	Delete(ctx context.Context, ownerID string, id int64) error
}

// MatchStore reads match rows for the owner-facing API. Implemented by
// store.MatchStore.
type MatchStore interface {
	ListForAgent(ctx context.Context, agentID int64, limit int) ([]model.MatchedListing, error)
}

// Handler holds shared dependencies.
type Handler struct {
	agents  AgentStore
	matches MatchStore
	runner  Runner
	secret  string
}

// NewHandler returns a configured Handler.
func NewHandler(agents AgentStore, matches MatchStore, runner Runner, secret string) *Handler {
	return &Handler{agents: agents, matches: matches, runner: runner, secret: secret}
}

// RegisterRoutes mounts all matcher-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/run", h.handleRun)
	mux.HandleFunc("/agents", h.handleAgents)
	mux.HandleFunc("/agents/", h.handleAgentAction)
}

// ─── Run trigger ─────────────────────────────────────────────────────────────

// handleRun handles POST /run. Authentication failure rejects the whole run;
// per-agent failures come back inside a 200 body so the external scheduler
// does not escalate partial degradation.
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		jsonError(w, "invalid or missing bearer token", http.StatusUnauthorized)
		return
	}

	summary, err := h.runner.Run(r.Context())
	if err != nil {
		if errors.Is(err, engine.ErrRunInProgress) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		log.Printf("[api] run failed: %v", err)
		jsonError(w, "run failed to start", http.StatusInternalServerError)
		return
	}

	jsonOK(w, summary)
}

// ─── Agent CRUD ──────────────────────────────────────────────────────────────

// handleAgents handles GET /agents and POST /agents.
func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listAgents(w, r)
	case http.MethodPost:
		h.createAgent(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAgentAction handles PATCH|DELETE /agents/{id} and
// GET /agents/{id}/matches.
func (h *Handler) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 2:
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			jsonError(w, "invalid agent id", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodPatch:
			h.updateAgent(w, r, id)
		case http.MethodDelete:
			h.deleteAgent(w, r, id)
		default:
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 3 && parts[2] == "matches":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			jsonError(w, "invalid agent id", http.StatusBadRequest)
			return
		}
		if r.Method != http.MethodGet {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.listAgentMatches(w, r, id)

	default:
		jsonError(w, "invalid path", http.StatusNotFound)
	}
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	agents, err := h.agents.ListByOwner(r.Context(), userID)
	if err != nil {
		log.Printf("[api] listAgents error: %v", err)
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, map[string]any{"agents": agents})
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var body struct {
		Name        string             `json:"name"`
		Description string             `json:"description"`
		Filters     model.AgentFilters `json:"filters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	agent, err := h.agents.Create(r.Context(), userID, body.Name, body.Description, body.Filters)
	if err != nil {
		writeStoreError(w, "createAgent", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"agent": agent})
}

func (h *Handler) updateAgent(w http.ResponseWriter, r *http.Request, id int64) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var body struct {
		Name        *string             `json:"name"`
		Description *string             `json:"description"`
		Filters     *model.AgentFilters `json:"filters"`
		IsActive    *bool               `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	agent, err := h.agents.Update(r.Context(), userID, id, store.AgentUpdate{
		Name:        body.Name,
		Description: body.Description,
		Filters:     body.Filters,
		IsActive:    body.IsActive,
	})
	if err != nil {
		writeStoreError(w, "updateAgent", err)
		return
	}
	jsonOK(w, map[string]any{"agent": agent})
}

func (h *Handler) deleteAgent(w http.ResponseWriter, r *http.Request, id int64) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := h.agents.Delete(r.Context(), userID, id); err != nil {
		writeStoreError(w, "deleteAgent", err)
		return
	}
	jsonOK(w, map[string]any{"success": true})
}

func (h *Handler) listAgentMatches(w http.ResponseWriter, r *http.Request, id int64) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	// Ownership check before exposing match rows.
	if _, err := h.agents.Get(r.Context(), userID, id); err != nil {
		writeStoreError(w, "listAgentMatches", err)
		return
	}

	matches, err := h.matches.ListForAgent(r.Context(), id, matchesPageLimit)
	if err != nil {
		log.Printf("[api] listAgentMatches error: %v", err)
		jsonError(w, "database error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, map[string]any{"matches": matches})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// callerID extracts the Gateway-forwarded user id, writing 401 when absent.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func writeStoreError(w http.ResponseWriter, op string, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonError(w, verr.Msg, http.StatusBadRequest)
	case errors.Is(err, store.ErrAgentLimit):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("[api] %s error: %v", op, err)
		jsonError(w, "database error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
