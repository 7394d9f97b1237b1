package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"piata/matcher-service/internal/model"
)

// sendMinDelay is the fixed minimum spacing between consecutive external
// sends, to respect the mail provider's throughput limits.
const sendMinDelay = 500 * time.Millisecond

// Dispatcher sends one digest per agent per run and publishes a match event
// for gateway SSE fan-out. Safe for concurrent use by the agent worker pool;
// sends are serialised through the rate limiter.
type Dispatcher struct {
	mailer  Mailer
	rdb     *redis.Client // nil disables event publishing
	baseURL string

	mu       sync.Mutex
	nextSend time.Time
}

// NewDispatcher returns a configured Dispatcher.
func NewDispatcher(mailer Mailer, rdb *redis.Client, baseURL string) *Dispatcher {
	return &Dispatcher{mailer: mailer, rdb: rdb, baseURL: baseURL}
}

// Dispatch composes and sends the digest for an agent's qualifying matches.
// On success the caller marks the matches notified; on failure the matches
// stay unmarked and are retried on the next run.
func (d *Dispatcher) Dispatch(ctx context.Context, agent model.ShoppingAgent, owner model.OwnerContact, matches []model.MatchedListing) error {
	if len(matches) == 0 {
		return nil
	}

	subject, html, err := ComposeDigest(d.baseURL, owner.FullName, agent, matches)
	if err != nil {
		return err
	}

	if err := d.waitTurn(ctx); err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, owner.Email, subject, html); err != nil {
		return fmt.Errorf("send digest for agent %d: %w", agent.ID, err)
	}

	d.publishEvent(ctx, agent, len(matches))
	return nil
}

// waitTurn blocks until the rate limiter allows the next send. A caller
// cancelled while waiting gives its reservation back, so later senders do
// not wait behind a send that never happened.
func (d *Dispatcher) waitTurn(ctx context.Context) error {
	d.mu.Lock()
	now := time.Now()
	wait := d.nextSend.Sub(now)
	if wait < 0 {
		wait = 0
	}
	reserved := now.Add(wait + sendMinDelay)
	d.nextSend = reserved
	d.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		if d.nextSend.Equal(reserved) {
			d.nextSend = reserved.Add(-sendMinDelay)
		}
		d.mu.Unlock()
		return ctx.Err()
	}
}

// publishEvent emits EVENT_AGENT_MATCHES to Redis for SSE forwarding.
// Non-fatal: the digest was already delivered.
func (d *Dispatcher) publishEvent(ctx context.Context, agent model.ShoppingAgent, matches int) {
	if d.rdb == nil {
		return
	}
	event, _ := json.Marshal(map[string]any{
		"type":    "EVENT_AGENT_MATCHES",
		"agentId": agent.ID,
		"userId":  agent.UserID,
		"matches": matches,
	})
	if err := d.rdb.Publish(ctx, "EVENT_AGENT_MATCHES", event).Err(); err != nil {
		slog.Warn("publish EVENT_AGENT_MATCHES failed", "agentId", agent.ID, "err", err)
	}
}
