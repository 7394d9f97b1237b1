// Package notify implements digest composition and delivery for agent
// matches: a Resend API mailer, a log-only fallback, and the per-run
// dispatcher with rate limiting and dedup.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	resendEndpoint = "https://api.resend.com/emails"
	httpTimeout    = 15 * time.Second
)

// Mailer sends a single HTML email. Implementations must be safe for
// concurrent use; the dispatcher serialises sends anyway.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// ResendMailer delivers mail through the Resend HTTP API.
type ResendMailer struct {
	apiKey string
	from   string
	client *http.Client
}

// NewResendMailer constructs a mailer with a shared HTTP client.
func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: httpTimeout},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send posts the email to Resend. Non-2xx responses are returned as errors
// with the response body for the logs.
func (m *ResendMailer) Send(ctx context.Context, to, subject, html string) error {
	payload, err := json.Marshal(resendRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("marshal resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendEndpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("http POST: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resend returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// LogMailer is the degraded mode used when no RESEND_API_KEY is configured:
// digests are logged instead of sent, and matches are not marked notified,
// so enabling a real mailer later delivers them.
type LogMailer struct{}

// Send logs the digest instead of delivering it. Always returns an error so
// the dispatcher does not stamp notified_at.
func (LogMailer) Send(_ context.Context, to, subject, _ string) error {
	log.Printf("[notify] mailer not configured — would send %q to %s", subject, to)
	return fmt.Errorf("mailer not configured")
}
