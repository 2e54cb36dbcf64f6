// Package analysis hands flushed transcript blocks to the external analysis
// collaborator.
//
// Delivery is fire-and-log: a failed handoff is logged and counted but never
// retried or re-buffered. The transcript accumulator is the authoritative
// memory; once text has left it, delivery is best-effort by design.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/auricle-audio/auricle/internal/observe"
)

const defaultTimeout = 10 * time.Second

// Publisher delivers flushed transcript blocks downstream.
type Publisher interface {
	// Publish delivers one non-empty text block for the given session.
	Publish(ctx context.Context, sessionID, text string) error
}

// Client is an HTTP [Publisher] posting JSON to the analysis endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a Client for the given endpoint URL. A non-positive
// timeout defaults to 10s.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// payload is the downstream handoff body.
type payload struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// Publish posts the text block to the analysis endpoint.
func (c *Client) Publish(ctx context.Context, sessionID, text string) error {
	body, err := json.Marshal(payload{Text: text, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("analysis: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("analysis: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("analysis: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("analysis: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Ensure Client implements Publisher at compile time.
var _ Publisher = (*Client)(nil)

// LogOnly is a [Publisher] that records blocks to the log only. Used when no
// analysis endpoint is configured.
type LogOnly struct{}

// Publish logs the block and succeeds.
func (LogOnly) Publish(_ context.Context, sessionID, text string) error {
	slog.Info("analysis: no endpoint configured, dropping block",
		"session_id", sessionID,
		"chars", len(text),
	)
	return nil
}

// Handoff delivers text via p and logs and counts a failure. It is the one
// place the fire-and-log contract is enforced; callers never see the error.
func Handoff(ctx context.Context, p Publisher, sessionID, text string) {
	if err := p.Publish(ctx, sessionID, text); err != nil {
		slog.Warn("analysis: handoff failed, block dropped",
			"session_id", sessionID,
			"chars", len(text),
			"err", err,
		)
		observe.DefaultMetrics().HandoffErrors.Add(ctx, 1)
	}
}
