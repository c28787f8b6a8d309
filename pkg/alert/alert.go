// Package alert implements the slack-compatible webhook alerting channel
// named in spec.md §6/§7: a single outbound POST of a JSON payload,
// fired when a fill leaves the agent's own positions unhealthy.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier posts alert text to a slack-compatible incoming webhook. A
// zero-value url (empty slack_api_url_key in config) disables alerting
// entirely — Send becomes a no-op rather than an error.
type Notifier struct {
	url    string
	client *http.Client
}

// New builds a Notifier targeting url. An empty url disables alerting.
func New(url string) *Notifier {
	return &Notifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

type slackPayload struct {
	Text string `json:"text"`
}

// Send posts text to the configured webhook. It is a no-op when no
// webhook URL was configured (spec.md §6: "empty disables alerting").
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.url == "" {
		return nil
	}

	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return fmt.Errorf("alert: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ResidualPositionMessage formats the post-fill health-violation alert
// named in spec.md §4.6: a fill attributed to this agent left residual,
// unhealthy positions in the pool.
func ResidualPositionMessage(pool, user string, healthFactor string) string {
	return fmt.Sprintf("liquidation fill on pool %s left residual positions for %s (health factor %s) — manual review needed", pool, user, healthFactor)
}
