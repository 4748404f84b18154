package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NotifyConfig configures where to send completion notifications.
type NotifyConfig struct {
	WebhookURL string // if empty, no notifications
	Client     *http.Client
}

// completionPayload is the JSON body posted to the webhook endpoint.
type completionPayload struct {
	Target         string        `json:"target"`
	RunID          string        `json:"run_id"`
	Success        bool          `json:"success"`
	State          string        `json:"state"`
	FailedAt       string        `json:"failed_at,omitempty"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	Error          string        `json:"error,omitempty"`
	Stages         []StageRecord `json:"stages"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
}

// SendCompletion posts a JSON summary of result to the webhook URL.
// Returns nil if WebhookURL is empty (no-op). Errors are returned but
// callers should treat them as warnings.
func (n *NotifyConfig) SendCompletion(result *Result) error {
	if n == nil || n.WebhookURL == "" {
		return nil
	}

	payload := completionPayload{
		Target:         result.Target.String(),
		RunID:          result.RunID,
		Success:        result.Success(),
		State:          string(result.State),
		FailedAt:       string(result.FailedAt),
		Stages:         result.Stages,
		ElapsedSeconds: result.Elapsed.Seconds(),
	}
	if result.Err != nil {
		payload.ErrorKind = string(result.Kind())
		payload.Error = result.Err.Error()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshaling payload: %w", err)
	}

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Post(n.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: posting to %s: %w", n.WebhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned non-2xx status %d", resp.StatusCode)
	}

	return nil
}
