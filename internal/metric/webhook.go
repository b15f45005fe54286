package metric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Mirror forwards the count to another system. Failures never affect the loop.
type Mirror interface {
	Push(ctx context.Context, count int) error
}

// PushError reports a failed mirror push. Status is 0 when no response arrived.
type PushError struct {
	Status int
	Err    error
}

func (e *PushError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("push client count: HTTP %d", e.Status)
	}
	return fmt.Sprintf("push client count: %v", e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// WebhookMirror PUTs {"clientCount": n} to the control plane.
type WebhookMirror struct {
	url    string
	client *http.Client
}

// NewWebhookMirror builds a mirror with a bounded client.
func NewWebhookMirror(url string, timeout time.Duration) *WebhookMirror {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookMirror{url: url, client: &http.Client{Timeout: timeout}}
}

type pushPayload struct {
	ClientCount int `json:"clientCount"`
}

// Push sends one request; any 2xx is success. No retries.
func (m *WebhookMirror) Push(ctx context.Context, count int) error {
	body, err := json.Marshal(pushPayload{ClientCount: count})
	if err != nil {
		return &PushError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, m.url, bytes.NewReader(body))
	if err != nil {
		return &PushError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return &PushError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PushError{Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return nil
}
