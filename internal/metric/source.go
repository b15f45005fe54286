package metric

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds a single fetch or push.
const DefaultTimeout = 10 * time.Second

const maxBodyBytes = 8 << 20

// Sample is one observation of the client count. Count is 0 when the fetch failed.
type Sample struct {
	Count      int
	ObservedAt time.Time
}

// Source returns the current client count.
type Source interface {
	Fetch(ctx context.Context) (int, error)
}

// FetchError wraps any failure to obtain a count. Status is 0 when no response arrived.
type FetchError struct {
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch client count: HTTP %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("fetch client count: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPSourceConfig configures HTTPSource.
type HTTPSourceConfig struct {
	URL                string
	APIKey             string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// HTTPSource reads the count from the gateway's client list endpoint.
type HTTPSource struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSource builds a source with its own bounded HTTP client.
func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // gateway uses a self-signed certificate
	}
	return &HTTPSource{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// Host returns the hostname of the metric endpoint, or "" if the URL is unusable.
func (s *HTTPSource) Host() string {
	u, err := url.Parse(s.url)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Fetch performs one GET and parses the body with ParseCount.
func (s *HTTPSource) Fetch(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, &FetchError{Err: err}
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, &FetchError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &FetchError{Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	count, err := ParseCount(body)
	if err != nil {
		return 0, &FetchError{Status: resp.StatusCode, Err: err}
	}
	return count, nil
}

// ParseCount accepts either a JSON array (count = length) or an object exposing
// totalCount, count, or a data array, in that order of preference.
func ParseCount(body []byte) (int, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return 0, errors.New("empty response body")
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return 0, fmt.Errorf("decode client list: %w", err)
		}
		return len(items), nil
	case '{':
		var obj struct {
			TotalCount *int             `json:"totalCount"`
			Count      *int             `json:"count"`
			Data       *json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return 0, fmt.Errorf("decode client object: %w", err)
		}
		switch {
		case obj.TotalCount != nil:
			return nonNegative(*obj.TotalCount)
		case obj.Count != nil:
			return nonNegative(*obj.Count)
		case obj.Data != nil:
			return ParseCount(*obj.Data)
		}
		return 0, errors.New("response object has no count field")
	default:
		return 0, fmt.Errorf("unexpected response body starting with %q", body[0])
	}
}

func nonNegative(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}
