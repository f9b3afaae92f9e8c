// Package usage reports and receives anonymous tool-usage signals.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Path is the route the tracking endpoint is served on.
const Path = "/api/tool-usage"

// Event is the wire payload of one usage signal.
type Event struct {
	ToolID string `json:"toolId"`
	Locale string `json:"locale"`
}

// HTTPTracker posts usage events to a remote endpoint. Its client carries a
// cookie jar so session credentials travel with each request.
type HTTPTracker struct {
	endpoint string
	client   *http.Client
}

func NewHTTPTracker(baseURL string, timeout time.Duration) (*HTTPTracker, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("usage endpoint must be set")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTracker{
		endpoint: strings.TrimSuffix(baseURL, "/") + Path,
		client:   &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

func (t *HTTPTracker) Track(ctx context.Context, toolID, locale string) error {
	body, err := json.Marshal(Event{ToolID: toolID, Locale: locale})
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build usage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("usage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("usage endpoint returned %s", resp.Status)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(context.Context, string, string) error { return nil }
