// Package remediation triggers recovery actions on the target and verifies
// the result.
package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mechanic performs the two idempotent recovery actions. Returned text is
// advisory only.
type Mechanic interface {
	RemoveFaultMarker(ctx context.Context, target string) (string, error)
	Restart(ctx context.Context, target string) (string, error)
}

// Client calls the mechanic service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewClient creates a mechanic client bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger.Named("mechanic"),
	}
}

type actionResponse struct {
	Result string `json:"result"`
}

// RemoveFaultMarker calls POST /containers/{target}/fix.
func (c *Client) RemoveFaultMarker(ctx context.Context, target string) (string, error) {
	return c.post(ctx, target, "fix")
}

// Restart calls POST /containers/{target}/restart.
func (c *Client) Restart(ctx context.Context, target string) (string, error) {
	return c.post(ctx, target, "restart")
}

func (c *Client) post(ctx context.Context, target, action string) (string, error) {
	actionURL := fmt.Sprintf("%s/containers/%s/%s", c.baseURL, url.PathEscape(target), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, actionURL, nil)
	if err != nil {
		return "", fmt.Errorf("remediation: create %s request: %w", action, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("remediation: %s %s: %w", action, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("remediation: read %s response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("remediation: %s %s returned status %d", action, target, resp.StatusCode)
	}

	var out actionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// The reply is advisory; keep the raw text.
		return strings.TrimSpace(string(body)), nil
	}
	return out.Result, nil
}
