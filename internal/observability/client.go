// Package observability implements the log and health collaborator used to
// detect and diagnose incidents on the monitored target.
//
// Health readings are kept in a bounded history so operators can see how the
// target behaved around an incident without a separate metrics store.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// historyLimit caps the number of retained health snapshots.
const historyLimit = 100

// maxBody limits how much of a collaborator reply is read.
const maxBody = 1 << 20

// Client fetches logs from the mechanic service and health from the target.
type Client struct {
	httpClient  *http.Client
	healthURL   string
	mechanicURL string
	logger      *zap.Logger

	mu      sync.RWMutex
	history []models.HealthSnapshot
}

// NewClient creates an observability client. Every call is bounded by timeout.
func NewClient(healthURL, mechanicURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		healthURL:   healthURL,
		mechanicURL: strings.TrimSuffix(mechanicURL, "/"),
		logger:      logger.Named("observability"),
	}
}

type logsResponse struct {
	Output string `json:"output"`
}

// GetLogs returns recent log text for target.
func (c *Client) GetLogs(ctx context.Context, target string) (string, error) {
	logsURL := fmt.Sprintf("%s/containers/%s/logs", c.mechanicURL, url.PathEscape(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logsURL, nil)
	if err != nil {
		return "", fmt.Errorf("observability: create logs request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("observability: fetch logs for %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("observability: read logs for %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("observability: logs for %s returned status %d", target, resp.StatusCode)
	}

	var out logsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("observability: decode logs for %s: %w", target, err)
	}
	return out.Output, nil
}

// CheckHealth queries the health endpoint once. It never fails: transport
// errors yield status UNREACHABLE and non-JSON or non-2xx replies yield an
// empty status with the HTTP code in telemetry.
func (c *Client) CheckHealth(ctx context.Context) models.HealthSnapshot {
	snap := c.probe(ctx)
	metrics.ObserveHealthCheck(snap.Status)
	c.store(snap)
	return snap
}

func (c *Client) probe(ctx context.Context) models.HealthSnapshot {
	snap := models.HealthSnapshot{
		Telemetry: map[string]string{},
		CheckedAt: time.Now().UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		snap.Status = models.HealthStatusUnreachable
		snap.Telemetry["error"] = err.Error()
		return snap
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("health endpoint unreachable", zap.String("url", c.healthURL), zap.Error(err))
		snap.Status = models.HealthStatusUnreachable
		snap.Telemetry["error"] = err.Error()
		return snap
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		snap.Status = models.HealthStatusUnreachable
		snap.Telemetry["error"] = err.Error()
		return snap
	}

	ok2xx := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if !ok2xx {
		snap.Telemetry["http_status"] = strconv.Itoa(resp.StatusCode)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		snap.Telemetry["http_status"] = strconv.Itoa(resp.StatusCode)
		if text := strings.TrimSpace(string(body)); text != "" {
			snap.Telemetry["body"] = truncate(text, 200)
		}
		return snap
	}

	for k, v := range fields {
		if k == "status" {
			if s, ok := v.(string); ok {
				snap.Status = s
			} else {
				snap.Telemetry["status"] = stringify(v)
			}
			continue
		}
		snap.Telemetry[k] = stringify(v)
	}

	// A failing HTTP code never reads as healthy, whatever the body claims.
	if !ok2xx && snap.Status == models.HealthStatusOK {
		snap.Status = ""
	}
	return snap
}

// Latest returns the most recent snapshot, if any.
func (c *Client) Latest() (models.HealthSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.history) == 0 {
		return models.HealthSnapshot{}, false
	}
	return c.history[len(c.history)-1], true
}

// History returns retained snapshots ordered from oldest to newest.
func (c *Client) History() []models.HealthSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]models.HealthSnapshot, len(c.history))
	copy(result, c.history)
	return result
}

func (c *Client) store(snap models.HealthSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, snap)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
