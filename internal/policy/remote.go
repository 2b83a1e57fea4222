package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// EvaluateRequest is the wire form of an evaluation request.
type EvaluateRequest struct {
	Container  string `json:"container" binding:"required"`
	Action     string `json:"action" binding:"required"`
	Severity   string `json:"severity" binding:"required"`
	IncidentID string `json:"incident_id,omitempty"`
}

// EvaluateResponse is the wire form of a decision.
type EvaluateResponse struct {
	Approved  bool      `json:"approved"`
	RiskScore RiskScore `json:"risk_score"`
	RuleID    string    `json:"rule_id"`
	Reason    string    `json:"reason"`
}

// RiskScore accepts a JSON number or a numeric string.
type RiskScore int

// UnmarshalJSON implements json.Unmarshaler.
func (r *RiskScore) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*r = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("policy: invalid risk_score %s", string(b))
	}
	*r = RiskScore(int(f))
	return nil
}

// RemoteEvaluator calls a policy service's POST /evaluate.
type RemoteEvaluator struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewRemoteEvaluator creates a client bounded by timeout.
func NewRemoteEvaluator(baseURL string, timeout time.Duration, logger *zap.Logger) *RemoteEvaluator {
	return &RemoteEvaluator{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger.Named("policy"),
	}
}

// Evaluate posts req to the policy service. Any transport, status or decode
// failure is returned as an error; callers must treat it as not approved.
func (r *RemoteEvaluator) Evaluate(ctx context.Context, req Request) (models.PolicyDecision, error) {
	body, err := json.Marshal(EvaluateRequest{
		Container:  req.Target,
		Action:     req.Action,
		Severity:   string(req.Severity),
		IncidentID: req.IncidentID,
	})
	if err != nil {
		return models.PolicyDecision{}, fmt.Errorf("policy: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return models.PolicyDecision{}, fmt.Errorf("policy: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return models.PolicyDecision{}, fmt.Errorf("policy: evaluate: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return models.PolicyDecision{}, fmt.Errorf("policy: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.PolicyDecision{}, fmt.Errorf("policy: evaluate returned status %d", resp.StatusCode)
	}

	var out EvaluateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return models.PolicyDecision{}, fmt.Errorf("policy: decode response: %w", err)
	}

	r.logger.Info("remote policy evaluated",
		zap.String("incident_id", req.IncidentID),
		zap.String("rule_id", out.RuleID),
		zap.Bool("approved", out.Approved))
	return models.PolicyDecision{
		RiskScore: int(out.RiskScore),
		RuleID:    out.RuleID,
		Reason:    out.Reason,
		Approved:  out.Approved,
	}, nil
}
