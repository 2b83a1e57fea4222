// Package policy implements the governance check every proposed remediation
// must pass before it is executed.
//
// The engine scores the risk of an action against a production target,
// selects the governing rule and records its decision in the audit trail
// before returning it. The same engine can be served over HTTP so a remote
// PitCrew instance evaluates through RemoteEvaluator instead.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/audit"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// Risk weights. The engine always assumes a production environment.
const (
	BaseEnvironmentRisk = 50
	FixActionRisk       = 25
	HighSeverityRisk    = 20
	MaxRisk             = 100
)

// DefaultThreshold is the exclusive upper bound for automatic approval.
const DefaultThreshold = 70

// Rule identifiers and reasons.
const (
	RuleHighRisk    = "R-301"
	RuleDestructive = "S-201"
	RulePermitted   = "P-101"

	// RuleUnavailable marks a fail-closed decision made without an engine.
	RuleUnavailable = "E-503"

	reasonHighRisk    = "high-risk production action requires approval"
	reasonDestructive = "destructive operations are prohibited"
	reasonPermitted   = "action permitted under governance policy"
)

var destructiveVerbs = map[string]bool{
	"delete":    true,
	"destroy":   true,
	"drop":      true,
	"remove":    true,
	"purge":     true,
	"terminate": true,
	"wipe":      true,
}

// Request is one evaluation request.
type Request struct {
	IncidentID string
	Target     string
	Action     string
	Severity   models.Severity
}

// Evaluator renders policy decisions.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (models.PolicyDecision, error)
}

// Engine is the in-process policy engine.
type Engine struct {
	store     audit.Store
	threshold int
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates an engine that audits to store. A non-positive
// threshold uses DefaultThreshold.
func NewEngine(store audit.Store, threshold int, logger *zap.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{
		store:     store,
		threshold: threshold,
		logger:    logger.Named("policy"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Score returns the additive risk score for an action and severity.
func Score(action string, severity models.Severity) int {
	score := BaseEnvironmentRisk
	if strings.EqualFold(strings.TrimSpace(action), string(models.ActionFix)) {
		score += FixActionRisk
	}
	if severity == models.SeverityHigh {
		score += HighSeverityRisk
	}
	if score > MaxRisk {
		score = MaxRisk
	}
	return score
}

// SelectRule returns the first matching rule and its reason.
func SelectRule(action string, severity models.Severity) (string, string) {
	switch {
	case severity == models.SeverityHigh:
		return RuleHighRisk, reasonHighRisk
	case IsDestructive(action):
		return RuleDestructive, reasonDestructive
	default:
		return RulePermitted, reasonPermitted
	}
}

// IsDestructive reports whether action's leading verb deletes or destroys.
func IsDestructive(action string) bool {
	verb := strings.ToLower(strings.TrimSpace(action))
	if i := strings.IndexAny(verb, " _-:/"); i >= 0 {
		verb = verb[:i]
	}
	return destructiveVerbs[verb]
}

// Evaluate scores req, selects a rule and appends the audit entry. The
// decision is returned only after the entry has been written; an audit
// failure returns an error and no decision.
func (e *Engine) Evaluate(ctx context.Context, req Request) (models.PolicyDecision, error) {
	score := Score(req.Action, req.Severity)
	ruleID, reason := SelectRule(req.Action, req.Severity)

	decision := models.PolicyDecision{
		RiskScore: score,
		RuleID:    ruleID,
		Reason:    reason,
		Approved:  score < e.threshold,
	}

	now := e.now()
	incidentID := req.IncidentID
	if incidentID == "" {
		incidentID = fmt.Sprintf("EV%d", now.Unix())
	}

	verdict := models.DecisionBlocked
	if decision.Approved {
		verdict = models.DecisionApproved
	}

	err := e.store.Append(ctx, models.AuditLogEntry{
		Timestamp:  now,
		IncidentID: incidentID,
		Event:      models.AuditEventPolicyEvaluation,
		Target:     req.Target,
		RiskScore:  score,
		RuleID:     ruleID,
		Decision:   verdict,
	})
	if err != nil {
		e.logger.Error("audit write failed, withholding decision",
			zap.String("incident_id", incidentID), zap.Error(err))
		return models.PolicyDecision{}, fmt.Errorf("policy: audit write: %w", err)
	}

	metrics.ObservePolicyDecision(ruleID, verdict)
	e.logger.Info("policy evaluated",
		zap.String("incident_id", incidentID),
		zap.String("target", req.Target),
		zap.String("action", req.Action),
		zap.String("severity", string(req.Severity)),
		zap.Int("risk_score", score),
		zap.String("rule_id", ruleID),
		zap.Bool("approved", decision.Approved))
	return decision, nil
}

// FailClosed is the decision used when no evaluator could be consulted.
func FailClosed(err error) models.PolicyDecision {
	reason := "policy service unavailable"
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	return models.PolicyDecision{
		RuleID:   RuleUnavailable,
		Reason:   reason,
		Approved: false,
	}
}
