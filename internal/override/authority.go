// Package override gates blocked HIGH-severity remediations behind an
// operator-supplied authorization code.
package override

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/audit"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// RuleOverride identifies override attempts in the audit trail.
const RuleOverride = "OVR-401"

// ErrPromptTimeout is returned by prompters when no code arrived in time.
var ErrPromptTimeout = errors.New("override: timed out waiting for authorization code")

// Prompter collects an authorization code from an operator. Implementations
// must return when ctx is done.
type Prompter interface {
	Prompt(ctx context.Context, incident models.Incident) (string, error)
}

// Authority checks override codes against a single configured secret.
type Authority struct {
	secret   string
	store    audit.Store
	prompter Prompter
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthority creates an authority. An empty secret denies every code.
func NewAuthority(secret string, store audit.Store, prompter Prompter, timeout time.Duration, logger *zap.Logger) *Authority {
	return &Authority{
		secret:   secret,
		store:    store,
		prompter: prompter,
		timeout:  timeout,
		logger:   logger.Named("override"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Authorize reports whether code matches the secret.
func (a *Authority) Authorize(code string) bool {
	if a.secret == "" || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(a.secret)) == 1
}

// Request prompts for a code, bounded by the configured timeout, and records
// the attempt. It returns true only for a matching code whose grant was
// written to the audit trail. Expiry and prompt failures deny.
func (a *Authority) Request(ctx context.Context, incident models.Incident) bool {
	if a.prompter == nil {
		a.logger.Warn("no override prompter configured, denying", zap.String("incident_id", incident.ID))
		a.record(ctx, incident, models.DecisionOverrideDenied)
		return false
	}

	promptCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		promptCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	code, err := a.prompter.Prompt(promptCtx, incident)
	if err != nil {
		decision := models.DecisionOverrideDenied
		if errors.Is(err, ErrPromptTimeout) || errors.Is(err, context.DeadlineExceeded) {
			decision = models.DecisionOverrideTimeout
		}
		a.logger.Warn("override not obtained",
			zap.String("incident_id", incident.ID),
			zap.String("decision", decision),
			zap.Error(err))
		a.record(ctx, incident, decision)
		return false
	}

	if !a.Authorize(code) {
		a.logger.Warn("override code rejected", zap.String("incident_id", incident.ID))
		a.record(ctx, incident, models.DecisionOverrideDenied)
		return false
	}

	if err := a.record(ctx, incident, models.DecisionOverrideGranted); err != nil {
		a.logger.Error("override grant could not be audited, denying",
			zap.String("incident_id", incident.ID), zap.Error(err))
		return false
	}
	a.logger.Info("override granted", zap.String("incident_id", incident.ID))
	return true
}

func (a *Authority) record(ctx context.Context, incident models.Incident, decision string) error {
	metrics.ObserveOverride(decision)

	riskScore := 0
	if incident.PolicyDecision != nil {
		riskScore = incident.PolicyDecision.RiskScore
	}
	err := a.store.Append(context.WithoutCancel(ctx), models.AuditLogEntry{
		Timestamp:  a.now(),
		IncidentID: incident.ID,
		Event:      models.AuditEventOverrideAttempt,
		Target:     incident.Target,
		RiskScore:  riskScore,
		RuleID:     RuleOverride,
		Decision:   decision,
	})
	if err != nil {
		a.logger.Error("override audit write failed", zap.String("incident_id", incident.ID), zap.Error(err))
	}
	return err
}
