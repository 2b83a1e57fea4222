// Package incident runs the incident control loop: detection, diagnosis,
// policy evaluation, override, remediation, verification and reporting.
package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/diagnosis"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/policy"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// ErrIncidentInFlight is returned by Run while another invocation holds the
// target.
var ErrIncidentInFlight = errors.New("incident: an incident is already in flight")

const historyLimit = 50

// HealthChecker reads the target's health. It never fails.
type HealthChecker interface {
	CheckHealth(ctx context.Context) models.HealthSnapshot
}

// Diagnoser produces a diagnosis for target. It never fails.
type Diagnoser interface {
	Diagnose(ctx context.Context, target string) models.Diagnosis
}

// Executor performs remediation and returns the post-remediation health.
type Executor interface {
	Execute(ctx context.Context, target string) models.HealthSnapshot
}

// OverrideGate asks an operator to authorize a blocked remediation.
type OverrideGate interface {
	Request(ctx context.Context, incident models.Incident) bool
}

// Reporter persists the postmortem and returns its location and duration.
type Reporter interface {
	Generate(ctx context.Context, report models.PostmortemReport) (string, float64, error)
}

// Lease is a cross-process claim on a target, held for one invocation.
type Lease interface {
	AcquireLease(ctx context.Context, target, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, target, holder string) error
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Health    HealthChecker
	Diagnoser Diagnoser
	Policy    policy.Evaluator
	Executor  Executor
	Override  OverrideGate
	Reporter  Reporter
}

// Orchestrator owns the incident state machine for a single target.
type Orchestrator struct {
	target string
	deps   Deps
	logger *zap.Logger

	lease       Lease
	leaseHolder string
	leaseTTL    time.Duration

	running sync.Mutex

	mu      sync.RWMutex
	current *models.Incident
	history []models.Outcome

	now   func() time.Time
	newID func() string
}

// New creates an orchestrator for target.
func New(target string, deps Deps, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		target: target,
		deps:   deps,
		logger: logger.Named("incident"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String()[:8] },
	}
}

// WithLease makes every invocation claim the target through lease first, so
// replicas watching the same target do not remediate it twice.
func (o *Orchestrator) WithLease(lease Lease, holder string, ttl time.Duration) *Orchestrator {
	o.lease = lease
	o.leaseHolder = holder
	o.leaseTTL = ttl
	return o
}

// Target returns the monitored target name.
func (o *Orchestrator) Target() string { return o.target }

// run carries the state of one invocation.
type run struct {
	inc     models.Incident
	outcome models.Outcome
	started time.Time
}

// Run performs one invocation of the control loop. It returns
// ErrIncidentInFlight when another invocation is active; collaborator
// failures never surface as errors.
func (o *Orchestrator) Run(ctx context.Context) (models.Outcome, error) {
	if !o.running.TryLock() {
		return models.Outcome{}, ErrIncidentInFlight
	}
	defer o.running.Unlock()

	if o.lease != nil {
		ok, err := o.lease.AcquireLease(ctx, o.target, o.leaseHolder, o.leaseTTL)
		switch {
		case err != nil:
			o.logger.Warn("incident lease unavailable, continuing with local guard", zap.Error(err))
		case !ok:
			return models.Outcome{}, fmt.Errorf("%w: target %s is held by another replica", ErrIncidentInFlight, o.target)
		default:
			defer func() {
				if err := o.lease.ReleaseLease(context.WithoutCancel(ctx), o.target, o.leaseHolder); err != nil {
					o.logger.Warn("incident lease release failed", zap.Error(err))
				}
			}()
		}
	}

	before := o.deps.Health.CheckHealth(ctx)
	if before.Healthy() {
		o.logger.Debug("target healthy", zap.String("target", o.target))
		return models.Outcome{FinalStatus: models.StatusIdle, HealthBefore: &before}, nil
	}

	r := &run{
		started: o.now(),
		inc: models.Incident{
			ID:     o.newID(),
			Target: o.target,
			Status: models.StatusIdle,
		},
	}
	r.inc.DetectionTime = r.started
	r.outcome.HealthBefore = &before
	o.logger.Warn("incident detected",
		zap.String("incident_id", r.inc.ID),
		zap.String("target", o.target),
		zap.String("health_status", before.Status))
	o.transition(r, models.StatusDetected)

	diag := o.deps.Diagnoser.Diagnose(ctx, o.target)
	r.inc.Diagnosis = &diag
	r.inc.Severity = diagnosis.Normalize(diag.SeverityRaw)
	r.inc.Action = diag.Action
	o.transition(r, models.StatusDiagnosed)

	if r.inc.Action != models.ActionFix {
		return o.finish(r, models.StatusNoActionClosed), nil
	}

	if ctx.Err() != nil {
		return o.cancel(r), nil
	}

	decision, err := o.deps.Policy.Evaluate(ctx, policy.Request{
		IncidentID: r.inc.ID,
		Target:     o.target,
		Action:     strings.ToLower(string(r.inc.Action)),
		Severity:   r.inc.Severity,
	})
	if err != nil {
		o.logger.Error("policy evaluation failed, blocking",
			zap.String("incident_id", r.inc.ID), zap.Error(err))
		decision = policy.FailClosed(err)
	}
	r.inc.PolicyDecision = &decision
	o.transition(r, models.StatusPolicyEvaluated)

	if !decision.Approved {
		o.transition(r, models.StatusBlocked)
		if r.inc.Severity != models.SeverityHigh {
			return o.finish(r, models.StatusDenied), nil
		}
		if ctx.Err() != nil {
			return o.cancel(r), nil
		}
		o.transition(r, models.StatusAwaitingOverride)
		if o.deps.Override == nil || !o.deps.Override.Request(ctx, r.inc) {
			return o.finish(r, models.StatusDenied), nil
		}
		r.outcome.Overridden = true
	}

	if ctx.Err() != nil {
		return o.cancel(r), nil
	}
	o.transition(r, models.StatusApprovedExecuting)

	// Past this point the remediation and its report run to completion.
	execCtx := context.WithoutCancel(ctx)
	after := o.deps.Executor.Execute(execCtx, o.target)
	recovered := o.now()
	if recovered.Before(r.inc.DetectionTime) {
		recovered = r.inc.DetectionTime
	}
	r.inc.RecoveryTime = &recovered
	r.outcome.HealthAfter = &after

	healed := after.Healthy()
	metrics.ObserveRemediation(healed)
	if healed {
		o.transition(r, models.StatusVerifiedHealed)
	} else {
		o.transition(r, models.StatusStillUnhealthy)
	}

	location, _, err := o.deps.Reporter.Generate(execCtx, models.PostmortemReport{
		IncidentID:    r.inc.ID,
		Service:       o.target,
		RootCause:     diag.Cause,
		Resolution:    resolution(after),
		DetectionTime: r.inc.DetectionTime,
		RecoveryTime:  recovered,
	})
	if err != nil {
		o.logger.Error("postmortem could not be written",
			zap.String("incident_id", r.inc.ID), zap.Error(err))
	}
	r.outcome.ReportLocation = location
	return o.finish(r, models.StatusReported), nil
}

func resolution(after models.HealthSnapshot) string {
	if after.Healthy() {
		return "Fault marker removed and service restarted. Health verified OK."
	}
	status := after.Status
	if status == "" {
		status = "no status"
	}
	return fmt.Sprintf("Fault marker removed and service restarted. Health still reports %s.", status)
}

// transition moves the incident to a new state and publishes the snapshot.
func (o *Orchestrator) transition(r *run, to models.IncidentStatus) {
	t := models.Transition{From: r.inc.Status, To: to, At: o.now()}
	r.inc.Status = to
	r.outcome.Transitions = append(r.outcome.Transitions, t)

	o.logger.Info("incident transition",
		zap.String("incident_id", r.inc.ID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)))

	snapshot := r.inc
	o.mu.Lock()
	o.current = &snapshot
	o.mu.Unlock()
}

func (o *Orchestrator) cancel(r *run) models.Outcome {
	o.logger.Warn("incident cancelled before remediation", zap.String("incident_id", r.inc.ID))
	r.outcome.Cancelled = true
	return o.finish(r, models.StatusDenied)
}

// finish records the terminal state, builds the outcome and clears the
// in-flight snapshot.
func (o *Orchestrator) finish(r *run, final models.IncidentStatus) models.Outcome {
	o.transition(r, final)

	inc := r.inc
	out := r.outcome
	out.Incident = &inc
	out.FinalStatus = final
	out.Severity = inc.Severity
	out.Action = inc.Action
	if d := inc.PolicyDecision; d != nil {
		out.RiskScore = d.RiskScore
		out.RuleID = d.RuleID
		out.Approved = d.Approved
	}

	metrics.ObserveIncident(string(final), o.now().Sub(r.started))
	o.logger.Info("incident closed",
		zap.String("incident_id", inc.ID),
		zap.String("final_status", string(final)),
		zap.String("severity", string(inc.Severity)),
		zap.String("action", string(inc.Action)),
		zap.Bool("approved", out.Approved),
		zap.Bool("overridden", out.Overridden),
		zap.String("report", out.ReportLocation))

	o.mu.Lock()
	o.current = nil
	o.history = append([]models.Outcome{out}, o.history...)
	if len(o.history) > historyLimit {
		o.history = o.history[:historyLimit]
	}
	o.mu.Unlock()
	return out
}

// Current returns the in-flight incident, if any.
func (o *Orchestrator) Current() (models.Incident, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return models.Incident{}, false
	}
	return *o.current, true
}

// Outcomes returns recent incident outcomes, newest first.
func (o *Orchestrator) Outcomes() []models.Outcome {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.Outcome, len(o.history))
	copy(out, o.history)
	return out
}
