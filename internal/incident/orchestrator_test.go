package incident

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/override"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/policy"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
	err     error
}

func (m *memAudit) Append(_ context.Context, e models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) Close() error { return nil }

type fakeHealth struct{ status string }

func (f fakeHealth) CheckHealth(context.Context) models.HealthSnapshot {
	return models.HealthSnapshot{Status: f.status}
}

type fakeDiagnoser struct {
	diag  models.Diagnosis
	calls int
	block chan struct{}
}

func (f *fakeDiagnoser) Diagnose(context.Context, string) models.Diagnosis {
	f.calls++
	if f.block != nil {
		<-f.block
	}
	return f.diag
}

type fakeExecutor struct {
	status string
	calls  int
	ctxErr error
}

func (f *fakeExecutor) Execute(ctx context.Context, _ string) models.HealthSnapshot {
	f.calls++
	f.ctxErr = ctx.Err()
	return models.HealthSnapshot{Status: f.status}
}

type fakeReporter struct {
	reports []models.PostmortemReport
	err     error
}

func (f *fakeReporter) Generate(_ context.Context, r models.PostmortemReport) (string, float64, error) {
	f.reports = append(f.reports, r)
	if f.err != nil {
		return "", 0, f.err
	}
	return "reports/POST_MORTEM_INC_" + r.IncidentID + ".md", r.RecoveryTime.Sub(r.DetectionTime).Seconds(), nil
}

type fakePolicy struct {
	calls int
	err   error
}

func (f *fakePolicy) Evaluate(context.Context, policy.Request) (models.PolicyDecision, error) {
	f.calls++
	return models.PolicyDecision{}, f.err
}

type fixedCode string

func (c fixedCode) Prompt(context.Context, models.Incident) (string, error) { return string(c), nil }

type fakeLease struct {
	held     bool
	err      error
	released int
}

func (f *fakeLease) AcquireLease(context.Context, string, string, time.Duration) (bool, error) {
	return !f.held, f.err
}

func (f *fakeLease) ReleaseLease(context.Context, string, string) error {
	f.released++
	return nil
}

type harness struct {
	audit    *memAudit
	diag     *fakeDiagnoser
	exec     *fakeExecutor
	reporter *fakeReporter
	deps     Deps
}

func newHarness(health string, reply models.Diagnosis, threshold int, code string) *harness {
	h := &harness{
		audit:    &memAudit{},
		diag:     &fakeDiagnoser{diag: reply},
		exec:     &fakeExecutor{status: models.HealthStatusOK},
		reporter: &fakeReporter{},
	}
	h.deps = Deps{
		Health:    fakeHealth{status: health},
		Diagnoser: h.diag,
		Policy:    policy.NewEngine(h.audit, threshold, zap.NewNop()),
		Executor:  h.exec,
		Override:  override.NewAuthority("PITCREW-ALPHA", h.audit, fixedCode(code), time.Second, zap.NewNop()),
		Reporter:  h.reporter,
	}
	return h
}

func (h *harness) orchestrator() *Orchestrator {
	o := New("prod-api", h.deps, zap.NewNop())
	o.newID = func() string { return "cafe0001" }
	return o
}

func statuses(ts []models.Transition) []models.IncidentStatus {
	out := make([]models.IncidentStatus, len(ts))
	for i, t := range ts {
		out[i] = t.To
	}
	return out
}

var highFix = models.Diagnosis{SeverityRaw: "CRITICAL", StatusText: "FAILING", Cause: "memory allocation failure", Action: models.ActionFix}

func TestRun_HealthyIsIdle(t *testing.T) {
	h := newHarness(models.HealthStatusOK, highFix, 70, "")
	o := h.orchestrator()

	out, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, out.FinalStatus)
	assert.Nil(t, out.Incident)
	assert.Zero(t, h.diag.calls)
	assert.Empty(t, o.Outcomes())
}

func TestRun_NoActionClosed(t *testing.T) {
	reply := models.Diagnosis{SeverityRaw: "LOW", StatusText: "FAILING", Cause: "disk full", Action: models.ActionNoAction}
	h := newHarness("", reply, 70, "")
	o := h.orchestrator()

	out, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoActionClosed, out.FinalStatus)
	assert.Empty(t, h.audit.entries, "no policy evaluation")
	assert.Zero(t, h.exec.calls)
	assert.Empty(t, h.reporter.reports)
	assert.Equal(t, []models.IncidentStatus{
		models.StatusDetected, models.StatusDiagnosed, models.StatusNoActionClosed,
	}, statuses(out.Transitions))
}

func TestRun_HighBlockedWithCorrectOverride(t *testing.T) {
	h := newHarness(models.HealthStatusUnreachable, highFix, 70, "PITCREW-ALPHA")
	o := h.orchestrator()

	out, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusReported, out.FinalStatus)
	assert.Equal(t, 95, out.RiskScore)
	assert.Equal(t, policy.RuleHighRisk, out.RuleID)
	assert.False(t, out.Approved)
	assert.True(t, out.Overridden)
	assert.Equal(t, models.SeverityHigh, out.Severity)
	assert.Equal(t, "reports/POST_MORTEM_INC_cafe0001.md", out.ReportLocation)
	require.NotNil(t, out.HealthAfter)
	assert.Equal(t, models.HealthStatusOK, out.HealthAfter.Status)

	assert.Equal(t, []models.IncidentStatus{
		models.StatusDetected,
		models.StatusDiagnosed,
		models.StatusPolicyEvaluated,
		models.StatusBlocked,
		models.StatusAwaitingOverride,
		models.StatusApprovedExecuting,
		models.StatusVerifiedHealed,
		models.StatusReported,
	}, statuses(out.Transitions))

	require.Len(t, h.audit.entries, 2)
	assert.Equal(t, models.AuditEventPolicyEvaluation, h.audit.entries[0].Event)
	assert.Equal(t, "cafe0001", h.audit.entries[0].IncidentID)
	assert.Equal(t, models.DecisionOverrideGranted, h.audit.entries[1].Decision)

	require.Len(t, h.reporter.reports, 1)
	r := h.reporter.reports[0]
	assert.Equal(t, "memory allocation failure", r.RootCause)
	assert.False(t, r.RecoveryTime.Before(r.DetectionTime))
	require.NotNil(t, out.Incident.RecoveryTime)
}

func TestRun_HighBlockedWithWrongOverride(t *testing.T) {
	h := newHarness("DEGRADED", highFix, 70, "guess")
	out, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusDenied, out.FinalStatus)
	assert.False(t, out.Overridden)
	assert.Zero(t, h.exec.calls)
	assert.Empty(t, h.reporter.reports)
	assert.Equal(t, models.StatusAwaitingOverride, out.Transitions[len(out.Transitions)-2].To)
}

func TestRun_NonHighBlockedIsDenied(t *testing.T) {
	reply := models.Diagnosis{SeverityRaw: "MEDIUM", Action: models.ActionFix}
	h := newHarness("", reply, 70, "PITCREW-ALPHA")
	out, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusDenied, out.FinalStatus)
	assert.Equal(t, 75, out.RiskScore)
	assert.Equal(t, policy.RulePermitted, out.RuleID)
	assert.Len(t, h.audit.entries, 1, "no override attempt for non-HIGH")
	assert.Zero(t, h.exec.calls)
}

func TestRun_ApprovedExecution(t *testing.T) {
	tests := []struct {
		name      string
		after     string
		verify    models.IncidentStatus
		reportErr error
	}{
		{"healed", models.HealthStatusOK, models.StatusVerifiedHealed, nil},
		{"still unhealthy", "DEGRADED", models.StatusStillUnhealthy, nil},
		{"report failure still closes", models.HealthStatusOK, models.StatusVerifiedHealed, errors.New("disk full")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := models.Diagnosis{SeverityRaw: "LOW", Cause: "stale flag", Action: models.ActionFix}
			h := newHarness("", reply, 100, "")
			h.exec.status = tt.after
			h.reporter.err = tt.reportErr

			out, err := h.orchestrator().Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, models.StatusReported, out.FinalStatus)
			assert.True(t, out.Approved)
			assert.Equal(t, 1, h.exec.calls)
			assert.Len(t, h.reporter.reports, 1)
			assert.Contains(t, statuses(out.Transitions), tt.verify)
			if tt.reportErr != nil {
				assert.Empty(t, out.ReportLocation)
			}
		})
	}
}

func TestRun_PolicyFailureFailsClosed(t *testing.T) {
	reply := models.Diagnosis{SeverityRaw: "LOW", Action: models.ActionFix}
	h := newHarness("", reply, 100, "")
	h.deps.Policy = &fakePolicy{err: errors.New("connection refused")}

	out, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDenied, out.FinalStatus)
	assert.Equal(t, policy.RuleUnavailable, out.RuleID)
	assert.False(t, out.Approved)
	assert.Zero(t, h.exec.calls)
}

func TestRun_CancelledBeforePolicy(t *testing.T) {
	h := newHarness("", highFix, 70, "PITCREW-ALPHA")
	p := &fakePolicy{}
	h.deps.Policy = p

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.orchestrator().Run(ctx)
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Equal(t, models.StatusDenied, out.FinalStatus)
	assert.Zero(t, p.calls)
	assert.Zero(t, h.exec.calls)
}

func TestRun_InFlight(t *testing.T) {
	h := newHarness("", models.Diagnosis{Action: models.ActionNoAction}, 70, "")
	h.diag.block = make(chan struct{})
	o := h.orchestrator()

	done := make(chan models.Outcome, 1)
	go func() {
		out, _ := o.Run(context.Background())
		done <- out
	}()

	require.Eventually(t, func() bool {
		inc, ok := o.Current()
		return ok && inc.Status == models.StatusDetected
	}, time.Second, 5*time.Millisecond)

	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrIncidentInFlight)

	close(h.diag.block)
	out := <-done
	assert.Equal(t, models.StatusNoActionClosed, out.FinalStatus)

	_, ok := o.Current()
	assert.False(t, ok)
	require.Len(t, o.Outcomes(), 1)
	assert.Equal(t, "cafe0001", o.Outcomes()[0].Incident.ID)
}

func TestRun_Lease(t *testing.T) {
	h := newHarness(models.HealthStatusOK, highFix, 70, "")

	held := &fakeLease{held: true}
	_, err := h.orchestrator().WithLease(held, "replica-b", time.Minute).Run(context.Background())
	assert.ErrorIs(t, err, ErrIncidentInFlight)
	assert.Zero(t, held.released)

	free := &fakeLease{}
	out, err := h.orchestrator().WithLease(free, "replica-a", time.Minute).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, out.FinalStatus)
	assert.Equal(t, 1, free.released)

	broken := &fakeLease{err: errors.New("redis down")}
	_, err = h.orchestrator().WithLease(broken, "replica-a", time.Minute).Run(context.Background())
	assert.NoError(t, err)
}

func TestOutcomes_Bounded(t *testing.T) {
	h := newHarness("", models.Diagnosis{Action: models.ActionNoAction}, 70, "")
	o := New("prod-api", h.deps, zap.NewNop())
	for i := 0; i < historyLimit+5; i++ {
		_, err := o.Run(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, o.Outcomes(), historyLimit)
}
