// Package diagnosis turns raw log text into a typed Diagnosis by consulting
// the runbook catalog and the reasoning oracle.
package diagnosis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/oracle"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

const (
	criticalMarker = "CRITICAL"
	criticalLines  = 3
	tailWindow     = 400
)

// LogSource supplies recent log text for a target.
type LogSource interface {
	GetLogs(ctx context.Context, target string) (string, error)
}

// RunbookSource resolves an excerpt to runbook text or a sentinel.
type RunbookSource interface {
	Retrieve(ctx context.Context, excerpt string) string
}

// Adapter produces diagnoses. It never returns an error; every failure
// degrades to the NO_ACTION/LOW default.
type Adapter struct {
	logs     LogSource
	runbooks RunbookSource
	oracle   oracle.Oracle
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAdapter creates an adapter. timeout bounds the oracle call.
func NewAdapter(logs LogSource, runbooks RunbookSource, o oracle.Oracle, timeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		logs:     logs,
		runbooks: runbooks,
		oracle:   o,
		timeout:  timeout,
		logger:   logger.Named("diagnosis"),
	}
}

// Diagnose fetches logs for target, asks the oracle and parses its reply.
func (a *Adapter) Diagnose(ctx context.Context, target string) models.Diagnosis {
	raw, err := a.logs.GetLogs(ctx, target)
	if err != nil {
		a.logger.Warn("log fetch failed, diagnosing without logs", zap.String("target", target), zap.Error(err))
		raw = ""
	}

	excerpt := ExtractExcerpt(raw)
	runbook := a.runbooks.Retrieve(ctx, excerpt)

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := a.oracle.Chat(callCtx, BuildPrompt(excerpt, runbook))
	if err != nil {
		metrics.ObserveOracle(time.Since(start), metrics.OracleFallback)
		a.logger.Warn("oracle unavailable, using default diagnosis", zap.Error(err))
		d := Fallback()
		d.Runbook = runbook
		d.Excerpt = excerpt
		return d
	}
	metrics.ObserveOracle(time.Since(start), metrics.OracleSuccess)

	d := Parse(reply)
	d.Runbook = runbook
	d.Excerpt = excerpt

	a.logger.Info("diagnosis complete",
		zap.String("target", target),
		zap.String("severity_raw", d.SeverityRaw),
		zap.String("action", string(d.Action)),
		zap.String("cause", d.Cause))
	return d
}

// Fallback is the diagnosis used when the oracle cannot be consulted.
func Fallback() models.Diagnosis {
	return models.Diagnosis{
		SeverityRaw: string(models.SeverityLow),
		Action:      models.ActionNoAction,
		Fallback:    true,
	}
}

// ExtractExcerpt keeps the last three CRITICAL lines of raw, or its trailing
// 400 characters when there are none.
func ExtractExcerpt(raw string) string {
	var critical []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.Contains(line, criticalMarker) {
			critical = append(critical, line)
		}
	}
	if len(critical) > 0 {
		if len(critical) > criticalLines {
			critical = critical[len(critical)-criticalLines:]
		}
		return strings.Join(critical, "\n")
	}

	if len(raw) <= tailWindow {
		return raw
	}
	return raw[len(raw)-tailWindow:]
}

const promptTemplate = `You are a production Site Reliability Engineer.

Analyze the logs below. If a runbook is provided, follow its guidance over
your own reasoning.

LOGS:
%s

RUNBOOK:
%s

Respond EXACTLY in this format:

SEVERITY: LOW / MEDIUM / HIGH
STATUS: HEALTHY or FAILING
CAUSE: one short sentence
ACTION: FIX or NO_ACTION

Choose ONLY one action.
Do not explain.
`

// BuildPrompt renders the fixed instruction template.
func BuildPrompt(excerpt, runbook string) string {
	return fmt.Sprintf(promptTemplate, excerpt, runbook)
}

// Parse converts an oracle reply into a Diagnosis. Everything after the
// first ACTION line is discarded. Missing fields keep their defaults.
func Parse(reply string) models.Diagnosis {
	d := models.Diagnosis{
		SeverityRaw: string(models.SeverityLow),
		Action:      models.ActionNoAction,
	}

	lines := strings.Split(reply, "\n")
	kept := lines
	for i, line := range lines {
		if hasField(line, "ACTION") {
			kept = lines[:i+1]
			break
		}
	}
	d.Text = strings.TrimSpace(strings.Join(kept, "\n"))

	var sawSeverity, sawStatus, sawCause, sawAction bool
	for _, line := range kept {
		switch {
		case !sawSeverity && hasField(line, "SEVERITY"):
			d.SeverityRaw = fieldValue(line)
			sawSeverity = true
		case !sawStatus && hasField(line, "STATUS"):
			d.StatusText = fieldValue(line)
			sawStatus = true
		case !sawCause && hasField(line, "CAUSE"):
			d.Cause = fieldValue(line)
			sawCause = true
		case !sawAction && hasField(line, "ACTION"):
			d.Action = parseAction(fieldValue(line))
			sawAction = true
		}
	}
	return d
}

func hasField(line, name string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), name)
}

func fieldValue(line string) string {
	_, value, found := strings.Cut(line, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(value)
}

// parseAction accepts only an exact FIX. Anything else, including
// "FIX or NO_ACTION" echoed back from the template, is NO_ACTION.
func parseAction(value string) models.Action {
	v := strings.ToUpper(strings.Trim(strings.TrimSpace(value), "*`.\"'"))
	if v == string(models.ActionFix) {
		return models.ActionFix
	}
	return models.ActionNoAction
}
