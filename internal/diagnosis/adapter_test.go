package diagnosis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

type fakeLogs struct {
	text string
	err  error
}

func (f fakeLogs) GetLogs(context.Context, string) (string, error) { return f.text, f.err }

type fakeRunbooks struct{ got string }

func (f *fakeRunbooks) Retrieve(_ context.Context, excerpt string) string {
	f.got = excerpt
	return "RESTART AFTER CLEARING FLAG"
}

type fakeOracle struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeOracle) Chat(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestNormalize(t *testing.T) {
	tests := map[string]models.Severity{
		"CRITICAL":   models.SeverityHigh,
		"critical":   models.SeverityHigh,
		"SEV-1":      models.SeverityHigh,
		"sev1":       models.SeverityHigh,
		" High ":     models.SeverityHigh,
		"MEDIUM":     models.SeverityMedium,
		"moderate":   models.SeverityMedium,
		"LOW":        models.SeverityLow,
		"":           models.SeverityLow,
		"SEV-2":      models.SeverityLow,
		"apocalyse":  models.SeverityLow,
		"HIGH / LOW": models.SeverityLow,
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestParse_TruncatesAfterAction(t *testing.T) {
	reply := "SEVERITY: HIGH\nSTATUS: FAILING\nCAUSE: payment worker out of memory\nACTION: FIX\n\nNote: I would also consider scaling up.\nACTION: NO_ACTION"

	d := Parse(reply)
	assert.Equal(t, models.ActionFix, d.Action)
	assert.Equal(t, "HIGH", d.SeverityRaw)
	assert.Equal(t, "FAILING", d.StatusText)
	assert.Equal(t, "payment worker out of memory", d.Cause)
	assert.NotContains(t, d.Text, "scaling up")
	assert.True(t, strings.HasSuffix(d.Text, "ACTION: FIX"))
}

func TestParse_MissingAction(t *testing.T) {
	d := Parse("SEVERITY: CRITICAL\nSTATUS: FAILING\nCAUSE: unknown")
	assert.Equal(t, models.ActionNoAction, d.Action)
	assert.Equal(t, "CRITICAL", d.SeverityRaw)
}

func TestParse_Malformed(t *testing.T) {
	for _, reply := range []string{"", "I cannot help with that.", "SEVERITY\nACTION", "ACTION: FIX or NO_ACTION"} {
		d := Parse(reply)
		assert.Equal(t, models.ActionNoAction, d.Action, reply)
		assert.Equal(t, models.SeverityLow, Normalize(d.SeverityRaw), reply)
	}
}

func TestParse_PrefixIsCaseInsensitive(t *testing.T) {
	d := Parse("  severity: medium\n  action: fix  ")
	assert.Equal(t, "medium", d.SeverityRaw)
	assert.Equal(t, models.ActionFix, d.Action)
}

func TestExtractExcerpt(t *testing.T) {
	logs := strings.Join([]string{
		"INFO boot",
		"CRITICAL one",
		"INFO tick",
		"CRITICAL two",
		"CRITICAL three",
		"CRITICAL four",
	}, "\n")
	assert.Equal(t, "CRITICAL two\nCRITICAL three\nCRITICAL four", ExtractExcerpt(logs))

	long := strings.Repeat("a", 500) + strings.Repeat("b", 400)
	assert.Equal(t, strings.Repeat("b", 400), ExtractExcerpt(long))

	assert.Equal(t, "short", ExtractExcerpt("short"))
}

func TestDiagnose(t *testing.T) {
	runbooks := &fakeRunbooks{}
	o := &fakeOracle{reply: "SEVERITY: HIGH\nSTATUS: FAILING\nCAUSE: oom\nACTION: FIX"}
	a := NewAdapter(fakeLogs{text: "INFO ok\nCRITICAL MemoryAllocationFailure"}, runbooks, o, time.Second, zap.NewNop())

	d := a.Diagnose(context.Background(), "prod-api")
	assert.Equal(t, models.ActionFix, d.Action)
	assert.False(t, d.Fallback)
	assert.Equal(t, "CRITICAL MemoryAllocationFailure", runbooks.got)
	assert.Equal(t, "RESTART AFTER CLEARING FLAG", d.Runbook)
	assert.Contains(t, o.prompt, "CRITICAL MemoryAllocationFailure")
	assert.Contains(t, o.prompt, "RESTART AFTER CLEARING FLAG")
}

func TestDiagnose_OracleDown(t *testing.T) {
	a := NewAdapter(fakeLogs{text: "x"}, &fakeRunbooks{}, &fakeOracle{err: errors.New("connection refused")}, time.Second, zap.NewNop())

	d := a.Diagnose(context.Background(), "prod-api")
	require.True(t, d.Fallback)
	assert.Equal(t, models.ActionNoAction, d.Action)
	assert.Equal(t, models.SeverityLow, Normalize(d.SeverityRaw))
}

func TestDiagnose_LogsDown(t *testing.T) {
	o := &fakeOracle{reply: "ACTION: NO_ACTION"}
	a := NewAdapter(fakeLogs{err: errors.New("mechanic down")}, &fakeRunbooks{}, o, time.Second, zap.NewNop())

	d := a.Diagnose(context.Background(), "prod-api")
	assert.Equal(t, models.ActionNoAction, d.Action)
	assert.NotEmpty(t, o.prompt)
}
