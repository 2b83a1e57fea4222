package postmortem

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/storage"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

type recordingIndex struct {
	reports   []models.PostmortemReport
	locations []string
	err       error
}

func (r *recordingIndex) Index(_ context.Context, rep models.PostmortemReport, location string) error {
	r.reports = append(r.reports, rep)
	r.locations = append(r.locations, location)
	return r.err
}

func sampleReport() models.PostmortemReport {
	detected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.PostmortemReport{
		IncidentID:    "a1b2c3d4",
		Service:       "prod-api",
		RootCause:     "Memory allocation failure in payment worker",
		Resolution:    "Cleared the fault marker and restarted the container",
		DetectionTime: detected,
		RecoveryTime:  detected.Add(12*time.Second + 500*time.Millisecond),
	}
}

func newLocal(t *testing.T) (*storage.LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	return s, dir
}

func TestDuration(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 90.0, Duration(base, base.Add(90*time.Second)))
	assert.Equal(t, 0.0, Duration(base, base))
	assert.Equal(t, 0.0, Duration(base, base.Add(-time.Second)))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "POST_MORTEM_INC_a1b2c3d4.md", FileName("a1b2c3d4"))
	assert.Equal(t, "POST_MORTEM_INC____etc.md", FileName("../etc"))
}

func TestGenerate(t *testing.T) {
	backend, dir := newLocal(t)
	idx := &recordingIndex{}
	g := NewGenerator(backend, idx, zap.NewNop())

	location, duration, err := g.Generate(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.InDelta(t, 12.5, duration, 1e-9)
	assert.Equal(t, filepath.Join(dir, "POST_MORTEM_INC_a1b2c3d4.md"), location)

	data, err := g.Read(context.Background(), "a1b2c3d4")
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "# Incident Report")
	assert.Contains(t, body, "Incident ID: a1b2c3d4")
	assert.Contains(t, body, "Service: prod-api")
	assert.Contains(t, body, "Memory allocation failure in payment worker")
	assert.Contains(t, body, "Detection Time: 2026-03-01T12:00:00Z")
	assert.Contains(t, body, "Recovery Time: 2026-03-01T12:00:12.5Z")
	assert.Contains(t, body, "Total Downtime (seconds): 12.500")

	require.Len(t, idx.reports, 1)
	assert.InDelta(t, 12.5, idx.reports[0].DurationSeconds, 1e-9)
	assert.Equal(t, location, idx.locations[0])
}

func TestGenerate_Immutable(t *testing.T) {
	backend, _ := newLocal(t)
	g := NewGenerator(backend, nil, zap.NewNop())

	_, _, err := g.Generate(context.Background(), sampleReport())
	require.NoError(t, err)

	second := sampleReport()
	second.RootCause = "rewritten"
	_, _, err = g.Generate(context.Background(), second)
	assert.ErrorIs(t, err, ErrReportExists)

	data, err := g.Read(context.Background(), "a1b2c3d4")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "rewritten")
}

func TestGenerate_Validation(t *testing.T) {
	backend, _ := newLocal(t)
	g := NewGenerator(backend, nil, zap.NewNop())

	r := sampleReport()
	r.IncidentID = ""
	_, _, err := g.Generate(context.Background(), r)
	assert.Error(t, err)

	r = sampleReport()
	r.RecoveryTime = r.DetectionTime.Add(-time.Second)
	_, _, err = g.Generate(context.Background(), r)
	assert.Error(t, err)
}

func TestGenerate_IndexFailureKeepsReport(t *testing.T) {
	backend, _ := newLocal(t)
	g := NewGenerator(backend, &recordingIndex{err: errors.New("connection refused")}, zap.NewNop())

	location, _, err := g.Generate(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.NotEmpty(t, location)
}

func TestRender_EmptyFields(t *testing.T) {
	r := sampleReport()
	r.RootCause = ""
	r.Resolution = "  "
	out := Render(r)
	assert.Contains(t, out, "Root Cause:\n(none recorded)")
	assert.Contains(t, out, "Resolution:\n(none recorded)")
}

func TestList(t *testing.T) {
	backend, _ := newLocal(t)
	g := NewGenerator(backend, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, backend.Write(ctx, "notes.txt", []byte("x")))
	for _, id := range []string{"b2", "a1"} {
		r := sampleReport()
		r.IncidentID = id
		_, _, err := g.Generate(ctx, r)
		require.NoError(t, err)
	}

	names, err := g.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"POST_MORTEM_INC_a1.md", "POST_MORTEM_INC_b2.md"}, names)
}
