// Package postmortem writes the immutable incident report produced after
// every remediation attempt.
package postmortem

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/storage"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// ErrReportExists is returned when a report for the incident was already written.
var ErrReportExists = errors.New("postmortem: report already exists")

// Indexer records written reports in a queryable store.
type Indexer interface {
	Index(ctx context.Context, report models.PostmortemReport, location string) error
}

// Generator renders reports and writes them through a storage backend.
type Generator struct {
	backend storage.Backend
	index   Indexer
	logger  *zap.Logger
}

// NewGenerator creates a generator. index may be nil.
func NewGenerator(backend storage.Backend, index Indexer, logger *zap.Logger) *Generator {
	return &Generator{
		backend: backend,
		index:   index,
		logger:  logger.Named("postmortem"),
	}
}

// Duration returns recovery minus detection in seconds, never negative.
func Duration(detection, recovery time.Time) float64 {
	d := recovery.Sub(detection).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// FileName returns the report object name for an incident id.
func FileName(incidentID string) string {
	return fmt.Sprintf("POST_MORTEM_INC_%s.md", unsafeID.ReplaceAllString(incidentID, "_"))
}

// Generate computes the duration, renders the report and persists it once.
// It returns the storage location and the duration in seconds.
func (g *Generator) Generate(ctx context.Context, report models.PostmortemReport) (string, float64, error) {
	if report.IncidentID == "" {
		return "", 0, fmt.Errorf("postmortem: incident id is required")
	}
	if report.RecoveryTime.Before(report.DetectionTime) {
		return "", 0, fmt.Errorf("postmortem: recovery time %s precedes detection time %s",
			report.RecoveryTime.Format(time.RFC3339), report.DetectionTime.Format(time.RFC3339))
	}
	report.DurationSeconds = Duration(report.DetectionTime, report.RecoveryTime)

	name := FileName(report.IncidentID)
	exists, err := g.backend.Exists(ctx, name)
	if err != nil {
		return "", 0, fmt.Errorf("postmortem: check %s: %w", name, err)
	}
	if exists {
		return "", 0, fmt.Errorf("%w: %s", ErrReportExists, name)
	}

	if err := g.backend.Write(ctx, name, []byte(Render(report))); err != nil {
		return "", 0, fmt.Errorf("postmortem: write %s: %w", name, err)
	}
	location := g.backend.Location(name)

	if g.index != nil {
		if err := g.index.Index(ctx, report, location); err != nil {
			g.logger.Warn("postmortem index update failed",
				zap.String("incident_id", report.IncidentID), zap.Error(err))
		}
	}

	g.logger.Info("postmortem written",
		zap.String("incident_id", report.IncidentID),
		zap.String("location", location),
		zap.Float64("duration_seconds", report.DurationSeconds))
	return location, report.DurationSeconds, nil
}

// Render formats report as markdown.
func Render(r models.PostmortemReport) string {
	var b strings.Builder
	b.WriteString("# Incident Report\n\n")
	b.WriteString("Incident ID: " + r.IncidentID + "\n")
	b.WriteString("Service: " + r.Service + "\n\n")
	b.WriteString("Root Cause:\n" + orNone(r.RootCause) + "\n\n")
	b.WriteString("Resolution:\n" + orNone(r.Resolution) + "\n\n")
	b.WriteString("Detection Time: " + r.DetectionTime.UTC().Format(time.RFC3339Nano) + "\n")
	b.WriteString("Recovery Time: " + r.RecoveryTime.UTC().Format(time.RFC3339Nano) + "\n\n")
	b.WriteString("Total Downtime (seconds): " + strconv.FormatFloat(r.DurationSeconds, 'f', 3, 64) + "\n")
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none recorded)"
	}
	return s
}

// List returns the names of all stored reports.
func (g *Generator) List(ctx context.Context) ([]string, error) {
	paths, err := g.backend.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("postmortem: list reports: %w", err)
	}
	out := paths[:0]
	for _, p := range paths {
		if strings.HasPrefix(p, "POST_MORTEM_INC_") && strings.HasSuffix(p, ".md") {
			out = append(out, p)
		}
	}
	return out, nil
}

// Read returns the rendered report for incidentID.
func (g *Generator) Read(ctx context.Context, incidentID string) ([]byte, error) {
	data, err := g.backend.Read(ctx, FileName(incidentID))
	if err != nil {
		return nil, fmt.Errorf("postmortem: read %s: %w", incidentID, err)
	}
	return data, nil
}
