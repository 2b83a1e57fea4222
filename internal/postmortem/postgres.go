package postmortem

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// PgIndex records report metadata in the postmortems table.
type PgIndex struct {
	pool *pgxpool.Pool
}

// NewPgIndex creates an index backed by pool.
func NewPgIndex(pool *pgxpool.Pool) *PgIndex {
	return &PgIndex{pool: pool}
}

// Index inserts one row per incident. A second insert for the same incident
// is ignored so the first record stands.
func (p *PgIndex) Index(ctx context.Context, r models.PostmortemReport, location string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO postmortems
			(incident_id, service, root_cause, resolution, detection_time, recovery_time, duration_seconds, location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (incident_id) DO NOTHING`,
		r.IncidentID, r.Service, r.RootCause, r.Resolution,
		r.DetectionTime, r.RecoveryTime, r.DurationSeconds, location,
	)
	if err != nil {
		return fmt.Errorf("postmortem: index %s: %w", r.IncidentID, err)
	}
	return nil
}
