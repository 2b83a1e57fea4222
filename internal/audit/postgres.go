package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// PgStore keeps the audit trail in PostgreSQL. The audit_log table is created
// by database.Migrate.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStore creates a PostgreSQL-backed audit store.
func NewPgStore(pool *pgxpool.Pool, logger *zap.Logger) *PgStore {
	return &PgStore{pool: pool, logger: logger.Named("audit")}
}

const auditCols = `timestamp, incident_id, event, target, risk_score, rule_id, decision`

// Append inserts entry.
func (s *PgStore) Append(ctx context.Context, entry models.AuditLogEntry) error {
	if err := validate(entry); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (`+auditCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.Timestamp.UTC(), entry.IncidentID, string(entry.Event),
		entry.Target, entry.RiskScore, entry.RuleID, entry.Decision)
	if err != nil {
		return fmt.Errorf("pgstore: append audit entry: %w", err)
	}
	logAppend(s.logger, entry)
	return nil
}

// List returns the newest entries first.
func (s *PgStore) List(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditCols+` FROM audit_log ORDER BY id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("pgstore: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditLogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate audit entries: %w", err)
	}
	return out, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PgStore) Close() error { return nil }

func scanEntry(row scannable) (models.AuditLogEntry, error) {
	var (
		e     models.AuditLogEntry
		event string
	)
	if err := row.Scan(&e.Timestamp, &e.IncidentID, &event, &e.Target, &e.RiskScore, &e.RuleID, &e.Decision); err != nil {
		return e, fmt.Errorf("pgstore: scan audit entry: %w", err)
	}
	e.Event = models.AuditEvent(event)
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
