package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

var sqliteMigrations = []struct {
	version int
	sql     string
}{
	{1, `
CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   TEXT    NOT NULL,
    incident_id TEXT    NOT NULL,
    event       TEXT    NOT NULL,
    target      TEXT    NOT NULL DEFAULT '',
    risk_score  INTEGER NOT NULL,
    rule_id     TEXT    NOT NULL,
    decision    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_incident ON audit_log(incident_id);
`},
}

// SQLiteStore keeps the audit trail in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at path and applies
// pending migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger.Named("audit")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range sqliteMigrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Append inserts entry.
func (s *SQLiteStore) Append(ctx context.Context, entry models.AuditLogEntry) error {
	if err := validate(entry); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_log(timestamp, incident_id, event, target, risk_score, rule_id, decision)
        VALUES(?,?,?,?,?,?,?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.IncidentID, string(entry.Event),
		entry.Target, entry.RiskScore, entry.RuleID, entry.Decision,
	)
	if err != nil {
		return fmt.Errorf("audit: sqlite append: %w", err)
	}
	logAppend(s.logger, entry)
	return nil
}

// List returns the newest entries first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT timestamp, incident_id, event, target, risk_score, rule_id, decision
        FROM audit_log ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("audit: sqlite list: %w", err)
	}
	defer rows.Close()

	var out []models.AuditLogEntry
	for rows.Next() {
		var (
			e     models.AuditLogEntry
			ts    string
			event string
		)
		if err := rows.Scan(&ts, &e.IncidentID, &event, &e.Target, &e.RiskScore, &e.RuleID, &e.Decision); err != nil {
			return nil, fmt.Errorf("audit: sqlite scan: %w", err)
		}
		e.Event = models.AuditEvent(event)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("audit: sqlite parse timestamp %q: %w", ts, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
