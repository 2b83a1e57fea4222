// Package audit implements the append-only audit trail written by the policy
// engine and the override authority.
//
// Three durable backends are provided: a rotated JSON-lines file, SQLite and
// PostgreSQL. Entries are never updated or deleted through this package.
package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// Store accepts append-only audit records. Append returns only after the
// record has been handed to the backing store.
type Store interface {
	Append(ctx context.Context, entry models.AuditLogEntry) error
	Close() error
}

// Lister is implemented by stores that can read back recent entries.
type Lister interface {
	// List returns at most limit entries, newest first.
	List(ctx context.Context, limit int) ([]models.AuditLogEntry, error)
}

// DefaultListLimit is used when a caller passes a non-positive limit.
const DefaultListLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}

func validate(e models.AuditLogEntry) error {
	if e.IncidentID == "" {
		return fmt.Errorf("audit: incident id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("audit: timestamp is required")
	}
	if e.Event == "" {
		return fmt.Errorf("audit: event is required")
	}
	return nil
}

func logAppend(logger *zap.Logger, e models.AuditLogEntry) {
	logger.Debug("audit entry appended",
		zap.String("incident_id", e.IncidentID),
		zap.String("event", string(e.Event)),
		zap.String("rule_id", e.RuleID),
		zap.String("decision", e.Decision))
}
