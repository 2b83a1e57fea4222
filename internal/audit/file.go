package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/logging"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// FileStore appends JSON lines to a size-rotated file.
type FileStore struct {
	path    string
	rotator *lumberjack.Logger
	writer  *zap.Logger
	logger  *zap.Logger
	mu      sync.Mutex
}

// auditEncoderConfig omits zap's own level and message keys so each line is
// exactly one audit record.
func auditEncoderConfig() zapcore.EncoderConfig {
	cfg := logging.EncoderConfig()
	cfg.TimeKey = ""
	cfg.LevelKey = ""
	cfg.NameKey = ""
	cfg.CallerKey = ""
	cfg.MessageKey = ""
	cfg.StacktraceKey = ""
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg
}

// NewFileStore opens (or creates) the audit file at path.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("audit: create directory for %q: %w", path, err)
	}

	rotator := logging.NewRotator(path)
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(auditEncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	return &FileStore{
		path:    path,
		rotator: rotator,
		writer:  zap.New(core),
		logger:  logger.Named("audit"),
	}, nil
}

// Append writes one line for entry.
func (s *FileStore) Append(ctx context.Context, entry models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Info("",
		zap.Time("timestamp", entry.Timestamp.UTC()),
		zap.String("incident_id", entry.IncidentID),
		zap.String("event", string(entry.Event)),
		zap.String("target", entry.Target),
		zap.Int("risk_score", entry.RiskScore),
		zap.String("rule_id", entry.RuleID),
		zap.String("decision", entry.Decision),
	)
	if err := s.writer.Sync(); err != nil {
		return fmt.Errorf("audit: sync %q: %w", s.path, err)
	}

	logAppend(s.logger, entry)
	return nil
}

// List reads the active file and returns the newest entries first. Rotated
// backups are not consulted.
func (s *FileStore) List(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open %q: %w", s.path, err)
	}
	defer f.Close()

	var all []models.AuditLogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e models.AuditLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			s.logger.Warn("skipping unreadable audit line", zap.Error(err))
			continue
		}
		all = append(all, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read %q: %w", s.path, err)
	}

	out := make([]models.AuditLogEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Close flushes and closes the file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.writer.Sync()
	return s.rotator.Close()
}
