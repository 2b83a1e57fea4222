// Package config loads PitCrew settings from the environment.
//
// Service settings use the PITCREW_* prefix and default to values that work
// against a local stack. Postgres and Redis share the POSTGRES_* and REDIS_*
// variables used across Open Cloud Ops. Load is called once at startup and
// the resulting Config is handed to each constructor.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Policy evaluation modes.
const (
	PolicyModeLocal  = "local"
	PolicyModeRemote = "remote"
)

// Oracle providers.
const (
	OracleOllama = "ollama"
	OracleOpenAI = "openai"
)

// Audit backends.
const (
	AuditFile     = "file"
	AuditSQLite   = "sqlite"
	AuditPostgres = "postgres"
)

// Report backends.
const (
	ReportLocal = "local"
	ReportS3    = "s3"
)

// Config holds all configuration values for the PitCrew incident response engine.
type Config struct {
	// Port is the API listen port.
	Port string

	// APIKey protects the /api/v1 routes. Empty disables them.
	APIKey string

	// LogLevel is one of debug, info, warn or error.
	LogLevel string

	// LogFile, when set, receives rotated JSON logs in addition to stdout.
	LogFile string

	// Target is the monitored service/container name.
	Target string

	// HealthURL is the target's health endpoint.
	HealthURL string

	// MechanicURL is the base URL of the remediation/log collaborator.
	MechanicURL string

	// HTTPTimeout bounds every outbound collaborator call.
	HTTPTimeout time.Duration

	// PollInterval is the health polling period in serve mode.
	PollInterval time.Duration

	// StabilizationInterval is the wait between remediation and re-check.
	StabilizationInterval time.Duration

	// PolicyMode selects the in-process engine or a remote policy service.
	PolicyMode string

	// PolicyURL is the remote policy service base URL (remote mode only).
	PolicyURL string

	// RiskThreshold is the exclusive upper bound for automatic approval.
	RiskThreshold int

	// OracleProvider selects the reasoning oracle backend.
	OracleProvider string

	// OracleBaseURL overrides the provider's default endpoint.
	OracleBaseURL string
	OracleModel   string
	OracleAPIKey  string

	// OracleTimeout bounds a single oracle call. Local models are slow, so
	// this is separate from HTTPTimeout.
	OracleTimeout time.Duration

	// RunbookCatalog is an optional YAML file of signature-to-document
	// mappings. RunbookDir holds the documents.
	RunbookCatalog string
	RunbookDir     string

	// ReportBackend selects where postmortems are written.
	ReportBackend string
	ReportDir     string
	S3Bucket      string
	S3Region      string
	S3Prefix      string

	// AuditBackend selects the durable audit trail store.
	AuditBackend string
	AuditPath    string

	// OverrideSecret is the authorization code for HIGH-severity overrides.
	// Empty disables overrides entirely.
	OverrideSecret string

	// OverrideTimeout bounds the wait for an operator override code.
	OverrideTimeout time.Duration

	// OverrideRateLimit is the number of override attempts allowed per
	// client per OverrideRateWindow.
	OverrideRateLimit  int64
	OverrideRateWindow time.Duration

	// DatabaseURL is used by the postgres audit backend.
	DatabaseURL string

	// RedisURL is the Redis connection address. Empty disables Redis.
	RedisURL string

	// AllowedOrigins is the CORS allow list. "*" allows any origin.
	AllowedOrigins []string
}

// Load builds a Config from the environment. It only fails on values that
// cannot be parsed; call Validate for semantic checks.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvOrDefault("PITCREW_PORT", "8084")
	cfg.APIKey = os.Getenv("PITCREW_API_KEY")
	cfg.LogLevel = getEnvOrDefault("PITCREW_LOG_LEVEL", "info")
	cfg.LogFile = os.Getenv("PITCREW_LOG_FILE")

	cfg.Target = getEnvOrDefault("PITCREW_TARGET", "prod-api")
	cfg.HealthURL = getEnvOrDefault("PITCREW_HEALTH_URL", "http://localhost:5000/health")
	cfg.MechanicURL = getEnvOrDefault("PITCREW_MECHANIC_URL", "http://localhost:8001")

	if cfg.HTTPTimeout, err = getDuration("PITCREW_HTTP_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("PITCREW_POLL_INTERVAL", "10s"); err != nil {
		return nil, err
	}
	if cfg.StabilizationInterval, err = getDuration("PITCREW_STABILIZATION_INTERVAL", "4s"); err != nil {
		return nil, err
	}

	cfg.PolicyMode = strings.ToLower(getEnvOrDefault("PITCREW_POLICY_MODE", PolicyModeLocal))
	cfg.PolicyURL = getEnvOrDefault("PITCREW_POLICY_URL", "http://localhost:8002")
	if cfg.RiskThreshold, err = getInt("PITCREW_RISK_THRESHOLD", "70"); err != nil {
		return nil, err
	}

	cfg.OracleProvider = strings.ToLower(getEnvOrDefault("PITCREW_ORACLE_PROVIDER", OracleOllama))
	cfg.OracleBaseURL = os.Getenv("PITCREW_ORACLE_BASE_URL")
	cfg.OracleModel = getEnvOrDefault("PITCREW_ORACLE_MODEL", "phi3:mini")
	cfg.OracleAPIKey = os.Getenv("PITCREW_ORACLE_API_KEY")
	if cfg.OracleTimeout, err = getDuration("PITCREW_ORACLE_TIMEOUT", "2m"); err != nil {
		return nil, err
	}

	cfg.RunbookCatalog = os.Getenv("PITCREW_RUNBOOK_CATALOG")
	cfg.RunbookDir = getEnvOrDefault("PITCREW_RUNBOOK_DIR", "runbooks")

	cfg.ReportBackend = strings.ToLower(getEnvOrDefault("PITCREW_REPORT_BACKEND", ReportLocal))
	cfg.ReportDir = getEnvOrDefault("PITCREW_REPORT_DIR", "reports")
	cfg.S3Bucket = os.Getenv("PITCREW_S3_BUCKET")
	cfg.S3Region = getEnvOrDefault("PITCREW_S3_REGION", "us-east-1")
	cfg.S3Prefix = getEnvOrDefault("PITCREW_S3_PREFIX", "postmortems")

	cfg.AuditBackend = strings.ToLower(getEnvOrDefault("PITCREW_AUDIT_BACKEND", AuditFile))
	cfg.AuditPath = getEnvOrDefault("PITCREW_AUDIT_PATH", "logs/audit.log")

	cfg.OverrideSecret = os.Getenv("PITCREW_OVERRIDE_SECRET")
	if cfg.OverrideTimeout, err = getDuration("PITCREW_OVERRIDE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	limit, err := getInt("PITCREW_OVERRIDE_RATE_LIMIT", "5")
	if err != nil {
		return nil, err
	}
	cfg.OverrideRateLimit = int64(limit)
	if cfg.OverrideRateWindow, err = getDuration("PITCREW_OVERRIDE_RATE_WINDOW", "1m"); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = postgresDSN()

	// Redis is optional for PitCrew; only an explicit host or URL enables it.
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisURL = host + ":" + getEnvOrDefault("REDIS_PORT", "6379")
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		cfg.RedisURL = raw
	}

	cfg.AllowedOrigins = splitList(getEnvOrDefault("PITCREW_ALLOWED_ORIGINS", "http://localhost:3000"))

	return cfg, nil
}

// Validate rejects missing or contradictory settings.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: PITCREW_PORT is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid PITCREW_LOG_LEVEL %q", c.LogLevel)
	}
	if c.Target == "" {
		return fmt.Errorf("config: PITCREW_TARGET is required")
	}
	if c.HealthURL == "" {
		return fmt.Errorf("config: PITCREW_HEALTH_URL is required")
	}
	if c.MechanicURL == "" {
		return fmt.Errorf("config: PITCREW_MECHANIC_URL is required")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("config: PITCREW_HTTP_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: PITCREW_POLL_INTERVAL must be positive")
	}
	if c.StabilizationInterval < 0 {
		return fmt.Errorf("config: PITCREW_STABILIZATION_INTERVAL must not be negative")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("config: PITCREW_ORACLE_TIMEOUT must be positive")
	}
	if c.OverrideTimeout <= 0 {
		return fmt.Errorf("config: PITCREW_OVERRIDE_TIMEOUT must be positive")
	}
	if c.RiskThreshold < 1 || c.RiskThreshold > 100 {
		return fmt.Errorf("config: PITCREW_RISK_THRESHOLD must be between 1 and 100")
	}

	switch c.PolicyMode {
	case PolicyModeLocal:
	case PolicyModeRemote:
		if c.PolicyURL == "" {
			return fmt.Errorf("config: PITCREW_POLICY_URL is required in remote policy mode")
		}
	default:
		return fmt.Errorf("config: unknown PITCREW_POLICY_MODE %q", c.PolicyMode)
	}

	switch c.OracleProvider {
	case OracleOllama, OracleOpenAI:
	default:
		return fmt.Errorf("config: unknown PITCREW_ORACLE_PROVIDER %q", c.OracleProvider)
	}
	if c.OracleModel == "" {
		return fmt.Errorf("config: PITCREW_ORACLE_MODEL is required")
	}

	switch c.ReportBackend {
	case ReportLocal:
		if c.ReportDir == "" {
			return fmt.Errorf("config: PITCREW_REPORT_DIR is required")
		}
	case ReportS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: PITCREW_S3_BUCKET is required for the s3 report backend")
		}
	default:
		return fmt.Errorf("config: unknown PITCREW_REPORT_BACKEND %q", c.ReportBackend)
	}

	switch c.AuditBackend {
	case AuditFile, AuditSQLite:
		if c.AuditPath == "" {
			return fmt.Errorf("config: PITCREW_AUDIT_PATH is required")
		}
	case AuditPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL or POSTGRES_* settings are required for the postgres audit backend")
		}
	default:
		return fmt.Errorf("config: unknown PITCREW_AUDIT_BACKEND %q", c.AuditBackend)
	}
	return nil
}

// RedactedDatabaseURL returns the database URL with the password masked for safe logging.
func (c *Config) RedactedDatabaseURL() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

// getEnvOrDefault treats an empty variable the same as an unset one.
func getEnvOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// postgresDSN assembles a connection URL from the POSTGRES_* variables unless
// DATABASE_URL is given. url.UserPassword escapes reserved characters.
func postgresDSN() string {
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		return raw
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(getEnvOrDefault("POSTGRES_HOST", "localhost"), getEnvOrDefault("POSTGRES_PORT", "5432")),
		Path:     getEnvOrDefault("POSTGRES_DB", "pitcrew"),
		RawQuery: url.Values{"sslmode": {getEnvOrDefault("POSTGRES_SSLMODE", "require")}}.Encode(),
	}
	user := getEnvOrDefault("POSTGRES_USER", "pitcrew")
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		u.User = url.UserPassword(user, pw)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnvOrDefault(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, raw, err)
	}
	return d, nil
}

func getInt(key, defaultValue string) (int, error) {
	raw := getEnvOrDefault(key, defaultValue)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, raw, err)
	}
	return n, nil
}
