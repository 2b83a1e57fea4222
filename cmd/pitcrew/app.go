package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/audit"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/diagnosis"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/incident"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/observability"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/oracle"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/override"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/policy"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/postmortem"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/remediation"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/runbook"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/storage"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/config"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/database"
)

// governance is the policy side of PitCrew: the audit trail and the engine
// that writes to it. The policy command needs nothing else.
type governance struct {
	db     *database.DB
	store  audit.Store
	lister audit.Lister
	engine *policy.Engine
}

func openGovernance(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*governance, error) {
	g := &governance{}

	switch cfg.AuditBackend {
	case config.AuditFile:
		s, err := audit.NewFileStore(cfg.AuditPath, logger)
		if err != nil {
			return nil, err
		}
		g.store, g.lister = s, s
	case config.AuditSQLite:
		s, err := audit.NewSQLiteStore(cfg.AuditPath, logger)
		if err != nil {
			return nil, err
		}
		g.store, g.lister = s, s
	case config.AuditPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("database connected", zap.String("dsn", cfg.RedactedDatabaseURL()))
		s := audit.NewPgStore(db.Pool, logger)
		g.db, g.store, g.lister = db, s, s
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.AuditBackend)
	}

	g.engine = policy.NewEngine(g.store, cfg.RiskThreshold, logger)
	logger.Info("audit trail ready", zap.String("backend", cfg.AuditBackend))
	return g, nil
}

func (g *governance) Close() {
	if err := g.store.Close(); err != nil {
		logger.Warn("audit store close failed", zap.Error(err))
	}
	if g.db != nil {
		g.db.Close()
	}
}

// app is the fully wired incident loop.
type app struct {
	*governance

	cache        *cache.Cache
	health       *observability.Client
	reports      *postmortem.Generator
	orchestrator *incident.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, prompter override.Prompter) (*app, error) {
	gov, err := openGovernance(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{governance: gov}

	if cfg.RedisURL != "" {
		rc, err := cache.NewCache(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unavailable, running without lease and rate limits", zap.Error(err))
		} else {
			a.cache = rc
		}
	}

	reportBackend, err := openReportBackend(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	var index postmortem.Indexer
	if gov.db != nil {
		index = postmortem.NewPgIndex(gov.db.Pool)
	}
	a.reports = postmortem.NewGenerator(reportBackend, index, logger)

	runbookDocs, err := storage.NewLocalStorage(cfg.RunbookDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	catalog, err := runbook.LoadCatalog(cfg.RunbookCatalog)
	if err != nil {
		a.Close()
		return nil, err
	}

	model, err := oracle.New(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.health = observability.NewClient(cfg.HealthURL, cfg.MechanicURL, cfg.HTTPTimeout, logger)

	var evaluator policy.Evaluator = gov.engine
	if cfg.PolicyMode == config.PolicyModeRemote {
		evaluator = policy.NewRemoteEvaluator(cfg.PolicyURL, cfg.HTTPTimeout, logger)
	}

	mechanic := remediation.NewClient(cfg.MechanicURL, cfg.HTTPTimeout, logger)

	a.orchestrator = incident.New(cfg.Target, incident.Deps{
		Health:    a.health,
		Diagnoser: diagnosis.NewAdapter(a.health, runbook.NewRetriever(catalog, runbookDocs, logger), model, cfg.OracleTimeout, logger),
		Policy:    evaluator,
		Executor:  remediation.NewExecutor(mechanic, a.health, cfg.StabilizationInterval, logger),
		Override:  override.NewAuthority(cfg.OverrideSecret, gov.store, prompter, cfg.OverrideTimeout, logger),
		Reporter:  a.reports,
	}, logger)

	if a.cache != nil {
		a.orchestrator.WithLease(a.cache, leaseHolder(), incidentBudget(cfg))
	}

	logger.Info("incident loop wired",
		zap.String("policy_mode", cfg.PolicyMode),
		zap.String("oracle", cfg.OracleProvider),
		zap.String("oracle_model", cfg.OracleModel),
		zap.String("report_backend", cfg.ReportBackend),
		zap.Bool("override_enabled", cfg.OverrideSecret != ""))
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	a.governance.Close()
}

func openReportBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if cfg.ReportBackend == config.ReportS3 {
		return storage.NewS3Storage(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
	}
	return storage.NewLocalStorage(cfg.ReportDir)
}

// incidentBudget is the longest a single invocation can take: every
// collaborator call plus oracle, override and stabilization waits.
func incidentBudget(cfg *config.Config) time.Duration {
	return 6*cfg.HTTPTimeout + cfg.OracleTimeout + cfg.OverrideTimeout + cfg.StabilizationInterval + time.Minute
}

func leaseHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
