package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/api"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/monitor"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/override"
)

var serveNoMonitor bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the health monitor and the HTTP API",
	Long: `Polls the target's health every PITCREW_POLL_INTERVAL and runs one incident
at a time. Override codes for blocked HIGH-severity incidents are submitted
through POST /api/v1/incidents/current/override.

With --no-monitor only the API runs, which is how a dedicated policy service
(POST /evaluate) is deployed.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoMonitor, "no-monitor", false, "serve the API without polling the target")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	inbox := override.NewChannelPrompter()
	a, err := newApp(ctx, cfg, logger, inbox)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	handler := api.NewHandler(api.Deps{
		Policy:             a.engine,
		Incidents:          a.orchestrator,
		Override:           inbox,
		Audit:              a.lister,
		Health:             a.health,
		Reports:            a.reports,
		Cache:              a.cache,
		Gatherer:           prometheus.DefaultGatherer,
		APIKey:             cfg.APIKey,
		OverrideRateLimit:  cfg.OverrideRateLimit,
		OverrideRateWindow: cfg.OverrideRateWindow,
	}, logger)
	handler.RegisterRoutes(router)

	// A triggered incident answers only once it is closed, which can include
	// the full override wait.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: incidentBudget(cfg),
		IdleTimeout:  120 * time.Second,
	}

	monitorDone := make(chan struct{})
	if serveNoMonitor {
		close(monitorDone)
	} else {
		go func() {
			defer close(monitorDone)
			monitor.New(a.orchestrator, cfg.PollInterval, logger).Start(ctx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("pitcrew is ready", zap.String("addr", srv.Addr), zap.Bool("monitor", !serveNoMonitor))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case runErr = <-serveErr:
	case <-ctx.Done():
	}

	logger.Info("shutting down pitcrew")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	stop()
	// An in-flight remediation finishes and writes its report before the
	// audit store closes.
	<-monitorDone
	logger.Info("pitcrew stopped")
	return runErr
}
