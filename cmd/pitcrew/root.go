package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/config"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/logging"
)

var (
	cfg    *config.Config
	logger *zap.Logger

	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "pitcrew",
	Short: "Autonomous incident response for a single monitored service",
	Long: `PitCrew watches one target service. When the target turns unhealthy it
diagnoses the failure through a reasoning model, submits the proposed fix to
the governance policy, applies approved fixes (or operator overrides for
blocked HIGH-severity incidents), verifies recovery and writes a postmortem.

Configuration is read from PITCREW_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if logLevelFlag != "" {
			cfg.LogLevel = logLevelFlag
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.LogLevel, cfg.LogFile)
		if err != nil {
			return err
		}
		logger = logger.With(zap.String("service", "pitcrew"), zap.String("target", cfg.Target))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override PITCREW_LOG_LEVEL (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, respondCmd, policyCmd)
}
