package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/override"
)

var respondJSON bool

var respondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Run one incident invocation against the target",
	Long: `Checks the target's health once. When it is unhealthy, runs the full
incident lifecycle and prints the decision summary. Blocked HIGH-severity
incidents prompt for the override code at the terminal.

Examples:
  pitcrew respond
  pitcrew respond --json`,
	RunE: runRespond,
}

func init() {
	respondCmd.Flags().BoolVar(&respondJSON, "json", false, "print the outcome as JSON")
}

func runRespond(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, override.TerminalPrompter{})
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.orchestrator.Run(ctx)
	if err != nil {
		return err
	}

	if respondJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprint(os.Stdout, out.String())
	return nil
}
