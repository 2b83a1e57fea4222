package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/diagnosis"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/policy"
)

var (
	policyAction     string
	policySeverity   string
	policyIncidentID string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with the governance policy",
}

var policyEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one action and append the decision to the audit trail",
	Long: `Scores the action, selects the governing rule and prints the decision as
JSON. The evaluation is audited exactly like one made during an incident.

Examples:
  pitcrew policy evaluate --action fix --severity HIGH
  pitcrew policy evaluate --action delete-volume --severity low --incident-id a1b2c3d4`,
	RunE: runPolicyEvaluate,
}

func init() {
	policyEvaluateCmd.Flags().StringVar(&policyAction, "action", "fix", "proposed action")
	policyEvaluateCmd.Flags().StringVar(&policySeverity, "severity", "LOW", "severity, normalized to LOW, MEDIUM or HIGH")
	policyEvaluateCmd.Flags().StringVar(&policyIncidentID, "incident-id", "", "incident id recorded in the audit trail")
	policyCmd.AddCommand(policyEvaluateCmd)
}

func runPolicyEvaluate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	gov, err := openGovernance(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gov.Close()

	decision, err := gov.engine.Evaluate(ctx, policy.Request{
		IncidentID: policyIncidentID,
		Target:     cfg.Target,
		Action:     policyAction,
		Severity:   diagnosis.Normalize(policySeverity),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(decision)
}
