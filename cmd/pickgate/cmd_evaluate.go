package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/oddsforge/pickgate/internal/engine"
	"github.com/oddsforge/pickgate/internal/persistence"
)

var (
	evalMatchID    string
	evalModel      string
	evalConfidence float64
	evalEdge       float64
	evalNoEdge     bool
	evalDrift      float64
	evalTraceID    string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one prediction against a running engine",
	Long: `Submit a prediction to a running pickgate instance and print the
decision with the full gate trail.

Example:
  pickgate evaluate --match nba-2026-01-15-BOS-LAL \
    --confidence 0.78 --edge 0.052 --drift 0.05`,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalMatchID, "match", "", "Match id (required)")
	evaluateCmd.Flags().StringVar(&evalModel, "model", "manual", "Model version label")
	evaluateCmd.Flags().Float64Var(&evalConfidence, "confidence", 0, "Model confidence [0,1]")
	evaluateCmd.Flags().Float64Var(&evalEdge, "edge", 0, "Model edge [0,1]")
	evaluateCmd.Flags().BoolVar(&evalNoEdge, "no-edge", false, "Evaluate without an edge signal")
	evaluateCmd.Flags().Float64Var(&evalDrift, "drift", 0, "Drift score")
	evaluateCmd.Flags().StringVar(&evalTraceID, "trace", "", "Trace id (generated when empty)")
	_ = evaluateCmd.MarkFlagRequired("match")
	_ = evaluateCmd.MarkFlagRequired("confidence")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	in := engine.PredictionInput{
		MatchID:      evalMatchID,
		ModelVersion: evalModel,
		Confidence:   evalConfidence,
		DriftScore:   evalDrift,
		TraceID:      evalTraceID,
	}
	if !evalNoEdge {
		edge := evalEdge
		in.Edge = &edge
	}

	var decision persistence.Decision
	if err := newAPIClient().post("/v1/evaluate", in, &decision); err != nil {
		return err
	}

	printDecision(&decision)
	return nil
}

func printDecision(d *persistence.Decision) {
	statusText := string(d.Status)
	switch d.Status {
	case "PICK":
		statusText = color.GreenString(statusText)
	case "NO_BET":
		statusText = color.YellowString(statusText)
	case "HARD_STOP":
		statusText = color.RedString(statusText)
	}

	fmt.Printf("%s  %s\n", statusText, d.MatchID)
	fmt.Printf("  trace:     %s\n", d.TraceID)
	fmt.Printf("  rationale: %s\n", d.Rationale)
	if d.SuggestedStake > 0 {
		fmt.Printf("  stake:     %.2f\n", d.SuggestedStake)
	}

	for _, gr := range d.GateResults {
		mark := color.GreenString("pass")
		switch {
		case gr.Skipped:
			mark = color.YellowString("skip")
		case !gr.Passed:
			mark = color.RedString("fail")
		}
		fmt.Printf("  %-12s %s  value=%.4f threshold=%.4f\n", gr.Gate, mark, gr.Value, gr.Threshold)
	}
}
