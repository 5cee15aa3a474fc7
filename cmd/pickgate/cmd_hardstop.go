package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/oddsforge/pickgate/internal/hardstop"
)

var resetReason string

var hardstopCmd = &cobra.Command{
	Use:   "hardstop",
	Short: "Inspect and reset the risk circuit breaker",
}

var hardstopStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show breaker state, counters and limits",
	RunE:  runHardstopStatus,
}

var hardstopResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a tripped breaker (ops or admin role)",
	Long: `Clear the hard stop and zero its counters. Requires --role ops or
--role admin and a mandatory --reason; the reset is rejected when the
audit trail cannot record it.`,
	RunE: runHardstopReset,
}

func init() {
	hardstopResetCmd.Flags().StringVar(&resetReason, "reason", "", "Why the breaker is safe to clear (required)")
	_ = hardstopResetCmd.MarkFlagRequired("reason")

	hardstopCmd.AddCommand(hardstopStatusCmd)
	hardstopCmd.AddCommand(hardstopResetCmd)
}

func runHardstopStatus(cmd *cobra.Command, args []string) error {
	var report hardstop.StatusReport
	if err := newAPIClient().get("/v1/hardstop/status", &report); err != nil {
		return err
	}

	if report.IsActive {
		fmt.Printf("state: %s\n", color.RedString("ACTIVE"))
		fmt.Printf("  reason: %s\n", report.TriggerReason)
		if report.TriggeredAt != nil {
			fmt.Printf("  since:  %s\n", report.TriggeredAt.Format("2006-01-02 15:04:05 MST"))
		}
	} else {
		fmt.Printf("state: %s\n", color.GreenString("INACTIVE"))
	}

	fmt.Printf("  daily loss:         %.2f / %.2f\n",
		report.CurrentState.DailyLoss, report.Limits.DailyLossLimit)
	fmt.Printf("  consecutive losses: %d / %d\n",
		report.CurrentState.ConsecutiveLosses, report.Limits.MaxConsecutiveLosses)
	fmt.Printf("  bankroll drawdown:  %.1f%% / %.1f%%\n",
		report.CurrentState.BankrollPercent, report.Limits.MaxBankrollPercent)
	fmt.Printf("  action: %s\n", report.RecommendedAction)
	return nil
}

func runHardstopReset(cmd *cobra.Command, args []string) error {
	client := newAPIClient()
	client.promptToken()

	var receipt hardstop.ResetReceipt
	if err := client.post("/v1/hardstop/reset", map[string]string{"reason": resetReason}, &receipt); err != nil {
		return err
	}

	fmt.Printf("reset: %v by %s at %s\n", receipt.Reset, receipt.ResetBy,
		receipt.ResetAt.Format("2006-01-02 15:04:05 MST"))
	if receipt.PreviousState.IsActive {
		fmt.Printf("  cleared: %s\n", receipt.PreviousState.TriggerReason)
	}
	return nil
}
