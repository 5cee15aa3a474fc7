package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oddsforge/pickgate/internal/policy"
)

var (
	configExportFormat string
	configExportOut    string
	configCreateFile   string
	historyLimit       int
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage versioned policy configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active policy config",
	RunE:  runConfigShow,
}

var configHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List the version ledger, newest first",
	RunE:  runConfigHistory,
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new policy version from a YAML file (ops or admin)",
	RunE:  runConfigCreate,
}

var configRestoreCmd = &cobra.Command{
	Use:   "restore <version-id>",
	Short: "Restore a historical version (admin only, ratchet-guarded)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigRestore,
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full version ledger",
	RunE:  runConfigExport,
}

func init() {
	configHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Entries to list")
	configCreateCmd.Flags().StringVar(&configCreateFile, "file", "", "Policy YAML file (required)")
	_ = configCreateCmd.MarkFlagRequired("file")
	configExportCmd.Flags().StringVar(&configExportFormat, "format", "json", "Export format: json or csv")
	configExportCmd.Flags().StringVar(&configExportOut, "out", "", "Output file (stdout when empty)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configHistoryCmd)
	configCmd.AddCommand(configCreateCmd)
	configCmd.AddCommand(configRestoreCmd)
	configCmd.AddCommand(configExportCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var cfg policy.Config
	if err := newAPIClient().get("/v1/policy/config", &cfg); err != nil {
		return err
	}

	fmt.Printf("version: %s (by %s)\n", cfg.Version, cfg.CreatedBy)
	fmt.Printf("  confidence threshold: %.4f\n", cfg.ConfidenceThreshold)
	fmt.Printf("  edge threshold:       %.4f\n", cfg.EdgeThreshold)
	fmt.Printf("  drift threshold:      %.4f\n", cfg.DriftThreshold)
	fmt.Printf("  hard stop enabled:    %v\n", cfg.HardStopEnabled)
	fmt.Printf("  kelly fraction:       %.2f\n", cfg.KellyFraction)
	fmt.Printf("  max exposure:         %.2f\n", cfg.MaxExposure)
	fmt.Printf("  risk limits:          loss %.2f, %d consecutive, %.1f%% drawdown\n",
		cfg.RiskLimits.DailyLossLimit, cfg.RiskLimits.MaxConsecutiveLosses, cfg.RiskLimits.MaxBankrollPercent)
	return nil
}

func runConfigHistory(cmd *cobra.Command, args []string) error {
	var history []policy.Version
	if err := newAPIClient().get(fmt.Sprintf("/v1/policy/history?limit=%d", historyLimit), &history); err != nil {
		return err
	}

	for _, v := range history {
		marker := " "
		if v.IsRestore {
			marker = "R"
		}
		fmt.Printf("%s %s  %s  %s  by %s\n", marker, v.VersionID,
			v.Config.Version, v.ChangedAt.Format("2006-01-02 15:04:05"), v.ChangedBy)
	}
	return nil
}

func runConfigCreate(cmd *cobra.Command, args []string) error {
	cfg, err := policy.LoadConfig(configCreateFile)
	if err != nil {
		return err
	}

	client := newAPIClient()
	client.promptToken()

	var v policy.Version
	if err := client.post("/v1/policy/config", cfg, &v); err != nil {
		return err
	}
	fmt.Printf("created version %s (%s)\n", v.VersionID, v.Config.Version)
	return nil
}

func runConfigRestore(cmd *cobra.Command, args []string) error {
	client := newAPIClient()
	client.promptToken()

	var v policy.Version
	if err := client.post("/v1/policy/restore/"+args[0], nil, &v); err != nil {
		return err
	}
	fmt.Printf("restored %s as new version %s\n", args[0], v.VersionID)
	return nil
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	blob, err := newAPIClient().getRaw("/v1/policy/export?format=" + configExportFormat)
	if err != nil {
		return err
	}

	if configExportOut == "" {
		fmt.Print(string(blob))
		return nil
	}
	if err := os.WriteFile(configExportOut, blob, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", len(blob), configExportOut)
	return nil
}
