package policy

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// ExportFormat selects the history export serialization
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// exportPageSize bounds each repo read while walking the full ledger
const exportPageSize = 200

// ExportHistory serializes the entire version ledger, newest first.
// Read-only, no side effects.
func (s *VersionStore) ExportHistory(ctx context.Context, format ExportFormat) ([]byte, error) {
	var all []Version
	for offset := 0; ; offset += exportPageSize {
		page, err := s.repo.List(ctx, exportPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	switch format {
	case ExportJSON:
		return json.MarshalIndent(all, "", "  ")
	case ExportCSV:
		return exportCSV(all)
	default:
		return nil, NewValidationError("format", "unsupported export format %q, use json or csv", format)
	}
}

func exportCSV(versions []Version) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"version_id", "version", "changed_by", "changed_at", "is_restore", "restored_from",
		"confidence_threshold", "edge_threshold", "drift_threshold",
		"hard_stop_enabled", "kelly_fraction", "max_exposure",
		"daily_loss_limit", "max_consecutive_losses", "max_bankroll_percent",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, v := range versions {
		row := []string{
			v.VersionID,
			v.Config.Version,
			v.ChangedBy,
			v.ChangedAt.UTC().Format("2006-01-02T15:04:05Z"),
			strconv.FormatBool(v.IsRestore),
			v.RestoredFrom,
			strconv.FormatFloat(v.Config.ConfidenceThreshold, 'f', -1, 64),
			strconv.FormatFloat(v.Config.EdgeThreshold, 'f', -1, 64),
			strconv.FormatFloat(v.Config.DriftThreshold, 'f', -1, 64),
			strconv.FormatBool(v.Config.HardStopEnabled),
			strconv.FormatFloat(v.Config.KellyFraction, 'f', -1, 64),
			strconv.FormatFloat(v.Config.MaxExposure, 'f', -1, 64),
			strconv.FormatFloat(v.Config.RiskLimits.DailyLossLimit, 'f', -1, 64),
			strconv.Itoa(v.Config.RiskLimits.MaxConsecutiveLosses),
			strconv.FormatFloat(v.Config.RiskLimits.MaxBankrollPercent, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv export failed: %w", err)
	}
	return buf.Bytes(), nil
}
