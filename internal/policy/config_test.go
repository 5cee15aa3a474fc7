package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateNamesOffendingField(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"confidence above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }, "confidenceThreshold"},
		{"confidence negative", func(c *Config) { c.ConfidenceThreshold = -0.1 }, "confidenceThreshold"},
		{"edge above one", func(c *Config) { c.EdgeThreshold = 2 }, "edgeThreshold"},
		{"drift negative", func(c *Config) { c.DriftThreshold = -0.5 }, "driftThreshold"},
		{"kelly zero", func(c *Config) { c.KellyFraction = 0 }, "kellyFraction"},
		{"kelly above one", func(c *Config) { c.KellyFraction = 1.1 }, "kellyFraction"},
		{"exposure zero", func(c *Config) { c.MaxExposure = 0 }, "maxExposure"},
		{"loss limit zero", func(c *Config) { c.RiskLimits.DailyLossLimit = 0 }, "riskLimits.dailyLossLimit"},
		{"consecutive losses zero", func(c *Config) { c.RiskLimits.MaxConsecutiveLosses = 0 }, "riskLimits.maxConsecutiveLosses"},
		{"bankroll percent above 100", func(c *Config) { c.RiskLimits.MaxBankrollPercent = 150 }, "riskLimits.maxBankrollPercent"},
		{"empty version", func(c *Config) { c.Version = "" }, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, KindValidation, perr.Kind)
			assert.Equal(t, tt.wantField, perr.Field)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	yaml := `confidence_threshold: 0.70
edge_threshold: 0.05
drift_threshold: 0.08
hard_stop_enabled: true
kelly_fraction: 0.5
max_exposure: 2500
risk_limits:
  daily_loss_limit: 800
  max_consecutive_losses: 3
  max_bankroll_percent: 15
version: "2.1.0"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.70, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.05, cfg.EdgeThreshold)
	assert.Equal(t, 0.08, cfg.DriftThreshold)
	assert.True(t, cfg.HardStopEnabled)
	assert.Equal(t, 2500.0, cfg.MaxExposure)
	assert.Equal(t, 800.0, cfg.RiskLimits.DailyLossLimit)
	assert.Equal(t, 3, cfg.RiskLimits.MaxConsecutiveLosses)
	assert.Equal(t, "2.1.0", cfg.Version)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: 0.85\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.ConfidenceThreshold)
	// unspecified fields fall back to defaults
	assert.Equal(t, 0.03, cfg.EdgeThreshold)
	assert.Equal(t, "1.0.0", cfg.Version)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: 7\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestWeakerThan(t *testing.T) {
	live := DefaultConfig()

	t.Run("identical config is not weaker", func(t *testing.T) {
		candidate := *live
		assert.Empty(t, candidate.WeakerThan(live))
	})

	t.Run("tighter limits are not weaker", func(t *testing.T) {
		candidate := *live
		candidate.RiskLimits.DailyLossLimit = 500
		candidate.RiskLimits.MaxConsecutiveLosses = 2
		assert.Empty(t, candidate.WeakerThan(live))
	})

	t.Run("disabling hard stop is weaker", func(t *testing.T) {
		candidate := *live
		candidate.HardStopEnabled = false
		reasons := candidate.WeakerThan(live)
		require.Len(t, reasons, 1)
		assert.Equal(t, "hard stop would be disabled", reasons[0])
	})

	t.Run("every loosened limit is reported", func(t *testing.T) {
		candidate := *live
		candidate.RiskLimits.DailyLossLimit = 5000
		candidate.RiskLimits.MaxConsecutiveLosses = 50
		candidate.RiskLimits.MaxBankrollPercent = 90
		reasons := candidate.WeakerThan(live)
		assert.Len(t, reasons, 3)
	})

	t.Run("re-enabling hard stop against a disabled live is fine", func(t *testing.T) {
		disabledLive := *live
		disabledLive.HardStopEnabled = false
		candidate := *live
		assert.Empty(t, candidate.WeakerThan(&disabledLive))
	})

	t.Run("gate thresholds do not participate in the ratchet", func(t *testing.T) {
		candidate := *live
		candidate.ConfidenceThreshold = 0.01
		candidate.EdgeThreshold = 0
		assert.Empty(t, candidate.WeakerThan(live))
	})
}
