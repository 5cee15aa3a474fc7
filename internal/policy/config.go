package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Role is the actor capability level supplied by the surrounding auth layer.
// Authorization is part of each mutating operation's signature, not
// middleware magic.
type Role string

const (
	RoleUser  Role = "user"
	RoleOps   Role = "ops"
	RoleAdmin Role = "admin"
)

// CanResetHardStop reports whether the role may clear a tripped breaker
func (r Role) CanResetHardStop() bool {
	return r == RoleOps || r == RoleAdmin
}

// CanWriteConfig reports whether the role may create policy versions
func (r Role) CanWriteConfig() bool {
	return r == RoleOps || r == RoleAdmin
}

// Actor identifies who performs a mutating operation
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// RiskLimits are the hard-stop trip thresholds. Looser limits mean weaker
// protection, which the restore ratchet refuses to reintroduce.
type RiskLimits struct {
	DailyLossLimit       float64 `yaml:"daily_loss_limit" json:"dailyLossLimit"`             // currency units
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" json:"maxConsecutiveLosses"` // count
	MaxBankrollPercent   float64 `yaml:"max_bankroll_percent" json:"maxBankrollPercent"`     // drawdown %
}

// Config holds one immutable set of policy thresholds. A "change" is always
// a new version appended to the ledger.
type Config struct {
	ConfidenceThreshold float64    `yaml:"confidence_threshold" json:"confidenceThreshold"`
	EdgeThreshold       float64    `yaml:"edge_threshold" json:"edgeThreshold"`
	DriftThreshold      float64    `yaml:"drift_threshold" json:"driftThreshold"`
	HardStopEnabled     bool       `yaml:"hard_stop_enabled" json:"hardStopEnabled"`
	KellyFraction       float64    `yaml:"kelly_fraction" json:"kellyFraction"`
	MaxExposure         float64    `yaml:"max_exposure" json:"maxExposure"`
	RiskLimits          RiskLimits `yaml:"risk_limits" json:"riskLimits"`
	Version             string     `yaml:"version" json:"version"`
	CreatedAt           time.Time  `yaml:"-" json:"createdAt"`
	CreatedBy           string     `yaml:"-" json:"createdBy"`
}

// Validate enforces every threshold invariant. Violations name the
// offending field so the API can surface them directly.
func (c *Config) Validate() error {
	if c == nil {
		return NewValidationError("config", "policy config is required")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return NewValidationError("confidenceThreshold", "must be within [0,1], got %g", c.ConfidenceThreshold)
	}
	if c.EdgeThreshold < 0 || c.EdgeThreshold > 1 {
		return NewValidationError("edgeThreshold", "must be within [0,1], got %g", c.EdgeThreshold)
	}
	if c.DriftThreshold < 0 || c.DriftThreshold > 1 {
		return NewValidationError("driftThreshold", "must be within [0,1], got %g", c.DriftThreshold)
	}
	if c.KellyFraction <= 0 || c.KellyFraction > 1 {
		return NewValidationError("kellyFraction", "must be within (0,1], got %g", c.KellyFraction)
	}
	if c.MaxExposure <= 0 {
		return NewValidationError("maxExposure", "must be a positive amount, got %g", c.MaxExposure)
	}
	if c.RiskLimits.DailyLossLimit <= 0 {
		return NewValidationError("riskLimits.dailyLossLimit", "must be a positive amount, got %g", c.RiskLimits.DailyLossLimit)
	}
	if c.RiskLimits.MaxConsecutiveLosses <= 0 {
		return NewValidationError("riskLimits.maxConsecutiveLosses", "must be positive, got %d", c.RiskLimits.MaxConsecutiveLosses)
	}
	if c.RiskLimits.MaxBankrollPercent <= 0 || c.RiskLimits.MaxBankrollPercent > 100 {
		return NewValidationError("riskLimits.maxBankrollPercent", "must be within (0,100], got %g", c.RiskLimits.MaxBankrollPercent)
	}
	if c.Version == "" {
		return NewValidationError("version", "version string is required")
	}
	return nil
}

// DefaultConfig returns production-ready policy thresholds
func DefaultConfig() *Config {
	return &Config{
		ConfidenceThreshold: 0.60,
		EdgeThreshold:       0.03,
		DriftThreshold:      0.10,
		HardStopEnabled:     true,
		KellyFraction:       0.25,
		MaxExposure:         1000.0,
		RiskLimits: RiskLimits{
			DailyLossLimit:       1000.0,
			MaxConsecutiveLosses: 5,
			MaxBankrollPercent:   20.0,
		},
		Version: "1.0.0",
	}
}

// LoadConfig reads a policy config from a YAML file and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WeakerThan lists the ways candidate weakens hard-stop protection relative
// to live. An empty slice means the candidate keeps or tightens protection.
func (c *Config) WeakerThan(live *Config) []string {
	var reasons []string
	if live.HardStopEnabled && !c.HardStopEnabled {
		reasons = append(reasons, "hard stop would be disabled")
	}
	if c.RiskLimits.DailyLossLimit > live.RiskLimits.DailyLossLimit {
		reasons = append(reasons, fmt.Sprintf("daily loss limit would loosen from %.2f to %.2f",
			live.RiskLimits.DailyLossLimit, c.RiskLimits.DailyLossLimit))
	}
	if c.RiskLimits.MaxConsecutiveLosses > live.RiskLimits.MaxConsecutiveLosses {
		reasons = append(reasons, fmt.Sprintf("consecutive loss limit would loosen from %d to %d",
			live.RiskLimits.MaxConsecutiveLosses, c.RiskLimits.MaxConsecutiveLosses))
	}
	if c.RiskLimits.MaxBankrollPercent > live.RiskLimits.MaxBankrollPercent {
		reasons = append(reasons, fmt.Sprintf("bankroll drawdown limit would loosen from %.1f%% to %.1f%%",
			live.RiskLimits.MaxBankrollPercent, c.RiskLimits.MaxBankrollPercent))
	}
	return reasons
}
