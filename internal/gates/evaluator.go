// Package gates evaluates individual policy gates against a model
// prediction. Every evaluator is pure: no I/O, no clock, no randomness,
// so replaying a decision from its audit record reproduces it exactly.
package gates

import (
	"github.com/oddsforge/pickgate/internal/policy"
)

// Gate names the signal a gate checks
type Gate string

const (
	GateConfidence Gate = "confidence"
	GateEdge       Gate = "edge"
	GateDrift      Gate = "drift"
	GateHardStop   Gate = "hard_stop"
)

// Result is one gate outcome carrying the raw value and threshold used,
// so the decision record is auditable without re-reading config history.
type Result struct {
	Gate      Gate    `json:"gate"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
	Skipped   bool    `json:"skipped,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// HardStopStatus is the slice of breaker state the hard-stop gate needs.
// The engine maps it from the persisted state so this package stays pure.
type HardStopStatus struct {
	Active bool
	Reason string
}

// Prediction is the upstream model output under evaluation. Edge is nil
// when the upstream did not compute one.
type Prediction struct {
	Confidence float64
	Edge       *float64
	DriftScore float64
}

// EvaluateConfidence passes iff confidence meets the configured floor
func EvaluateConfidence(confidence float64, cfg *policy.Config) Result {
	return Result{
		Gate:      GateConfidence,
		Value:     confidence,
		Threshold: cfg.ConfidenceThreshold,
		Passed:    confidence >= cfg.ConfidenceThreshold,
	}
}

// EvaluateEdge passes iff edge meets the configured floor. A negative
// edge is a real signal (the model sees a disadvantage) and fails the
// gate rather than erroring. A nil edge is marked skipped and never
// blocks: a missing optional signal must not hold back the evaluation.
func EvaluateEdge(edge *float64, cfg *policy.Config) Result {
	if edge == nil {
		return Result{
			Gate:      GateEdge,
			Threshold: cfg.EdgeThreshold,
			Passed:    true,
			Skipped:   true,
			Reason:    "edge not computed upstream",
		}
	}
	return Result{
		Gate:      GateEdge,
		Value:     *edge,
		Threshold: cfg.EdgeThreshold,
		Passed:    *edge >= cfg.EdgeThreshold,
	}
}

// EvaluateDrift passes iff driftScore stays at or under the threshold.
// Lower is better: drift above threshold signals unreliable input data.
func EvaluateDrift(driftScore float64, cfg *policy.Config) Result {
	return Result{
		Gate:      GateDrift,
		Value:     driftScore,
		Threshold: cfg.DriftThreshold,
		Passed:    driftScore <= cfg.DriftThreshold,
	}
}

// EvaluateHardStop passes iff the breaker is disabled or inactive. When it
// fails, every other gate outcome is irrelevant to the final status.
func EvaluateHardStop(status HardStopStatus, cfg *policy.Config) Result {
	r := Result{
		Gate:      GateHardStop,
		Threshold: 1,
		Passed:    true,
	}
	if cfg.HardStopEnabled && status.Active {
		r.Value = 1
		r.Passed = false
		r.Reason = status.Reason
	}
	return r
}

// Evaluate runs all four gates against one prediction, returning results
// in the fixed order confidence, edge, drift, hard_stop. Malformed input
// fails with a ValidationError; it never defaults to a permissive result.
func Evaluate(p Prediction, cfg *policy.Config, status HardStopStatus) ([]Result, error) {
	if cfg == nil {
		return nil, policy.NewValidationError("config", "policy config is required")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return nil, policy.NewValidationError("confidence", "must be within [0,1], got %g", p.Confidence)
	}
	if p.Edge != nil && *p.Edge > 1 {
		return nil, policy.NewValidationError("edge", "must not exceed 1, got %g", *p.Edge)
	}
	if p.DriftScore < 0 {
		return nil, policy.NewValidationError("driftScore", "must be non-negative, got %g", p.DriftScore)
	}

	return []Result{
		EvaluateConfidence(p.Confidence, cfg),
		EvaluateEdge(p.Edge, cfg),
		EvaluateDrift(p.DriftScore, cfg),
		EvaluateHardStop(status, cfg),
	}, nil
}
