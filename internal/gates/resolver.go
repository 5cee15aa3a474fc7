package gates

import (
	"fmt"
	"strings"

	"github.com/oddsforge/pickgate/internal/policy"
)

// Status is the final decision for one prediction
type Status string

const (
	StatusPick     Status = "PICK"
	StatusNoBet    Status = "NO_BET"
	StatusHardStop Status = "HARD_STOP"
)

// Resolution combines the gate results into one status plus a rationale.
// The rationale is template-based: identical inputs always produce
// byte-identical text, which audit replay and UI snapshots rely on.
type Resolution struct {
	Status            Status `json:"status"`
	Rationale         string `json:"rationale"`
	HardStopTriggered bool   `json:"hardStopTriggered"`
	HardStopReason    string `json:"hardStopReason,omitempty"`
}

// Resolve applies the fixed precedence rules, first match wins:
//  1. hard-stop gate failed        -> HARD_STOP
//  2. confidence or drift failed   -> NO_BET
//  3. edge explicitly failed       -> NO_BET
//  4. everything passed            -> PICK
func Resolve(results []Result) (*Resolution, error) {
	byGate := make(map[Gate]*Result, len(results))
	for i := range results {
		byGate[results[i].Gate] = &results[i]
	}
	for _, g := range []Gate{GateConfidence, GateEdge, GateDrift, GateHardStop} {
		if _, ok := byGate[g]; !ok {
			return nil, policy.NewValidationError(string(g), "missing gate result")
		}
	}

	confidence := byGate[GateConfidence]
	edge := byGate[GateEdge]
	drift := byGate[GateDrift]
	hardStop := byGate[GateHardStop]

	if !hardStop.Passed {
		reason := hardStop.Reason
		if reason == "" {
			reason = "risk circuit breaker engaged"
		}
		return &Resolution{
			Status:            StatusHardStop,
			Rationale:         fmt.Sprintf("hard stop active: %s; halt until reset by an authorized operator", reason),
			HardStopTriggered: true,
			HardStopReason:    reason,
		}, nil
	}

	var failing []string
	if !confidence.Passed {
		failing = append(failing, fmt.Sprintf("confidence %.4f below threshold %.4f", confidence.Value, confidence.Threshold))
	}
	if !edge.Passed && !edge.Skipped {
		failing = append(failing, fmt.Sprintf("edge %.4f below threshold %.4f", edge.Value, edge.Threshold))
	}
	if !drift.Passed {
		failing = append(failing, fmt.Sprintf("drift %.4f above threshold %.4f", drift.Value, drift.Threshold))
	}
	if len(failing) > 0 {
		return &Resolution{
			Status:    StatusNoBet,
			Rationale: "no-bet: " + strings.Join(failing, "; "),
		}, nil
	}

	edgePart := fmt.Sprintf("edge %.4f >= %.4f", edge.Value, edge.Threshold)
	if edge.Skipped {
		edgePart = "edge not computed (gate skipped)"
	}
	return &Resolution{
		Status: StatusPick,
		Rationale: fmt.Sprintf("pick: confidence %.4f >= %.4f, %s, drift %.4f <= %.4f; all gates passed",
			confidence.Value, confidence.Threshold, edgePart, drift.Value, drift.Threshold),
	}, nil
}
