// Package persistence defines the decision record and its repository
// port. The hard-stop and version ledger ports live next to their
// consumers (internal/hardstop, internal/policy); the postgres and memory
// subpackages implement all of them.
package persistence

import (
	"context"
	"time"

	"github.com/oddsforge/pickgate/internal/gates"
)

// Decision is one evaluated prediction with the full gate trail. Created
// once at evaluation time and never mutated afterward, except for
// PublishedAt when the decision is surfaced externally.
type Decision struct {
	ID                  string         `json:"id" db:"id"`
	TraceID             string         `json:"traceId" db:"trace_id"`
	PredictionID        string         `json:"predictionId" db:"prediction_id"`
	MatchID             string         `json:"matchId" db:"match_id"`
	Status              gates.Status   `json:"status" db:"status"`
	GateResults         []gates.Result `json:"gateResults"`
	Rationale           string         `json:"rationale" db:"rationale"`
	Confidence          float64        `json:"confidence" db:"confidence"`
	Edge                *float64       `json:"edge,omitempty" db:"edge"`
	DriftScore          float64        `json:"driftScore" db:"drift_score"`
	HardStopTriggered   bool           `json:"hardStopTriggered" db:"hard_stop_triggered"`
	HardStopReason      string         `json:"hardStopReason,omitempty" db:"hard_stop_reason"`
	SuggestedStake      float64        `json:"suggestedStake" db:"suggested_stake"`
	ModelVersion        string         `json:"modelVersion" db:"model_version"`
	PolicyConfigVersion string         `json:"policyConfigVersion" db:"policy_config_version"`
	ExecutedAt          time.Time      `json:"executedAt" db:"executed_at"`
	PublishedAt         *time.Time     `json:"publishedAt,omitempty" db:"published_at"`
}

// DecisionRepo persists evaluated decisions
type DecisionRepo interface {
	Insert(ctx context.Context, d Decision) error
	GetByTraceID(ctx context.Context, traceID string) (*Decision, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	ListRecent(ctx context.Context, limit int) ([]Decision, error)
}
