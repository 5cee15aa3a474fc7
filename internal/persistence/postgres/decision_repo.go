package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oddsforge/pickgate/internal/gates"
	"github.com/oddsforge/pickgate/internal/persistence"
	"github.com/oddsforge/pickgate/internal/policy"
)

type decisionRow struct {
	ID                  string         `db:"id"`
	TraceID             string         `db:"trace_id"`
	PredictionID        string         `db:"prediction_id"`
	MatchID             string         `db:"match_id"`
	Status              string         `db:"status"`
	GateResults         []byte         `db:"gate_results"`
	Rationale           string         `db:"rationale"`
	Confidence          float64        `db:"confidence"`
	Edge                *float64       `db:"edge"`
	DriftScore          float64        `db:"drift_score"`
	HardStopTriggered   bool           `db:"hard_stop_triggered"`
	HardStopReason      sql.NullString `db:"hard_stop_reason"`
	SuggestedStake      float64        `db:"suggested_stake"`
	ModelVersion        string         `db:"model_version"`
	PolicyConfigVersion string         `db:"policy_config_version"`
	ExecutedAt          time.Time      `db:"executed_at"`
	PublishedAt         *time.Time     `db:"published_at"`
}

func (r decisionRow) toDecision() (persistence.Decision, error) {
	var results []gates.Result
	if err := json.Unmarshal(r.GateResults, &results); err != nil {
		return persistence.Decision{}, fmt.Errorf("failed to unmarshal gate results: %w", err)
	}
	return persistence.Decision{
		ID:                  r.ID,
		TraceID:             r.TraceID,
		PredictionID:        r.PredictionID,
		MatchID:             r.MatchID,
		Status:              gates.Status(r.Status),
		GateResults:         results,
		Rationale:           r.Rationale,
		Confidence:          r.Confidence,
		Edge:                r.Edge,
		DriftScore:          r.DriftScore,
		HardStopTriggered:   r.HardStopTriggered,
		HardStopReason:      r.HardStopReason.String,
		SuggestedStake:      r.SuggestedStake,
		ModelVersion:        r.ModelVersion,
		PolicyConfigVersion: r.PolicyConfigVersion,
		ExecutedAt:          r.ExecutedAt,
		PublishedAt:         r.PublishedAt,
	}, nil
}

type decisionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewDecisionRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionRepo {
	return &decisionRepo{db: db, timeout: timeout}
}

func (r *decisionRepo) Insert(ctx context.Context, d persistence.Decision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultsJSON, err := json.Marshal(d.GateResults)
	if err != nil {
		return fmt.Errorf("failed to marshal gate results: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO policy_decisions
		(id, trace_id, prediction_id, match_id, status, gate_results, rationale,
		 confidence, edge, drift_score, hard_stop_triggered, hard_stop_reason,
		 suggested_stake, model_version, policy_config_version, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15, $16)`,
		d.ID, d.TraceID, d.PredictionID, d.MatchID, string(d.Status), resultsJSON, d.Rationale,
		d.Confidence, d.Edge, d.DriftScore, d.HardStopTriggered, d.HardStopReason,
		d.SuggestedStake, d.ModelVersion, d.PolicyConfigVersion, d.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

func (r *decisionRepo) GetByTraceID(ctx context.Context, traceID string) (*persistence.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row decisionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, trace_id, prediction_id, match_id, status, gate_results, rationale,
		       confidence, edge, drift_score, hard_stop_triggered, hard_stop_reason,
		       suggested_stake, model_version, policy_config_version, executed_at, published_at
		FROM policy_decisions WHERE trace_id = $1
		ORDER BY executed_at DESC LIMIT 1`, traceID)
	if err == sql.ErrNoRows {
		return nil, policy.NewNotFoundError("decision", traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load decision: %w", err)
	}

	d, err := row.toDecision()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *decisionRepo) MarkPublished(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE policy_decisions SET published_at = $1 WHERE id = $2 AND published_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark decision published: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check publish result: %w", err)
	}
	if affected == 0 {
		return policy.NewNotFoundError("decision", id)
	}
	return nil
}

func (r *decisionRepo) ListRecent(ctx context.Context, limit int) ([]persistence.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var rows []decisionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, trace_id, prediction_id, match_id, status, gate_results, rationale,
		       confidence, edge, drift_score, hard_stop_triggered, hard_stop_reason,
		       suggested_stake, model_version, policy_config_version, executed_at, published_at
		FROM policy_decisions ORDER BY executed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	decisions := make([]persistence.Decision, 0, len(rows))
	for _, row := range rows {
		d, err := row.toDecision()
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
