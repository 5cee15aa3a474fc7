// Package engine orchestrates one prediction through the policy gates to
// a final persisted decision. It owns no business rules itself: gate
// logic lives in internal/gates, breaker logic in internal/hardstop.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oddsforge/pickgate/internal/audit"
	"github.com/oddsforge/pickgate/internal/cache"
	"github.com/oddsforge/pickgate/internal/gates"
	"github.com/oddsforge/pickgate/internal/hardstop"
	"github.com/oddsforge/pickgate/internal/persistence"
	"github.com/oddsforge/pickgate/internal/policy"
)

// PredictionInput is the resolved upstream prediction handed to the
// engine. Edge is nil when the upstream did not compute one.
type PredictionInput struct {
	PredictionID string   `json:"predictionId"`
	MatchID      string   `json:"matchId"`
	ModelVersion string   `json:"modelVersion"`
	Confidence   float64  `json:"confidence"`
	Edge         *float64 `json:"edge,omitempty"`
	DriftScore   float64  `json:"driftScore"`
	TraceID      string   `json:"traceId,omitempty"`
}

// Engine wires gates, breaker, version store, decision persistence and
// audit into the synchronous evaluation flow. It runs no background
// loops; every method is invoked per request or event.
type Engine struct {
	versions  *policy.VersionStore
	machine   *hardstop.Machine
	decisions persistence.DecisionRepo
	recorder  audit.Recorder
	cache     *cache.Cache               // optional
	broadcast func(persistence.Decision) // optional, e.g. websocket hub
	now       func() time.Time

	// decisionAuditFailOpen keeps the pick pipeline running when the
	// decision audit sink fails. Hard-stop resets and version mutations
	// are always fail-closed regardless.
	decisionAuditFailOpen bool
}

func New(versions *policy.VersionStore, machine *hardstop.Machine, decisions persistence.DecisionRepo, recorder audit.Recorder) *Engine {
	return &Engine{
		versions:              versions,
		machine:               machine,
		decisions:             decisions,
		recorder:              recorder,
		now:                   time.Now,
		decisionAuditFailOpen: true,
	}
}

// WithCache attaches the redis read-through cache
func (e *Engine) WithCache(c *cache.Cache) *Engine {
	e.cache = c
	return e
}

// WithBroadcast attaches a decision fan-out hook
func (e *Engine) WithBroadcast(fn func(persistence.Decision)) *Engine {
	e.broadcast = fn
	return e
}

// WithDecisionAuditPolicy selects what a decision-audit failure does:
// fail-open logs and continues, fail-closed rejects the evaluation with
// an AUDIT_SINK_UNAVAILABLE error before the decision is persisted.
func (e *Engine) WithDecisionAuditPolicy(failOpen bool) *Engine {
	e.decisionAuditFailOpen = failOpen
	return e
}

// Versions exposes the config version store to the transport layer
func (e *Engine) Versions() *policy.VersionStore { return e.versions }

// Machine exposes the hard-stop machine to the transport layer
func (e *Engine) Machine() *hardstop.Machine { return e.machine }

// Decisions exposes the decision repo to the transport layer
func (e *Engine) Decisions() persistence.DecisionRepo { return e.decisions }

func (e *Engine) activeConfig(ctx context.Context) (*policy.Config, error) {
	if e.cache != nil {
		if cfg := e.cache.ActiveConfig(ctx); cfg != nil {
			return cfg, nil
		}
	}
	cfg, err := e.versions.ActiveConfig(ctx)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.SetActiveConfig(ctx, cfg)
	}
	return cfg, nil
}

// suggestedStake is an advisory fractional-Kelly stake for PICK decisions:
// kelly fraction scaled by the model edge, capped at the exposure limit.
// Zero when edge is unknown.
func suggestedStake(cfg *policy.Config, edge *float64) float64 {
	if edge == nil || *edge <= 0 {
		return 0
	}
	stake := cfg.MaxExposure * cfg.KellyFraction * *edge
	if stake > cfg.MaxExposure {
		stake = cfg.MaxExposure
	}
	return stake
}

// Evaluate scores one prediction against the active config and current
// hard-stop state, audits it, and persists the decision. Decision audit
// failure handling follows the configured policy: fail-open (the default)
// logs and continues, fail-closed rejects the evaluation.
func (e *Engine) Evaluate(ctx context.Context, in PredictionInput) (*persistence.Decision, error) {
	if in.MatchID == "" {
		return nil, policy.NewValidationError("matchId", "match id is required")
	}
	traceID := in.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	cfg, err := e.activeConfig(ctx)
	if err != nil {
		return nil, err
	}

	hsActive, hsReason, err := e.machine.GateStatus(ctx)
	if err != nil {
		return nil, err
	}

	results, err := gates.Evaluate(
		gates.Prediction{Confidence: in.Confidence, Edge: in.Edge, DriftScore: in.DriftScore},
		cfg,
		gates.HardStopStatus{Active: hsActive, Reason: hsReason},
	)
	if err != nil {
		return nil, err
	}

	resolution, err := gates.Resolve(results)
	if err != nil {
		return nil, err
	}

	decision := persistence.Decision{
		ID:                  uuid.New().String(),
		TraceID:             traceID,
		PredictionID:        in.PredictionID,
		MatchID:             in.MatchID,
		Status:              resolution.Status,
		GateResults:         results,
		Rationale:           resolution.Rationale,
		Confidence:          in.Confidence,
		Edge:                in.Edge,
		DriftScore:          in.DriftScore,
		HardStopTriggered:   resolution.HardStopTriggered,
		HardStopReason:      resolution.HardStopReason,
		ModelVersion:        in.ModelVersion,
		PolicyConfigVersion: cfg.Version,
		ExecutedAt:          e.now().UTC(),
	}
	if resolution.Status == gates.StatusPick {
		decision.SuggestedStake = suggestedStake(cfg, in.Edge)
	}

	// Audit before persisting so a fail-closed rejection leaves no
	// unaudited decision behind
	if recErr := e.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionDecisionRecorded,
		TargetID:   decision.ID,
		TargetType: "policy_decision",
		TraceID:    traceID,
		Metadata: map[string]interface{}{
			"status":   string(decision.Status),
			"match_id": decision.MatchID,
		},
	}); recErr != nil {
		if !e.decisionAuditFailOpen {
			return nil, policy.NewAuditUnavailableError(string(audit.ActionDecisionRecorded), recErr)
		}
		log.Warn().Err(recErr).Str("decision_id", decision.ID).Msg("Decision audit failed, continuing")
	}

	if err := e.decisions.Insert(ctx, decision); err != nil {
		return nil, err
	}

	log.Info().
		Str("trace_id", traceID).
		Str("match_id", in.MatchID).
		Str("status", string(decision.Status)).
		Float64("confidence", in.Confidence).
		Msg("Prediction evaluated")

	if e.broadcast != nil {
		e.broadcast(decision)
	}
	return &decision, nil
}

// RecordOutcome feeds one settled result into the hard-stop machine using
// the live risk limits, invalidating the cached status on change.
func (e *Engine) RecordOutcome(ctx context.Context, out hardstop.Outcome) (hardstop.State, bool, error) {
	cfg, err := e.activeConfig(ctx)
	if err != nil {
		return hardstop.State{}, false, err
	}

	state, tripped, err := e.machine.RecordOutcome(ctx, out, cfg.RiskLimits)
	if err != nil {
		return hardstop.State{}, false, err
	}
	if e.cache != nil {
		e.cache.InvalidateHardStopStatus(ctx)
	}
	return state, tripped, nil
}

// HardStopStatus serves the status query, read-through cached
func (e *Engine) HardStopStatus(ctx context.Context) (*hardstop.StatusReport, error) {
	if e.cache != nil {
		if report := e.cache.HardStopStatus(ctx); report != nil {
			return report, nil
		}
	}

	cfg, err := e.activeConfig(ctx)
	if err != nil {
		return nil, err
	}
	report, err := e.machine.Status(ctx, cfg.RiskLimits)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.SetHardStopStatus(ctx, report)
	}
	return report, nil
}

// ResetHardStop clears the breaker through the machine's authorization
// and fail-closed audit path
func (e *Engine) ResetHardStop(ctx context.Context, reason string, actor policy.Actor) (*hardstop.ResetReceipt, error) {
	receipt, err := e.machine.Reset(ctx, reason, actor)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.InvalidateHardStopStatus(ctx)
	}
	return receipt, nil
}

// CreateConfigVersion appends a new policy version and invalidates the
// config cache
func (e *Engine) CreateConfigVersion(ctx context.Context, cfg policy.Config, actor policy.Actor) (*policy.Version, error) {
	if !actor.Role.CanWriteConfig() {
		return nil, policy.NewForbiddenError(actor.Role, "ops, admin")
	}

	v, err := e.versions.CreateVersion(ctx, cfg, actor.ID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.InvalidateConfig(ctx)
	}
	return v, nil
}

// RestoreConfigVersion restores through the ratchet-guarded store path
func (e *Engine) RestoreConfigVersion(ctx context.Context, versionID string, actor policy.Actor) (*policy.Version, error) {
	v, err := e.versions.Restore(ctx, versionID, actor)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.InvalidateConfig(ctx)
	}
	return v, nil
}
