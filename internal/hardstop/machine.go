// Package hardstop implements the persistent risk circuit breaker. Once
// tripped it blocks every subsequent pick, survives process restarts, and
// clears only through an explicit authorized reset.
package hardstop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddsforge/pickgate/internal/audit"
	"github.com/oddsforge/pickgate/internal/policy"
)

// State is the breaker's singleton persisted state, latest revision wins.
// Loss amounts are decimals: money accumulated across many outcomes must
// not drift through float rounding.
type State struct {
	IsActive          bool            `json:"isActive"`
	DailyLoss         decimal.Decimal `json:"dailyLoss"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
	BankrollPercent   float64         `json:"bankrollPercent"`
	TriggeredAt       *time.Time      `json:"triggeredAt,omitempty"`
	TriggerReason     string          `json:"triggerReason,omitempty"`
	LastResetAt       *time.Time      `json:"lastResetAt,omitempty"`
	Revision          int64           `json:"revision"`
}

// Outcome is one settled bet result fed back into the breaker
type Outcome struct {
	MatchID         string          `json:"matchId"`
	TraceID         string          `json:"traceId"`
	Won             bool            `json:"won"`
	LossAmount      decimal.Decimal `json:"lossAmount"`      // zero for wins
	BankrollPercent float64         `json:"bankrollPercent"` // current drawdown %
}

// StateRepo is the persistence port. Update must apply fn atomically
// (transaction or equivalent serialization): concurrent outcome events
// losing a trip would silently defeat the safety mechanism.
type StateRepo interface {
	Load(ctx context.Context) (State, error)
	Update(ctx context.Context, fn func(State) (State, error)) (State, error)
}

// StatusReport is the read-side view served to callers
type StatusReport struct {
	IsActive     bool `json:"isActive"`
	CurrentState struct {
		DailyLoss         float64 `json:"dailyLoss"`
		ConsecutiveLosses int     `json:"consecutiveLosses"`
		BankrollPercent   float64 `json:"bankrollPercent"`
	} `json:"currentState"`
	Limits            policy.RiskLimits `json:"limits"`
	TriggerReason     string            `json:"triggerReason,omitempty"`
	TriggeredAt       *time.Time        `json:"triggeredAt,omitempty"`
	LastResetAt       *time.Time        `json:"lastResetAt,omitempty"`
	RecommendedAction string            `json:"recommendedAction"`
}

// ResetReceipt reports the result of an authorized reset
type ResetReceipt struct {
	Reset         bool      `json:"reset"`
	PreviousState State     `json:"previousState"`
	ResetAt       time.Time `json:"resetAt"`
	ResetBy       string    `json:"resetBy"`
}

// Machine drives the INACTIVE/ACTIVE transitions over a StateRepo.
// Transition logic lives here, fully unit-testable without a database.
type Machine struct {
	repo     StateRepo
	recorder audit.Recorder
	now      func() time.Time
}

func NewMachine(repo StateRepo, recorder audit.Recorder) *Machine {
	return &Machine{repo: repo, recorder: recorder, now: time.Now}
}

// tripReason returns the specific breached limit with its value, or ""
// when no limit is breached. Checked in fixed order so the persisted
// reason is deterministic.
func tripReason(s State, limits policy.RiskLimits) string {
	if limits.DailyLossLimit > 0 {
		limit := decimal.NewFromFloat(limits.DailyLossLimit)
		if s.DailyLoss.GreaterThanOrEqual(limit) {
			return fmt.Sprintf("daily loss limit exceeded (%s >= %s)",
				s.DailyLoss.StringFixed(2), limit.StringFixed(2))
		}
	}
	if limits.MaxConsecutiveLosses > 0 && s.ConsecutiveLosses >= limits.MaxConsecutiveLosses {
		return fmt.Sprintf("consecutive loss limit exceeded (%d >= %d)",
			s.ConsecutiveLosses, limits.MaxConsecutiveLosses)
	}
	if limits.MaxBankrollPercent > 0 && s.BankrollPercent >= limits.MaxBankrollPercent {
		return fmt.Sprintf("bankroll drawdown limit exceeded (%.1f%% >= %.1f%%)",
			s.BankrollPercent, limits.MaxBankrollPercent)
	}
	return ""
}

// RecordOutcome accumulates one settled outcome and re-checks the trip
// conditions under the repo's atomic update. A single bad outcome can trip
// the breaker immediately; there is no debounce or grace window. Returns
// the committed state and whether this call tripped the breaker.
func (m *Machine) RecordOutcome(ctx context.Context, out Outcome, limits policy.RiskLimits) (State, bool, error) {
	if !out.Won && out.LossAmount.IsNegative() {
		return State{}, false, policy.NewValidationError("lossAmount", "must be non-negative, got %s", out.LossAmount.String())
	}
	if out.BankrollPercent < 0 {
		return State{}, false, policy.NewValidationError("bankrollPercent", "must be non-negative, got %g", out.BankrollPercent)
	}

	tripped := false
	committed, err := m.repo.Update(ctx, func(s State) (State, error) {
		if out.Won {
			s.ConsecutiveLosses = 0
		} else {
			s.DailyLoss = s.DailyLoss.Add(out.LossAmount)
			s.ConsecutiveLosses++
		}
		s.BankrollPercent = out.BankrollPercent

		if !s.IsActive {
			if reason := tripReason(s, limits); reason != "" {
				now := m.now().UTC()
				s.IsActive = true
				s.TriggeredAt = &now
				s.TriggerReason = reason
				tripped = true
			}
		}
		return s, nil
	})
	if err != nil {
		return State{}, false, err
	}

	if tripped {
		log.Warn().
			Str("reason", committed.TriggerReason).
			Str("match_id", out.MatchID).
			Str("trace_id", out.TraceID).
			Msg("Hard stop tripped")

		// The trip itself must never be blocked by the audit sink: an
		// untripped unsafe breaker is worse than an unaudited trip.
		if recErr := m.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionHardStopTriggered,
			TargetID:   out.MatchID,
			TargetType: "hard_stop_state",
			TraceID:    out.TraceID,
			Metadata: map[string]interface{}{
				"trigger_reason":     committed.TriggerReason,
				"daily_loss":         committed.DailyLoss.StringFixed(2),
				"consecutive_losses": committed.ConsecutiveLosses,
				"bankroll_percent":   committed.BankrollPercent,
			},
		}); recErr != nil {
			log.Error().Err(recErr).Msg("Failed to audit hard stop trip")
		}
	}

	return committed, tripped, nil
}

// Reset clears a tripped breaker. Only ops and admin may reset; the reason
// is mandatory. The audit record is fail-closed: an unauditable safety
// override is worse than a rejected request, so recording failure rejects
// the reset before any state changes.
func (m *Machine) Reset(ctx context.Context, reason string, actor policy.Actor) (*ResetReceipt, error) {
	if !actor.Role.CanResetHardStop() {
		return nil, policy.NewForbiddenError(actor.Role, "ops, admin")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, policy.NewValidationError("reason", "reset reason is required")
	}

	// Snapshot and audit inside the atomic update so the recorded
	// previous state is exactly the state this reset clears, even with
	// outcome events racing in.
	var previous State
	committed, err := m.repo.Update(ctx, func(s State) (State, error) {
		previous = s

		if err := m.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionHardStopReset,
			ActorID:    actor.ID,
			ActorRole:  string(actor.Role),
			TargetType: "hard_stop_state",
			Metadata: map[string]interface{}{
				"reason":         reason,
				"previous_state": s,
			},
		}); err != nil {
			return State{}, policy.NewAuditUnavailableError(string(audit.ActionHardStopReset), err)
		}

		resetAt := m.now().UTC()
		s.IsActive = false
		s.DailyLoss = decimal.Zero
		s.ConsecutiveLosses = 0
		s.BankrollPercent = 0
		s.TriggeredAt = nil
		s.TriggerReason = ""
		s.LastResetAt = &resetAt
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("actor", actor.ID).
		Str("role", string(actor.Role)).
		Str("reason", reason).
		Bool("was_active", previous.IsActive).
		Msg("Hard stop reset")

	return &ResetReceipt{
		Reset:         true,
		PreviousState: previous,
		ResetAt:       *committed.LastResetAt,
		ResetBy:       actor.ID,
	}, nil
}

// Status returns the latest committed state with limits and a
// recommended action. Reads take no locks.
func (m *Machine) Status(ctx context.Context, limits policy.RiskLimits) (*StatusReport, error) {
	s, err := m.repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		IsActive:      s.IsActive,
		Limits:        limits,
		TriggerReason: s.TriggerReason,
		TriggeredAt:   s.TriggeredAt,
		LastResetAt:   s.LastResetAt,
	}
	report.CurrentState.DailyLoss = s.DailyLoss.InexactFloat64()
	report.CurrentState.ConsecutiveLosses = s.ConsecutiveLosses
	report.CurrentState.BankrollPercent = s.BankrollPercent

	if s.IsActive {
		report.RecommendedAction = "halt all picks until reset by an authorized operator"
	} else {
		report.RecommendedAction = "normal operation"
	}
	return report, nil
}

// GateStatus maps the persisted state to the pure gate input
func (m *Machine) GateStatus(ctx context.Context) (active bool, reason string, err error) {
	s, err := m.repo.Load(ctx)
	if err != nil {
		return false, "", err
	}
	return s.IsActive, s.TriggerReason, nil
}
