package hardstop_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsforge/pickgate/internal/audit"
	"github.com/oddsforge/pickgate/internal/hardstop"
	"github.com/oddsforge/pickgate/internal/persistence/memory"
	"github.com/oddsforge/pickgate/internal/policy"
)

var testLimits = policy.RiskLimits{
	DailyLossLimit:       1000,
	MaxConsecutiveLosses: 5,
	MaxBankrollPercent:   20,
}

type failingSink struct{ err error }

func (s failingSink) Write(context.Context, audit.Event) error { return s.err }

func newTestMachine() (*hardstop.Machine, *memory.HardStopRepo, *audit.MemorySink) {
	repo := memory.NewHardStopRepo()
	sink := audit.NewMemorySink()
	return hardstop.NewMachine(repo, audit.NewSinkRecorder(sink)), repo, sink
}

func loss(amount float64) hardstop.Outcome {
	return hardstop.Outcome{
		MatchID:    "match-1",
		TraceID:    "trace-1",
		LossAmount: decimal.NewFromFloat(amount),
	}
}

func TestTripOnDailyLossLimit(t *testing.T) {
	m, _, sink := newTestMachine()
	ctx := context.Background()

	state, tripped, err := m.RecordOutcome(ctx, loss(400), testLimits)
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.False(t, state.IsActive)

	state, tripped, err = m.RecordOutcome(ctx, loss(1100), testLimits)
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.True(t, state.IsActive)
	assert.Equal(t, "daily loss limit exceeded (1500.00 >= 1000.00)", state.TriggerReason)
	require.NotNil(t, state.TriggeredAt)

	events := sink.ByAction(audit.ActionHardStopTriggered)
	require.Len(t, events, 1)
	assert.Equal(t, "1500.00", events[0].Metadata["daily_loss"])
}

func TestTripExactlyAtLimit(t *testing.T) {
	m, _, _ := newTestMachine()

	state, tripped, err := m.RecordOutcome(context.Background(), loss(1000), testLimits)
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.Equal(t, "daily loss limit exceeded (1000.00 >= 1000.00)", state.TriggerReason)
}

func TestTripOnConsecutiveLosses(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		state, tripped, err := m.RecordOutcome(ctx, loss(10), testLimits)
		require.NoError(t, err)
		assert.False(t, tripped)
		assert.Equal(t, i+1, state.ConsecutiveLosses)
	}

	state, tripped, err := m.RecordOutcome(ctx, loss(10), testLimits)
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.Equal(t, "consecutive loss limit exceeded (5 >= 5)", state.TriggerReason)
}

func TestTripOnBankrollDrawdown(t *testing.T) {
	m, _, _ := newTestMachine()

	out := loss(50)
	out.BankrollPercent = 22.5
	state, tripped, err := m.RecordOutcome(context.Background(), out, testLimits)
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.Equal(t, "bankroll drawdown limit exceeded (22.5% >= 20.0%)", state.TriggerReason)
}

func TestWinResetsConsecutiveLossesOnly(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	_, _, err := m.RecordOutcome(ctx, loss(300), testLimits)
	require.NoError(t, err)
	_, _, err = m.RecordOutcome(ctx, loss(200), testLimits)
	require.NoError(t, err)

	state, tripped, err := m.RecordOutcome(ctx, hardstop.Outcome{MatchID: "m", Won: true}, testLimits)
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.Equal(t, 0, state.ConsecutiveLosses)
	// the daily loss total is not forgiven by a win
	assert.True(t, state.DailyLoss.Equal(decimal.NewFromInt(500)))
}

func TestTrippedStateSticksAcrossOutcomes(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	_, tripped, err := m.RecordOutcome(ctx, loss(1200), testLimits)
	require.NoError(t, err)
	require.True(t, tripped)

	// a winning streak afterwards does not clear the breaker
	for i := 0; i < 3; i++ {
		state, tripped, err := m.RecordOutcome(ctx, hardstop.Outcome{MatchID: "m", Won: true}, testLimits)
		require.NoError(t, err)
		assert.False(t, tripped)
		assert.True(t, state.IsActive)
	}
}

func TestTrippedStateSurvivesRestart(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	state, tripped, err := m.RecordOutcome(ctx, loss(1500), testLimits)
	require.NoError(t, err)
	require.True(t, tripped)

	// simulate a restart: a fresh machine over a repo holding the old state
	rebornRepo := memory.NewHardStopRepo()
	rebornRepo.Seed(state)
	reborn := hardstop.NewMachine(rebornRepo, audit.NewSinkRecorder(audit.NewMemorySink()))

	active, reason, err := reborn.GateStatus(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "daily loss limit exceeded (1500.00 >= 1000.00)", reason)
}

func TestResetRequiresPrivilegedRole(t *testing.T) {
	m, _, sink := newTestMachine()

	receipt, err := m.Reset(context.Background(), "false positive", policy.Actor{ID: "u1", Role: policy.RoleUser})
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.True(t, policy.IsKind(err, policy.KindForbidden))
	assert.Empty(t, sink.Events())
}

func TestResetRequiresReason(t *testing.T) {
	m, _, _ := newTestMachine()

	_, err := m.Reset(context.Background(), "   ", policy.Actor{ID: "ops1", Role: policy.RoleOps})
	require.Error(t, err)
	assert.True(t, policy.IsKind(err, policy.KindValidation))
}

func TestResetClearsEverything(t *testing.T) {
	m, _, sink := newTestMachine()
	ctx := context.Background()

	before, tripped, err := m.RecordOutcome(ctx, loss(1500), testLimits)
	require.NoError(t, err)
	require.True(t, tripped)

	receipt, err := m.Reset(ctx, "limits reviewed with risk desk", policy.Actor{ID: "ops1", Role: policy.RoleOps})
	require.NoError(t, err)
	assert.True(t, receipt.Reset)
	assert.Equal(t, "ops1", receipt.ResetBy)
	assert.Equal(t, before.TriggerReason, receipt.PreviousState.TriggerReason)

	status, err := m.Status(ctx, testLimits)
	require.NoError(t, err)
	assert.False(t, status.IsActive)
	assert.Zero(t, status.CurrentState.DailyLoss)
	assert.Zero(t, status.CurrentState.ConsecutiveLosses)
	assert.Empty(t, status.TriggerReason)
	assert.NotNil(t, status.LastResetAt)

	events := sink.ByAction(audit.ActionHardStopReset)
	require.Len(t, events, 1)
	assert.Equal(t, "ops1", events[0].ActorID)
	assert.Equal(t, "limits reviewed with risk desk", events[0].Metadata["reason"])
}

func TestResetFailsClosedWhenAuditUnavailable(t *testing.T) {
	repo := memory.NewHardStopRepo()
	m := hardstop.NewMachine(repo, audit.NewSinkRecorder(failingSink{err: errors.New("sink down")}))
	ctx := context.Background()

	_, tripped, err := m.RecordOutcome(ctx, loss(2000), testLimits)
	require.NoError(t, err) // trip path is fail-open
	require.True(t, tripped)

	_, err = m.Reset(ctx, "attempted reset", policy.Actor{ID: "admin1", Role: policy.RoleAdmin})
	require.Error(t, err)
	assert.True(t, policy.IsKind(err, policy.KindAuditUnavailable))

	// breaker stays tripped: the reset was rejected before touching state
	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsActive)
}

// raceRepo injects a state change right before the next Update commits,
// standing in for an outcome event landing while a reset is in flight
type raceRepo struct {
	inner  *memory.HardStopRepo
	inject func()
	once   sync.Once
}

func (r *raceRepo) Load(ctx context.Context) (hardstop.State, error) {
	return r.inner.Load(ctx)
}

func (r *raceRepo) Update(ctx context.Context, fn func(hardstop.State) (hardstop.State, error)) (hardstop.State, error) {
	r.once.Do(r.inject)
	return r.inner.Update(ctx, fn)
}

func TestResetAuditsExactPreviousStateUnderRacingOutcomes(t *testing.T) {
	inner := memory.NewHardStopRepo()
	sink := audit.NewMemorySink()
	recorder := audit.NewSinkRecorder(sink)

	seed := hardstop.NewMachine(inner, recorder)
	ctx := context.Background()
	_, tripped, err := seed.RecordOutcome(ctx, loss(1200), testLimits)
	require.NoError(t, err)
	require.True(t, tripped)

	repo := &raceRepo{inner: inner}
	repo.inject = func() {
		_, _, err := seed.RecordOutcome(ctx, loss(300), testLimits)
		require.NoError(t, err)
	}
	m := hardstop.NewMachine(repo, recorder)

	receipt, err := m.Reset(ctx, "reviewed", policy.Actor{ID: "ops1", Role: policy.RoleOps})
	require.NoError(t, err)

	// both the receipt and the audit record carry the late outcome
	assert.True(t, receipt.PreviousState.DailyLoss.Equal(decimal.NewFromInt(1500)))

	events := sink.ByAction(audit.ActionHardStopReset)
	require.Len(t, events, 1)
	audited, ok := events[0].Metadata["previous_state"].(hardstop.State)
	require.True(t, ok)
	assert.True(t, audited.DailyLoss.Equal(decimal.NewFromInt(1500)),
		"audited previous state must include the racing outcome, got %s", audited.DailyLoss.String())
}

func TestRecordOutcomeRejectsNegativeInput(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	_, _, err := m.RecordOutcome(ctx, loss(-5), testLimits)
	require.Error(t, err)
	assert.True(t, policy.IsKind(err, policy.KindValidation))

	bad := loss(10)
	bad.BankrollPercent = -1
	_, _, err = m.RecordOutcome(ctx, bad, testLimits)
	require.Error(t, err)
	assert.True(t, policy.IsKind(err, policy.KindValidation))
}

func TestConcurrentOutcomesNeverLoseATrip(t *testing.T) {
	m, repo, _ := newTestMachine()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.RecordOutcome(ctx, loss(100), testLimits)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsActive)
	assert.True(t, state.DailyLoss.Equal(decimal.NewFromInt(2000)),
		"expected 2000, got %s", state.DailyLoss.String())
	assert.Equal(t, int64(20), state.Revision)
}

func TestStatusRecommendedAction(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	status, err := m.Status(ctx, testLimits)
	require.NoError(t, err)
	assert.Equal(t, "normal operation", status.RecommendedAction)

	_, _, err = m.RecordOutcome(ctx, loss(1500), testLimits)
	require.NoError(t, err)

	status, err = m.Status(ctx, testLimits)
	require.NoError(t, err)
	assert.Equal(t, "halt all picks until reset by an authorized operator", status.RecommendedAction)
	assert.WithinDuration(t, time.Now(), *status.TriggeredAt, 5*time.Second)
}
