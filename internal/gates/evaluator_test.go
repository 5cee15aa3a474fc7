package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsforge/pickgate/internal/policy"
)

func testConfig() *policy.Config {
	cfg := policy.DefaultConfig()
	cfg.ConfidenceThreshold = 0.60
	cfg.EdgeThreshold = 0.03
	cfg.DriftThreshold = 0.10
	cfg.HardStopEnabled = true
	return cfg
}

func floatPtr(v float64) *float64 { return &v }

func TestEvaluateConfidence(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name       string
		confidence float64
		wantPass   bool
	}{
		{"above threshold", 0.78, true},
		{"exactly at threshold", 0.60, true},
		{"just below threshold", 0.5999, false},
		{"well below threshold", 0.42, false},
		{"zero", 0, false},
		{"perfect", 1.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := EvaluateConfidence(tt.confidence, cfg)
			assert.Equal(t, GateConfidence, r.Gate)
			assert.Equal(t, tt.confidence, r.Value)
			assert.Equal(t, cfg.ConfidenceThreshold, r.Threshold)
			assert.Equal(t, tt.wantPass, r.Passed)
			assert.False(t, r.Skipped)
		})
	}
}

func TestEvaluateEdge(t *testing.T) {
	cfg := testConfig()

	t.Run("above threshold passes", func(t *testing.T) {
		r := EvaluateEdge(floatPtr(0.052), cfg)
		assert.True(t, r.Passed)
		assert.False(t, r.Skipped)
		assert.Equal(t, 0.052, r.Value)
	})

	t.Run("exactly at threshold passes", func(t *testing.T) {
		r := EvaluateEdge(floatPtr(0.03), cfg)
		assert.True(t, r.Passed)
	})

	t.Run("below threshold fails", func(t *testing.T) {
		r := EvaluateEdge(floatPtr(0.02), cfg)
		assert.False(t, r.Passed)
		assert.False(t, r.Skipped)
	})

	t.Run("negative edge fails the gate without erroring", func(t *testing.T) {
		r := EvaluateEdge(floatPtr(-0.04), cfg)
		assert.False(t, r.Passed)
		assert.False(t, r.Skipped)
		assert.Equal(t, -0.04, r.Value)
	})

	t.Run("nil edge is skipped and never blocks", func(t *testing.T) {
		r := EvaluateEdge(nil, cfg)
		assert.True(t, r.Passed)
		assert.True(t, r.Skipped)
		assert.Equal(t, "edge not computed upstream", r.Reason)
	})
}

func TestEvaluateDrift(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name     string
		drift    float64
		wantPass bool
	}{
		{"below threshold", 0.05, true},
		{"exactly at threshold", 0.10, true},
		{"above threshold", 0.15, false},
		{"zero drift", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := EvaluateDrift(tt.drift, cfg)
			assert.Equal(t, tt.wantPass, r.Passed)
			assert.Equal(t, tt.drift, r.Value)
		})
	}
}

func TestEvaluateHardStop(t *testing.T) {
	cfg := testConfig()

	t.Run("inactive passes", func(t *testing.T) {
		r := EvaluateHardStop(HardStopStatus{}, cfg)
		assert.True(t, r.Passed)
	})

	t.Run("active fails with reason", func(t *testing.T) {
		r := EvaluateHardStop(HardStopStatus{Active: true, Reason: "daily loss limit exceeded (1500.00 >= 1000.00)"}, cfg)
		assert.False(t, r.Passed)
		assert.Equal(t, float64(1), r.Value)
		assert.Equal(t, "daily loss limit exceeded (1500.00 >= 1000.00)", r.Reason)
	})

	t.Run("disabled breaker never fails", func(t *testing.T) {
		disabled := testConfig()
		disabled.HardStopEnabled = false
		r := EvaluateHardStop(HardStopStatus{Active: true, Reason: "anything"}, disabled)
		assert.True(t, r.Passed)
	})
}

func TestEvaluateOrderAndPurity(t *testing.T) {
	cfg := testConfig()
	p := Prediction{Confidence: 0.78, Edge: floatPtr(0.052), DriftScore: 0.05}

	first, err := Evaluate(p, cfg, HardStopStatus{})
	require.NoError(t, err)
	require.Len(t, first, 4)

	assert.Equal(t, GateConfidence, first[0].Gate)
	assert.Equal(t, GateEdge, first[1].Gate)
	assert.Equal(t, GateDrift, first[2].Gate)
	assert.Equal(t, GateHardStop, first[3].Gate)

	// same inputs must reproduce the exact same results
	second, err := Evaluate(p, cfg, HardStopStatus{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluateRejectsMalformedInput(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name      string
		p         Prediction
		wantField string
	}{
		{"confidence below zero", Prediction{Confidence: -0.1}, "confidence"},
		{"confidence above one", Prediction{Confidence: 1.1}, "confidence"},
		{"edge above one", Prediction{Confidence: 0.7, Edge: floatPtr(1.5)}, "edge"},
		{"negative drift", Prediction{Confidence: 0.7, DriftScore: -1}, "driftScore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := Evaluate(tt.p, cfg, HardStopStatus{})
			require.Error(t, err)
			assert.Nil(t, results)
			assert.True(t, policy.IsKind(err, policy.KindValidation))

			var perr *policy.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantField, perr.Field)
		})
	}

	t.Run("nil config", func(t *testing.T) {
		_, err := Evaluate(Prediction{Confidence: 0.7}, nil, HardStopStatus{})
		require.Error(t, err)
		assert.True(t, policy.IsKind(err, policy.KindValidation))
	})
}
