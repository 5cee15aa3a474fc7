package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsforge/pickgate/internal/audit"
	"github.com/oddsforge/pickgate/internal/engine"
	"github.com/oddsforge/pickgate/internal/hardstop"
	"github.com/oddsforge/pickgate/internal/persistence"
	"github.com/oddsforge/pickgate/internal/persistence/memory"
	"github.com/oddsforge/pickgate/internal/policy"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	recorder := audit.NewSinkRecorder(audit.NewMemorySink())

	versions := policy.NewVersionStore(memory.NewVersionRepo(), recorder)
	_, err := versions.CreateVersion(context.Background(), *policy.DefaultConfig(), "bootstrap")
	require.NoError(t, err)

	eng := engine.New(versions, hardstop.NewMachine(memory.NewHardStopRepo(), recorder),
		memory.NewDecisionRepo(), recorder)

	return NewServer(DefaultServerConfig(), eng, nil, NewMetricsRegistry())
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func opsHeaders() map[string]string {
	return map[string]string{headerActorID: "ops1", headerActorRole: "ops"}
}

func adminHeaders() map[string]string {
	return map[string]string{headerActorID: "admin1", headerActorRole: "admin"}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestEvaluateEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/v1/evaluate", map[string]interface{}{
		"matchId":    "match-1",
		"confidence": 0.78,
		"edge":       0.052,
		"driftScore": 0.05,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var d persistence.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "PICK", string(d.Status))
	assert.Len(t, d.GateResults, 4)
}

func TestEvaluateValidationMapsTo400(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/v1/evaluate", map[string]interface{}{
		"matchId":    "match-1",
		"confidence": 1.7,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}

func TestEvaluateMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/v1/evaluate", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionLookup(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/v1/evaluate", map[string]interface{}{
		"matchId":    "match-1",
		"confidence": 0.78,
		"driftScore": 0.01,
		"traceId":    "trace-xyz",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "GET", "/v1/decisions/trace-xyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "GET", "/v1/decisions/unknown-trace", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestOutcomeTripsBreakerAndBlocksPicks(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/v1/outcomes", map[string]interface{}{
		"matchId":    "match-1",
		"won":        false,
		"lossAmount": 1500.0,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tripped":true`)

	rec = doRequest(t, s, "POST", "/v1/evaluate", map[string]interface{}{
		"matchId":    "match-2",
		"confidence": 0.95,
		"driftScore": 0.01,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var d persistence.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "HARD_STOP", string(d.Status))
}

func TestHardStopResetAuthz(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{"reason": "reviewed"}

	t.Run("default role is forbidden", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/hardstop/reset", body, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "ACCESS_DENIED")
	})

	t.Run("user role is forbidden", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/hardstop/reset", body,
			map[string]string{headerActorID: "u1", headerActorRole: "user"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("ops role succeeds", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/hardstop/reset", body, opsHeaders())
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"reset":true`)
	})

	t.Run("missing reason is rejected", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/hardstop/reset", map[string]string{}, opsHeaders())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHardStopStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "GET", "/v1/hardstop/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isActive":false`)
	assert.Contains(t, rec.Body.String(), "normal operation")
}

func TestConfigEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("get active config", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/policy/config", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var cfg policy.Config
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
		assert.Equal(t, 0.60, cfg.ConfidenceThreshold)
	})

	t.Run("create requires writer role", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/policy/config", policy.DefaultConfig(), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("create as ops", func(t *testing.T) {
		cfg := policy.DefaultConfig()
		cfg.Version = "1.1.0"
		rec := doRequest(t, s, "POST", "/v1/policy/config", cfg, opsHeaders())
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("history lists both versions", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/policy/history", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var history []policy.Version
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
		assert.Len(t, history, 2)
	})
}

func TestRestoreEndpoint(t *testing.T) {
	s := newTestServer(t)

	// create a weak version first, then a strong live one
	weak := policy.DefaultConfig()
	weak.HardStopEnabled = false
	weak.Version = "0.9.0"
	rec := doRequest(t, s, "POST", "/v1/policy/config", weak, opsHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	var weakV policy.Version
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &weakV))

	strong := policy.DefaultConfig()
	strong.Version = "1.1.0"
	rec = doRequest(t, s, "POST", "/v1/policy/config", strong, opsHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("non-admin forbidden", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/policy/restore/"+weakV.VersionID, nil, opsHeaders())
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("ratchet violation is 403 and counted", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/policy/restore/"+weakV.VersionID, nil, adminHeaders())
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "HARD_STOP_VIOLATION")
		assert.Equal(t, 1.0, counterValue(t, s.metrics, "pickgate_hard_stop_bypass_attempts_total"))
	})

	t.Run("unknown version is 404", func(t *testing.T) {
		rec := doRequest(t, s, "POST", "/v1/policy/restore/nope", nil, adminHeaders())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestExportEndpoint(t *testing.T) {
	s := newTestServer(t)

	t.Run("json default", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/policy/export", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})

	t.Run("csv attachment", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/policy/export?format=csv", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "policy_history.csv")
		assert.Contains(t, rec.Body.String(), "version_id")
	})

	t.Run("unknown format is 400", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/v1/policy/export?format=xml", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMutationRateLimit(t *testing.T) {
	s := newTestServer(t)

	var saw429 bool
	for i := 0; i < 30; i++ {
		cfg := policy.DefaultConfig()
		cfg.Version = fmt.Sprintf("1.0.%d", i)
		rec := doRequest(t, s, "POST", "/v1/policy/config", cfg, opsHeaders())
		if rec.Code == http.StatusTooManyRequests {
			saw429 = true
			break
		}
	}
	assert.True(t, saw429, "burst of mutations should hit the rate limit")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "POST", "/v1/evaluate", map[string]interface{}{
		"matchId":    "match-1",
		"confidence": 0.78,
		"driftScore": 0.01,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1.0, counterValueLabeled(t, s.metrics,
		"pickgate_evaluations_total", "status", "PICK"))

	rec = doRequest(t, s, "GET", "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pickgate_evaluations_total")
}

func gatherFamily(t *testing.T, m *MetricsRegistry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(t *testing.T, m *MetricsRegistry, name string) float64 {
	mf := gatherFamily(t, m, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetCounter().GetValue()
}

func counterValueLabeled(t *testing.T, m *MetricsRegistry, name, label, value string) float64 {
	mf := gatherFamily(t, m, name)
	if mf == nil {
		return 0
	}
	for _, metric := range mf.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
