package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/oddsforge/pickgate/internal/engine"
	"github.com/oddsforge/pickgate/internal/hardstop"
	"github.com/oddsforge/pickgate/internal/policy"
)

// Actor identity is supplied by the upstream auth layer through headers.
// This service trusts its ingress; it performs capability checks, not
// authentication.
const (
	headerActorID   = "X-Actor-Id"
	headerActorRole = "X-Actor-Role"
)

func actorFrom(r *http.Request) policy.Actor {
	role := policy.Role(r.Header.Get(headerActorRole))
	if role == "" {
		role = policy.RoleUser
	}
	return policy.Actor{
		ID:   r.Header.Get(headerActorID),
		Role: role,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(code, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{"code": code, "message": message},
	}
}

// writeError maps the engine's typed error kinds to status codes
func writeError(w http.ResponseWriter, err error) {
	var pe *policy.Error
	status := http.StatusInternalServerError
	code := "INTERNAL"

	if e, ok := err.(*policy.Error); ok {
		pe = e
	}
	if pe != nil {
		code = string(pe.Code)
		switch pe.Kind {
		case policy.KindValidation:
			status = http.StatusBadRequest
		case policy.KindForbidden, policy.KindHardStopViolation:
			status = http.StatusForbidden
		case policy.KindNotFound:
			status = http.StatusNotFound
		case policy.KindAuditUnavailable:
			status = http.StatusServiceUnavailable
		}
	}

	body := errorBody(code, err.Error())
	if pe != nil && pe.Details != nil {
		body["error"].(map[string]interface{})["details"] = pe.Details
	}
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var in engine.PredictionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, policy.NewValidationError("body", "invalid request body: %v", err))
		return
	}

	start := time.Now()
	decision, err := s.engine.Evaluate(r.Context(), in)
	if err != nil {
		s.metrics.EvaluationErrors.Inc()
		writeError(w, err)
		return
	}

	s.metrics.ObserveEvaluation(decision, time.Since(start))
	writeJSON(w, http.StatusOK, decision)
}

type outcomeRequest struct {
	MatchID         string  `json:"matchId"`
	TraceID         string  `json:"traceId,omitempty"`
	Won             bool    `json:"won"`
	LossAmount      float64 `json:"lossAmount"`
	BankrollPercent float64 `json:"bankrollPercent"`
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, policy.NewValidationError("body", "invalid request body: %v", err))
		return
	}

	state, tripped, err := s.engine.RecordOutcome(r.Context(), hardstop.Outcome{
		MatchID:         req.MatchID,
		TraceID:         req.TraceID,
		Won:             req.Won,
		LossAmount:      decimal.NewFromFloat(req.LossAmount),
		BankrollPercent: req.BankrollPercent,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if tripped {
		s.metrics.HardStopTrips.Inc()
	}
	s.metrics.SetHardStopActive(state.IsActive)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":   state,
		"tripped": tripped,
	})
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["traceId"]
	decision, err := s.engine.Decisions().GetByTraceID(r.Context(), traceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleHardStopStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.HardStopStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.SetHardStopActive(report.IsActive)
	writeJSON(w, http.StatusOK, report)
}

type resetRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHardStopReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, policy.NewValidationError("body", "invalid request body: %v", err))
		return
	}

	receipt, err := s.engine.ResetHardStop(r.Context(), req.Reason, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}

	s.metrics.HardStopResets.Inc()
	s.metrics.SetHardStopActive(false)
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Versions().ActiveConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg policy.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, policy.NewValidationError("body", "invalid request body: %v", err))
		return
	}

	v, err := s.engine.CreateConfigVersion(r.Context(), cfg, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	history, err := s.engine.Versions().ListHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	versionID := mux.Vars(r)["versionId"]

	v, err := s.engine.RestoreConfigVersion(r.Context(), versionID, actorFrom(r))
	if err != nil {
		if policy.IsKind(err, policy.KindHardStopViolation) {
			s.metrics.BypassAttempts.Inc()
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := policy.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = policy.ExportJSON
	}

	blob, err := s.engine.Versions().ExportHistory(r.Context(), format)
	if err != nil {
		writeError(w, err)
		return
	}

	switch format {
	case policy.ExportCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="policy_history.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}
