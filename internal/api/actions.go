package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"go.uber.org/zap"
)

// GET /api/v1/actions?status=queued&limit=50
func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	status := domain.ActionStatus(r.URL.Query().Get("status"))
	actions, err := s.deps.Actions.ListActions(r.Context(), status, limitParam(r))
	if err != nil {
		s.logger.Error("list actions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch actions")
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// GET /api/v1/actions/{id}
func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Actions.GetAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrActionNotFound) {
			writeError(w, http.StatusNotFound, "action not found")
			return
		}
		s.logger.Error("get action failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch action")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// POST /api/v1/actions/{id}/cancel — только для pending/queued
func (s *Server) cancelAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.deps.Actions.UpdateActionStatus(r.Context(), id, domain.ActionCancelled)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrActionNotFound):
		writeError(w, http.StatusNotFound, "action not found")
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("cancel action failed", zap.String("action_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel action")
	}
}

// GET /api/v1/violations?limit=50
func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	vs, err := s.deps.Violations.RecentViolations(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("list violations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch violations")
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

// POST /api/v1/metrics — прием строк метрик (источник postgres)
func (s *Server) ingestMetrics(w http.ResponseWriter, r *http.Request) {
	var samples []domain.MetricSample
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	now := time.Now().UTC()
	for i := range samples {
		if samples[i].Name == "" {
			writeError(w, http.StatusBadRequest, "metric name is required")
			return
		}
		if samples[i].RecordedAt.IsZero() {
			samples[i].RecordedAt = now
		}
	}
	if len(samples) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.deps.Metrics.InsertMetrics(r.Context(), samples); err != nil {
		s.logger.Error("metric ingestion failed", zap.Int("count", len(samples)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store metrics")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(samples)})
}
