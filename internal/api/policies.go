package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/policy"
)

// EvaluateRequest: снимок метрик для пробного прогона
type EvaluateRequest struct {
	Metrics domain.Metrics `json:"metrics"`
	Target  string         `json:"target,omitempty"`
}

// GET /api/v1/policies
func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Registry().Records())
}

// GET /api/v1/policies/{name}
func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.deps.Engine.Registry().Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p.Record())
}

// DELETE /api/v1/policies/{name}
func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	s.policyCommand(w, r, s.deps.Engine.Registry().Unregister)
}

// POST /api/v1/policies/{name}/enable
func (s *Server) enablePolicy(w http.ResponseWriter, r *http.Request) {
	s.policyCommand(w, r, s.deps.Engine.Registry().Enable)
}

// POST /api/v1/policies/{name}/disable
func (s *Server) disablePolicy(w http.ResponseWriter, r *http.Request) {
	s.policyCommand(w, r, s.deps.Engine.Registry().Disable)
}

func (s *Server) policyCommand(w http.ResponseWriter, r *http.Request, cmd func(name string) error) {
	name := chi.URLParam(r, "name")
	if err := cmd(name); err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			writeError(w, http.StatusNotFound, "policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/evaluate — только условия: ничего не пишется и не ставится в очередь
func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Metrics) == 0 {
		writeError(w, http.StatusBadRequest, "metrics snapshot is empty")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Engine.Preview(r.Context(), req.Metrics, req.Target))
}
