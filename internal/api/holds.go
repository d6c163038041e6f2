package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// GET /api/v1/holds
func (s *Server) listHolds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"holds": s.deps.Holds.List()})
}

// PUT /api/v1/holds/{target} — цель, шаблон или "*"
func (s *Server) hold(w http.ResponseWriter, r *http.Request) {
	s.holdCommand(w, r, s.deps.Holds.Hold)
}

// DELETE /api/v1/holds/{target}
func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	s.holdCommand(w, r, s.deps.Holds.Release)
}

func (s *Server) holdCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, target string) error) {
	target := chi.URLParam(r, "target")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if err := cmd(r.Context(), target); err != nil {
		s.logger.Error("hold update failed", zap.String("target", target), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to update hold")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
