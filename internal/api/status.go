package api

import (
	"net/http"

	"go.uber.org/zap"
)

// GET /api/v1/queue/stats
func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /api/v1/workers
func (s *Server) workers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Workers.Statuses())
}

// GET /api/v1/runner
func (s *Server) runnerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Status())
}
