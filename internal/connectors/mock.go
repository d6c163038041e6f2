package connectors

import (
	"encoding/json"
	"math/rand/v2" // Используем v2 для Go 1.25
	"net/http"
	"sync/atomic"
	"time"

	"github.com/xela07ax/spaceai-autoheal/internal/policy"
	"go.uber.org/zap"
)

// UnstableAction: действие, на которое мок всегда отвечает 500
const UnstableAction = "unstable"

// MockRemediator: имитация внешнего исполнителя: POST /remediate.
// Известные встроенные действия -> 200, "unstable" -> 500, остальное -> 422.
type MockRemediator struct {
	MinLatency time.Duration
	MaxLatency time.Duration
	Logger     *zap.Logger

	handled atomic.Int64
}

func NewMockRemediator(minLatency, maxLatency time.Duration, logger *zap.Logger) *MockRemediator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockRemediator{MinLatency: minLatency, MaxLatency: maxLatency, Logger: logger.Named("mock")}
}

// Handled: сколько запросов обработано
func (m *MockRemediator) Handled() int64 { return m.handled.Load() }

func (m *MockRemediator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/remediate" {
		http.NotFound(w, r)
		return
	}

	var req RemediationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	m.handled.Add(1)

	// Имитируем задержку
	select {
	case <-time.After(m.latency()):
	case <-r.Context().Done():
		return
	}

	m.Logger.Info("remediation request",
		zap.String("request_id", r.Header.Get("X-Request-ID")),
		zap.String("action", req.Action),
		zap.String("target", req.Target))

	switch {
	case req.Action == UnstableAction:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "executor internal error"})
	case policy.IsBuiltin(policy.ActionKind(req.Action)):
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "executed",
			"action":     req.Action,
			"target":     req.Target,
			"action_id":  req.ActionID,
			"request_id": req.RequestID,
		})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "action " + req.Action + " not supported"})
	}
}

func (m *MockRemediator) latency() time.Duration {
	if m.MaxLatency <= m.MinLatency {
		return m.MinLatency
	}
	// В v2 используется rand.Int64N
	return m.MinLatency + time.Duration(rand.Int64N(int64(m.MaxLatency-m.MinLatency)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
