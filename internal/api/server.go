package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/policy"
	"github.com/xela07ax/spaceai-autoheal/internal/runner"
	"github.com/xela07ax/spaceai-autoheal/internal/worker"
	"go.uber.org/zap"
)

// QueueReader: read model очереди
type QueueReader interface {
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// WorkerReader: снимки воркеров
type WorkerReader interface {
	Statuses() []worker.Status
}

// RunnerReader: снимок управляющего цикла
type RunnerReader interface {
	Status() runner.Status
}

// ActionStore: чтение и отмена записей Action
type ActionStore interface {
	GetAction(ctx context.Context, id string) (*domain.Action, error)
	ListActions(ctx context.Context, status domain.ActionStatus, limit int) ([]*domain.Action, error)
	UpdateActionStatus(ctx context.Context, id string, status domain.ActionStatus) error
}

// ViolationReader: журнал нарушений
type ViolationReader interface {
	RecentViolations(ctx context.Context, limit int) ([]domain.Violation, error)
}

// MetricWriter: прием метрик в хранилище
type MetricWriter interface {
	InsertMetrics(ctx context.Context, samples []domain.MetricSample) error
}

// HoldStore: ручная приостановка ремедиаций
type HoldStore interface {
	List() []string
	Hold(ctx context.Context, target string) error
	Release(ctx context.Context, target string) error
}

// Checker: проверка зависимости для /health
type Checker func(ctx context.Context) error

// Deps: зависимости сервера. Nil-поле отключает соответствующие маршруты.
type Deps struct {
	Engine     *policy.Engine
	Queue      QueueReader
	Workers    WorkerReader
	Runner     RunnerReader
	Actions    ActionStore
	Violations ViolationReader
	Metrics    MetricWriter
	Holds      HoldStore
	Gatherer   prometheus.Gatherer
	Checks     map[string]Checker
}

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	deps   Deps
}

// NewServer собирает роутер API
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router: chi.NewRouter(),
		logger: logger.Named("api"),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.deps.Queue != nil {
			r.Get("/queue/stats", s.queueStats)
		}
		if s.deps.Workers != nil {
			r.Get("/workers", s.workers)
		}
		if s.deps.Runner != nil {
			r.Get("/runner", s.runnerStatus)
		}
		if s.deps.Engine != nil {
			r.Route("/policies", func(r chi.Router) {
				r.Get("/", s.listPolicies)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", s.getPolicy)
					r.Delete("/", s.deletePolicy)
					r.Post("/enable", s.enablePolicy)
					r.Post("/disable", s.disablePolicy)
				})
			})
			r.Post("/evaluate", s.evaluate)
		}
		if s.deps.Actions != nil {
			r.Route("/actions", func(r chi.Router) {
				r.Get("/", s.listActions)
				r.Get("/{id}", s.getAction)
				r.Post("/{id}/cancel", s.cancelAction)
			})
		}
		if s.deps.Violations != nil {
			r.Get("/violations", s.listViolations)
		}
		if s.deps.Metrics != nil {
			r.Post("/metrics", s.ingestMetrics)
		}
		if s.deps.Holds != nil {
			r.Route("/holds", func(r chi.Router) {
				r.Get("/", s.listHolds)
				r.Put("/{target}", s.hold)
				r.Delete("/{target}", s.release)
			})
		}
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger: access-лог в zap вместо стандартного middleware.Logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}
