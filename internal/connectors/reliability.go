package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityConfig: параметры лимитера и предохранителя
type ReliabilityConfig struct {
	Name          string
	RateLimit     float64
	Burst         int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBFailures    uint32
	// ThrottleAttempts: сколько раз повторять после 429. Другие ошибки не повторяются:
	// повтор неидемпотентной ремедиации мог бы применить ее дважды.
	ThrottleAttempts uint
}

func ReliabilityConfigFrom(cfg infra.ExecutorConfig) ReliabilityConfig {
	return ReliabilityConfig{
		Name:             "remediation-executor",
		RateLimit:        cfg.RateLimit,
		Burst:            cfg.Burst,
		CBMaxRequests:    cfg.CBMaxRequests,
		CBInterval:       cfg.CBInterval,
		CBTimeout:        cfg.CBTimeout,
		CBFailures:       cfg.CBFailures,
		ThrottleAttempts: 3,
	}
}

type ReliabilityWrapper struct {
	next     Executor
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	logger   *zap.Logger
}

func NewReliabilityWrapper(next Executor, cfg ReliabilityConfig, metrics *infra.Metrics, logger *zap.Logger) *ReliabilityWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	if cfg.CBFailures == 0 {
		cfg.CBFailures = 5
	}
	if cfg.ThrottleAttempts == 0 {
		cfg.ThrottleAttempts = 1
	}
	log := logger.Named("reliability")
	stateGauge := metrics.CircuitBreakerState.WithLabelValues(cfg.Name)
	stateGauge.Set(0)

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBFailures
		},
		// 4xx — ошибка запроса, а не отказ исполнителя
		IsSuccessful: func(err error) bool {
			var exErr *ExecutorError
			return err == nil || (errors.As(err, &exErr) && !exErr.Retriable())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			stateGauge.Set(float64(to))
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	// Лимитер: RateLimit <= 0 — без ограничения
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(limit, burst),
		attempts: cfg.ThrottleAttempts,
		logger:   log,
	}
}

// State: текущее состояние предохранителя
func (w *ReliabilityWrapper) State() gobreaker.State { return w.cb.State() }

func (w *ReliabilityWrapper) Execute(ctx context.Context, req RemediationRequest) (*RemediationResult, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var result *RemediationResult

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.LastErrorOnly(true),
			// Повторяем только явный отказ по нагрузке: исполнитель не начинал работу
			retry.RetryIf(func(err error) bool {
				var tErr *ThrottleError
				return errors.As(err, &tErr)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			var callErr error
			result, callErr = w.next.Execute(ctx, req)
			if callErr != nil {
				w.logger.Debug("executor call failed",
					zap.String("request_id", req.RequestID),
					zap.Error(callErr))
			}
			return callErr
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrExecutor, err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
