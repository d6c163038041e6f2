package runner

/*
Policy Runner — управляющий цикл ремедиации.

Каждый тик: пачка метрик -> снимок (last-write-wins) -> Engine -> аудит нарушений ->
запись Action (queued) -> Task в очередь.

- Пустой снимок или ошибка записи/постановки — сбойный цикл, растит серию сбоев.
- Серия достигла MaxConsecutiveFailures — долгий сон FailureCooldown, затем серия обнуляется.
- Действие неизвестного вида (unknown_action) тоже уходит в очередь, принять или отклонить его решает исполнитель.
- Отмена кооперативная: текущий тик доводится до конца, новый не начинается.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"github.com/xela07ax/spaceai-autoheal/internal/policy"
	"github.com/xela07ax/spaceai-autoheal/internal/retry"
	"go.uber.org/zap"
)

var (
	ErrEmptySnapshot = errors.New("runner: metric snapshot is empty")
	ErrMetricSource  = errors.New("runner: metric source failed")
)

// MetricSource: откуда берутся строки метрик (Postgres или InfluxDB)
type MetricSource interface {
	RecentMetrics(ctx context.Context, limit int, lookback time.Duration) ([]domain.MetricSample, error)
}

// ActionStore: персистентность записей Action
type ActionStore interface {
	CreateAction(ctx context.Context, a *domain.Action) error
	UpdateActionStatus(ctx context.Context, id string, status domain.ActionStatus) error
}

// Enqueuer: очередь задач
type Enqueuer interface {
	Enqueue(ctx context.Context, task domain.Task) (domain.Task, error)
}

// HoldChecker: ручная приостановка ремедиаций по цели
type HoldChecker interface {
	IsHeld(target string) bool
}

// Auditor: журнал нарушений
type Auditor interface {
	Record(violations ...domain.Violation)
}

type Config struct {
	Interval               time.Duration
	BatchSize              int
	Lookback               time.Duration
	MaxConsecutiveFailures int
	FailureCooldown        time.Duration
	// Target: фильтр целей для Engine, пусто — все политики
	Target string
	// PersistRetry: повторы записи Action в хранилище
	PersistRetry retry.Policy
	// Holds: nil, если удержания не используются
	Holds HoldChecker
}

// TickReport: итог одного цикла
type TickReport struct {
	Metrics    int       `json:"metrics"`
	Violations int       `json:"violations"`
	Actions    int       `json:"actions"`
	Enqueued   int       `json:"enqueued"`
	Held       int       `json:"held"`
	At         time.Time `json:"at"`
}

// Status: снимок состояния раннера для API
type Status struct {
	Running       bool       `json:"running"`
	Iterations    int64      `json:"iterations"`
	FailureStreak int        `json:"failure_streak"`
	CoolingDown   bool       `json:"cooling_down"`
	LastTick      *time.Time `json:"last_tick,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastReport    TickReport `json:"last_report"`
}

type Runner struct {
	cfg     Config
	source  MetricSource
	engine  *policy.Engine
	store   ActionStore
	queue   Enqueuer
	audit   Auditor
	logger  *zap.Logger
	metrics *infra.Metrics

	// подменяются в тестах
	sleep func(ctx context.Context, d time.Duration) bool
	newID func() string
	now   func() time.Time

	mu     sync.RWMutex
	status Status
}

func New(cfg Config, source MetricSource, engine *policy.Engine, store ActionStore, queue Enqueuer,
	audit Auditor, logger *zap.Logger, metrics *infra.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	log := logger.Named("runner")
	cfg.PersistRetry.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("action persistence failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return &Runner{
		cfg:     cfg,
		source:  source,
		engine:  engine,
		store:   store,
		queue:   queue,
		audit:   audit,
		logger:  log,
		metrics: metrics,
		sleep:   sleepCtx,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Status: копия текущего состояния
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Run крутит цикл до отмены ctx. Первый тик — сразу.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("policy runner started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Int("max_consecutive_failures", r.cfg.MaxConsecutiveFailures))
	r.setRunning(true)
	defer r.setRunning(false)

	for ctx.Err() == nil {
		// Тик не прерываем: отмена учитывается только между тиками
		report, err := r.Tick(context.WithoutCancel(ctx))
		streak := r.recordCycle(report, err)

		wait := r.cfg.Interval
		if streak >= r.cfg.MaxConsecutiveFailures {
			r.logger.Error("too many consecutive failed cycles, cooling down",
				zap.Int("streak", streak),
				zap.Duration("cooldown", r.cfg.FailureCooldown))
			r.setCoolingDown(true)
			slept := r.sleep(ctx, r.cfg.FailureCooldown)
			r.setCoolingDown(false)
			r.resetStreak()
			if !slept {
				break
			}
			continue
		}
		if !r.sleep(ctx, wait) {
			break
		}
	}

	r.logger.Info("policy runner stopped", zap.Int64("iterations", r.Status().Iterations))
	return nil
}

// Tick: один полный цикл. Ошибка означает сбойный цикл; частичные результаты есть в отчете.
func (r *Runner) Tick(ctx context.Context) (TickReport, error) {
	report := TickReport{At: r.now()}

	samples, err := r.source.RecentMetrics(ctx, r.cfg.BatchSize, r.cfg.Lookback)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrMetricSource, err)
	}
	snapshot := domain.LatestByName(samples)
	report.Metrics = len(snapshot)
	if len(snapshot) == 0 {
		return report, ErrEmptySnapshot
	}

	result := r.engine.Evaluate(ctx, snapshot, r.cfg.Target)
	report.Violations = len(result.Violations)
	if len(result.Violations) > 0 && r.audit != nil {
		r.audit.Record(result.Violations...)
	}

	var errs []error
	for _, res := range result.ActionsTriggered {
		if r.cfg.Holds != nil && r.cfg.Holds.IsHeld(res.Target) {
			// нарушение уже в аудите, действие не создаем
			report.Held++
			r.logger.Info("remediation held",
				zap.String("policy", res.PolicyName),
				zap.String("action", res.Action),
				zap.String("target", res.Target))
			continue
		}
		report.Actions++
		if err := r.submit(ctx, res); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Enqueued++
	}

	r.logger.Debug("tick finished",
		zap.Int("metrics", report.Metrics),
		zap.Int("violations", report.Violations),
		zap.Int("enqueued", report.Enqueued),
		zap.Int("held", report.Held))
	return report, errors.Join(errs...)
}

// submit: запись Action со статусом queued и постановка Task
func (r *Runner) submit(ctx context.Context, res policy.ActionResult) error {
	action := &domain.Action{
		ID:         r.newID(),
		PolicyName: res.PolicyName,
		Kind:       res.Action,
		Target:     res.Target,
		Severity:   res.Severity,
		Status:     domain.ActionQueued,
		Params:     res.Params,
	}

	err := retry.Do(ctx, r.cfg.PersistRetry, func(ctx context.Context) error {
		return r.store.CreateAction(ctx, action)
	})
	if err != nil {
		r.metrics.ErrorTotal.WithLabelValues("action_persist").Inc()
		return fmt.Errorf("persist action for %s: %w", res.PolicyName, err)
	}

	task, err := r.queue.Enqueue(ctx, domain.Task{
		ActionID: action.ID,
		PolicyID: res.PolicyName,
		Target:   res.Target,
		Action:   res.Action,
		Severity: res.Severity,
	})
	if err != nil {
		// Запись без задачи никто не выполнит — закрываем ее как failed
		if uerr := r.store.UpdateActionStatus(ctx, action.ID, domain.ActionFailed); uerr != nil {
			r.logger.Error("failed to mark orphaned action", zap.String("action_id", action.ID), zap.Error(uerr))
		}
		return fmt.Errorf("enqueue action %s: %w", action.ID, err)
	}

	r.logger.Info("remediation enqueued",
		zap.String("policy", res.PolicyName),
		zap.String("action", res.Action),
		zap.String("target", res.Target),
		zap.String("action_id", action.ID),
		zap.String("task_id", task.TaskID))
	return nil
}

// recordCycle обновляет серию сбоев и возвращает ее текущую длину
func (r *Runner) recordCycle(report TickReport, err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.Iterations++
	at := report.At
	r.status.LastTick = &at
	r.status.LastReport = report

	if err == nil {
		r.status.FailureStreak = 0
		r.status.LastError = ""
		r.metrics.FailureStreak.Set(0)
		return 0
	}

	r.status.FailureStreak++
	r.status.LastError = err.Error()
	r.metrics.CycleFailures.Inc()
	r.metrics.FailureStreak.Set(float64(r.status.FailureStreak))
	r.logger.Warn("policy runner cycle failed",
		zap.Int("streak", r.status.FailureStreak),
		zap.Error(err))
	return r.status.FailureStreak
}

func (r *Runner) resetStreak() {
	r.mu.Lock()
	r.status.FailureStreak = 0
	r.mu.Unlock()
	r.metrics.FailureStreak.Set(0)
}

func (r *Runner) setRunning(v bool) {
	r.mu.Lock()
	r.status.Running = v
	r.mu.Unlock()
}

func (r *Runner) setCoolingDown(v bool) {
	r.mu.Lock()
	r.status.CoolingDown = v
	r.mu.Unlock()
}
