package worker

/*
Worker снимает задачи из очереди и отправляет их внешнему исполнителю.

- Один цикл = один Dequeue (ограниченное ожидание) + одна диспетчеризация (свой таймаут).
- Ошибка одной задачи (транспорт, код >= 300, паника) не останавливает цикл.
- Исход пишется в счетчики очереди и в статус Action: running -> completed|failed.
- При отмене ctx текущая задача доводится до конца, новая не снимается.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-autoheal/internal/connectors"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"github.com/xela07ax/spaceai-autoheal/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultDequeueTimeout  = 5 * time.Second
	defaultDispatchTimeout = 30 * time.Second
	defaultErrorBackoff    = time.Second
)

// TaskQueue: то, что воркеру нужно от очереди
type TaskQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*domain.Task, error)
	IncrementCompleted(ctx context.Context)
	IncrementFailed(ctx context.Context)
}

// ActionUpdater: обновление статуса записи Action
type ActionUpdater interface {
	UpdateActionStatus(ctx context.Context, id string, status domain.ActionStatus) error
}

type Config struct {
	ID              string
	DequeueTimeout  time.Duration
	DispatchTimeout time.Duration // должен быть больше DequeueTimeout
	ErrorBackoff    time.Duration // пауза после ошибки бэкенда очереди
}

// Status: снимок состояния воркера
type Status struct {
	ID            string     `json:"id"`
	Running       bool       `json:"running"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	Processed     int64      `json:"tasks_processed"`
	Failed        int64      `json:"tasks_failed"`
	SuccessRate   float64    `json:"success_rate"`
}

type Worker struct {
	cfg      Config
	queue    TaskQueue
	actions  ActionUpdater
	executor connectors.Executor
	logger   *zap.Logger
	metrics  *infra.Metrics
	now      func() time.Time

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
	processed atomic.Int64
	failed    atomic.Int64
}

func New(cfg Config, q TaskQueue, actions ActionUpdater, executor connectors.Executor, logger *zap.Logger, metrics *infra.Metrics) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker-1"
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = defaultDequeueTimeout
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Worker{
		cfg:      cfg,
		queue:    q,
		actions:  actions,
		executor: executor,
		logger:   logger.Named("worker").With(zap.String("worker_id", cfg.ID)),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run: основной цикл до отмены ctx
func (w *Worker) Run(ctx context.Context) error {
	started := w.now()
	w.startedAt.Store(&started)
	w.running.Store(true)
	defer w.running.Store(false)

	w.logger.Info("worker started",
		zap.Duration("dequeue_timeout", w.cfg.DequeueTimeout),
		zap.Duration("dispatch_timeout", w.cfg.DispatchTimeout))

	for ctx.Err() == nil {
		// Снятую задачу нельзя бросить: отмена не должна прерывать BLPOP и диспетчеризацию
		_, err := w.ProcessOne(context.WithoutCancel(ctx))
		if err == nil || errors.Is(err, queue.ErrMalformedTask) {
			continue
		}
		w.logger.Error("dequeue failed", zap.Error(err))
		select {
		case <-time.After(w.cfg.ErrorBackoff):
		case <-ctx.Done():
		}
	}

	w.logger.Info("worker stopped",
		zap.Int64("processed", w.processed.Load()),
		zap.Int64("failed", w.failed.Load()))
	return nil
}

// ProcessOne снимает одну задачу и диспетчеризует ее.
// false без ошибки — очередь была пуста. Ошибка — только от очереди; исход задачи ошибкой не считается.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx, w.cfg.DequeueTimeout)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	w.handle(ctx, task)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, task *domain.Task) {
	log := w.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("action_id", task.ActionID),
		zap.String("action", task.Action),
		zap.String("target", task.Target))

	if err := w.actions.UpdateActionStatus(ctx, task.ActionID, domain.ActionRunning); err != nil {
		if errors.Is(err, domain.ErrAlreadyFinished) {
			// например, оператор отменил действие, пока задача ждала в очереди
			log.Info("action already finished, task skipped", zap.Error(err))
			return
		}
		log.Warn("failed to mark action running", zap.Error(err))
	}

	start := w.now()
	err := w.dispatch(ctx, task)
	elapsed := w.now().Sub(start)

	if err != nil {
		w.failed.Add(1)
		w.queue.IncrementFailed(ctx)
		w.metrics.DispatchDuration.WithLabelValues(task.Action, "failed").Observe(elapsed.Seconds())
		w.setActionStatus(ctx, log, task.ActionID, domain.ActionFailed)
		log.Error("remediation failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}

	w.processed.Add(1)
	w.queue.IncrementCompleted(ctx)
	w.metrics.DispatchDuration.WithLabelValues(task.Action, "completed").Observe(elapsed.Seconds())
	w.setActionStatus(ctx, log, task.ActionID, domain.ActionCompleted)
	log.Info("remediation completed", zap.Duration("duration", elapsed))
}

// dispatch вызывает исполнителя с отдельным таймаутом; паника превращается в ошибку
func (w *Worker) dispatch(ctx context.Context, task *domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during dispatch: %v", connectors.ErrExecutor, r)
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, w.cfg.DispatchTimeout)
	defer cancel()

	_, err = w.executor.Execute(dctx, connectors.RemediationRequest{
		Action:    task.Action,
		Target:    task.Target,
		Severity:  string(task.Severity),
		PolicyID:  task.PolicyID,
		AlertID:   task.AlertID,
		ActionID:  task.ActionID,
		RequestID: uuid.NewString(),
	})
	return err
}

func (w *Worker) setActionStatus(ctx context.Context, log *zap.Logger, id string, status domain.ActionStatus) {
	if err := w.actions.UpdateActionStatus(ctx, id, status); err != nil {
		log.Error("failed to update action status", zap.String("status", string(status)), zap.Error(err))
	}
}

// Status: снимок для API
func (w *Worker) Status() Status {
	st := Status{
		ID:        w.cfg.ID,
		Running:   w.running.Load(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
	st.SuccessRate = domain.SuccessRate(st.Processed, st.Failed)
	if started := w.startedAt.Load(); started != nil {
		st.StartedAt = started
		if st.Running {
			st.UptimeSeconds = w.now().Sub(*started).Seconds()
		}
	}
	return st
}
