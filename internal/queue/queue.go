package queue

/*
Очередь задач ремедиации поверх Redis-списка.

- FIFO: RPUSH на запись, BLPOP на чтение. Порядок внутри одной очереди сохраняется,
  между несколькими воркерами — "кто первый снял, того и задача".
- Доставка at-most-once: подтверждений и повторной выдачи нет. Задача, снятая воркером,
  который упал до диспетчеризации, теряется.
- Счетчики (enqueued/dequeued/completed/failed) обновляются отдельными командами,
  не в транзакции с push/pop. Сбой между ними дает пропуск в статистике, но не потерю задачи.
- Сбои соединения с Redis повторяются через retry.Do и затем отдаются как ErrTransientBackend.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"github.com/xela07ax/spaceai-autoheal/internal/retry"
	"go.uber.org/zap"
)

var (
	ErrTransientBackend = errors.New("queue: transient backend error")
	ErrMalformedTask    = errors.New("queue: malformed task payload")
)

// Config: параметры очереди
type Config struct {
	Name            string
	HistoryCapacity int
	Retry           retry.Policy
}

type Queue struct {
	rdb        *redis.Client
	keys       infra.QueueKeys
	name       string
	historyCap int
	retry      retry.Policy

	logger  *zap.Logger
	metrics *infra.Metrics
	now     func() time.Time
}

func New(rdb *redis.Client, cfg Config, logger *zap.Logger, metrics *infra.Metrics) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = 100
	}

	q := &Queue{
		rdb:        rdb,
		keys:       infra.NewQueueKeys(cfg.Name),
		name:       cfg.Name,
		historyCap: cfg.HistoryCapacity,
		logger:     logger.With(zap.String("mod", "queue"), zap.String("queue", cfg.Name)),
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}

	q.retry = cfg.Retry
	q.retry.Retryable = isTransient
	q.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		q.logger.Warn("redis operation failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return q
}

// Name: имя очереди для read model
func (q *Queue) Name() string { return q.name }

// Ответы сервера, после которых повтор имеет смысл
var transientReplies = []string{"LOADING ", "READONLY ", "MASTERDOWN ", "TRYAGAIN ", "CLUSTERDOWN "}

// isTransient: redis.Nil означает "пусто", а не сбой; отмену контекста не повторяем.
// Ответ сервера (WRONGTYPE, ERR ...) детерминирован и повторяется только из списка выше.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		for _, prefix := range transientReplies {
			if strings.HasPrefix(reply.Error(), prefix) {
				return true
			}
		}
		return false
	}
	return true
}

func backendErr(op string, err error) error {
	if !isTransient(err) {
		return fmt.Errorf("queue %s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransientBackend, op, err)
}

// newTaskID: UUIDv7: уникален и упорядочен по времени
func newTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Enqueue кладет задачу в хвост очереди. task_id и enqueued_at проставляются, если не заданы.
func (q *Queue) Enqueue(ctx context.Context, task domain.Task) (domain.Task, error) {
	if task.TaskID == "" {
		task.TaskID = newTaskID()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now()
	}
	task.DequeuedAt = nil

	data, err := json.Marshal(task)
	if err != nil {
		return domain.Task{}, fmt.Errorf("queue: marshal task: %w", err)
	}

	// Повторяем только сам push: повтор после успешного RPUSH дал бы дубликат
	err = retry.Do(ctx, q.retry, func(ctx context.Context) error {
		return q.rdb.RPush(ctx, q.keys.List, data).Err()
	})
	if err != nil {
		q.metrics.ErrorTotal.WithLabelValues("enqueue").Inc()
		return domain.Task{}, backendErr("enqueue", err)
	}

	q.incr(ctx, q.keys.Enqueued, "enqueued")
	q.logger.Debug("task enqueued",
		zap.String("task_id", task.TaskID),
		zap.String("action_id", task.ActionID),
		zap.String("action", task.Action))
	return task, nil
}

// Dequeue ждет задачу не дольше timeout. Пустая очередь -> (nil, nil).
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	res, err := retry.DoValue(ctx, q.retry, func(ctx context.Context) ([]string, error) {
		return q.rdb.BLPop(ctx, timeout, q.keys.List).Result()
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		q.metrics.ErrorTotal.WithLabelValues("dequeue").Inc()
		return nil, backendErr("dequeue", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected BLPOP reply of %d elements", ErrMalformedTask, len(res))
	}

	var task domain.Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		// Элемент уже снят из списка: вернуть его некуда
		q.logger.Error("dropping malformed task", zap.String("payload", res[1]), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	dequeuedAt := q.now()
	task.DequeuedAt = &dequeuedAt

	q.incr(ctx, q.keys.Dequeued, "dequeued")
	q.setLastProcessed(ctx, task)
	return &task, nil
}

// IncrementCompleted вызывается воркером после успешной диспетчеризации
func (q *Queue) IncrementCompleted(ctx context.Context) {
	q.incr(ctx, q.keys.Completed, "completed")
}

// IncrementFailed вызывается воркером после неуспешной диспетчеризации
func (q *Queue) IncrementFailed(ctx context.Context) {
	q.incr(ctx, q.keys.Failed, "failed")
}

// incr: best effort: ошибка счетчика логируется и не ломает операцию над задачей
func (q *Queue) incr(ctx context.Context, key, outcome string) {
	q.metrics.TasksTotal.WithLabelValues(outcome).Inc()
	err := retry.Do(ctx, q.retry, func(ctx context.Context) error {
		return q.rdb.Incr(ctx, key).Err()
	})
	if err != nil {
		q.logger.Warn("queue counter update lost", zap.String("counter", outcome), zap.Error(err))
	}
}

func (q *Queue) setLastProcessed(ctx context.Context, task domain.Task) {
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := q.rdb.Set(ctx, q.keys.LastProcessed, data, 0).Err(); err != nil {
		q.logger.Warn("failed to record last processed task", zap.Error(err))
	}
}

// Depth: текущее число недоставленных задач
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := retry.DoValue(ctx, q.retry, func(ctx context.Context) (int64, error) {
		return q.rdb.LLen(ctx, q.keys.List).Result()
	})
	if err != nil {
		return 0, backendErr("depth", err)
	}
	return n, nil
}

// RecordHistorySample добавляет замер (now, depth) в кольцевой буфер и обрезает его до емкости
func (q *Queue) RecordHistorySample(ctx context.Context) error {
	depth, err := q.Depth(ctx)
	if err != nil {
		return err
	}
	q.metrics.QueueDepth.Set(float64(depth))

	point, err := json.Marshal(domain.HistoryPoint{Time: q.now(), Depth: depth})
	if err != nil {
		return fmt.Errorf("queue: marshal history point: %w", err)
	}

	err = retry.Do(ctx, q.retry, func(ctx context.Context) error {
		_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, q.keys.History, point)
			pipe.LTrim(ctx, q.keys.History, int64(-q.historyCap), -1)
			return nil
		})
		return err
	})
	if err != nil {
		return backendErr("history", err)
	}
	return nil
}

// StartSampler пишет замер глубины каждые interval, пока жив ctx
func (q *Queue) StartSampler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	q.logger.Info("queue history sampler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("queue history sampler stopped")
			return
		case <-ticker.C:
			// Замер доводим до конца даже при отмене
			if err := q.RecordHistorySample(context.WithoutCancel(ctx)); err != nil {
				q.logger.Warn("history sample failed", zap.Error(err))
			}
		}
	}
}

// Stats собирает read model очереди
func (q *Queue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	var (
		depth                                 *redis.IntCmd
		enqueued, dequeued, completed, failed *redis.StringCmd
		history                               *redis.StringSliceCmd
		last                                  *redis.StringCmd
	)
	err := retry.Do(ctx, q.retry, func(ctx context.Context) error {
		_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			depth = pipe.LLen(ctx, q.keys.List)
			enqueued = pipe.Get(ctx, q.keys.Enqueued)
			dequeued = pipe.Get(ctx, q.keys.Dequeued)
			completed = pipe.Get(ctx, q.keys.Completed)
			failed = pipe.Get(ctx, q.keys.Failed)
			history = pipe.LRange(ctx, q.keys.History, 0, -1)
			last = pipe.Get(ctx, q.keys.LastProcessed)
			return nil
		})
		// redis.Nil от GET отсутствующего счетчика — не ошибка
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, backendErr("stats", err)
	}

	stats := &domain.QueueStats{
		QueueName:  q.name,
		QueueDepth: depth.Val(),
		Enqueued:   counterVal(enqueued),
		Dequeued:   counterVal(dequeued),
		Completed:  counterVal(completed),
		Failed:     counterVal(failed),
		History:    make([]domain.HistoryPoint, 0, len(history.Val())),
	}
	stats.SuccessRate = domain.SuccessRate(stats.Completed, stats.Failed)

	for _, raw := range history.Val() {
		var p domain.HistoryPoint
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		stats.History = append(stats.History, p)
	}

	if raw, err := last.Result(); err == nil {
		var t domain.Task
		if json.Unmarshal([]byte(raw), &t) == nil {
			stats.LastProcessed = &t
		}
	}
	return stats, nil
}

func counterVal(cmd *redis.StringCmd) int64 {
	raw, err := cmd.Result()
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
