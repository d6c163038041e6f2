package audit

/*
ViolationLog — неблокирующий журнал нарушений политик.

- Non-blocking: Record не ждет БД. Цикл раннера не тормозит из-за медленной записи.
- Batching: пакетная запись по таймеру (FlushInterval) или при накоплении BatchSize событий.
- Load Shedding: при переполнении буфера событие пишется только в zap и отбрасывается.
- Drain: Stop закрывает вход, воркер вычитывает остатки и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"go.uber.org/zap"
)

const (
	DefaultBufferSize    = 10000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 500 * time.Millisecond
)

// StorageInterface определяет, куда физически будут сохраняться нарушения
type StorageInterface interface {
	// WriteBatch сохраняет пачку нарушений за один раз
	WriteBatch(ctx context.Context, violations []domain.Violation) error
}

// Options: размеры буфера и пачки; нулевые значения заменяются на Default*
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type ViolationLog struct {
	ch      chan domain.Violation
	repo    StorageInterface
	logger  *zap.Logger
	metrics *infra.Metrics
	opts    Options
	wg      sync.WaitGroup

	// mu защищает закрытие канала от гонки с Record
	mu     sync.RWMutex
	closed bool
}

func NewViolationLog(repo StorageInterface, opts Options, logger *zap.Logger, metrics *infra.Metrics) *ViolationLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &ViolationLog{
		ch:      make(chan domain.Violation, opts.BufferSize),
		repo:    repo,
		logger:  logger.With(zap.String("mod", "audit")),
		metrics: metrics,
		opts:    opts,
	}
}

func (l *ViolationLog) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop «запирает» вход и ждет, пока воркер всё допишет. Повторный вызов безопасен.
func (l *ViolationLog) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.logger.Info("stopping violation log: closing channel and flushing buffer...")
	close(l.ch)
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("violation log stopped gracefully")
}

// Record ставит нарушения в буфер. Никогда не блокирует.
func (l *ViolationLog) Record(violations ...domain.Violation) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, v := range violations {
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now().UTC()
		}
		if l.closed {
			l.logger.Warn("violation dropped: audit log is stopping", zap.String("policy", v.PolicyName))
			continue
		}

		// Стратегия Load Shedding
		select {
		case l.ch <- v:
		default:
			l.logger.Error("audit_buffer_overflow",
				zap.String("policy", v.PolicyName),
				zap.String("target", v.Target),
				zap.String("severity", string(v.Severity)))
		}
	}
	l.metrics.AuditBufferFill.Set(float64(len(l.ch)))
}

func (l *ViolationLog) worker() {
	defer l.wg.Done()

	batch := make([]domain.Violation, 0, l.opts.BatchSize)
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту финального flush уже закрыт
		if err := l.repo.WriteBatch(context.Background(), batch); err != nil {
			l.logger.Error("audit flush failed", zap.Int("lost", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		l.metrics.AuditBufferFill.Set(float64(len(l.ch)))
	}

	for {
		select {
		case v, ok := <-l.ch:
			if !ok {
				flush() // Финальный сброс
				l.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, v)
			if len(batch) >= l.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
