package worker

import (
	"context"
	"fmt"

	"github.com/xela07ax/spaceai-autoheal/internal/connectors"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool: N независимых воркеров на одной очереди
type Pool struct {
	workers []*Worker
}

func NewPool(size int, cfg Config, q TaskQueue, actions ActionUpdater, executor connectors.Executor, logger *zap.Logger, metrics *infra.Metrics) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{workers: make([]*Worker, 0, size)}
	for i := 1; i <= size; i++ {
		c := cfg
		c.ID = fmt.Sprintf("worker-%d", i)
		p.workers = append(p.workers, New(c, q, actions, executor, logger, metrics))
	}
	return p
}

// Run запускает всех воркеров и ждет, пока каждый допишет текущую задачу
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Statuses: снимки всех воркеров
func (p *Pool) Statuses() []Status {
	out := make([]Status, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.Status())
	}
	return out
}

func (p *Pool) Size() int { return len(p.workers) }
