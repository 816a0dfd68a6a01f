// Package dispatcher manages worker fan-out over the crawl queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quantfeed/newswire/internal/worker"
)

// Dispatcher fans out queue work to a pool of extraction workers.
type Dispatcher struct {
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{workers: workers, logger: logger}
}

// Run starts all workers and blocks until every worker returns, either from
// context cancellation or from the queue closing and draining.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting extraction workers", zap.Int("count", len(d.workers)))

	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func(i int, wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
			d.logger.Debug("worker stopped", zap.Int("worker", i))
		}(i, w)
	}
	wg.Wait()
	d.logger.Info("all extraction workers stopped")
}
