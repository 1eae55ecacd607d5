package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/jeffvincent/patchci/pkg/ci"
)

// DefaultCapacity is the worker pool size used when no capacity is
// configured.
const DefaultCapacity = 5

// Pool owns a fixed set of Workers sharing one job queue. Each worker holds
// its own clone of driver, cloned once at pool construction.
type Pool struct {
	workers []*Worker
	log     *zap.Logger
}

// NewPool builds a Pool of capacity workers, each with its own clone of
// driver, reading from queue.
func NewPool(capacity int, queue <-chan ci.CIJob, driver ci.Driver, log *zap.Logger) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	workers := make([]*Worker, capacity)
	for i := range workers {
		workers[i] = NewWorker(i, queue, driver.Clone(), log)
	}
	return &Pool{workers: workers, log: log}
}

// Run starts every worker and blocks until all of them have returned, which
// happens once the shared queue is closed and every worker has drained it.
// ctx is forwarded to each worker only to bound its in-flight driver calls;
// canceling it does not by itself stop a worker's receive loop.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(len(p.workers))
	for _, w := range p.workers {
		w := w
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
	p.log.Info("worker pool shutting down")
}
