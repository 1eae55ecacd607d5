package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeffvincent/patchci/internal/node"
	"github.com/jeffvincent/patchci/pkg/ci"
)

// QueueCapacity returns the bounded job queue capacity for a pool of the
// given worker count: 2N, so the ingester gets backpressure rather than an
// unbounded memory grow when CI runs are slow.
func QueueCapacity(workerCount int) int {
	if workerCount <= 0 {
		workerCount = DefaultCapacity
	}
	return 2 * workerCount
}

// Config wires together everything Runtime needs to start: the driver
// configuration for the CI engine, the worker pool capacity, and the node
// the ingester subscribes to.
type Config struct {
	Driver     ci.Config
	DriverName string // registry name, defaults to "concourse"
	Capacity   int
	Node       node.Node
	Storage    node.Storage
}

// Runtime composes the Ingester and Pool around a shared bounded queue and
// owns the graceful-shutdown sequence: canceling the ingester's subscription
// context, closing the queue, and waiting for the pool to drain.
type Runtime struct {
	pool     *Pool
	ingester *Ingester
	queue    chan ci.CIJob
	log      *zap.Logger
}

// NewRuntime constructs a Runtime from cfg.
func NewRuntime(cfg Config, log *zap.Logger) (*Runtime, error) {
	driverName := cfg.DriverName
	if driverName == "" {
		driverName = "concourse"
	}
	driver, err := ci.Get(driverName, cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("broker: construct driver: %w", err)
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	queue := make(chan ci.CIJob, QueueCapacity(capacity))

	pool := NewPool(capacity, queue, driver, log)
	ingester := NewIngester(cfg.Node, cfg.Storage, queue, log)

	return &Runtime{pool: pool, ingester: ingester, queue: queue, log: log}, nil
}

// Run starts the ingester and the pool, and blocks until ctx is canceled or
// the ingester stops on its own (its event stream closed, or subscribing
// failed). Either way it stops the ingester, then closes the queue so every worker
// observes the close and drains, then returns once the pool has fully
// joined. The pool itself runs with a context independent of ctx, so a job
// whose driver call is in flight at shutdown is allowed to finish: ctx's
// cancellation only ever reaches the ingester and the queue close, never a
// worker's in-flight Setup/Run.
func (r *Runtime) Run(ctx context.Context) error {
	ingestCtx, cancelIngest := context.WithCancel(ctx)
	defer cancelIngest()

	var ingestErr error
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		ingestErr = r.ingester.Run(ingestCtx)
	}()

	// The pool runs detached from ctx: canceling ctx must close the queue
	// and let workers drain, not cancel their in-flight driver calls. Only
	// the queue close (below) signals the pool to stop.
	poolDone := make(chan struct{})
	go func() {
		r.pool.Run(context.Background())
		close(poolDone)
	}()

	select {
	case <-ctx.Done():
		r.log.Info("shutdown signal received, draining in-flight jobs")
	case <-ingestDone:
		r.log.Info("ingester stopped, draining in-flight jobs")
	}
	cancelIngest()
	<-ingestDone
	close(r.queue)
	<-poolDone

	if ingestErr != nil && !errors.Is(ingestErr, context.Canceled) {
		return fmt.Errorf("broker: ingester: %w", ingestErr)
	}
	return nil
}
