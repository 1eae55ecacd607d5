package broker

import (
	"context"

	"go.uber.org/zap"

	"github.com/jeffvincent/patchci/pkg/ci"
)

// Worker drains jobs from a shared queue one at a time, driving each
// through its own CI Driver clone. A failed job is logged and the worker
// moves on to the next one; it never exits because of a job failure.
type Worker struct {
	id     int
	queue  <-chan ci.CIJob
	driver ci.Driver
	log    *zap.Logger
}

// NewWorker builds a Worker with the given stable id, reading from queue
// and driving jobs through driver.
func NewWorker(id int, queue <-chan ci.CIJob, driver ci.Driver, log *zap.Logger) *Worker {
	return &Worker{id: id, queue: queue, driver: driver, log: log.With(zap.Int("worker_id", id))}
}

// Run receives jobs from the queue until it closes, processing each to
// completion before receiving the next. A closed queue drains: every job
// already sent is processed before Run returns. ctx governs cancellation of
// the in-flight driver calls, not the receive loop itself, so a shutdown
// always lets queued jobs finish rather than abandoning them mid-queue.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started")
	for job := range w.queue {
		w.process(ctx, job)
	}
	w.log.Info("worker exiting: queue closed")
}

func (w *Worker) process(ctx context.Context, job ci.CIJob) {
	w.log.Info("received job",
		zap.String("project_id", job.ProjectID),
		zap.String("patch_branch", job.PatchBranch),
		zap.String("patch_head", job.PatchHead))

	if err := w.driver.Setup(ctx, job); err != nil {
		w.log.Error("job setup failed", zap.String("project_id", job.ProjectID), zap.Error(err))
		return
	}

	if err := w.driver.Run(ctx, job.ProjectID); err != nil {
		w.log.Error("job run failed", zap.String("project_id", job.ProjectID), zap.Error(err))
		return
	}

	w.log.Info("job completed", zap.String("project_id", job.ProjectID))
}
