package worker

import (
	"context"
	"time"

	"github.com/itstheanurag/coderunner/internal/executor"
	"github.com/itstheanurag/coderunner/internal/metrics"
	"github.com/itstheanurag/coderunner/internal/queue"
	"github.com/itstheanurag/coderunner/internal/runlog"
	"github.com/rs/zerolog"
)

// Executor runs one submission to completion.
type Executor interface {
	Execute(ctx context.Context, sub executor.Submission) *executor.ExecutionResult
}

type Worker struct {
	id       int
	executor Executor
	manager  *queue.Manager
	history  *runlog.Log
	logger   *zerolog.Logger
}

// NewWorker creates a worker. history may be nil.
func NewWorker(id int, exec Executor, manager *queue.Manager, history *runlog.Log, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:       id,
		executor: exec,
		manager:  manager,
		history:  history,
		logger:   logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			w.manager.UpdateQueueMetric()
			metrics.ActiveWorkers.Inc()
			w.processJob(job)
			metrics.ActiveWorkers.Dec()
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) processJob(job *queue.Job) {
	// The caller may have gone away while the job sat in the queue.
	if err := job.Ctx.Err(); err != nil {
		w.logger.Debug().Int("worker_id", w.id).Str("job_id", job.ID).Msg("skipping cancelled job")
		job.Result <- &executor.ExecutionResult{
			SubmissionID: job.ID,
			Language:     job.Submission.Language,
			Status:       executor.StatusInternalError,
			ExitCode:     -1,
			ErrorKind:    executor.ErrorKindCancelled,
			Message:      err.Error(),
		}
		return
	}

	w.logger.Debug().Int("worker_id", w.id).Str("job_id", job.ID).Msg("processing job")

	result := w.executor.Execute(job.Ctx, job.Submission)

	if w.history != nil {
		files := len(job.Submission.Files)
		if job.Submission.Source != "" {
			files++
		}
		w.history.Add(runlog.Entry{
			SubmissionID: result.SubmissionID,
			Language:     result.Language,
			Status:       string(result.Status),
			Files:        files,
			ExitCode:     result.ExitCode,
			DurationMs:   result.DurationMs,
			FinishedAt:   time.Now(),
		})
	}

	job.Result <- result
}
