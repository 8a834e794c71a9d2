package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/itstheanurag/coderunner/internal/executor"
	"github.com/itstheanurag/coderunner/internal/metrics"
)

var ErrQueueFull = errors.New("execution queue is full")

type Job struct {
	ID         string
	Submission executor.Submission
	Result     chan *executor.ExecutionResult
	Ctx        context.Context
}

// NewJob wraps sub for submission. The job inherits ctx for cancellation.
func NewJob(ctx context.Context, sub executor.Submission) *Job {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	return &Job{
		ID:         sub.ID,
		Submission: sub,
		Result:     make(chan *executor.ExecutionResult, 1),
		Ctx:        ctx,
	}
}

// Manager is a bounded hand-off between callers and workers. A full queue
// rejects instead of blocking the caller.
type Manager struct {
	jobQueue chan *Job
}

func NewManager(capacity int) *Manager {
	return &Manager{
		jobQueue: make(chan *Job, capacity),
	}
}

func (m *Manager) Submit(job *Job) error {
	select {
	case m.jobQueue <- job:
		m.UpdateQueueMetric()
		return nil
	default:
		metrics.QueueRejections.Inc()
		return ErrQueueFull
	}
}

// Execute submits sub and waits for its result or for ctx to end.
func (m *Manager) Execute(ctx context.Context, sub executor.Submission) (*executor.ExecutionResult, error) {
	job := NewJob(ctx, sub)
	if err := m.Submit(job); err != nil {
		return nil, err
	}
	select {
	case res := <-job.Result:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) NextJob() <-chan *Job {
	return m.jobQueue
}

func (m *Manager) Depth() int {
	return len(m.jobQueue)
}

func (m *Manager) UpdateQueueMetric() {
	metrics.QueueDepth.Set(float64(len(m.jobQueue)))
}
