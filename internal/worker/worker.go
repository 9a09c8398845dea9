package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
)

// Queue is the consumer side of the transport.
type Queue interface {
	Pop(ctx context.Context, queue string, block time.Duration) (string, error)
	Push(ctx context.Context, queue, jobID string, runAt time.Time) error
}

// JobStore is the authoritative job lifecycle store.
type JobStore interface {
	LeaseJob(ctx context.Context, id, workerID string, visibility time.Duration) (*domain.Job, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id, lastError string, runAt time.Time) error
	DeadLetterJob(ctx context.Context, id, lastError string) error
	TrimTerminal(ctx context.Context, queue string, keepSucceeded, keepFailed int) error
}

// Handler processes one job. A nil return acks the job. Errors marked with
// domain.Transient are retried per the job's backoff policy until attempts
// run out; everything else dead-letters immediately.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
}

type HandlerFunc func(ctx context.Context, job *domain.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) error { return f(ctx, job) }

// Consumer pulls one queue and routes jobs to handlers by type. A job
// failure never crashes the process; every error is classified at this
// boundary.
type Consumer struct {
	Queue      string
	WorkerID   string
	Visibility time.Duration
	Block      time.Duration

	q        Queue
	jobs     JobStore
	handlers map[string]Handler
	log      *zap.Logger
	now      func() time.Time
}

func NewConsumer(queueName, workerID string, q Queue, jobs JobStore, handlers map[string]Handler, visibility, block time.Duration, log *zap.Logger) *Consumer {
	return &Consumer{
		Queue:      queueName,
		WorkerID:   workerID,
		Visibility: visibility,
		Block:      block,
		q:          q,
		jobs:       jobs,
		handlers:   handlers,
		log:        log,
		now:        time.Now,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		id, err := c.q.Pop(ctx, c.Queue, c.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("queue pop failed", zap.String("queue", c.Queue), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if id == "" {
			continue
		}
		c.Process(ctx, id)
	}
}

// Process leases and runs a single job id. Exported so tests and the
// scheduler's drain path can drive it directly.
func (c *Consumer) Process(ctx context.Context, id string) {
	job, err := c.jobs.LeaseJob(ctx, id, c.WorkerID, c.Visibility)
	if err != nil {
		c.log.Warn("lease failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	if job == nil {
		// Lost the claim race or the job is already terminal.
		return
	}

	log := c.log.With(
		zap.String("queue", c.Queue),
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt),
	)

	h, ok := c.handlers[job.Type]
	if !ok {
		log.Error("no handler for job type")
		c.deadLetter(ctx, job, domain.ErrUnknownJobType)
		return
	}

	herr := c.invoke(ctx, h, job)
	switch {
	case herr == nil:
		if err := c.jobs.CompleteJob(ctx, job.ID); err != nil {
			log.Warn("ack failed", zap.Error(err))
			return
		}
		log.Info("job succeeded")
		if err := c.jobs.TrimTerminal(ctx, c.Queue, job.KeepSucceeded, job.KeepFailed); err != nil {
			log.Warn("retention trim failed", zap.Error(err))
		}
	case domain.IsTransient(herr) && !job.LastAttempt():
		runAt := c.now().UTC().Add(job.RetryDelay())
		if err := c.jobs.RetryJob(ctx, job.ID, herr.Error(), runAt); err != nil {
			log.Warn("nack failed", zap.Error(err))
			return
		}
		if err := c.q.Push(ctx, c.Queue, job.ID, runAt); err != nil {
			// Row is queued; the scheduler reconciler will push it.
			log.Warn("retry push failed", zap.Error(err))
		}
		log.Info("job retried", zap.Time("run_at", runAt), zap.String("error", herr.Error()))
	default:
		c.deadLetter(ctx, job, herr)
		log.Info("job dead-lettered", zap.String("error", herr.Error()))
	}
}

func (c *Consumer) deadLetter(ctx context.Context, job *domain.Job, cause error) {
	if err := c.jobs.DeadLetterJob(ctx, job.ID, cause.Error()); err != nil {
		c.log.Warn("dead-letter failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := c.jobs.TrimTerminal(ctx, c.Queue, job.KeepSucceeded, job.KeepFailed); err != nil {
		c.log.Warn("retention trim failed", zap.Error(err))
	}
}

func (c *Consumer) invoke(ctx context.Context, h Handler, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}
