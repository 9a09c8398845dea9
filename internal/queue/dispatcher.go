package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/domain"
)

// JobStore persists jobs. CreateJob returns created=false when a job with
// the same id already exists; the insert must not duplicate it.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) (created bool, err error)
}

// Transport makes a persisted job id visible to consumers.
type Transport interface {
	Push(ctx context.Context, queue, jobID string, runAt time.Time) error
}

// Overrides are per-call dispatch options layered over the queue defaults.
// A caller-chosen JobID turns the enqueue idempotent: re-enqueueing the
// same id is a no-op rather than a duplicate.
type Overrides struct {
	JobID       string
	MaxAttempts int
	BackoffBase time.Duration
	Delay       time.Duration
	RunAt       time.Time
}

// Dispatcher validates against the registry, persists the job and pushes
// its id to the transport. Enqueue never waits on job completion.
type Dispatcher struct {
	registry  *Registry
	store     JobStore
	transport Transport
	log       *zap.Logger
	now       func() time.Time
}

func NewDispatcher(registry *Registry, store JobStore, transport Transport, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		store:     store,
		transport: transport,
		log:       log,
		now:       time.Now,
	}
}

// Enqueue appends a durable job to the named queue and returns its id.
// Payload must be a plain structured value; anything json.Marshal rejects
// fails with domain.ErrPayloadNotSerializable.
func (d *Dispatcher) Enqueue(ctx context.Context, queue, jobType string, payload any, ov *Overrides) (string, error) {
	def, err := d.registry.Resolve(queue, jobType)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(domain.ErrPayloadNotSerializable, err.Error())
	}

	opts := def.Defaults
	id := ""
	runAt := d.now().UTC()
	if ov != nil {
		id = ov.JobID
		if ov.MaxAttempts > 0 {
			opts.MaxAttempts = ov.MaxAttempts
		}
		if ov.BackoffBase > 0 {
			opts.BackoffBase = ov.BackoffBase
		}
		if !ov.RunAt.IsZero() {
			runAt = ov.RunAt.UTC()
		} else if ov.Delay > 0 {
			runAt = runAt.Add(ov.Delay)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	job := &domain.Job{
		ID:            id,
		Queue:         queue,
		Type:          jobType,
		Payload:       body,
		Attempt:       0,
		MaxAttempts:   opts.MaxAttempts,
		Backoff:       opts.Backoff,
		BackoffBase:   opts.BackoffBase,
		RunAt:         runAt,
		KeepSucceeded: opts.KeepSucceeded,
		KeepFailed:    opts.KeepFailed,
		Status:        domain.Queued,
	}

	created, err := d.store.CreateJob(ctx, job)
	if err != nil {
		return "", errors.Wrap(err, "persist job")
	}
	if !created {
		// Explicit-id re-enqueue: the job already exists, nothing to do.
		d.log.Debug("enqueue deduplicated", zap.String("queue", queue), zap.String("job_id", id))
		return id, nil
	}

	if err := d.transport.Push(ctx, queue, id, runAt); err != nil {
		// The row is durable; the scheduler's reconcile loop will push it.
		d.log.Warn("push after persist failed, leaving to reconciler",
			zap.String("queue", queue), zap.String("job_id", id), zap.Error(err))
		return id, nil
	}

	d.log.Info("job enqueued",
		zap.String("queue", queue),
		zap.String("type", jobType),
		zap.String("job_id", id),
		zap.Time("run_at", runAt))
	return id, nil
}
