package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/jobcore/internal/domain"
)

// Store wraps the Postgres pool. Job rows are the source of truth for the
// queue; Redis only mirrors ready/delayed ids.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

const jobColumns = `id, queue, type, payload, attempt, max_attempts, backoff, backoff_base_ms,
run_at, keep_succeeded, keep_failed, status, leased_by, lease_expires_at, error, created_at, updated_at`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	var baseMS int64
	if err := row.Scan(
		&j.ID, &j.Queue, &j.Type, &j.Payload, &j.Attempt, &j.MaxAttempts, &j.Backoff, &baseMS,
		&j.RunAt, &j.KeepSucceeded, &j.KeepFailed, &j.Status, &j.LeasedBy, &j.LeaseExpiresAt,
		&j.Error, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.BackoffBase = time.Duration(baseMS) * time.Millisecond
	return &j, nil
}

// CreateJob persists a new job. Returns created=false when a job with the
// same id already exists, which makes explicit-id enqueues idempotent.
func (s *Store) CreateJob(ctx context.Context, j *domain.Job) (bool, error) {
	ct, err := s.db.Exec(ctx, `insert into jobs(
id, queue, type, payload, attempt, max_attempts, backoff, backoff_base_ms,
run_at, keep_succeeded, keep_failed, status
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
on conflict (id) do nothing`,
		j.ID, j.Queue, j.Type, j.Payload, j.Attempt, j.MaxAttempts, j.Backoff,
		j.BackoffBase.Milliseconds(), j.RunAt, j.KeepSucceeded, j.KeepFailed, domain.Queued,
	)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// LeaseJob claims a queued job for workerID, bumping its attempt counter
// and setting the lease expiry. Returns nil when the job is not claimable
// (already leased, terminal, or unknown).
func (s *Store) LeaseJob(ctx context.Context, id, workerID string, visibility time.Duration) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `update jobs
    set status = $2,
        attempt = attempt + 1,
        leased_by = $3,
        lease_expires_at = now() + $4,
        updated_at = now()
  where id = $1 and status = $5
returning `+jobColumns,
		id, domain.Leased, workerID, visibility, domain.Queued)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// CompleteJob marks the job succeeded and releases its lease.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `update jobs
    set status = $2, leased_by = null, lease_expires_at = null, error = null, updated_at = now()
  where id = $1`, id, domain.Succeeded)
	return err
}

// RetryJob requeues the job to run at runAt, keeping the last error for
// diagnostics. The attempt counter stays as bumped by the lease.
func (s *Store) RetryJob(ctx context.Context, id, lastError string, runAt time.Time) error {
	_, err := s.db.Exec(ctx, `update jobs
    set status = $2, run_at = $3, error = $4, leased_by = null, lease_expires_at = null, updated_at = now()
  where id = $1`, id, domain.Queued, runAt, lastError)
	return err
}

// DeadLetterJob marks the job terminally failed.
func (s *Store) DeadLetterJob(ctx context.Context, id, lastError string) error {
	_, err := s.db.Exec(ctx, `update jobs
    set status = $2, error = $3, leased_by = null, lease_expires_at = null, updated_at = now()
  where id = $1`, id, domain.DeadLettered, lastError)
	return err
}

// TrimTerminal enforces the retention policy: keep the newest keepSucceeded
// succeeded rows and keepFailed dead-lettered rows per queue.
func (s *Store) TrimTerminal(ctx context.Context, queue string, keepSucceeded, keepFailed int) error {
	for _, p := range []struct {
		status domain.Status
		keep   int
	}{
		{domain.Succeeded, keepSucceeded},
		{domain.DeadLettered, keepFailed},
	} {
		_, err := s.db.Exec(ctx, `delete from jobs
  where queue = $1 and status = $2 and id not in (
    select id from jobs where queue = $1 and status = $2
    order by updated_at desc limit $3)`,
			queue, p.status, p.keep)
		if err != nil {
			return err
		}
	}
	return nil
}
