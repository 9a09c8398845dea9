package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/jobcore/internal/config"
	"github.com/you/jobcore/internal/domain"
	"github.com/you/jobcore/internal/queue"
)

// The scheduler is the reconciliation and cron side of the queue: it
// promotes due delayed jobs, requeues expired leases (the DB is
// authoritative), re-pushes queued rows missing from Redis, and enqueues
// the daily analytics roll-up once per UTC day.
func main() {
	cfg := config.Load()
	log, _ := zap.NewProduction()
	defer log.Sync()

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	q := queue.New(rdb)
	reg := queue.DefaultRegistry()
	ctx := context.Background()

	tick := time.NewTicker(1000 * time.Millisecond)
	defer tick.Stop()

	for range tick.C {
		// leader election
		var ok bool
		if err := db.QueryRowContext(ctx, "select pg_try_advisory_lock(42)").Scan(&ok); err != nil {
			log.Warn("advisory lock", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		now := time.Now().UTC().Unix()
		for _, name := range reg.Names() {
			if err := q.MoveDue(ctx, name, now, 200); err != nil {
				log.Warn("move due", zap.String("queue", name), zap.Error(err))
			}
			if err := reconcileQueued(ctx, db, q, name, 500); err != nil {
				log.Warn("reconcile", zap.String("queue", name), zap.Error(err))
			}
		}

		if err := requeueExpiredLeases(ctx, db, q, reg.Names(), 500); err != nil {
			log.Warn("requeue expired leases", zap.Error(err))
		}

		if err := enqueueDailyAggregation(ctx, db, q, reg, log); err != nil {
			log.Warn("daily aggregation trigger", zap.Error(err))
		}
	}
}

// reconcileQueued pushes due queued rows back onto Redis in case an
// enqueue-time push was lost. Consumers tolerate duplicate ids: leasing
// an already-claimed job returns nothing.
func reconcileQueued(ctx context.Context, db *sql.DB, q *queue.RedisQ, queueName string, batch int) error {
	rows, err := db.QueryContext(ctx, `
    select id from jobs
     where queue = $1 and status = 'queued' and run_at <= now()
     order by created_at asc limit $2`, queueName, batch)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return q.Requeue(ctx, queueName, ids)
}

// requeueExpiredLeases returns timed-out leased jobs to the queue; the
// attempt already counted, so exhausted jobs dead-letter on the next lease
// cycle through the worker.
func requeueExpiredLeases(ctx context.Context, db *sql.DB, q *queue.RedisQ, queues []string, batch int) error {
	for _, name := range queues {
		rows, err := db.QueryContext(ctx,
			`select id from jobs
			   where queue = $1
			     and status = 'leased'
			     and lease_expires_at is not null
			     and lease_expires_at < now()
			   limit $2`, name, batch)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if len(ids) == 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`update jobs
				    set status = 'queued',
				        leased_by = null,
				        lease_expires_at = null,
				        updated_at = now()
				  where id = $1 and status = 'leased' and attempt < max_attempts`, id); err != nil {
				_ = tx.Rollback()
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`update jobs
				    set status = 'dead_lettered',
				        leased_by = null,
				        lease_expires_at = null,
				        error = coalesce(error, 'lease expired'),
				        updated_at = now()
				  where id = $1 and status = 'leased' and attempt >= max_attempts`, id); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		if err := q.Requeue(ctx, name, ids); err != nil {
			return err
		}
	}
	return nil
}

// enqueueDailyAggregation plays the external cron collaborator: once per
// UTC day it schedules yesterday's roll-up for all open subjects. The
// date-derived job id makes the insert idempotent across ticks and
// scheduler restarts.
func enqueueDailyAggregation(ctx context.Context, db *sql.DB, q *queue.RedisQ, reg *queue.Registry, log *zap.Logger) error {
	date := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	id := "aggregate:" + date

	payload, err := json.Marshal(map[string]any{"subjectIds": []string{}, "date": date})
	if err != nil {
		return err
	}
	def, _ := reg.Definition(queue.QueueAnalytics)

	res, err := db.ExecContext(ctx, `insert into jobs(
id, queue, type, payload, attempt, max_attempts, backoff, backoff_base_ms,
run_at, keep_succeeded, keep_failed, status
) values ($1,$2,$3,$4,0,$5,$6,$7,now(),$8,$9,$10)
on conflict (id) do nothing`,
		id, queue.QueueAnalytics, queue.TypeAggregateDaily, payload,
		def.Defaults.MaxAttempts, def.Defaults.Backoff, def.Defaults.BackoffBase.Milliseconds(),
		def.Defaults.KeepSucceeded, def.Defaults.KeepFailed, domain.Queued)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return err
	}

	log.Info("daily aggregation scheduled", zap.String("date", date), zap.String("job_id", id))
	return q.Push(ctx, queue.QueueAnalytics, id, time.Time{})
}
