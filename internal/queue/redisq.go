package queue

import (
	"context"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
)

// RedisQ is the queue transport: one ready list and one delayed zset per
// queue name. Job rows in Postgres stay the source of truth; Redis only
// carries ids.
type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

func readyKey(queue string) string { return "queue:" + queue }
func delayKey(queue string) string { return "delay:" + queue }

// Push makes jobID available on the queue, delayed until runAt when that
// is in the future.
func (q *RedisQ) Push(ctx context.Context, queue, jobID string, runAt time.Time) error {
	if time.Until(runAt) > 0 {
		return q.rdb.ZAdd(ctx, delayKey(queue), r.Z{Score: float64(runAt.Unix()), Member: jobID}).Err()
	}
	return q.rdb.LPush(ctx, readyKey(queue), jobID).Err()
}

// Pop blocks up to block for the next ready job id. Returns "" on timeout.
func (q *RedisQ) Pop(ctx context.Context, queue string, block time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, block, readyKey(queue)).Result()
	if err == r.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", nil
}

// MoveDue promotes up to batch delayed jobs whose time has come onto the
// ready list.
func (q *RedisQ) MoveDue(ctx context.Context, queue string, now int64, batch int64) error {
	ids, err := q.rdb.ZRangeByScore(ctx, delayKey(queue), &r.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, readyKey(queue), id)
		pipe.ZRem(ctx, delayKey(queue), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Requeue puts already-known job ids back on the ready list in one pipeline.
func (q *RedisQ) Requeue(ctx context.Context, queue string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, readyKey(queue), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}
