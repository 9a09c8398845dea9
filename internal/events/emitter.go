package events

import (
	"context"
	"encoding/json"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event names emitted by the workers.
const ExportCompleted = "export.completed"

// Emitter is the fire-and-forget event sink. Delivery is best-effort; the
// export record stays the source of truth when an event is lost.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any)
}

// RedisEmitter publishes events on Redis pub/sub channels.
type RedisEmitter struct {
	rdb    *r.Client
	prefix string
	log    *zap.Logger
}

func NewRedisEmitter(rdb *r.Client, prefix string, log *zap.Logger) *RedisEmitter {
	return &RedisEmitter{rdb: rdb, prefix: prefix, log: log}
}

func (e *RedisEmitter) Emit(ctx context.Context, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn("drop unserializable event", zap.String("event", event), zap.Error(err))
		return
	}
	if err := e.rdb.Publish(ctx, e.prefix+":"+event, body).Err(); err != nil {
		e.log.Warn("event publish failed", zap.String("event", event), zap.Error(err))
	}
}

// Nop discards every event; used in tests and tooling.
type Nop struct{}

func (Nop) Emit(context.Context, string, any) {}
