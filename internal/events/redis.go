package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStream appends events to a Redis stream so downstream readers (the
// UI layer, indexers) can consume them with XREAD. Publish failures are
// logged; the ledger call that produced the event has already committed.
type RedisStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisStream creates a publisher for the given stream key. maxLen caps
// the stream length approximately; zero means unbounded.
func NewRedisStream(rdb *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Publish(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("event encode failed", "event_id", e.ID, "err", err)
		return
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":       e.ID,
			"type":     e.Type,
			"vault_id": e.VaultID,
			"payload":  payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		slog.Error("event publish failed",
			"stream", s.stream,
			"event_id", e.ID,
			"type", e.Type,
			"err", err,
		)
	}
}
