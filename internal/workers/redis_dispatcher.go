package workers

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/yoockh/callpilot/internal/models"
	"github.com/yoockh/callpilot/internal/services"
)

// RedisDispatcher enqueues suggestion jobs on the stream read by
// SuggestionWorkerPool, so any node can run them.
type RedisDispatcher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

var _ services.Dispatcher = (*RedisDispatcher)(nil)

func NewRedisDispatcher(rdb *redis.Client, stream string) *RedisDispatcher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisDispatcher{rdb: rdb, stream: stream, maxLen: 10000}
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, job models.SuggestionJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return d.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: d.maxLen,
		Approx: true,
		Values: map[string]any{jobField: string(b)},
	}).Err()
}
