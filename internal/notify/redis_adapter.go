package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "callpilot:fanout"

// RedisAdapter relays room deliveries over a Redis pub/sub channel.
type RedisAdapter struct {
	rdb     *redis.Client
	channel string
	log     *logrus.Logger
}

var _ Adapter = (*RedisAdapter)(nil)

func NewRedisAdapter(rdb *redis.Client, channel string, log *logrus.Logger) *RedisAdapter {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logrus.New()
	}
	return &RedisAdapter{rdb: rdb, channel: channel, log: log}
}

func (a *RedisAdapter) Publish(ctx context.Context, msg RemoteMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return a.rdb.Publish(ctx, a.channel, b).Err()
}

func (a *RedisAdapter) Subscribe(ctx context.Context, fn func(RemoteMessage)) error {
	sub := a.rdb.Subscribe(ctx, a.channel)
	defer sub.Close()

	// wait for the subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg RemoteMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				a.log.WithError(err).Warn("notify: undecodable fan-out message")
				continue
			}
			fn(msg)
		}
	}
}

// Close is a no-op; the Redis client is owned by config.
func (a *RedisAdapter) Close() error { return nil }
