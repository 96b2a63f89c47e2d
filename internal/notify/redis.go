package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"govqueue/internal/event"
	platformredis "govqueue/internal/platform/redis"
)

// RedisBridge mirrors lifecycle events onto Redis pub/sub so display boards
// and other processes outside this one can follow the queues. Events go to a
// firehose channel and to a per-office channel.
type RedisBridge struct {
	client  *platformredis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBridge wraps a connected Redis client. The channel is the firehose
// channel name; per-office channels derive from it.
func NewRedisBridge(client *platformredis.Client, channel string, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{client: client, channel: channel, logger: logger}
}

// Publish mirrors one event to Redis. Failures are logged, not returned:
// the queue keeps working when the board feed is down.
func (b *RedisBridge) Publish(ctx context.Context, evt event.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.ErrorContext(ctx, "marshal event for redis", "event_id", evt.ID, "error", err)
		return
	}

	channels := []string{
		b.channel,
		fmt.Sprintf("%s.%s", b.channel, evt.OfficeID),
	}
	for _, ch := range channels {
		if err := b.client.Publish(ctx, ch, payload).Err(); err != nil {
			b.logger.ErrorContext(ctx, "publish event to redis",
				"channel", ch,
				"event_id", evt.ID,
				"error", err,
			)
		}
	}
}
