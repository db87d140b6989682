package notify

import (
	"context"
	"encoding/json"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

// RedisPublisher is the subset of the redis client the bus needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

type redisBus struct {
	log     *logger.Logger
	rdb     RedisPublisher
	channel string
}

func NewRedisBus(log *logger.Logger, rdb RedisPublisher, channel string) Publisher {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "blink:asset-events"
	}
	return &redisBus{
		log:     log.With("service", "RedisEventBus"),
		rdb:     rdb,
		channel: channel,
	}
}

func (b *redisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}
