package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

const redisChannelPrefix = "pixelbase:rt:"

type redisBus struct {
	client *redis.Client
	origin string
	log    *logger.Logger
}

// NewRedisBus connects to redis using REDIS_ADDR / REDIS_PASSWORD /
// REDIS_DB and verifies the connection with a ping.
func NewRedisBus(ctx context.Context, log *logger.Logger) (Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     envutil.String("REDIS_ADDR", "localhost:6379"),
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &redisBus{
		client: client,
		origin: uuid.NewString(),
		log:    log.With("service", "RedisBus"),
	}, nil
}

// wireEvent carries one event over redis. Origin marks the publishing
// instance so the loopback of our own publishes is dropped; the hub has
// already delivered those locally.
type wireEvent struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Origin  string `json:"origin"`
	Exclude string `json:"exclude,omitempty"`
}

func (b *redisBus) Publish(ctx context.Context, channel string, event Event, exclude string) error {
	raw, err := json.Marshal(wireEvent{Channel: channel, Event: event, Origin: b.origin, Exclude: exclude})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, redisChannelPrefix+channel, raw).Err()
}

func (b *redisBus) Subscribe(ctx context.Context, handler func(channel string, event Event, exclude string)) error {
	pubsub := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var wire wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				b.log.Warn("Dropping undecodable bus message", "error", err)
				continue
			}
			if wire.Origin == b.origin {
				continue
			}
			channel := wire.Channel
			if channel == "" {
				channel = strings.TrimPrefix(msg.Channel, redisChannelPrefix)
			}
			handler(channel, wire.Event, wire.Exclude)
		}
	}
}
