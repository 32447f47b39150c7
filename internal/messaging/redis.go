package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"botchat/internal/domain"
	"botchat/internal/observability"

	"github.com/redis/go-redis/v9"
)

// RoomPattern matches every room channel for PSUBSCRIBE
const RoomPattern = "room:*"

// NewRedisClient parses a redis:// URL and verifies the server answers
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisFanout publishes room events over Redis pub/sub
type RedisFanout struct {
	client *redis.Client
}

func NewRedisFanout(client *redis.Client) *RedisFanout {
	return &RedisFanout{client: client}
}

func (f *RedisFanout) Publish(ctx context.Context, channelKey string, event domain.RoomEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		observability.FanoutPublishedTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("failed to marshal room event: %w", err)
	}

	if err := f.client.Publish(ctx, channelKey, body).Err(); err != nil {
		observability.FanoutPublishedTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("failed to publish room event: %w", err)
	}

	observability.FanoutPublishedTotal.WithLabelValues("redis", "ok").Inc()
	return nil
}

func (f *RedisFanout) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFanout) Close() error {
	return f.client.Close()
}

// RedisRelay delivers every room:* message from Redis into the local hub
type RedisRelay struct {
	client *redis.Client
	sink   Deliverer
}

func NewRedisRelay(client *redis.Client, sink Deliverer) *RedisRelay {
	return &RedisRelay{client: client, sink: sink}
}

// Start subscribes and relays in the background until ctx is done
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, RoomPattern)

	// events published before the confirmation are not seen
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", RoomPattern, err)
	}

	slog.Info("started relaying room events", slog.String("pattern", RoomPattern))

	go func() {
		defer pubsub.Close()
		r.relay(ctx, pubsub.Channel())
	}()
	return nil
}

func (r *RedisRelay) relay(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping redis relay")
			return
		case msg, ok := <-msgs:
			if !ok {
				slog.Warn("redis relay channel closed")
				return
			}
			if err := r.sink.Deliver(msg.Channel, []byte(msg.Payload)); err != nil {
				slog.Error("failed to deliver room event",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}
