package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"botchat/internal/domain"
	"botchat/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// RoomEventsExchange carries every room event, routed by channel key
	RoomEventsExchange = "chat.room-events"

	// RoomBinding matches every room channel
	RoomBinding = "room.#"
)

// Deliverer receives raw event payloads for a channel key. The websocket hub implements it.
type Deliverer interface {
	Deliver(channelKey string, data []byte) error
}

// RoutingKey maps a channel key ("room:{id}:typing") to an AMQP routing key ("room.{id}.typing")
func RoutingKey(channelKey string) string {
	return strings.ReplaceAll(channelKey, ":", ".")
}

// ChannelKey is the inverse of RoutingKey
func ChannelKey(routingKey string) string {
	return strings.ReplaceAll(routingKey, ".", ":")
}

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry dials until the broker answers or ctx expires
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	backoff := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on rabbitmq after %d attempts: %w", attempt, err)
		case <-time.After(backoff):
		}

		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		RoomEventsExchange, // name
		"topic",            // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		return fmt.Errorf("failed to declare room events exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// Publish sends a room event to every instance subscribed to its channel key
func (r *RabbitMQ) Publish(ctx context.Context, channelKey string, event domain.RoomEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		observability.FanoutPublishedTotal.WithLabelValues("rabbitmq", "error").Inc()
		return fmt.Errorf("failed to marshal room event: %w", err)
	}

	r.mu.Lock()
	err = r.channel.PublishWithContext(
		ctx,
		RoomEventsExchange,
		RoutingKey(channelKey),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Transient,
			Timestamp:    event.Timestamp,
		},
	)
	r.mu.Unlock()

	if err != nil {
		observability.FanoutPublishedTotal.WithLabelValues("rabbitmq", "error").Inc()
		return fmt.Errorf("failed to publish room event: %w", err)
	}

	observability.FanoutPublishedTotal.WithLabelValues("rabbitmq", "ok").Inc()
	return nil
}

// Ping reports whether the broker connection is usable
func (r *RabbitMQ) Ping(_ context.Context) error {
	if r.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
