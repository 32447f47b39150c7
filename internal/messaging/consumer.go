package messaging

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RoomEventConsumer relays room events from the broker into the local hub
type RoomEventConsumer struct {
	rmq  *RabbitMQ
	sink Deliverer
}

func NewRoomEventConsumer(rmq *RabbitMQ, sink Deliverer) *RoomEventConsumer {
	return &RoomEventConsumer{
		rmq:  rmq,
		sink: sink,
	}
}

// Start binds a private queue for this instance and relays in the background
func (c *RoomEventConsumer) Start(ctx context.Context) error {
	ch, err := c.rmq.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	queue, err := ch.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare relay queue: %w", err)
	}

	if err := ch.QueueBind(
		queue.Name,         // queue name
		RoomBinding,        // routing key
		RoomEventsExchange, // exchange
		false,
		nil,
	); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind relay queue: %w", err)
	}

	msgs, err := ch.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started relaying room events",
		slog.String("queue", queue.Name),
		slog.String("exchange", RoomEventsExchange))

	go func() {
		defer ch.Close()
		c.relay(ctx, msgs)
	}()

	return nil
}

func (c *RoomEventConsumer) relay(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping room event consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				slog.Warn("room event consumer channel closed")
				return
			}
			channelKey := ChannelKey(msg.RoutingKey)
			if err := c.sink.Deliver(channelKey, msg.Body); err != nil {
				slog.Error("failed to deliver room event",
					slog.String("channel", channelKey),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}
