package simpleconsumer

import (
	"context"
	"encoding/json"
	"fmt"

	simpleproducer "github.com/Fuchsoria/banditucb/internal/amqp/producer"
	"github.com/Fuchsoria/banditucb/internal/metrics"
	"github.com/streadway/amqp"
)

type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Handler applies one replicated command.
type Handler func(ctx context.Context, argv []string) error

type Consumer struct {
	name    string
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  Logger
}

func New(name string, conn *amqp.Connection, logger Logger) *Consumer {
	return &Consumer{name: name, conn: conn, logger: logger}
}

func (c *Consumer) Connect() error {
	channel, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("cannot open channel, %w", err)
	}

	if _, err := channel.QueueDeclare(c.name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("cannot declare queue, %w", err)
	}

	// one message in flight keeps the apply order
	if err := channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("cannot set qos, %w", err)
	}

	c.channel = channel

	return nil
}

// Consume applies deliveries in order until ctx is done or the channel closes.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := c.channel.Consume(c.name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("cannot start consuming, %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			c.handle(ctx, delivery, handler)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	c.process(ctx, delivery.MessageId, delivery.Body, &delivery, handler)
}

func (c *Consumer) process(ctx context.Context, id string, body []byte, ack acknowledger, handler Handler) {
	argv, err := Decode(body)
	if err != nil {
		metrics.ReplicationErrorsTotal.WithLabelValues("decode").Inc()
		c.logger.Error("dropping malformed replication message", "message_id", id, "error", err)

		if err := ack.Nack(false, false); err != nil {
			c.logger.Warn("cannot nack message", "error", err)
		}

		return
	}

	if err := handler(ctx, argv); err != nil {
		// the replica has diverged from the master from here on
		metrics.ReplicationErrorsTotal.WithLabelValues("apply").Inc()
		c.logger.Error("replicated command failed", "message_id", id, "command", argv[0], "error", err)
	}

	if err := ack.Ack(false); err != nil {
		c.logger.Warn("cannot ack message", "error", err)
	}
}

func Decode(body []byte) ([]string, error) {
	var msg simpleproducer.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}

	if len(msg.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	return msg.Args, nil
}

func (c *Consumer) Close() error {
	if c.channel == nil {
		return nil
	}

	return c.channel.Close()
}
