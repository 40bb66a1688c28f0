package simpleproducer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

var ErrNotConnected = errors.New("producer is not connected")

// Message is one replicated write command.
type Message struct {
	Args []string `json:"args"`
}

type Producer struct {
	name    string
	conn    *amqp.Connection
	channel *amqp.Channel
}

func New(name string, conn *amqp.Connection) *Producer {
	return &Producer{name: name, conn: conn}
}

// Connect opens a channel and declares the durable queue the producer publishes to.
func (p *Producer) Connect() error {
	channel, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("cannot open channel, %w", err)
	}

	_, err = channel.QueueDeclare(p.name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("cannot declare queue, %w", err)
	}

	p.channel = channel

	return nil
}

func Encode(argv []string) ([]byte, error) {
	return json.Marshal(Message{Args: argv})
}

func (p *Producer) Publish(ctx context.Context, argv []string) error {
	if p.channel == nil {
		return ErrNotConnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := Encode(argv)
	if err != nil {
		return fmt.Errorf("cannot encode message, %w", err)
	}

	err = p.channel.Publish("", p.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("cannot publish message, %w", err)
	}

	return nil
}

func (p *Producer) Close() error {
	if p.channel == nil {
		return nil
	}

	return p.channel.Close()
}
