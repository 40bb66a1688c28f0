package simpleproducer

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	body, err := Encode([]string{"BANDITUCB.ADD", "k", "0", "1.5"})
	require.NoError(t, err)
	require.JSONEq(t, `{"args":["BANDITUCB.ADD","k","0","1.5"]}`, string(body))
}

func TestPublishNotConnected(t *testing.T) {
	p := New("banditucb", nil)
	require.ErrorIs(t, p.Publish(context.Background(), []string{"PING"}), ErrNotConnected)
}

func TestProducer(t *testing.T) {
	dsn := os.Getenv("TESTS_AMQP_DSN")
	if dsn == "" {
		t.Skip("TESTS_AMQP_DSN is not set")
	}

	conn, err := amqp.Dial(dsn)
	require.NoError(t, err)
	defer conn.Close()

	name := "banditucb-test-" + uuid.NewString()

	producer := New(name, conn)
	require.NoError(t, producer.Connect())
	defer producer.Close()

	require.NoError(t, producer.Publish(context.Background(), []string{"BANDITUCB.INIT", "k", "2", "1"}))

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	delivery, ok, err := ch.Get(name, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, delivery.MessageId)

	var msg Message
	require.NoError(t, json.Unmarshal(delivery.Body, &msg))
	require.Equal(t, []string{"BANDITUCB.INIT", "k", "2", "1"}, msg.Args)

	_, err = ch.QueueDelete(name, false, false, false)
	require.NoError(t, err)
}
