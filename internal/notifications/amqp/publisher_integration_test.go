//go:build integration

package amqp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	"github.com/bissquit/outbox-dispatcher/internal/notifications/amqp"
	"github.com/bissquit/outbox-dispatcher/internal/testutil"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_RabbitMQ(t *testing.T) {
	ctx := context.Background()

	broker, err := testutil.NewRabbitMQContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Terminate(ctx) })

	cfg := amqp.Config{URL: broker.URL, Exchange: "outbox.events", RoutingPrefix: "shop."}
	publisher, err := amqp.Dial(cfg)
	require.NoError(t, err)

	conn, err := amqp091.Dial(broker.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ch, err := conn.Channel()
	require.NoError(t, err)

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "shop.outbox.*", cfg.Exchange, false, nil))

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	publisher.Notify(ctx, notifications.CompletionEvent{
		ID:       "evt-1",
		Type:     notifications.EventTypeSent,
		ItemID:   42,
		TaskCode: "ORDER_SHIPPED",
	})

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, publisher.Close(closeCtx))

	select {
	case d := <-deliveries:
		assert.Equal(t, "shop.outbox.sent", d.RoutingKey)
		assert.Equal(t, "evt-1", d.MessageId)
		assert.Equal(t, "application/json", d.ContentType)

		var event notifications.CompletionEvent
		require.NoError(t, json.Unmarshal(d.Body, &event))
		assert.Equal(t, int64(42), event.ItemID)
		assert.Equal(t, "ORDER_SHIPPED", event.TaskCode)
	case <-time.After(10 * time.Second):
		t.Fatal("event was not delivered")
	}
}
