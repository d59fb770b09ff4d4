package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	published []publishedMessage
	closed    bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failFirst {
		return errors.New("channel/connection is not open")
	}
	c.published = append(c.published, publishedMessage{Exchange: exchange, Key: key, Msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestPublisher_PublishesEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, Config{Exchange: "outbox", RoutingPrefix: "dispatcher."})

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Notify(context.Background(), notifications.CompletionEvent{
		ID:         "evt-1",
		Type:       notifications.EventTypeFailed,
		ItemID:     9,
		Attempts:   2,
		Error:      "550 rejected",
		OccurredAt: occurred,
	})
	require.NoError(t, p.Close(context.Background()))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "outbox", got.Exchange)
	assert.Equal(t, "dispatcher.outbox.failed", got.Key)
	assert.Equal(t, "evt-1", got.Msg.MessageId)
	assert.Equal(t, amqp.Persistent, got.Msg.DeliveryMode)
	assert.Equal(t, occurred, got.Msg.Timestamp)

	var body notifications.CompletionEvent
	require.NoError(t, json.Unmarshal(got.Msg.Body, &body))
	assert.Equal(t, int64(9), body.ItemID)
	assert.Equal(t, "550 rejected", body.Error)
	assert.True(t, ch.closed)
}

func TestPublisher_RetriesTransientFailures(t *testing.T) {
	ch := &fakeChannel{failFirst: 2}
	p := NewPublisher(ch, Config{Exchange: "outbox", MaxRetries: 3, RetryDelay: time.Millisecond})

	p.Notify(context.Background(), notifications.CompletionEvent{ID: "evt-2", Type: notifications.EventTypeSent})
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, 3, ch.calls)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "outbox.sent", ch.published[0].Key)
}

func TestDial_RequiresConfig(t *testing.T) {
	_, err := Dial(Config{})
	assert.Error(t, err)
}
