package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	channel domain.ChannelType
	err     error

	mu   sync.Mutex
	sent []Notification
}

func (s *fakeSender) Type() domain.ChannelType { return s.channel }

func (s *fakeSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *fakeSender) Sent() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...)
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	email := &fakeSender{channel: domain.ChannelTypeEmail}
	sms := &fakeSender{channel: domain.ChannelTypeSMS}
	d := NewDispatcher(email, sms)

	require.NoError(t, d.Send(context.Background(), domain.ChannelTypeSMS, Notification{To: "+100"}))

	assert.Empty(t, email.Sent())
	require.Len(t, sms.Sent(), 1)
	assert.Equal(t, "+100", sms.Sent()[0].To)
}

func TestDispatcher_Errors(t *testing.T) {
	t.Run("no sender", func(t *testing.T) {
		d := NewDispatcher()
		err := d.Send(context.Background(), domain.ChannelTypeEmail, Notification{})
		assert.ErrorIs(t, err, ErrNoSender)
	})

	t.Run("sender error is wrapped", func(t *testing.T) {
		boom := errors.New("connection refused")
		d := NewDispatcher(&fakeSender{channel: domain.ChannelTypeEmail, err: boom})
		err := d.Send(context.Background(), domain.ChannelTypeEmail, Notification{})
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "send email")
	})
}
