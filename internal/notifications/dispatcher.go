package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
)

// Sender delivers a notification over one channel.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, n Notification) error
}

// Dispatcher routes notifications to the sender registered for their channel.
type Dispatcher struct {
	senders map[domain.ChannelType]Sender
}

// NewDispatcher creates a new dispatcher. A later sender for the same channel replaces an earlier one.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{
		senders: senderMap,
	}
}

// Send delivers n over channel.
func (d *Dispatcher) Send(ctx context.Context, channel domain.ChannelType, n Notification) error {
	sender, ok := d.senders[channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, channel)
	}

	start := time.Now()
	err := sender.Send(ctx, n)
	recordSendDuration(channel, time.Since(start))

	if err != nil {
		return fmt.Errorf("send %s: %w", channel, err)
	}
	return nil
}
