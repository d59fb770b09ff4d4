package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Completion event types.
const (
	EventTypeSent   = "outbox.sent"
	EventTypeFailed = "outbox.failed"
)

// CompletionEvent tells third parties how an outbox item delivery attempt ended.
type CompletionEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ItemID     int64     `json:"item_id"`
	TaskCode   string    `json:"task_code"`
	ObjectID   string    `json:"object_id,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	Attempts   int       `json:"attempts"`
	Terminal   bool      `json:"terminal"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`

	// CallbackURL is the task's webhook target; it is not part of the payload.
	CallbackURL string `json:"-"`
}

func newCompletionEvent(eventType string) CompletionEvent {
	return CompletionEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// CompletionNotifier delivers completion events. Notify must not block the caller:
// delivery happens in the background and failures are only logged.
type CompletionNotifier interface {
	Notify(ctx context.Context, event CompletionEvent)
}

// MultiNotifier fans an event out to several notifiers.
type MultiNotifier []CompletionNotifier

// Notify implements CompletionNotifier.
func (m MultiNotifier) Notify(ctx context.Context, event CompletionEvent) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}

// DeliverWithRetry calls fn up to attempts times, doubling the wait between calls
// from initial up to maxDelay. It stops early when ctx is done.
func DeliverWithRetry(ctx context.Context, attempts int, initial, maxDelay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	delay := initial
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-t.C:
		}

		delay *= 2
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
