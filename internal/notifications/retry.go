package notifications

import (
	"context"
	"unicode/utf8"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
)

const (
	maxRetryDelayMinutes = 60
	maxErrorLength       = 1900
)

// RetryDelayMinutes returns the backoff before the next attempt: 2^attempts minutes, capped at an hour.
func RetryDelayMinutes(attempts int) int {
	if attempts < 1 {
		attempts = 1
	}
	if attempts >= 6 {
		return maxRetryDelayMinutes
	}
	return min(maxRetryDelayMinutes, 1<<attempts)
}

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:maxErrorLength])
}

// OutcomeRecorder persists the result of a delivery attempt and announces it.
type OutcomeRecorder struct {
	maxAttempts int
	completion  CompletionNotifier
}

// NewOutcomeRecorder creates a recorder. completion may be nil.
func NewOutcomeRecorder(maxAttempts int, completion CompletionNotifier) *OutcomeRecorder {
	return &OutcomeRecorder{
		maxAttempts: maxAttempts,
		completion:  completion,
	}
}

// RecordSent marks the item sent.
func (r *OutcomeRecorder) RecordSent(ctx context.Context, store Store, item *domain.OutboxItem, task *domain.TaskConfig, recipient string) error {
	if err := store.MarkSent(ctx, item.ID); err != nil {
		return err
	}

	recordItemProcessed(task.Channel, resultSent)
	ctxlog.FromContext(ctx).Info("outbox item sent",
		"task_code", task.Code,
		"item_id", item.ID,
		"object_id", item.ObjectID,
		"recipient", recipient,
	)

	event := newCompletionEvent(EventTypeSent)
	event.Recipient = recipient
	event.Attempts = item.Attempts + 1
	event.Terminal = true
	r.notify(ctx, event, item, task)
	return nil
}

// RecordFailure stores a failed attempt with its backoff. task may be nil when the
// failure happened before the task config was loaded.
func (r *OutcomeRecorder) RecordFailure(ctx context.Context, store Store, item *domain.OutboxItem, task *domain.TaskConfig, cause error) error {
	rec := FailureRecord{
		ItemID:      item.ID,
		Attempts:    item.Attempts + 1,
		Error:       truncateError(cause.Error()),
		MaxAttempts: r.maxAttempts,
	}
	rec.DelayMinutes = RetryDelayMinutes(rec.Attempts)

	if err := store.RecordFailure(ctx, rec); err != nil {
		return err
	}

	var channel domain.ChannelType
	if task != nil {
		channel = task.Channel
	}
	result := resultRetry
	if rec.IsTerminal() {
		result = resultFailed
	}
	recordItemProcessed(channel, result)

	ctxlog.FromContext(ctx).Warn("outbox item failed",
		"item_id", item.ID,
		"attempts", rec.Attempts,
		"max_attempts", rec.MaxAttempts,
		"delay_minutes", rec.DelayMinutes,
		"error", cause,
	)

	if task != nil {
		event := newCompletionEvent(EventTypeFailed)
		event.Attempts = rec.Attempts
		event.Terminal = rec.IsTerminal()
		event.Error = rec.Error
		r.notify(ctx, event, item, task)
	}
	return nil
}

func (r *OutcomeRecorder) notify(ctx context.Context, event CompletionEvent, item *domain.OutboxItem, task *domain.TaskConfig) {
	if r.completion == nil {
		return
	}
	event.ItemID = item.ID
	event.TaskCode = task.Code
	event.ObjectID = item.ObjectID
	event.CallbackURL = task.CallbackURL
	r.completion.Notify(ctx, event)
}
