// Package notifications implements the outbox dispatch pipeline: it drains queued
// items, renders them, applies task delivery policy and hands them to a channel sender.
package notifications

import (
	"context"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
)

// Store is the set of queue store operations the dispatch loop depends on.
// Batch selection, attempt bookkeeping and terminal decisions belong to the store.
type Store interface {
	// GetBatch returns up to limit items eligible for delivery now, oldest first.
	GetBatch(ctx context.Context, limit int) ([]*domain.OutboxItem, error)

	GetTaskConfig(ctx context.Context, taskID int64) (*domain.TaskConfig, error)
	GetProfile(ctx context.Context, profileID int64) (*domain.MailProfile, error)
	GetBestTemplate(ctx context.Context, templateID int64, language string, appID int64) (*domain.EmailTemplate, error)

	GetAttachments(ctx context.Context, itemID int64) ([]domain.Attachment, error)
	GetTaskAttachments(ctx context.Context, source, objectID string) ([]domain.Attachment, error)

	MarkSent(ctx context.Context, itemID int64) error
	RecordFailure(ctx context.Context, rec FailureRecord) error
	MarkLoopError(ctx context.Context, itemID *int64, message string) error
}

// StoreProvider hands out one store session per loop iteration.
// The returned release func must be called when the iteration ends.
type StoreProvider interface {
	Acquire(ctx context.Context) (Store, func(), error)
}

// FailureRecord carries everything the store needs to persist a failed attempt.
type FailureRecord struct {
	ItemID       int64
	Attempts     int
	DelayMinutes int
	Error        string
	MaxAttempts  int
}

// IsTerminal reports whether the store will stop retrying after this failure.
func (r FailureRecord) IsTerminal() bool {
	return r.Attempts >= r.MaxAttempts
}

// QueueStats is a snapshot of outbox item counts by status.
type QueueStats struct {
	Pending int64 `json:"pending"`
	Retry   int64 `json:"retry"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}
