package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
)

// WorkerConfig contains dispatch loop configuration.
type WorkerConfig struct {
	BatchSize         int
	IdleDelay         time.Duration
	MaxAttempts       int
	PausePollInterval time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         50,
		IdleDelay:         10 * time.Second,
		MaxAttempts:       5,
		PausePollInterval: time.Second,
	}
}

// Worker drains the outbox. It processes items one at a time.
type Worker struct {
	config     WorkerConfig
	provider   StoreProvider
	dispatcher *Dispatcher
	renderer   *Renderer
	control    *Control
	recorder   *OutcomeRecorder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a new dispatch worker. control and completion may be nil.
func NewWorker(
	config WorkerConfig,
	provider StoreProvider,
	dispatcher *Dispatcher,
	renderer *Renderer,
	control *Control,
	completion CompletionNotifier,
) *Worker {
	if control == nil {
		control = NewControl()
	}
	return &Worker{
		config:     config,
		provider:   provider,
		dispatcher: dispatcher,
		renderer:   renderer,
		control:    control,
		recorder:   NewOutcomeRecorder(config.MaxAttempts, completion),
	}
}

// Start runs the loop in a background goroutine until Stop is called or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	slog.Info("starting outbox worker",
		"batch_size", w.config.BatchSize,
		"idle_delay", w.config.IdleDelay,
		"max_attempts", w.config.MaxAttempts,
	)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Run(ctx)
	}()
}

// Stop cancels the loop, aborting in-flight network calls, and waits for it to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	slog.Info("outbox worker stopped")
}

// Run executes the dispatch loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if w.control.Paused() {
			sleep(ctx, w.config.PausePollInterval)
			continue
		}

		if idle := w.iterate(ctx); idle {
			sleep(ctx, w.config.IdleDelay)
		}
	}
}

// iterate processes one batch with a fresh store session. It reports whether
// the loop should idle before the next iteration.
func (w *Worker) iterate(ctx context.Context) (idle bool) {
	var (
		store  Store
		lastID *int64
	)

	defer func() {
		if r := recover(); r != nil {
			w.loopError(ctx, store, lastID, fmt.Errorf("panic: %v", r), debug.Stack())
			idle = true
		}
	}()

	store, release, err := w.provider.Acquire(ctx)
	if err != nil {
		w.loopError(ctx, nil, nil, fmt.Errorf("acquire store: %w", err), nil)
		return true
	}
	defer release()

	items, err := store.GetBatch(ctx, w.config.BatchSize)
	if err != nil {
		w.loopError(ctx, store, nil, fmt.Errorf("get batch: %w", err), nil)
		return true
	}

	if len(items) == 0 {
		return true
	}

	slog.Debug("processing outbox batch", "count", len(items))
	recordItemsFetched(len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			return false
		}
		id := item.ID
		lastID = &id

		if err := w.processItem(ctx, store, item); err != nil {
			w.loopError(ctx, store, lastID, err, nil)
			return true
		}
	}

	return false
}

func (w *Worker) loopError(ctx context.Context, store Store, itemID *int64, err error, stack []byte) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}

	recordLoopError()

	attrs := []any{"error", err}
	if itemID != nil {
		attrs = append(attrs, "item_id", *itemID)
	}
	if stack != nil {
		attrs = append(attrs, "stack", string(stack))
	}
	slog.Error("outbox loop failure", attrs...)

	if store == nil {
		return
	}
	if markErr := store.MarkLoopError(ctx, itemID, truncateError(err.Error())); markErr != nil {
		slog.Error("failed to record loop error", "error", markErr)
	}
}

// processItem delivers one item and records the outcome. The returned error means
// the outcome itself could not be persisted.
func (w *Worker) processItem(ctx context.Context, store Store, item *domain.OutboxItem) (err error) {
	ctx = ctxlog.With(ctx, "item_id", item.ID, "task_id", item.TaskID)

	var task *domain.TaskConfig

	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("panic while processing outbox item",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = w.recordFailure(ctx, store, item, task, fmt.Errorf("panic: %v", r))
		}
	}()

	task, n, deliverErr := w.deliver(ctx, store, item)
	if deliverErr != nil {
		if ctx.Err() != nil {
			// Shutdown aborted the attempt; the item stays eligible.
			return nil
		}
		return w.recordFailure(ctx, store, item, task, deliverErr)
	}

	if err := w.recorder.RecordSent(ctx, store, item, task, n.To); err != nil {
		return fmt.Errorf("mark item %d sent: %w", item.ID, err)
	}
	return nil
}

func (w *Worker) recordFailure(ctx context.Context, store Store, item *domain.OutboxItem, task *domain.TaskConfig, cause error) error {
	if err := w.recorder.RecordFailure(ctx, store, item, task, cause); err != nil {
		return fmt.Errorf("record failure of item %d: %w", item.ID, err)
	}
	return nil
}

// deliver resolves configuration, builds the notification and sends it.
// The task is returned as soon as it is known so that failures can be attributed.
func (w *Worker) deliver(ctx context.Context, store Store, item *domain.OutboxItem) (*domain.TaskConfig, *Notification, error) {
	task, err := store.GetTaskConfig(ctx, item.TaskID)
	if err != nil {
		return nil, nil, fmt.Errorf("get task %d: %w", item.TaskID, err)
	}
	if task == nil {
		return nil, nil, fmt.Errorf("get task %d: %w", item.TaskID, ErrTaskNotFound)
	}
	if task.Status == domain.TaskStatusInactive {
		return task, nil, fmt.Errorf("task %s: %w", task.Code, ErrTaskInactive)
	}

	profile, err := store.GetProfile(ctx, task.ProfileID)
	if err != nil {
		return task, nil, fmt.Errorf("get profile %d: %w", task.ProfileID, err)
	}
	if profile == nil {
		return task, nil, fmt.Errorf("get profile %d: %w", task.ProfileID, ErrProfileNotFound)
	}

	subject, body, err := w.content(ctx, store, item, task, profile)
	if err != nil {
		return task, nil, err
	}

	n := &Notification{
		ItemID:      item.ID,
		TaskCode:    task.Code,
		FromName:    MergeAddress(item.FromName, task.FromName),
		FromAddress: MergeAddress(item.FromAddress, task.FromAddress),
		To:          MergeAddress(item.To, task.To),
		CC:          MergeAddress(item.CC, task.CC),
		BCC:         MergeAddress(item.BCC, task.BCC),
		Subject:     subject,
		Body:        body,
		Priority:    task.Priority,
		Profile:     profile,
	}
	if n.Priority == "" {
		n.Priority = item.Priority
	}

	if task.IsTesting() {
		RedirectForTesting(ctx, n, task)
	}

	n.Attachments, err = w.attachments(ctx, store, item, task)
	if err != nil {
		return task, nil, err
	}

	if err := w.dispatcher.Send(ctx, task.Channel, *n); err != nil {
		return task, nil, err
	}
	return task, n, nil
}

// content returns the pre-rendered subject and body, rendering from the best
// template whatever the item does not carry.
func (w *Worker) content(ctx context.Context, store Store, item *domain.OutboxItem, task *domain.TaskConfig, profile *domain.MailProfile) (string, string, error) {
	if !item.NeedsRendering() {
		return *item.Subject, *item.Body, nil
	}

	language := item.Language
	if language == "" {
		language = task.Language
	}

	tmpl, err := store.GetBestTemplate(ctx, task.TemplateID, language, profile.ID)
	if err != nil {
		return "", "", fmt.Errorf("get template %d: %w", task.TemplateID, err)
	}
	if tmpl == nil {
		return "", "", fmt.Errorf("get template %d: %w", task.TemplateID, ErrTemplateNotFound)
	}
	if tmpl.Subject == "" || tmpl.Body == "" {
		return "", "", fmt.Errorf("template %d (%s): %w", task.TemplateID, tmpl.Language, ErrTemplateEmpty)
	}

	bindings, err := BuildBindings(item.BodyJSON, item.DetailJSON)
	if err != nil {
		return "", "", err
	}

	subject, body, err := w.renderer.Render(tmpl.Subject, tmpl.Body, bindings)
	if err != nil {
		return "", "", fmt.Errorf("render template %d: %w", task.TemplateID, err)
	}

	if item.Subject != nil {
		subject = *item.Subject
	}
	if item.Body != nil {
		body = *item.Body
	}
	return subject, body, nil
}

func (w *Worker) attachments(ctx context.Context, store Store, item *domain.OutboxItem, task *domain.TaskConfig) ([]domain.Attachment, error) {
	atts, err := store.GetAttachments(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("get attachments: %w", err)
	}

	if task.AttachmentSource != "" {
		extra, err := store.GetTaskAttachments(ctx, task.AttachmentSource, item.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("get task attachments from %s: %w", task.AttachmentSource, err)
		}
		atts = append(atts, extra...)
	}

	return atts, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
