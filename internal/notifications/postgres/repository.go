// Package postgres provides the PostgreSQL implementation of the outbox store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and *pgxpool.Conn.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Provider hands out a Repository bound to one pooled connection per loop iteration.
type Provider struct {
	pool *pgxpool.Pool
}

// NewProvider creates a new store provider.
func NewProvider(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool}
}

// Acquire implements notifications.StoreProvider.
func (p *Provider) Acquire(ctx context.Context) (notifications.Store, func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Repository{db: conn}, conn.Release, nil
}

// Repository implements notifications.Store using PostgreSQL.
type Repository struct {
	db querier
}

// NewRepository creates a repository on top of the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// GetBatch returns items due for delivery, oldest first. Items of inactive tasks are held back.
func (r *Repository) GetBatch(ctx context.Context, limit int) ([]*domain.OutboxItem, error) {
	query := `
		SELECT i.id, i.task_id, i.status, i.created_at,
		       i.from_name, i.from_address, i.to_address, i.cc_address, i.bcc_address,
		       i.priority, i.object_id, i.language, i.subject, i.body,
		       i.body_json, i.detail_json, i.attempts
		FROM outbox_items i
		LEFT JOIN tasks t ON t.id = i.task_id
		WHERE i.status IN ('pending', 'retry')
		  AND i.next_attempt_at <= NOW()
		  AND (t.status IS NULL OR t.status <> 'inactive')
		ORDER BY i.created_at, i.id
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.OutboxItem, 0, limit)
	for rows.Next() {
		var item domain.OutboxItem
		err := rows.Scan(
			&item.ID,
			&item.TaskID,
			&item.Status,
			&item.CreatedAt,
			&item.FromName,
			&item.FromAddress,
			&item.To,
			&item.CC,
			&item.BCC,
			&item.Priority,
			&item.ObjectID,
			&item.Language,
			&item.Subject,
			&item.Body,
			&item.BodyJSON,
			&item.DetailJSON,
			&item.Attempts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Priority = strings.TrimSpace(item.Priority)
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// GetTaskConfig retrieves a task by ID.
func (r *Repository) GetTaskConfig(ctx context.Context, taskID int64) (*domain.TaskConfig, error) {
	query := `
		SELECT id, code, status, type_code, priority, profile_id, template_id,
		       test_address, from_name, from_address, to_address, cc_address, bcc_address,
		       attachment_source, language, callback_url
		FROM tasks
		WHERE id = $1
	`
	var (
		task     domain.TaskConfig
		typeCode string
	)
	err := r.db.QueryRow(ctx, query, taskID).Scan(
		&task.ID,
		&task.Code,
		&task.Status,
		&typeCode,
		&task.Priority,
		&task.ProfileID,
		&task.TemplateID,
		&task.TestAddress,
		&task.FromName,
		&task.FromAddress,
		&task.To,
		&task.CC,
		&task.BCC,
		&task.AttachmentSource,
		&task.Language,
		&task.CallbackURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	task.Channel = domain.ParseChannelType(strings.TrimSpace(typeCode))
	task.Priority = strings.TrimSpace(task.Priority)
	return &task, nil
}

// GetProfile retrieves a mail profile by ID.
func (r *Repository) GetProfile(ctx context.Context, profileID int64) (*domain.MailProfile, error) {
	query := `
		SELECT id, host, port, security, username, secret
		FROM mail_profiles
		WHERE id = $1
	`
	var (
		profile domain.MailProfile
		secret  string
	)
	err := r.db.QueryRow(ctx, query, profileID).Scan(
		&profile.ID,
		&profile.Host,
		&profile.Port,
		&profile.Security,
		&profile.Username,
		&secret,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	profile.Secret = domain.ParseSecretRef(secret)
	return &profile, nil
}

// GetBestTemplate picks the variant of templateID that best matches language and appID.
// An exact language match wins over an app match; language-neutral variants come next.
func (r *Repository) GetBestTemplate(ctx context.Context, templateID int64, language string, appID int64) (*domain.EmailTemplate, error) {
	query := `
		SELECT id, template_id, language, app_id, subject, body
		FROM email_templates
		WHERE template_id = $1
		ORDER BY (lower(language) = lower($2)) DESC,
		         (app_id = $3) DESC,
		         (language = '') DESC,
		         id
		LIMIT 1
	`
	var tmpl domain.EmailTemplate
	err := r.db.QueryRow(ctx, query, templateID, language, appID).Scan(
		&tmpl.ID,
		&tmpl.TemplateID,
		&tmpl.Language,
		&tmpl.AppID,
		&tmpl.Subject,
		&tmpl.Body,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &tmpl, nil
}

// GetAttachments lists the attachments stored with an item.
func (r *Repository) GetAttachments(ctx context.Context, itemID int64) ([]domain.Attachment, error) {
	query := `
		SELECT file_name, mime_type, is_inline, content_id, content, url
		FROM outbox_attachments
		WHERE item_id = $1
		ORDER BY id
	`
	return r.queryAttachments(ctx, query, itemID)
}

// GetTaskAttachments calls the set-returning function named by source with the object id.
// The function must return (file_name, mime_type, is_inline, content_id, content, url).
func (r *Repository) GetTaskAttachments(ctx context.Context, source, objectID string) ([]domain.Attachment, error) {
	if source == "" {
		return nil, nil
	}
	fn := pgx.Identifier(strings.Split(source, ".")).Sanitize()
	query := fmt.Sprintf(`
		SELECT file_name, mime_type, is_inline, content_id, content, url
		FROM %s($1)
	`, fn)
	return r.queryAttachments(ctx, query, objectID)
}

func (r *Repository) queryAttachments(ctx context.Context, query string, arg any) ([]domain.Attachment, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	atts := make([]domain.Attachment, 0)
	for rows.Next() {
		var (
			att       domain.Attachment
			mimeType  *string
			contentID *string
			url       *string
			inline    *bool
		)
		if err := rows.Scan(&att.FileName, &mimeType, &inline, &contentID, &att.Content, &url); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		att.MIMEType = deref(mimeType)
		att.ContentID = deref(contentID)
		att.URL = deref(url)
		att.Inline = inline != nil && *inline
		atts = append(atts, att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return atts, nil
}

// MarkSent marks an item as delivered. Marking a sent item again is a no-op.
func (r *Repository) MarkSent(ctx context.Context, itemID int64) error {
	query := `
		UPDATE outbox_items
		SET status = 'sent', sent_at = NOW(), last_error = NULL
		WHERE id = $1 AND status <> 'sent'
	`
	if _, err := r.db.Exec(ctx, query, itemID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// RecordFailure stores a failed attempt. The item becomes terminal once attempts reach the maximum.
func (r *Repository) RecordFailure(ctx context.Context, rec notifications.FailureRecord) error {
	query := `
		UPDATE outbox_items
		SET attempts = $2,
		    last_error = $4,
		    status = CASE WHEN $2 >= $5 THEN 'failed' ELSE 'retry' END,
		    next_attempt_at = NOW() + make_interval(mins => $3)
		WHERE id = $1 AND status <> 'sent'
	`
	_, err := r.db.Exec(ctx, query, rec.ItemID, rec.Attempts, rec.DelayMinutes, rec.Error, rec.MaxAttempts)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// MarkLoopError logs a loop failure and attaches it to the item, if known.
func (r *Repository) MarkLoopError(ctx context.Context, itemID *int64, message string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO dispatcher_errors (item_id, message) VALUES ($1, $2)`, itemID, message); err != nil {
			return fmt.Errorf("insert loop error: %w", err)
		}
		if itemID == nil {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_items SET last_error = $2 WHERE id = $1`, *itemID, message); err != nil {
			return fmt.Errorf("update item error: %w", err)
		}
		return nil
	})
}

// QueueStats counts outbox items by status.
func (r *Repository) QueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'retry'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM outbox_items
	`
	var stats notifications.QueueStats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Retry, &stats.Sent, &stats.Failed); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &stats, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
