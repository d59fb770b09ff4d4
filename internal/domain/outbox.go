package domain

import "time"

// ItemStatus represents the delivery status of an outbox item.
type ItemStatus string

// Item statuses.
const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusSent    ItemStatus = "sent"
	ItemStatusRetry   ItemStatus = "retry"  // failed, eligible for another attempt
	ItemStatusFailed  ItemStatus = "failed" // failed, attempts exhausted
)

// IsTerminal reports whether no further delivery attempts will be made.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSent || s == ItemStatusFailed
}

// OutboxItem is one queued notification awaiting rendering and delivery.
type OutboxItem struct {
	ID          int64
	TaskID      int64
	Status      ItemStatus
	CreatedAt   time.Time
	FromName    string
	FromAddress string
	To          string
	CC          string
	BCC         string
	Priority    string
	// ObjectID correlates the item with the producer's source record.
	ObjectID string
	Language string
	// Subject and Body are nil when the item must be rendered from a template.
	Subject    *string
	Body       *string
	BodyJSON   []byte
	DetailJSON []byte
	Attempts   int
}

// NeedsRendering reports whether subject or body has to come from a template.
func (i *OutboxItem) NeedsRendering() bool {
	return i.Subject == nil || i.Body == nil
}

// Attachment describes a file to send with a message.
// At most one content source is populated: Content, URL, or FileName as a local path.
type Attachment struct {
	FileName  string `json:"file_name"`
	MIMEType  string `json:"mime_type,omitempty"`
	Inline    bool   `json:"inline,omitempty"`
	ContentID string `json:"content_id,omitempty"`
	Content   []byte `json:"content,omitempty"`
	URL       string `json:"url,omitempty"`
}
