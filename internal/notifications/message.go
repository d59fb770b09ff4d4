package notifications

import "github.com/bissquit/outbox-dispatcher/internal/domain"

// Notification is a fully resolved message ready for a channel sender.
type Notification struct {
	ItemID      int64
	TaskCode    string
	FromName    string
	FromAddress string
	To          string
	CC          string
	BCC         string
	Subject     string
	Body        string
	Priority    string
	Attachments []domain.Attachment
	// Profile is required by the email channel only.
	Profile *domain.MailProfile
}
