package notifications

import (
	"errors"
	"fmt"
)

// Configuration errors. They go through the regular retry path.
var (
	ErrTaskNotFound     = errors.New("task config not found")
	ErrTaskInactive     = errors.New("task is inactive")
	ErrProfileNotFound  = errors.New("mail profile not found")
	ErrTemplateNotFound = errors.New("email template not found")
	ErrTemplateEmpty    = errors.New("email template subject or body is empty")
)

// Dispatch errors.
var (
	ErrNoSender      = errors.New("no sender registered for channel")
	ErrNoRecipients  = errors.New("message has no recipients")
	ErrMissingConfig = errors.New("notification is missing mail profile")

	// ErrChannelDisabled is returned by a sender whose channel is switched off in configuration.
	ErrChannelDisabled = errors.New("channel is disabled")
)

// TemplateDataError reports a body or detail payload with an unusable shape.
type TemplateDataError struct {
	Field  string
	Reason string
	Err    error
}

func (e *TemplateDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("template data %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("template data %s: %s", e.Field, e.Reason)
}

func (e *TemplateDataError) Unwrap() error {
	return e.Err
}

// Control errors.
var (
	ErrCacheDisabled = errors.New("configuration cache is not enabled")
)
