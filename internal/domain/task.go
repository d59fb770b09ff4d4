package domain

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

// Task statuses.
const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusTesting  TaskStatus = "testing"
	TaskStatusInactive TaskStatus = "inactive"
)

// ChannelType represents the delivery channel of a task.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail ChannelType = "email"
	ChannelTypeSMS   ChannelType = "sms"
)

// smsTaskTypeCode is the stored task type code for text message tasks.
const smsTaskTypeCode = "T"

// ParseChannelType maps a stored task type code to a channel.
// "T" selects SMS; every other code selects email.
func ParseChannelType(code string) ChannelType {
	if code == smsTaskTypeCode {
		return ChannelTypeSMS
	}
	return ChannelTypeEmail
}

// Priority codes as stored on tasks and items.
const (
	PriorityHigh   = "H"
	PriorityNormal = "N"
	PriorityLow    = "L"
)

// TaskConfig is the static delivery policy for a class of notifications.
type TaskConfig struct {
	ID         int64       `json:"id"`
	Code       string      `json:"code"`
	Status     TaskStatus  `json:"status"`
	Channel    ChannelType `json:"channel"`
	Priority   string      `json:"priority"`
	ProfileID  int64       `json:"profile_id"`
	TemplateID int64       `json:"template_id"`

	TestAddress string `json:"test_address"`
	FromName    string `json:"from_name"`
	FromAddress string `json:"from_address"`
	To          string `json:"to"`
	CC          string `json:"cc"`
	BCC         string `json:"bcc"`

	// AttachmentSource names an optional per-task attachment provider.
	AttachmentSource string `json:"attachment_source,omitempty"`
	Language         string `json:"language"`
	CallbackURL      string `json:"callback_url,omitempty"`
}

// IsTesting reports whether deliveries must be redirected to the test address.
func (t *TaskConfig) IsTesting() bool {
	return t.Status == TaskStatusTesting
}
