package notifications

import (
	"context"
	"testing"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRedirectForTesting_Email(t *testing.T) {
	task := &domain.TaskConfig{
		Code:        "ORDER_CONFIRM",
		Status:      domain.TaskStatusTesting,
		Channel:     domain.ChannelTypeEmail,
		TestAddress: "qa@example.com",
	}
	n := &Notification{
		To:      "Jo <jo@example.com>",
		CC:      "cc@example.com",
		BCC:     "audit@example.com",
		Subject: "Your order",
		Body:    "<p>Hello</p>",
	}

	RedirectForTesting(context.Background(), n, task)

	assert.Equal(t, "qa@example.com", n.To)
	assert.Empty(t, n.CC)
	assert.Empty(t, n.BCC)
	assert.Equal(t, "[TESTING TASK] Your order", n.Subject)
	assert.Contains(t, n.Body, "This is a test email")
	assert.Contains(t, n.Body, "Jo &lt;jo@example.com&gt;")
	assert.Contains(t, n.Body, "audit@example.com")
	assert.Contains(t, n.Body, "<hr/><p>Hello</p>")
}

func TestRedirectForTesting_SMS(t *testing.T) {
	task := &domain.TaskConfig{
		Status:      domain.TaskStatusTesting,
		Channel:     domain.ChannelTypeSMS,
		TestAddress: "+15550000",
	}
	n := &Notification{To: "+15551234", CC: "x", BCC: "y", Subject: "s", Body: "Code 1234"}

	RedirectForTesting(context.Background(), n, task)

	assert.Equal(t, "+15550000", n.To)
	assert.Empty(t, n.CC)
	assert.Empty(t, n.BCC)
	assert.Equal(t, "Original recipient: +15551234\nCode 1234", n.Body)
	assert.Equal(t, "[TESTING TASK] s", n.Subject)
}

func TestRedirectForTesting_AlwaysClearsCopies(t *testing.T) {
	originals := []Notification{
		{To: "", CC: "", BCC: ""},
		{To: "a@x.com", CC: "b@x.com;c@x.com", BCC: ""},
		{To: "a@x.com", CC: "", BCC: "d@x.com"},
	}

	for _, channel := range []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeSMS} {
		task := &domain.TaskConfig{Status: domain.TaskStatusTesting, Channel: channel, TestAddress: "test@x.com"}
		for _, orig := range originals {
			n := orig
			RedirectForTesting(context.Background(), &n, task)
			assert.Equal(t, "test@x.com", n.To)
			assert.Empty(t, n.CC)
			assert.Empty(t, n.BCC)
		}
	}
}
