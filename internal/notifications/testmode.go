package notifications

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
)

const testingSubjectPrefix = "[TESTING TASK] "

// RedirectForTesting rewrites a notification of a task in testing status so that it
// goes only to the task's test address. The original recipients are noted in the body.
func RedirectForTesting(ctx context.Context, n *Notification, task *domain.TaskConfig) {
	ctxlog.FromContext(ctx).Info("testing task, redirecting recipients",
		"task_code", task.Code,
		"original_to", n.To,
		"original_cc", n.CC,
		"original_bcc", n.BCC,
		"test_address", task.TestAddress,
	)

	originalTo, originalCC, originalBCC := n.To, n.CC, n.BCC

	n.To = task.TestAddress
	n.CC = ""
	n.BCC = ""
	n.Subject = testingSubjectPrefix + n.Subject

	if task.Channel == domain.ChannelTypeSMS {
		n.Body = fmt.Sprintf("Original recipient: %s\n%s", originalTo, n.Body)
		return
	}

	var b strings.Builder
	b.WriteString(`<div style="border:1px solid #d9534f;padding:8px;margin-bottom:8px;font-family:sans-serif">`)
	b.WriteString("<p><strong>This is a test email.</strong> It was redirected from the original recipients:</p>")
	b.WriteString("<ul>")
	fmt.Fprintf(&b, "<li>To: %s</li>", html.EscapeString(originalTo))
	fmt.Fprintf(&b, "<li>Cc: %s</li>", html.EscapeString(originalCC))
	fmt.Fprintf(&b, "<li>Bcc: %s</li>", html.EscapeString(originalBCC))
	b.WriteString("</ul></div><hr/>")
	b.WriteString(n.Body)

	n.Body = b.String()
}
