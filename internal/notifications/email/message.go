package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

const base64LineLength = 76

// envelope holds parsed addresses of one message.
type envelope struct {
	from *mail.Address
	to   []*mail.Address
	cc   []*mail.Address
	bcc  []*mail.Address
}

// recipients returns the SMTP envelope recipients.
func (e *envelope) recipients() []string {
	rcpts := make([]string, 0, len(e.to)+len(e.cc)+len(e.bcc))
	for _, list := range [][]*mail.Address{e.to, e.cc, e.bcc} {
		for _, a := range list {
			rcpts = append(rcpts, a.Address)
		}
	}
	return rcpts
}

func newEnvelope(n notifications.Notification) (*envelope, error) {
	if n.FromAddress == "" {
		return nil, fmt.Errorf("from address is empty")
	}
	from, err := mail.ParseAddress(n.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", n.FromAddress, err)
	}
	if n.FromName != "" {
		from.Name = n.FromName
	}

	env := &envelope{from: from}
	if env.to, err = parseList(n.To); err != nil {
		return nil, err
	}
	if env.cc, err = parseList(n.CC); err != nil {
		return nil, err
	}
	if env.bcc, err = parseList(n.BCC); err != nil {
		return nil, err
	}

	if len(env.to)+len(env.cc)+len(env.bcc) == 0 {
		return nil, notifications.ErrNoRecipients
	}
	return env, nil
}

func parseList(list string) ([]*mail.Address, error) {
	raw := notifications.SplitAddresses(list)
	out := make([]*mail.Address, 0, len(raw))
	for _, r := range raw {
		a, err := mail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", r, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func joinAddresses(list []*mail.Address) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// priorityHeaders maps a task priority code to message headers.
func priorityHeaders(priority string) (xPriority, importance string) {
	switch priority {
	case domain.PriorityHigh:
		return "1 (Highest)", "high"
	case domain.PriorityLow:
		return "5 (Lowest)", "low"
	default:
		return "3 (Normal)", "normal"
	}
}

// buildMessage renders the full RFC 5322 message. Bcc recipients are not written to headers.
// Attachment streams are opened one at a time and closed as soon as they are encoded.
func (s *Sender) buildMessage(ctx context.Context, env *envelope, n notifications.Notification) ([]byte, error) {
	var buf bytes.Buffer

	header := func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	}

	header("From", env.from.String())
	if len(env.to) > 0 {
		header("To", joinAddresses(env.to))
	}
	if len(env.cc) > 0 {
		header("Cc", joinAddresses(env.cc))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", n.Subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(env.from.Address)))
	header("MIME-Version", "1.0")

	xPriority, importance := priorityHeaders(n.Priority)
	header("X-Priority", xPriority)
	header("Importance", importance)

	inline, regular := partitionAttachments(n.Attachments)

	root := multipart.NewWriter(&buf)
	rootType := "alternative"
	if len(regular) > 0 {
		rootType = "mixed"
	}
	header("Content-Type", fmt.Sprintf("multipart/%s; boundary=%s", rootType, root.Boundary()))
	buf.WriteString("\r\n")

	writeBody := func(alt *multipart.Writer) error {
		return s.writeAlternative(ctx, alt, n.Body, inline)
	}

	if len(regular) > 0 {
		if err := nested(root, "alternative", writeBody); err != nil {
			return nil, err
		}
		for _, att := range regular {
			if err := s.writeAttachment(ctx, root, att, false); err != nil {
				return nil, err
			}
		}
	} else if err := writeBody(root); err != nil {
		return nil, err
	}

	if err := root.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

// writeAlternative writes the body as plain text and HTML. The HTML part is wrapped
// in multipart/related when inline attachments are present.
func (s *Sender) writeAlternative(ctx context.Context, alt *multipart.Writer, body string, inline []domain.Attachment) error {
	if err := writeText(alt, "text/plain", body); err != nil {
		return err
	}

	if len(inline) == 0 {
		return writeText(alt, "text/html", body)
	}

	return nested(alt, "related", func(rel *multipart.Writer) error {
		if err := writeText(rel, "text/html", body); err != nil {
			return err
		}
		for _, att := range inline {
			if err := s.writeAttachment(ctx, rel, att, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// nested creates a multipart child of parent with the given subtype.
func nested(parent *multipart.Writer, subtype string, fill func(*multipart.Writer) error) error {
	boundary := multipart.NewWriter(io.Discard).Boundary()

	part, err := parent.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/%s; boundary=%s", subtype, boundary)},
	})
	if err != nil {
		return fmt.Errorf("create %s part: %w", subtype, err)
	}

	child := multipart.NewWriter(part)
	if err := child.SetBoundary(boundary); err != nil {
		return fmt.Errorf("set %s boundary: %w", subtype, err)
	}
	if err := fill(child); err != nil {
		return err
	}
	return child.Close()
}

func writeText(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType + "; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}

	qp := quotedprintable.NewWriter(part)
	if _, err := io.WriteString(qp, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return qp.Close()
}

func (s *Sender) writeAttachment(ctx context.Context, w *multipart.Writer, att domain.Attachment, inline bool) error {
	rc, err := s.resolver.Resolve(ctx, att)
	if err != nil {
		return err
	}
	if rc == nil {
		ctxlog.FromContext(ctx).Warn("attachment skipped, no content source", "file_name", att.FileName)
		return nil
	}
	defer func() { _ = rc.Close() }()

	name := filepath.Base(att.FileName)
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}

	header := textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(detectMIMEType(att), map[string]string{"name": name})},
		"Content-Disposition":       {mime.FormatMediaType(disposition, map[string]string{"filename": name})},
		"Content-Transfer-Encoding": {"base64"},
	}
	if inline {
		cid := att.ContentID
		if cid == "" {
			cid = name
		}
		header.Set("Content-ID", "<"+strings.Trim(cid, "<>")+">")
	}

	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create attachment part %q: %w", name, err)
	}

	enc := base64.NewEncoder(base64.StdEncoding, &lineWriter{w: part})
	if _, err := io.Copy(enc, rc); err != nil {
		return fmt.Errorf("encode attachment %q: %w", name, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode attachment %q: %w", name, err)
	}
	_, err = io.WriteString(part, "\r\n")
	return err
}

func partitionAttachments(atts []domain.Attachment) (inline, regular []domain.Attachment) {
	for _, att := range atts {
		if att.Inline {
			inline = append(inline, att)
			continue
		}
		regular = append(regular, att)
	}
	return inline, regular
}

func detectMIMEType(att domain.Attachment) string {
	if att.MIMEType != "" {
		return att.MIMEType
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(att.FileName))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}

// lineWriter breaks base64 output into lines of base64LineLength characters.
type lineWriter struct {
	w   io.Writer
	col int
}

func (l *lineWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(base64LineLength-l.col, len(p))
		if _, err := l.w.Write(p[:n]); err != nil {
			return written, err
		}
		written += n
		l.col += n
		p = p[n:]
		if l.col == base64LineLength {
			if _, err := io.WriteString(l.w, "\r\n"); err != nil {
				return written, err
			}
			l.col = 0
		}
	}
	return written, nil
}
