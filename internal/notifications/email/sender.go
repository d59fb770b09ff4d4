// Package email delivers notifications over SMTP using the mail profile attached to each message.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
)

// AttachmentResolver opens attachment content. A nil reader means the attachment is skipped.
type AttachmentResolver interface {
	Resolve(ctx context.Context, att domain.Attachment) (io.ReadCloser, error)
}

// Config holds email sender configuration. Connection targets come from mail profiles.
type Config struct {
	// Timeout bounds the whole SMTP conversation.
	Timeout            time.Duration
	HeloName           string
	InsecureSkipVerify bool
	// SecretKey opens "KEY:" profile secrets. Nil disables them.
	SecretKey *[32]byte
	// LookupEnv resolves "ENV:" profile secrets. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Sender implements notifications.Sender over SMTP.
type Sender struct {
	config   Config
	resolver AttachmentResolver
}

// NewSender creates a new email sender.
func NewSender(config Config, resolver AttachmentResolver) (*Sender, error) {
	if resolver == nil {
		return nil, errors.New("email sender: attachment resolver is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.LookupEnv == nil {
		config.LookupEnv = os.LookupEnv
	}

	return &Sender{
		config:   config,
		resolver: resolver,
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// Send builds the message and delivers it through the notification's mail profile.
func (s *Sender) Send(ctx context.Context, n notifications.Notification) error {
	if n.Profile == nil {
		return notifications.ErrMissingConfig
	}

	env, err := newEnvelope(n)
	if err != nil {
		return err
	}

	msg, err := s.buildMessage(ctx, env, n)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	if err := s.deliver(ctx, n.Profile, env, msg); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return err
	}

	ctxlog.FromContext(ctx).Debug("email delivered",
		"smtp_host", n.Profile.Host,
		"recipient_count", len(env.recipients()),
	)
	return nil
}

func (s *Sender) deliver(ctx context.Context, profile *domain.MailProfile, env *envelope, msg []byte) error {
	conn, err := s.dial(ctx, profile)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(s.config.Timeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, profile.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.config.HeloName != "" {
		if err := client.Hello(s.config.HeloName); err != nil {
			return fmt.Errorf("helo: %w", err)
		}
	}

	if profile.Security.Normalize() == domain.SecurityStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp server %s does not support STARTTLS", profile.Host)
		}
		if err := client.StartTLS(s.tlsConfig(profile.Host)); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if profile.HasAuth() {
		auth, err := s.auth(client, profile)
		if err != nil {
			return err
		}
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(env.from.Address); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range env.recipients() {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

func (s *Sender) dial(ctx context.Context, profile *domain.MailProfile) (net.Conn, error) {
	addr := net.JoinHostPort(profile.Host, strconv.Itoa(profile.Port))
	dialer := &net.Dialer{Timeout: s.config.Timeout}

	if profile.Security.Normalize() == domain.SecurityImplicitTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: s.tlsConfig(profile.Host)}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial smtp tls %s: %w", addr, err)
		}
		return conn, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	return conn, nil
}

func (s *Sender) tlsConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.config.InsecureSkipVerify, //nolint:gosec // opt-in for private relays
	}
}

// auth picks PLAIN when offered, LOGIN otherwise.
// Profiles without transport security send PLAIN in the clear.
func (s *Sender) auth(client *smtp.Client, profile *domain.MailProfile) (smtp.Auth, error) {
	password, err := domain.ResolveSecret(profile.Secret, s.config.LookupEnv, s.config.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("resolve secret of profile %d: %w", profile.ID, err)
	}

	_, mechanisms := client.Extension("AUTH")
	if !strings.Contains(strings.ToUpper(mechanisms), "PLAIN") && strings.Contains(strings.ToUpper(mechanisms), "LOGIN") {
		return &loginAuth{username: profile.Username, password: password, host: profile.Host}, nil
	}
	if profile.Security.Normalize() == domain.SecurityNone {
		return &plainAuth{username: profile.Username, password: password, host: profile.Host}, nil
	}
	return smtp.PlainAuth("", profile.Username, password, profile.Host), nil
}

// plainAuth implements the PLAIN SMTP auth mechanism without the TLS
// requirement of smtp.PlainAuth.
type plainAuth struct {
	username string
	password string
	host     string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("unexpected server name %s", server.Name)
	}
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, errors.New("unexpected server challenge")
	}
	return nil, nil
}

// loginAuth implements the LOGIN SMTP auth mechanism.
type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("unexpected server name %s", server.Name)
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:", "user:":
		return []byte(a.username), nil
	case "password:", "pass:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected login challenge: %s", fromServer)
	}
}
