// Package sms delivers notifications through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultAPIKeyHeader = "X-API-Key"
	maxErrorBody        = 512
)

// Config holds SMS gateway configuration.
type Config struct {
	Enabled      bool
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	From         string
	Timeout      time.Duration
	// RateLimit is requests per second; zero means unlimited.
	RateLimit float64
	// BreakerFailures consecutive gateway failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Sender implements notifications.Sender for the SMS gateway.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// NewSender creates a new SMS sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.BaseURL == "" {
			return nil, errors.New("sms sender: base URL is required when enabled")
		}
		if config.From == "" {
			return nil, errors.New("sms sender: from identity is required when enabled")
		}
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = defaultAPIKeyHeader
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = 30 * time.Second
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	slog.Info("sms sender configured",
		"enabled", config.Enabled,
		"base_url", config.BaseURL,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		breaker:    newBreaker(config),
	}, nil
}

func newBreaker(config Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sms-gateway",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		// Rejections of a single message say nothing about gateway health.
		IsSuccessful: func(err error) bool {
			var permanent *PermanentError
			return err == nil || errors.As(err, &permanent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

type payload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Body  string `json:"body"`
	Media string `json:"media,omitempty"`
}

// Send posts the message to the gateway. The first attachment's file name is sent as media.
func (s *Sender) Send(ctx context.Context, n notifications.Notification) error {
	if !s.config.Enabled {
		return notifications.ErrChannelDisabled
	}

	to := recipients(n)
	if len(to) == 0 {
		return notifications.ErrNoRecipients
	}

	p := payload{
		From: s.config.From,
		To:   strings.Join(to, ","),
		Body: n.Body,
	}
	if len(n.Attachments) > 0 {
		p.Media = n.Attachments[0].FileName
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.post(ctx, body)
	})
	if err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Debug("sms sent", "to", p.To)
	return nil
}

// recipients merges to, cc and bcc into one list, keeping the first occurrence of each number.
func recipients(n notifications.Notification) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range []string{n.To, n.CC, n.BCC} {
		for _, addr := range notifications.SplitAddresses(list) {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set(s.config.APIKeyHeader, s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp)
}

func handleResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &RetryableError{Code: resp.StatusCode, Message: string(respBody)}
	default:
		return &PermanentError{Code: resp.StatusCode, Message: string(respBody)}
	}
}

// PermanentError is a gateway rejection of this particular message.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("sms gateway rejected message (%d): %s", e.Code, e.Message)
}

// RetryableError indicates a gateway or transport problem.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms gateway error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms gateway error: %s", e.Message)
}
