// Package webhook posts completion events to the callback URL configured on a task.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/notifications"
)

const (
	signatureHeader = "X-Outbox-Signature"
	eventTypeHeader = "X-Outbox-Event"
)

// Config configures the webhook notifier.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
	// Secret signs payloads with HMAC-SHA256 when set.
	Secret string
}

// Notifier implements notifications.CompletionNotifier over HTTP.
type Notifier struct {
	config Config
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a new webhook notifier.
func NewNotifier(cfg Config) *Notifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Notify delivers the event in the background. Events without a callback URL are ignored.
func (n *Notifier) Notify(_ context.Context, event notifications.CompletionEvent) {
	if event.CallbackURL == "" {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		err := notifications.DeliverWithRetry(n.ctx, n.config.MaxRetries, n.config.RetryDelay, n.config.MaxDelay,
			func(ctx context.Context) error {
				return n.post(ctx, event)
			})
		notifications.RecordCompletionDelivery("webhook", err)

		if err != nil {
			slog.Warn("webhook delivery failed",
				"event_id", event.ID,
				"item_id", event.ItemID,
				"url", event.CallbackURL,
				"error", err,
			)
			return
		}
		slog.Debug("webhook delivered", "event_id", event.ID, "item_id", event.ItemID)
	}()
}

func (n *Notifier) post(ctx context.Context, event notifications.CompletionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, event.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventTypeHeader, event.Type)
	if n.config.Secret != "" {
		req.Header.Set(signatureHeader, Sign(payload, n.config.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook delivery failed: status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Close waits for in-flight deliveries. When ctx expires first, pending retries are abandoned.
func (n *Notifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}
