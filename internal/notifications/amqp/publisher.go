// Package amqp publishes completion events to a RabbitMQ exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config configures the publisher.
type Config struct {
	URL            string
	Exchange       string
	RoutingPrefix  string
	PublishTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

func (c *Config) applyDefaults() {
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
}

// Publisher implements notifications.CompletionNotifier over AMQP.
type Publisher struct {
	config Config
	ch     Channel
	conn   io.Closer

	// publishing on one amqp channel is not concurrency safe
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to the broker and declares the topic exchange.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, errors.New("amqp publisher: url and exchange are required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	p := NewPublisher(ch, cfg)
	p.conn = conn
	return p, nil
}

// NewPublisher creates a publisher over an open channel.
func NewPublisher(ch Channel, cfg Config) *Publisher {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		config: cfg,
		ch:     ch,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RoutingKey returns the routing key for an event type.
func (p *Publisher) RoutingKey(eventType string) string {
	return p.config.RoutingPrefix + eventType
}

// Notify publishes the event in the background.
func (p *Publisher) Notify(_ context.Context, event notifications.CompletionEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		err := notifications.DeliverWithRetry(p.ctx, p.config.MaxRetries, p.config.RetryDelay, 0,
			func(ctx context.Context) error {
				return p.publish(ctx, event)
			})
		notifications.RecordCompletionDelivery("amqp", err)

		if err != nil {
			slog.Warn("completion event publish failed",
				"event_id", event.ID,
				"item_id", event.ItemID,
				"error", err,
			)
		}
	}()
}

func (p *Publisher) publish(ctx context.Context, event notifications.CompletionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.config.Exchange, p.RoutingKey(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.OccurredAt,
		AppId:        "outbox-dispatcher",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close waits for in-flight publishes and closes the channel and connection.
func (p *Publisher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	p.cancel()
	<-done

	errs := []error{waitErr}
	if err := p.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
