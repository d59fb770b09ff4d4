// Package cache adds a Redis read-through cache for task, profile and template lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "outbox:config:"

// Config configures the cache.
type Config struct {
	TTL       time.Duration
	KeyPrefix string
}

// Provider wraps a notifications.StoreProvider so that every acquired store
// serves configuration lookups from Redis first.
type Provider struct {
	next   notifications.StoreProvider
	client redis.UniversalClient
	config Config
}

// NewProvider creates a caching provider.
func NewProvider(next notifications.StoreProvider, client redis.UniversalClient, cfg Config) *Provider {
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Provider{next: next, client: client, config: cfg}
}

// Acquire implements notifications.StoreProvider.
func (p *Provider) Acquire(ctx context.Context) (notifications.Store, func(), error) {
	store, release, err := p.next.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &cachedStore{Store: store, p: p}, release, nil
}

// Invalidate drops every cached configuration entry.
func (p *Provider) Invalidate(ctx context.Context) error {
	iter := p.client.Scan(ctx, 0, p.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := p.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("delete %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

type cachedStore struct {
	notifications.Store
	p *Provider
}

func (s *cachedStore) GetTaskConfig(ctx context.Context, taskID int64) (*domain.TaskConfig, error) {
	return readThrough(ctx, s.p, fmt.Sprintf("task:%d", taskID), func() (*domain.TaskConfig, error) {
		return s.Store.GetTaskConfig(ctx, taskID)
	}, nil)
}

func (s *cachedStore) GetProfile(ctx context.Context, profileID int64) (*domain.MailProfile, error) {
	return readThrough(ctx, s.p, fmt.Sprintf("profile:%d", profileID), func() (*domain.MailProfile, error) {
		return s.Store.GetProfile(ctx, profileID)
	}, func(p *domain.MailProfile) bool {
		// Plain text passwords stay out of Redis.
		return p.Secret.Kind != domain.SecretLiteral || p.Secret.Value == ""
	})
}

func (s *cachedStore) GetBestTemplate(ctx context.Context, templateID int64, language string, appID int64) (*domain.EmailTemplate, error) {
	key := fmt.Sprintf("template:%d:%s:%d", templateID, language, appID)
	return readThrough(ctx, s.p, key, func() (*domain.EmailTemplate, error) {
		return s.Store.GetBestTemplate(ctx, templateID, language, appID)
	}, nil)
}

// readThrough returns the cached value for key or loads and caches it.
// Redis failures degrade to a direct load. Absent values are never cached.
func readThrough[T any](ctx context.Context, p *Provider, key string, load func() (*T, error), cacheable func(*T) bool) (*T, error) {
	key = p.config.KeyPrefix + key

	data, err := p.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if jsonErr := json.Unmarshal(data, &v); jsonErr == nil {
			return &v, nil
		}
		slog.Warn("dropping undecodable cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		slog.Warn("config cache read failed", "key", key, "error", err)
	}

	v, err := load()
	if err != nil || v == nil {
		return v, err
	}
	if cacheable != nil && !cacheable(v) {
		return v, nil
	}

	if data, err := json.Marshal(v); err == nil {
		if err := p.client.Set(ctx, key, data, p.config.TTL).Err(); err != nil {
			slog.Warn("config cache write failed", "key", key, "error", err)
		}
	}
	return v, nil
}
