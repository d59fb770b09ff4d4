// Package config loads service configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are joined with "__",
// e.g. DISPATCHER_DATABASE__URL sets database.url.
const EnvPrefix = "DISPATCHER_"

// Config is the full service configuration.
type Config struct {
	Log         LogConfig         `koanf:"log"`
	Database    DatabaseConfig    `koanf:"database"`
	Server      ServerConfig      `koanf:"server"`
	Worker      WorkerConfig      `koanf:"worker"`
	SMTP        SMTPConfig        `koanf:"smtp"`
	SMS         SMSConfig         `koanf:"sms"`
	Attachments AttachmentsConfig `koanf:"attachments"`
	Secrets     SecretsConfig     `koanf:"secrets"`
	Cache       CacheConfig       `koanf:"cache"`
	Webhook     WebhookConfig     `koanf:"webhook"`
	Events      EventsConfig      `koanf:"events"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=2"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"min=1"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	// MigrationsPath is a golang-migrate source URL. Empty skips migrations.
	MigrationsPath string `koanf:"migrations_path"`
}

// ServerConfig configures the control and metrics listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required,numeric"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required,numeric"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// WorkerConfig configures the dispatch loop.
type WorkerConfig struct {
	BatchSize          int           `koanf:"batch_size" validate:"min=1,max=1000"`
	IdleDelay          time.Duration `koanf:"idle_delay" validate:"gt=0"`
	MaxAttempts        int           `koanf:"max_attempts" validate:"min=1"`
	PausePollInterval  time.Duration `koanf:"pause_poll_interval" validate:"gt=0"`
	QueueStatsInterval time.Duration `koanf:"queue_stats_interval" validate:"gt=0"`
	// StartPaused boots the loop in the paused state.
	StartPaused bool `koanf:"start_paused"`
}

// SMTPConfig holds settings shared by all mail profiles.
type SMTPConfig struct {
	Timeout            time.Duration `koanf:"timeout" validate:"gt=0"`
	HeloName           string        `koanf:"helo_name"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
}

// SMSConfig configures the HTTP text message gateway.
type SMSConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BaseURL         string        `koanf:"base_url" validate:"required_if=Enabled true"`
	APIKey          string        `koanf:"api_key"`
	APIKeyHeader    string        `koanf:"api_key_header"`
	From            string        `koanf:"from"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimit       float64       `koanf:"rate_limit" validate:"min=0"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// AttachmentsConfig configures attachment retrieval.
type AttachmentsConfig struct {
	DownloadTimeout time.Duration `koanf:"download_timeout" validate:"gt=0"`
	MaxBytes        int64         `koanf:"max_bytes" validate:"gt=0"`
}

// SecretsConfig holds the key for sealed "KEY:" profile secrets.
type SecretsConfig struct {
	// Key is a base64 encoded 32-byte key. Empty disables sealed secrets.
	Key string `koanf:"key" validate:"omitempty,base64"`
}

// CacheConfig configures the Redis read-through cache for task, profile and template lookups.
type CacheConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Addr      string        `koanf:"addr" validate:"required_if=Enabled true"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db" validate:"min=0"`
	TTL       time.Duration `koanf:"ttl"`
	KeyPrefix string        `koanf:"key_prefix"`
}

// WebhookConfig configures completion callbacks to task callback URLs.
type WebhookConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries" validate:"min=0"`
	RetryDelay time.Duration `koanf:"retry_delay"`
	MaxDelay   time.Duration `koanf:"max_delay"`
	Secret     string        `koanf:"secret"`
}

// EventsConfig configures completion events published to RabbitMQ.
type EventsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url" validate:"required_if=Enabled true"`
	Exchange       string        `koanf:"exchange" validate:"required_if=Enabled true"`
	RoutingPrefix  string        `koanf:"routing_prefix"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
	MaxRetries     int           `koanf:"max_retries" validate:"min=0"`
	RetryDelay     time.Duration `koanf:"retry_delay"`
}

// Default returns the configuration used when nothing overrides a field.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectAttempts: 5,
			ConnectTimeout:  60 * time.Second,
			MigrationsPath:  "file://migrations",
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "8090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Worker: WorkerConfig{
			BatchSize:          50,
			IdleDelay:          10 * time.Second,
			MaxAttempts:        5,
			PausePollInterval:  time.Second,
			QueueStatsInterval: 15 * time.Second,
		},
		SMTP: SMTPConfig{
			Timeout: 60 * time.Second,
		},
		SMS: SMSConfig{
			APIKeyHeader:    "X-API-Key",
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Attachments: AttachmentsConfig{
			DownloadTimeout: 5 * time.Minute,
			MaxBytes:        25 << 20,
		},
		Cache: CacheConfig{
			Addr:      "localhost:6379",
			TTL:       time.Minute,
			KeyPrefix: "outbox:config:",
		},
		Webhook: WebhookConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			RetryDelay: time.Second,
			MaxDelay:   30 * time.Second,
		},
		Events: EventsConfig{
			Exchange:       "outbox.events",
			PublishTimeout: 5 * time.Second,
			MaxRetries:     3,
			RetryDelay:     500 * time.Millisecond,
		},
	}
}

// Load reads the YAML file at path, if it exists, then applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
