// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/config"
	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/notifications"
	"github.com/bissquit/outbox-dispatcher/internal/notifications/amqp"
	"github.com/bissquit/outbox-dispatcher/internal/notifications/cache"
	"github.com/bissquit/outbox-dispatcher/internal/notifications/email"
	notificationspostgres "github.com/bissquit/outbox-dispatcher/internal/notifications/postgres"
	"github.com/bissquit/outbox-dispatcher/internal/notifications/sms"
	"github.com/bissquit/outbox-dispatcher/internal/notifications/webhook"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/httputil"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/metrics"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/postgres"
	"github.com/bissquit/outbox-dispatcher/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// closer is implemented by completion notifiers that own background deliveries.
type closer interface {
	Close(ctx context.Context) error
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	worker        *notifications.Worker
	control       *notifications.Control
	closers       []closer
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.MigrationsPath != "" {
		if err := postgres.Migrate(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
		control:       notifications.NewControl(),
	}

	build := version.Get()
	metrics.RecordBuildInfo(build.Version, build.Commit)
	go app.collectDBMetrics(metricsCtx)

	router, err := app.setup(metricsCtx)
	if err != nil {
		app.closeResources()
		return nil, fmt.Errorf("setup: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops the worker, drains completion notifiers and closes the servers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()

	// Stop the worker first so no new completion events are produced
	if a.worker != nil {
		a.worker.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	addErr := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			addErr(fmt.Errorf("shutdown server: %w", err))
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			addErr(fmt.Errorf("shutdown metrics server: %w", err))
		}
	}()

	for _, c := range a.closers {
		wg.Add(1)
		go func(c closer) {
			defer wg.Done()
			if err := c.Close(ctx); err != nil {
				addErr(fmt.Errorf("close completion notifier: %w", err))
			}
		}(c)
	}

	wg.Wait()

	a.closers = nil
	a.closeResources()

	return errors.Join(errs...)
}

func (a *App) closeResources() {
	a.metricsCancel()
	for _, c := range a.closers {
		_ = c.Close(context.Background())
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	a.db.Close()
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, stats notifications.QueueStatsReader) {
	ticker := time.NewTicker(a.config.Worker.QueueStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s, err := stats.QueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(s)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Worker returns the dispatch worker instance.
func (a *App) Worker() *notifications.Worker {
	return a.worker
}

// Control returns the pause switch shared by the worker and the control endpoints.
func (a *App) Control() *notifications.Control {
	return a.control
}

func (a *App) setup(ctx context.Context) (*chi.Mux, error) {
	cfg := a.config

	secretKey, err := domain.ParseSecretKey(cfg.Secrets.Key)
	if err != nil {
		return nil, fmt.Errorf("parse secret key: %w", err)
	}
	if secretKey == nil {
		slog.Warn("secret key is not configured: profiles with sealed secrets will fail")
	}

	repo := notificationspostgres.NewRepository(a.db)

	var (
		provider    notifications.StoreProvider = notificationspostgres.NewProvider(a.db)
		invalidator notifications.CacheInvalidator
	)

	if cfg.Cache.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// Reads fall back to the database while Redis is unreachable.
			slog.Warn("redis is unreachable, configuration cache degraded", "addr", cfg.Cache.Addr, "error", err)
		}
		cached := cache.NewProvider(provider, a.redis, cache.Config{
			TTL:       cfg.Cache.TTL,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		provider = cached
		invalidator = cached
	}

	resolver := notifications.NewAttachmentResolver(cfg.Attachments.DownloadTimeout, cfg.Attachments.MaxBytes)

	emailSender, err := email.NewSender(email.Config{
		Timeout:            cfg.SMTP.Timeout,
		HeloName:           cfg.SMTP.HeloName,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		SecretKey:          secretKey,
	}, resolver)
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}

	smsSender, err := sms.NewSender(sms.Config{
		Enabled:         cfg.SMS.Enabled,
		BaseURL:         cfg.SMS.BaseURL,
		APIKey:          cfg.SMS.APIKey,
		APIKeyHeader:    cfg.SMS.APIKeyHeader,
		From:            cfg.SMS.From,
		Timeout:         cfg.SMS.Timeout,
		RateLimit:       cfg.SMS.RateLimit,
		BreakerFailures: cfg.SMS.BreakerFailures,
		BreakerTimeout:  cfg.SMS.BreakerTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create sms sender: %w", err)
	}
	if !cfg.SMS.Enabled {
		slog.Warn("sms sender is disabled: text message items will be retried until attempts run out")
	}

	var completion notifications.MultiNotifier

	if cfg.Webhook.Enabled {
		n := webhook.NewNotifier(webhook.Config{
			Timeout:    cfg.Webhook.Timeout,
			MaxRetries: cfg.Webhook.MaxRetries,
			RetryDelay: cfg.Webhook.RetryDelay,
			MaxDelay:   cfg.Webhook.MaxDelay,
			Secret:     cfg.Webhook.Secret,
		})
		completion = append(completion, n)
		a.closers = append(a.closers, n)
	}

	if cfg.Events.Enabled {
		p, err := amqp.Dial(amqp.Config{
			URL:            cfg.Events.URL,
			Exchange:       cfg.Events.Exchange,
			RoutingPrefix:  cfg.Events.RoutingPrefix,
			PublishTimeout: cfg.Events.PublishTimeout,
			MaxRetries:     cfg.Events.MaxRetries,
			RetryDelay:     cfg.Events.RetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to event broker: %w", err)
		}
		completion = append(completion, p)
		a.closers = append(a.closers, p)
	}

	slog.Info("dispatcher configured",
		"cache_enabled", cfg.Cache.Enabled,
		"sms_enabled", cfg.SMS.Enabled,
		"webhook_enabled", cfg.Webhook.Enabled,
		"events_enabled", cfg.Events.Enabled,
	)

	dispatcher := notifications.NewDispatcher(emailSender, smsSender)
	renderer := notifications.NewRenderer()

	if cfg.Worker.StartPaused {
		a.control.Pause()
	}

	a.worker = notifications.NewWorker(notifications.WorkerConfig{
		BatchSize:         cfg.Worker.BatchSize,
		IdleDelay:         cfg.Worker.IdleDelay,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		PausePollInterval: cfg.Worker.PausePollInterval,
	}, provider, dispatcher, renderer, a.control, completion)
	a.worker.Start(ctx)

	go a.collectQueueMetrics(ctx, repo)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	notifications.NewHandler(a.control, repo, invalidator, secretKey).RegisterRoutes(r)

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
