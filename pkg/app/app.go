// Package app assembles the conversion service from configuration: the
// identity clients, shared state, audit store, notifier and HTTP surface.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"           // postgres audit driver
	_ "github.com/mattn/go-sqlite3" // sqlite audit driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/api"
	"github.com/platinummonkey/leadflow/pkg/audit"
	"github.com/platinummonkey/leadflow/pkg/config"
	"github.com/platinummonkey/leadflow/pkg/conversion"
	"github.com/platinummonkey/leadflow/pkg/directory"
	"github.com/platinummonkey/leadflow/pkg/httputil"
	"github.com/platinummonkey/leadflow/pkg/middleware"
	"github.com/platinummonkey/leadflow/pkg/notify"
	"github.com/platinummonkey/leadflow/pkg/observability"
	"github.com/platinummonkey/leadflow/pkg/provisioning"
	"github.com/platinummonkey/leadflow/pkg/scim"
	"github.com/platinummonkey/leadflow/pkg/tokenexchange"
)

// connectTimeout bounds the startup pings of redis and the audit database
const connectTimeout = 5 * time.Second

// App holds the wired components
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Directory    *directory.Client
	Orchestrator *conversion.Orchestrator
	Health       *observability.HealthChecker

	// Redis is nil when no redis URL is configured
	Redis *redis.Client

	// AuditStore is nil when no audit driver is configured
	AuditStore *audit.SQLStore

	rateLimiter middleware.Limiter
	closers     []func() error
}

// New builds the application. Close releases what it opened, also when New
// fails part way.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (app *App, err error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app = &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  observability.NewMetrics(registry),
	}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	httpClient := httputil.NewClient(cfg.Directory.InsecureSkipVerify, logger)

	var cache tokenexchange.TokenCache = tokenexchange.NewMemoryCache()
	var locker conversion.Locker = conversion.NewMemoryLocker()
	if cfg.Redis.URL != "" {
		if app.Redis, err = connectRedis(ctx, cfg.Redis); err != nil {
			return app, err
		}
		app.closers = append(app.closers, app.Redis.Close)
		cache = tokenexchange.NewRedisCache(app.Redis, cfg.Redis.KeyPrefix+":token")
		locker = conversion.NewRedisLocker(app.Redis, cfg.Redis.KeyPrefix+":lock")
		logger.Info("Using redis for the token cache and conversion lock")
	}

	if cfg.Conversion.RateLimit > 0 {
		app.rateLimiter = app.newRateLimiter(cfg)
	}

	tokens, err := tokenexchange.NewClient(tokenexchange.Config{
		TokenURL:     cfg.Identity.TokenURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Scope:        cfg.Identity.Scope,
		Timeout:      cfg.Identity.TokenTimeout,
		MaxAttempts:  cfg.Identity.TokenMaxAttempts,
		HTTPClient:   httpClient,
	}, cache, logger, app.Metrics)
	if err != nil {
		return app, fmt.Errorf("failed to create token client: %w", err)
	}

	users, err := scim.NewClient(scim.Config{
		UsersURL:     cfg.Identity.UsersURL,
		RolesURL:     cfg.Identity.RolesURL,
		BulkURL:      cfg.Identity.BulkURL,
		Timeout:      cfg.Directory.MutateTimeout,
		RoleCacheTTL: cfg.Identity.RoleCacheTTL,
		HTTPClient:   httpClient,
	}, logger, app.Metrics)
	if err != nil {
		return app, fmt.Errorf("failed to create SCIM client: %w", err)
	}

	app.Directory, err = directory.NewClient(directory.Config{
		BaseURL:       cfg.Directory.BaseURL,
		Username:      cfg.Directory.Username,
		Password:      cfg.Directory.Password,
		ReadTimeout:   cfg.Directory.ReadTimeout,
		MutateTimeout: cfg.Directory.MutateTimeout,
		HTTPClient:    httpClient,
	}, logger, app.Metrics)
	if err != nil {
		return app, fmt.Errorf("failed to create directory client: %w", err)
	}

	var store audit.Store = audit.NopStore{}
	if cfg.Audit.Driver != config.AuditDriverNone {
		if app.AuditStore, err = openAuditStore(ctx, cfg.Audit, app); err != nil {
			return app, err
		}
		store = app.AuditStore
	}

	notifier, err := newNotifier(cfg.Notification, httpClient, logger, app.Metrics)
	if err != nil {
		return app, err
	}

	provisioner := provisioning.NewService(provisioning.Config{
		UserStorePrefix: cfg.Identity.UserStorePrefix,
		RoleName:        cfg.Identity.RoleName,
	}, tokens, users, app.Directory, logger, app.Metrics)

	app.Orchestrator = conversion.NewOrchestrator(
		conversion.Config{LockTTL: cfg.Conversion.LockTTL},
		app.Directory, provisioner, notifier, store, locker,
		logger, app.Metrics,
	)

	required := map[string]observability.Pinger{"directory": app.Directory}
	if app.AuditStore != nil {
		required["audit"] = app.AuditStore
	}
	app.Health = observability.NewHealthChecker(app.Redis, required, cfg.Observability.OTelServiceVersion)

	return app, nil
}

// Handler returns the HTTP surface
func (a *App) Handler() http.Handler {
	opts := api.Options{
		Converter: a.Orchestrator,
		Health:    a.Health,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
	}
	if a.Config.Observability.MetricsEnabled {
		opts.Registry = a.Registry
	}
	if a.AuditStore != nil {
		opts.History = a.AuditStore
	}
	if a.rateLimiter != nil {
		opts.RateLimiter = a.rateLimiter
	}
	return api.NewServer(opts)
}

// Close releases connections in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newRateLimiter shares the convert budget through redis when available
func (a *App) newRateLimiter(cfg *config.Config) middleware.Limiter {
	limitConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Conversion.RateLimit,
		WindowDuration:    cfg.Conversion.RateWindow,
		BurstSize:         cfg.Conversion.RateBurst,
	}
	if a.Redis != nil {
		return middleware.NewDistributedRateLimiter(a.Redis, limitConfig, cfg.Redis.KeyPrefix+":ratelimit")
	}

	limiter := middleware.NewRateLimiter(limitConfig)
	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)
	a.closers = append(a.closers, func() error {
		cancel()
		return nil
	})
	return limiter
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func openAuditStore(ctx context.Context, cfg config.AuditConfig, app *App) (*audit.SQLStore, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	app.closers = append(app.closers, db.Close)
	if cfg.Driver == config.AuditDriverSQLite {
		// sqlite allows one writer at a time
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	store, err := audit.NewSQLStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare audit store: %w", err)
	}
	return store, nil
}

func newNotifier(cfg config.NotificationConfig, client *http.Client, logger *logrus.Logger, metrics *observability.Metrics) (notify.Dispatcher, error) {
	if cfg.WebhookURL == "" {
		logger.Warn("No notification webhook configured; welcome notifications are only logged")
		return notify.NewLogDispatcher(logger, metrics), nil
	}
	dispatcher, err := notify.NewWebhookDispatcher(notify.WebhookConfig{
		URL:        cfg.WebhookURL,
		Secret:     cfg.WebhookSecret,
		Timeout:    cfg.Timeout,
		Retry:      notify.RetryConfig{MaxAttempts: cfg.MaxAttempts},
		HTTPClient: client,
	}, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification dispatcher: %w", err)
	}
	return dispatcher, nil
}
