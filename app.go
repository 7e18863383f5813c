package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/metal-price-sync/app/handlers"
	"github.com/amirphl/metal-price-sync/app/middleware"
	"github.com/amirphl/metal-price-sync/app/router"
	"github.com/amirphl/metal-price-sync/app/scheduler"
	"github.com/amirphl/metal-price-sync/app/services"
	businessflow "github.com/amirphl/metal-price-sync/business_flow"
	"github.com/amirphl/metal-price-sync/config"
	"github.com/amirphl/metal-price-sync/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application holds the wired components of one process.
type Application struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *gorm.DB
	rc        *redis.Client
	registry  *prometheus.Registry
	priceSync businessflow.PriceSyncFlow
	history   businessflow.PriceRunHistoryFlow
	stopFuncs []func()
}

// initializeApplication connects the optional backends and builds the price
// sync flow with every enabled report sink.
func initializeApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger, serving bool) (*Application, error) {
	app := &Application{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.Database.Enabled {
		db, err := initializeDatabase(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		app.db = db
		app.stopFuncs = append(app.stopFuncs, func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(db); err != nil {
				app.Close()
				return nil, err
			}
		}
		app.history = businessflow.NewPriceRunHistoryFlow(repository.NewPriceRunRepository(db), logger)
	}

	if cfg.Cache.Enabled {
		rc, err := initializeCache(ctx, cfg.Cache, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.rc = rc
		app.stopFuncs = append(app.stopFuncs, func() { _ = rc.Close() })
		if serving {
			app.stopFuncs = append(app.stopFuncs, startCacheHealthMonitor(ctx, rc, cfg.Cache.PingEvery, logger))
		}
	}

	var rates businessflow.RateSource
	if cfg.GoldAPI.APIKey != "" {
		var src services.RateSource = newGoldAPIClient(cfg, logger)
		if app.rc != nil {
			src = services.NewCachedRateSource(src, app.rc, cfg.Cache.RedisPrefix, cfg.Cache.RateTTL, logger)
		}
		rates = src
	}

	var lock businessflow.RunLock = services.NewLocalRunLock()
	if app.rc != nil {
		lock = services.NewRedisRunLock(app.rc, cfg.Cache.RedisPrefix, cfg.Cache.RunLockTTL, logger)
	}

	sinks, err := app.buildSinks(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	shop := services.NewShopifyClient(cfg.Shopify, logger)
	app.priceSync = businessflow.NewPriceSyncFlow(shop, shop, rates, lock, sinks, priceSyncOptions(cfg), logger)
	return app, nil
}

func (a *Application) buildSinks(ctx context.Context) ([]businessflow.ReportSink, error) {
	cfg := a.cfg
	var sinks []businessflow.ReportSink

	if a.history != nil {
		sinks = append(sinks, a.history)
	}
	if cfg.Reports.SummaryFile != "" {
		sinks = append(sinks, services.NewJSONSummarySink(cfg.Reports.SummaryFile, a.logger))
	}
	if cfg.Reports.XLSXDir != "" {
		sinks = append(sinks, services.NewXLSXReportSink(cfg.Reports.XLSXDir, a.logger))
	}
	if cfg.Storage.Enabled {
		client, err := services.NewMinioClient(cfg.Storage)
		if err != nil {
			return nil, err
		}
		if err := services.EnsureBucket(ctx, client, cfg.Storage.Bucket); err != nil {
			return nil, err
		}
		sinks = append(sinks, services.NewReportArchive(client, cfg.Storage.Bucket, cfg.Storage.Prefix, a.logger))
	}
	if cfg.Events.Enabled {
		pub := services.NewRunEventPublisher(cfg.Events.Brokers, cfg.Events.Topic, a.logger)
		a.stopFuncs = append(a.stopFuncs, func() { _ = pub.Close() })
		sinks = append(sinks, pub)
	}
	if cfg.Email.Enabled {
		recipients, err := services.ParseRecipients(cfg.Email.RecipientEmail)
		if err != nil {
			return nil, err
		}
		provider := services.NewSMTPEmailProvider(
			cfg.Email.SMTPServer,
			cfg.Email.SMTPPort,
			cfg.Email.SenderEmail,
			cfg.Email.SenderPassword,
			cfg.Email.SenderEmail,
			cfg.Email.Timeout,
			a.logger,
		)
		sinks = append(sinks, services.NewReportNotifier(provider, recipients, a.logger))
	}
	if cfg.Metrics.Enabled {
		sinks = append(sinks, services.NewRunMetrics(a.registry))
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	a.logger.Info("report sinks configured", zap.Strings("sinks", names))
	return sinks, nil
}

// Serve runs the admin API and the scheduler until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	cfg := a.cfg

	tokens, err := newTokenService(cfg)
	if err != nil {
		return err
	}

	checks := map[string]router.HealthCheck{}
	if a.db != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if a.rc != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.rc.Ping(ctx).Err()
		}
	}

	r := router.NewFiberRouter(cfg.Server, cfg.Metrics, router.Deps{
		PriceRuns: handlers.NewPriceRunHandler(a.priceSync, a.history, cfg.Server.RunTimeout, a.logger),
		Auth:      middleware.NewAuthMiddleware(tokens),
		Metrics:   middleware.NewHTTPMetrics(a.registry),
		Gatherer:  a.registry,
		Checks:    checks,
		Logger:    a.logger,
	})
	r.SetupRoutes()

	if cfg.Scheduler.Enabled {
		template := businessflow.RunInput{
			Currency:       cfg.Pricing.Currency,
			DryRun:         cfg.Scheduler.DryRun,
			SkipMetafields: cfg.Scheduler.SkipMetafields,
			PushSettings:   cfg.Shopify.PushSettings,
		}
		sched := scheduler.NewPriceScheduler(a.priceSync, template, cfg.Scheduler.Interval, true, a.logger)
		stop := sched.Start(ctx)
		defer stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("error during shutdown", zap.Error(err))
	}
	a.logger.Info("server stopped")
	return nil
}

// Close releases the backends in reverse order of acquisition.
func (a *Application) Close() {
	for i := len(a.stopFuncs) - 1; i >= 0; i-- {
		a.stopFuncs[i]()
	}
	a.stopFuncs = nil
}

func priceSyncOptions(cfg *config.Config) businessflow.PriceSyncOptions {
	return businessflow.PriceSyncOptions{
		DefaultCurrency: cfg.Pricing.Currency,
		DefaultTax:      cfg.Pricing.TaxPercentage,
		Precedence:      businessflow.RatePrecedence(cfg.Pricing.RatePrecedence),
		Workers:         cfg.Pricing.Workers,
	}
}

func newGoldAPIClient(cfg *config.Config, logger *zap.Logger) *services.GoldAPIClient {
	return services.NewGoldAPIClient(cfg.GoldAPI.BaseURL, cfg.GoldAPI.APIKey, cfg.GoldAPI.Timeout, logger)
}

func newTokenService(cfg *config.Config) (services.TokenService, error) {
	tokens, err := services.NewTokenService(cfg.JWT.AccessTokenTTL, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	return tokens, nil
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))
	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity
func initializeCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connection established", zap.Int("db", cfg.RedisDB))
	return rc, nil
}

// startCacheHealthMonitor periodically pings redis so that connectivity loss
// shows up in the logs before the next run needs the lock.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, logger *zap.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
