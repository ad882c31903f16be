package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/veloracare/clinic-connect/cmd/mainconfig"
	"github.com/veloracare/clinic-connect/internal/api/router"
	"github.com/veloracare/clinic-connect/internal/calendar"
	appconfig "github.com/veloracare/clinic-connect/internal/config"
	"github.com/veloracare/clinic-connect/internal/credentials"
	"github.com/veloracare/clinic-connect/internal/directory"
	"github.com/veloracare/clinic-connect/internal/http/handlers"
	"github.com/veloracare/clinic-connect/internal/ledger"
	"github.com/veloracare/clinic-connect/internal/media"
	observemetrics "github.com/veloracare/clinic-connect/internal/observability/metrics"
	"github.com/veloracare/clinic-connect/internal/presence"
	"github.com/veloracare/clinic-connect/internal/scheduler"
	"github.com/veloracare/clinic-connect/internal/vault"
	"github.com/veloracare/clinic-connect/internal/webhook"
	"github.com/veloracare/clinic-connect/internal/whatsapp"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-connect API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	credVault, err := vault.New(cfg.VaultMasterKey)
	if err != nil {
		logger.Error("failed to initialize credential vault", "error", err)
		os.Exit(1)
	}

	metricsHandler, webhookMetrics, reminderMetrics, tokenMetrics := setupMetrics()

	// Stores.
	directoryStore := directory.NewStore(pool)
	ledgerStore := ledger.NewStore(pool)
	accountStore := webhook.NewAccountStore(pool, credVault)
	credStore := credentials.NewStore(pool, credVault)
	eventStore := calendar.NewStore(pool)
	jobStore := scheduler.NewStore(pool)

	// Webhook signature secrets: registered accounts first, static fallback
	// for single-account deployments.
	secrets := webhook.ChainResolver{
		accountStore,
		webhook.StaticSecret(cfg.WhatsAppAuthToken),
	}

	// Media mirroring is optional; without a bucket the mirror is a no-op.
	var mediaMirror *media.Mirror
	if cfg.MediaBucket != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		mediaMirror = media.NewMirror(s3.NewFromConfig(awsCfg), cfg.MediaBucket, logger)
	} else {
		mediaMirror = media.NewMirror(nil, "", logger)
	}

	// Presence.
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	presenceTracker := presence.NewTracker(redisClient)

	// Outbound messaging.
	sender := whatsapp.NewSender(
		cfg.WhatsAppAPIBaseURL,
		cfg.WhatsAppAccountSID,
		cfg.WhatsAppAuthToken,
		cfg.WhatsAppDefaultNumber,
		logger,
	)

	// Calendar OAuth and sync.
	oauthClient := credentials.NewOAuthClient(credentials.OAuthConfig{
		ClientID:     cfg.CalendarClientID,
		ClientSecret: cfg.CalendarClientSecret,
		RedirectURI:  cfg.CalendarRedirectURI,
		Scopes:       cfg.CalendarScopes,
	})
	lifecycle := credentials.NewLifecycle(credStore, oauthClient, logger)
	reminderScheduler := scheduler.NewScheduler(jobStore, logger, reminderMetrics)
	calendarSync := calendar.NewSync(calendar.SyncConfig{
		Events:    eventStore,
		Source:    calendar.NewGoogleCalendar(),
		Tokens:    lifecycle,
		Users:     credStore,
		Reminders: reminderScheduler,
		Logger:    logger,
		Interval:  cfg.CalendarSyncInterval,
		Window:    cfg.CalendarSyncWindow,
	})
	go calendarSync.Start(ctx)

	refreshWorker := credentials.NewRefreshWorker(
		credStore, lifecycle, credentials.ProviderGoogleCalendar, logger,
	).WithMetrics(tokenMetrics)
	go refreshWorker.Start(ctx)

	// Handlers.
	webhookHandler := handlers.NewWhatsAppWebhookHandler(handlers.WhatsAppWebhookConfig{
		Directory:     directoryStore,
		Ledger:        ledgerStore,
		Secrets:       secrets,
		Media:         mediaMirror,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
		Metrics:       webhookMetrics,
	})
	messagesHandler := handlers.NewMessagesHandler(handlers.MessagesConfig{
		Directory: directoryStore,
		Ledger:    ledgerStore,
		Sender:    sender,
		Logger:    logger,
	})
	oauthHandler := handlers.NewOAuthHandler(handlers.OAuthConfig{
		OAuth:     oauthClient,
		Store:     credStore,
		Lifecycle: lifecycle,
		Logger:    logger,
	})
	presenceHandler := handlers.NewPresenceHandler(presenceTracker, logger)
	syncHandler := handlers.NewCalendarSyncHandler(calendarSync, logger)

	r := router.New(&router.Config{
		Logger:          logger,
		WhatsAppWebhook: webhookHandler,
		Messages:        messagesHandler,
		OAuth:           oauthHandler,
		Presence:        presenceHandler,
		CalendarSync:    syncHandler,
		MetricsHandler:  metricsHandler,
		AuthJWTSecret:   cfg.AuthJWTSecret,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// connectPostgresPool opens the pgx pool, returning nil when no URL is
// configured so callers can decide how hard to fail.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
	}
	return pool
}

// setupMetrics registers all collectors on a dedicated registry and returns
// the /metrics handler alongside the per-concern metric groups.
func setupMetrics() (http.Handler, *observemetrics.WebhookMetrics, *observemetrics.ReminderMetrics, *observemetrics.TokenMetrics) {
	registry := prometheus.NewRegistry()
	webhookMetrics := observemetrics.NewWebhookMetrics(registry)
	reminderMetrics := observemetrics.NewReminderMetrics(registry)
	tokenMetrics := observemetrics.NewTokenMetrics(registry)
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, webhookMetrics, reminderMetrics, tokenMetrics
}
