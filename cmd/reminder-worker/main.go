package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/veloracare/clinic-connect/cmd/mainconfig"
	"github.com/veloracare/clinic-connect/internal/calendar"
	appconfig "github.com/veloracare/clinic-connect/internal/config"
	observemetrics "github.com/veloracare/clinic-connect/internal/observability/metrics"
	"github.com/veloracare/clinic-connect/internal/scheduler"
	"github.com/veloracare/clinic-connect/internal/whatsapp"
	"github.com/veloracare/clinic-connect/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("reminder worker requires DATABASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	queue, err := setupQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up reminder queue", "error", err)
		os.Exit(1)
	}

	reminderMetrics := observemetrics.NewReminderMetrics(nil)

	jobStore := scheduler.NewStore(pool)
	eventStore := calendar.NewStore(pool)

	sender := whatsapp.NewSender(
		cfg.WhatsAppAPIBaseURL,
		cfg.WhatsAppAccountSID,
		cfg.WhatsAppAuthToken,
		cfg.WhatsAppDefaultNumber,
		logger,
	)
	notifier := calendar.NewReminderNotifier(eventStore, sender, logger)

	dispatcher := scheduler.NewDispatcher(jobStore, queue, logger, reminderMetrics).
		WithInterval(cfg.ReminderPollInterval).
		WithClaimBatch(cfg.ReminderClaimBatch)
	worker := scheduler.NewWorker(jobStore, queue, notifier, eventStore, logger, reminderMetrics).
		WithConcurrency(cfg.ReminderWorkerCount)

	go dispatcher.Start(ctx)
	go worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("reminder worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}

// setupQueue picks the in-memory queue for local runs and SQS everywhere
// else.
func setupQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (scheduler.Queue, error) {
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory reminder queue")
		return scheduler.NewMemoryQueue(256), nil
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("using SQS reminder queue", "queue_url", cfg.ReminderQueueURL)
	return scheduler.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ReminderQueueURL), nil
}
