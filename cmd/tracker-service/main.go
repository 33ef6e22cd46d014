package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/paperpod/internal/api/handler"
	"github.com/cuongbtq/paperpod/internal/api/model"
	"github.com/cuongbtq/paperpod/internal/api/router"
	"github.com/cuongbtq/paperpod/internal/api/storage"
	"github.com/cuongbtq/paperpod/internal/autocontent"
	"github.com/cuongbtq/paperpod/internal/config"
	"github.com/cuongbtq/paperpod/internal/content"
	"github.com/cuongbtq/paperpod/internal/publisher"
	"github.com/cuongbtq/paperpod/internal/tracker"
	"github.com/cuongbtq/paperpod/internal/webhook"
	"github.com/cuongbtq/paperpod/shared/logger"
	"github.com/cuongbtq/paperpod/shared/postgresql"
	"github.com/cuongbtq/paperpod/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("TRACKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/tracker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateTrackerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting tracker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	store := storage.NewStorage(dbClient)

	autocontentClient := autocontent.NewClient(&autocontent.Config{
		BaseURL:    cfg.AutoContent.BaseURL,
		APIKey:     cfg.AutoContent.APIKey,
		WebhookURL: cfg.AutoContent.WebhookURL,
		Timeout:    cfg.AutoContent.Timeout,
	}, appLogger.Logger)

	generator := content.NewGenerator(&content.Config{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, appLogger.Logger)

	// Root context bounds the polling goroutines and background loops.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	onUpdate := makeUpdateHook(appLogger.Logger, store, rabbitClient)

	jobTracker := tracker.New(tracker.Config{
		PollInterval:    cfg.Tracker.PollInterval,
		MaxWallClock:    cfg.Tracker.MaxWallClock,
		MaxObservations: cfg.Tracker.MaxObservations,
		RetentionWindow: cfg.Tracker.RetentionWindow,
		SweepInterval:   cfg.Tracker.SweepInterval,
	}, autocontentClient, appLogger.Logger, onUpdate)

	notifications := webhook.NewAdapter(webhook.Config{
		QueueSize:  cfg.Tracker.WebhookQueueSize,
		PendingTTL: cfg.Tracker.WebhookBufferTTL,
	}, jobTracker, appLogger.Logger)

	go jobTracker.Run(ctx)
	go notifications.Run(ctx)

	if cfg.Retention.Enabled {
		go runRetentionLoop(ctx, &cfg.Retention, store, appLogger.Logger)
	}

	// Initialize router
	r := initRouter(ctx, cfg.App.Environment, appLogger.Logger, store, jobTracker, autocontentClient, generator, notifications)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("poll_interval", cfg.Tracker.PollInterval),
		slog.Duration("max_wall_clock", cfg.Tracker.MaxWallClock),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Tracker service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		shutdownCancel()
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// statusStore is the persistence surface the update hook needs
type statusStore interface {
	UpdateStatus(ctx context.Context, jobID string, update storage.StatusUpdate) error
	GetEpisodeByJobID(ctx context.Context, jobID string) (*model.Episode, error)
}

// publishQueue hands succeeded jobs to the publisher service
type publishQueue interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// makeUpdateHook returns the tracker update hook: flush every snapshot
// into the episodes table and hand succeeded jobs to the publish queue.
// It runs outside the tracker's locks, so blocking I/O here is fine.
func makeUpdateHook(logger *slog.Logger, store statusStore, queue publishQueue) tracker.UpdateFunc {
	return func(job tracker.Job) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		update := storage.StatusUpdate{
			Status:           string(job.State.Stage),
			Progress:         job.State.Progress,
			AudioURL:         job.State.AudioURL,
			ErrorMessage:     job.State.ErrorMessage,
			ObservationCount: job.ObservationCount,
			LastUpdateSource: string(job.LastUpdateSource),
		}
		if !job.CompletedAt.IsZero() {
			completedAt := job.CompletedAt
			update.CompletedAt = &completedAt
		}

		if err := store.UpdateStatus(ctx, job.ID, update); err != nil {
			// A succeeded snapshot may never be observed again, so a failed
			// flush must not stop the enqueue below.
			logger.Error("Failed to flush job snapshot",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}

		if job.State.Stage != tracker.StageSucceeded {
			return
		}

		// The publisher ignores deliveries for already-published rows, so
		// the dedup here is best effort: skip only when the row is known
		// to be published already.
		title, description := "", ""
		if episode, err := store.GetEpisodeByJobID(ctx, job.ID); err == nil {
			if episode.Published {
				return
			}
			title = episode.Title
			description = episode.Description
		} else {
			logger.Warn("Enqueueing publish without stored metadata",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}

		msg, err := json.Marshal(publisher.PublishMessage{
			JobID:       job.ID,
			AudioURL:    job.State.AudioURL,
			Title:       title,
			Description: description,
		})
		if err != nil {
			logger.Error("Failed to encode publish message",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		if err := queue.PublishWithRetry(ctx, msg, "application/json"); err != nil {
			logger.Error("Failed to enqueue publish message",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		logger.Info("Succeeded job handed to publisher",
			slog.String("job_id", job.ID),
		)
	}
}

// runRetentionLoop deletes settled episode rows past the retention window
func runRetentionLoop(ctx context.Context, cfg *config.RetentionConfig, store *storage.Storage, logger *slog.Logger) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(cfg.EpisodeDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.DeleteExpired(ctx, retention)
			if err != nil {
				logger.Error("Episode cleanup failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if deleted > 0 {
				logger.Info("Expired episodes deleted",
					slog.Int64("count", deleted),
				)
			}
		}
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		ExchangeDurable:   cfg.Exchange.Durable,
		QueueName:         cfg.Queue.Name,
		QueueDurable:      cfg.Queue.Durable,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	baseCtx context.Context,
	environment string,
	logger *slog.Logger,
	store *storage.Storage,
	jobTracker *tracker.Tracker,
	autocontentClient *autocontent.Client,
	generator *content.Generator,
	notifications *webhook.Adapter,
) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:        logger,
		Store:         store,
		Tracker:       jobTracker,
		Submitter:     autocontentClient,
		Generator:     generator,
		Notifications: notifications,
		BaseCtx:       baseCtx,
	}

	// Setup router
	return router.SetupRouter(handlerDeps, notifications)
}
