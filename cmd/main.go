/**
 * @description
 * This is the main entry point for the dunning-service.
 * It initializes and wires together all the components of the application:
 * configuration, database connection, the escalation engine with its stage
 * table, the RabbitMQ producer and consumer, the cron scheduler, and the
 * HTTP router. Finally, it starts the HTTP server and waits for shutdown.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/dunning-service/internal/api"
	"github.com/transfa/dunning-service/internal/app"
	"github.com/transfa/dunning-service/internal/config"
	"github.com/transfa/dunning-service/internal/escalation"
	"github.com/transfa/dunning-service/internal/store"
	"github.com/transfa/dunning-service/pkg/rabbitmq"
)

const (
	paymentExchange = "payment.events"
	dunningExchange = "dunning.events"
	paymentQueue    = "dunning-service.payments"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Build the escalation stage table. A malformed table is fatal here,
	// before any account can be evaluated against it.
	table := escalation.DefaultStageTable()
	if cfg.StageTablePath != "" {
		table, err = escalation.LoadStageTable(cfg.StageTablePath)
		if err != nil {
			logger.Error("failed to load stage table", "path", cfg.StageTablePath, "error", err)
			os.Exit(1)
		}
		logger.Info("loaded stage table", "path", cfg.StageTablePath, "stages", table.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	poolCfg.MaxConns = 100
	poolCfg.MinConns = 20
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Use simple protocol to work with PgBouncer transaction pooling
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Connect the event producer for outgoing directive and status events
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, dunningExchange)
	if err != nil {
		logger.Error("unable to connect event producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	// The Redis lock is optional: without REDIS_URL the service runs
	// single-instance and relies on the sequential scheduler.
	var locker app.AccountLocker
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse Redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		locker = app.NewRedisAccountLock(redisClient, "dunning:lock", 30*time.Second)
		logger.Info("redis account lock enabled")
	}

	// Initialize application layers
	repository := store.NewRepository(dbpool)
	engine := escalation.NewEngine(table)
	service := app.NewService(repository, engine, producer, locker, logger)
	handler := api.NewHandler(service)
	router := api.NewRouter(handler, cfg.ClerkJWKSURL, cfg.CronKey)

	// Consume payment lifecycle events from the transaction service
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("unable to connect event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	paymentConsumer := app.NewPaymentEventConsumer(service)
	err = consumer.ConsumeWithBindings(paymentExchange, paymentQueue, map[string]rabbitmq.HandlerFunc{
		"payment.failed":    paymentConsumer.HandlePaymentFailed,
		"payment.recovered": paymentConsumer.HandlePaymentRecovered,
	})
	if err != nil {
		logger.Error("unable to start payment event consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("payment event consumer started", "queue", paymentQueue)

	// Start the cron scheduler for due-escalation evaluation
	jobs := app.NewJobs(service, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Stop the scheduler and wait for running jobs to finish
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
