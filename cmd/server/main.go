package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/tournament-engine/internal/channel"
	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/handler"
	"github.com/tournament-engine/internal/kafka"
	"github.com/tournament-engine/internal/match"
	"github.com/tournament-engine/internal/postgres"
	"github.com/tournament-engine/internal/redis"
	"github.com/tournament-engine/internal/settlement"
	"github.com/tournament-engine/internal/websocket"
	"github.com/tournament-engine/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize the Kafka audit producer. The relay degrades to
	// Redis-only when Kafka is disabled or unreachable.
	var producer sarama.AsyncProducer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, audit stream disabled", "error", err)
			producer = nil
		} else {
			defer producer.AsyncClose()
			logger.Info("Kafka audit producer started", "topic", cfg.Kafka.Topic)
		}
	}

	// Initialize the game event relay
	relay := channel.NewRelay(redisClient, producer, cfg, logger)

	// Initialize WebSocket hub with session rooms
	wsHub := websocket.NewHub(relay, repo, logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize matchmaking and settlement
	matchmaker := match.NewMatchmaker(repo, repo, logger)
	locker := redis.NewSettlementLocker(redisClient, 30*time.Second, logger)
	engine := settlement.NewEngine(repo, locker, cfg.Game.MatchTicks, logger)

	// Initialize cleanup worker
	cleanupWorker := worker.NewCleanupWorker(matchmaker, &cfg.Cleanup, logger)
	if cfg.Cleanup.Enabled {
		if err := cleanupWorker.Start(ctx); err != nil {
			logger.Error("failed to start cleanup worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer archiving audit events for arbitration
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, repo, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without archiver", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without archiver", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(repo, matchmaker, engine, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop cleanup worker
	if cfg.Cleanup.Enabled {
		if err := cleanupWorker.Stop(); err != nil {
			logger.Error("failed to stop cleanup worker", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
