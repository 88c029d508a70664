package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mosala-finance/mosala/internal/config"
	"github.com/mosala-finance/mosala/internal/events"
	kafkaevents "github.com/mosala-finance/mosala/internal/events/kafka"
	"github.com/mosala-finance/mosala/internal/infra"
	"github.com/mosala-finance/mosala/internal/logging"
	"github.com/mosala-finance/mosala/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		logger.Warn("DATABASE_URL not set, running with in-memory stores")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, request-level idempotency cache disabled")
	}

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Error("build kafka writer", "error", err)
			os.Exit(1)
		}
		kafkaPub := kafkaevents.NewPublisher(writer)
		defer func() {
			if err := kafkaPub.Close(); err != nil {
				logger.Warn("close kafka writer", "error", err)
			}
		}()
		publisher = kafkaPub
	} else {
		logger.Warn("KAFKA_BROKERS not set, publishing events to the log")
	}

	srv, err := server.New(cfg, db, cache, publisher, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	// Resume any saga left mid-flight by a previous crash before taking
	// traffic.
	if err := srv.Runtime().Coordinator.Recover(ctx); err != nil {
		logger.Error("saga recovery", "error", err)
		os.Exit(1)
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go srv.Runtime().Scheduler.Run(bgCtx, cfg.SweepInterval)
	go srv.Runtime().Coordinator.Run(bgCtx, cfg.ReconcileInterval)

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
