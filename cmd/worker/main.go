package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"certhub/internal/app"
	"certhub/internal/config"
	"certhub/internal/issuer"
	"certhub/internal/logging"
	"certhub/internal/store"
)

// Worker consumes certificate_id messages and writes the ids back to the record store.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.QueueBackend == "memory" {
		logger.Fatal("QUEUE_BACKEND=memory is drained inside the api process; the worker needs redis")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recs, db, err := app.NewRecords(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("record store init failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := app.NewQueue(cfg, redisClient, logger.Named("queue"))
	pending := app.NewReservations(cfg, redisClient)
	if err := issuer.RunWorker(ctx, q, recs, pending, logger.Named("worker")); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}
