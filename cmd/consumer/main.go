// Package main provides a standalone Gap Maintenance Engine (C4) consumer:
// a long-running process that drains the ingest/deletion event queue
// directly via a kafka-go reader, for deployments that run C4 outside the
// envelope-style batch handler a serverless trigger would invoke.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nasa-cumulus/gapdetect/internal/config"
	"github.com/nasa-cumulus/gapdetect/internal/engine"
	"github.com/nasa-cumulus/gapdetect/internal/eventbus"
	"github.com/nasa-cumulus/gapdetect/internal/secrets"
	"github.com/nasa-cumulus/gapdetect/internal/storage"
)

const (
	version = "1.0.0-dev"
	name    = "gapdetect-consumer"

	fetchBatchSize = 50
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("starting gap maintenance engine consumer", slog.String("service", name), slog.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := mustOpenDatabase(ctx, logger)
	defer func() { _ = db.Close() }()

	gapStore := storage.NewPostgresStore(db, logger)
	gapEngine := engine.New(gapStore, logger)

	consumer := eventbus.NewConsumer(
		config.ParseCommaSeparatedList(os.Getenv("KAFKA_BROKERS")),
		config.GetEnvStr("QUEUE_URL", "gap-detect-ingest"),
		name,
		os.Getenv("DELETION_QUEUE_ARN"),
	)
	defer func() { _ = consumer.Close() }()

	run(ctx, consumer, gapEngine, logger)

	logger.Info("gap maintenance engine consumer stopped")
}

// run drains batches until ctx is cancelled, applying each batch through
// the engine and logging (rather than acting on) partial-batch failures —
// a standalone consumer has no caller to return batchItemFailures to, so
// failed deliveries simply remain uncommitted for redelivery.
func run(ctx context.Context, consumer *eventbus.Consumer, gapEngine *engine.Engine, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deliveries, malformed, err := consumer.FetchBatch(ctx, fetchBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			logger.Error("failed to fetch batch", slog.String("error", err.Error()))

			continue
		}

		if len(malformed) > 0 {
			logger.Warn("dropped malformed deliveries", slog.Int("count", len(malformed)))
		}

		if len(deliveries) == 0 {
			continue
		}

		failed := gapEngine.ProcessBatch(ctx, deliveries)
		if len(failed) > 0 {
			logger.Warn("batch had failed deliveries, left uncommitted for redelivery",
				slog.Int("failed_count", len(failed)), slog.Int("batch_size", len(deliveries)))
		}
	}
}

func mustOpenDatabase(ctx context.Context, logger *slog.Logger) *sql.DB {
	resolver := secretResolver()

	creds, err := resolver.Resolve(ctx, os.Getenv("RDS_SECRET"))
	if err != nil {
		logger.Error("failed to resolve database credentials", slog.String("error", err.Error()))
		os.Exit(1)
	}

	dsn := secrets.DSN(creds, os.Getenv("RDS_PROXY_HOST"))
	storageConfig := storage.LoadConfig(dsn)

	db, err := storage.Open(ctx, storageConfig, logger)
	if err != nil {
		logger.Error("failed to open database pool", slog.String("error", err.Error()))
		os.Exit(1)
	}

	return db
}

func secretResolver() secrets.Resolver {
	if path := os.Getenv("RDS_SECRET_FILE"); path != "" {
		return secrets.FileResolver{Path: path}
	}

	return secrets.EnvResolver{}
}
