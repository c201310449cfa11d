// Package main provides the gap detection service's HTTP API server: the
// Collection Registry, Gap Query, and Reason Annotation endpoints.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/nasa-cumulus/gapdetect/internal/api"
	"github.com/nasa-cumulus/gapdetect/internal/api/middleware"
	"github.com/nasa-cumulus/gapdetect/internal/backfill"
	"github.com/nasa-cumulus/gapdetect/internal/catalog"
	"github.com/nasa-cumulus/gapdetect/internal/config"
	"github.com/nasa-cumulus/gapdetect/internal/eventbus"
	"github.com/nasa-cumulus/gapdetect/internal/objectstore"
	"github.com/nasa-cumulus/gapdetect/internal/query"
	"github.com/nasa-cumulus/gapdetect/internal/reason"
	"github.com/nasa-cumulus/gapdetect/internal/registry"
	"github.com/nasa-cumulus/gapdetect/internal/secrets"
	"github.com/nasa-cumulus/gapdetect/internal/storage"
	"github.com/nasa-cumulus/gapdetect/internal/tolerance"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "gapdetect-api"

	defaultCatalogRPS = 5.0
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting gap detection API server",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
	)

	ctx := context.Background()

	db, registryService, queryService, reasonService := mustWireDependencies(ctx, logger)
	serverConfig.RateLimiter = middleware.NewInMemoryRateLimiter(middleware.LoadConfig())

	server := api.NewServer(&serverConfig, db, registryService, queryService, reasonService)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gap detection API server stopped")
}

// mustWireDependencies resolves secrets, opens the database pool, and
// constructs the registry/query/reason services the server depends on. It
// exits the process on any unrecoverable startup failure, mirroring the
// teacher's fail-fast startup pattern.
func mustWireDependencies(
	ctx context.Context,
	logger *slog.Logger,
) (*sql.DB, *registry.Registry, *query.Service, *reason.Service) {
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

	gapStore := storage.NewPostgresStore(db, logger)
	toleranceStore := tolerance.NewPostgresStore(db)

	catalogClient := catalog.NewClient(config.GetEnvStr("CMR_ENV", "PROD"), defaultCatalogRPS, logger)

	producer := eventbus.NewProducer(
		config.ParseCommaSeparatedList(os.Getenv("KAFKA_BROKERS")),
		config.GetEnvStr("QUEUE_URL", "gap-detect-ingest"),
		os.Getenv("SUBSCRIPTION_ARN_INGEST"),
	)

	subscriptions := eventbus.NewInMemorySubscriptionManager(
		os.Getenv("SUBSCRIPTION_ARN_INGEST"),
		os.Getenv("SUBSCRIPTION_ARN_DELETION"),
	)

	backfillRunner := backfill.New(catalogClient, producer, logger)

	registryService := registry.New(gapStore, catalogClient, toleranceStore, subscriptions, backfillRunner, logger)

	objectClient := objectstore.NewStubClient(config.GetEnvStr("GAP_RESPONSE_BUCKET", ""))

	queryService := query.New(gapStore, toleranceStore, objectClient, config.GetEnvStr("GAP_REPORT_BUCKET", ""))

	reasonService := reason.New(gapStore)

	return db, registryService, queryService, reasonService
}

// secretResolver selects the secrets.Resolver implementation based on
// whether a local secrets file is configured, per §6's RDS_SECRET note that
// production backs this with a cloud secrets manager while local dev and
// tests back it with a static file or direct env vars.
func secretResolver() secrets.Resolver {
	if path := os.Getenv("RDS_SECRET_FILE"); path != "" {
		return secrets.FileResolver{Path: path}
	}

	return secrets.EnvResolver{}
}
