// Package registry implements the Collection Registry (C2): registers
// collections, provisions storage, seeds the initial full-extent gap, and
// kicks off backfill.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nasa-cumulus/gapdetect/internal/catalog"
	"github.com/nasa-cumulus/gapdetect/internal/eventbus"
	"github.com/nasa-cumulus/gapdetect/internal/gap"
	"github.com/nasa-cumulus/gapdetect/internal/tolerance"
)

// Backfiller is implemented by internal/backfill; kept as an interface here
// so registry does not import backfill directly (backfill depends on
// catalog and eventbus, not on registry).
type Backfiller interface {
	Run(ctx context.Context, collectionID, shortName, version string) (granulesSent int64, err error)
}

// Registry orchestrates §4.2's Register operation.
type Registry struct {
	store        gap.Store
	catalog      *catalog.Client
	tolerances   tolerance.Store
	subscriptions eventbus.SubscriptionManager
	backfill     Backfiller
	logger       *slog.Logger
}

// New builds a Registry from its collaborators.
func New(
	store gap.Store,
	catalogClient *catalog.Client,
	tolerances tolerance.Store,
	subscriptions eventbus.SubscriptionManager,
	backfill Backfiller,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		store:         store,
		catalog:       catalogClient,
		tolerances:    tolerances,
		subscriptions: subscriptions,
		backfill:      backfill,
		logger:        logger,
	}
}

// RegisterResult reports what happened for one collection in a batch
// registration request.
type RegisterResult struct {
	CollectionID   string
	AlreadyExisted bool
	GranulesSent   int64
	BackfillError  error
}

// Register implements §4.2. It is idempotent at the step granularity: a
// second call against an existing collection does nothing unless force is
// set, in which case only the backfill step re-runs.
func (r *Registry) Register(ctx context.Context, shortName, version string, toleranceSeconds *int64, force bool) (RegisterResult, error) {
	rawVersion := version
	collectionID := gap.CollectionID(shortName, version)

	existing, err := r.store.GetCollection(ctx, collectionID)

	switch {
	case err == nil:
		result := RegisterResult{CollectionID: collectionID, AlreadyExisted: true}

		if !force {
			return result, nil
		}

		sent, backfillErr := r.backfill.Run(ctx, collectionID, shortName, version)
		result.GranulesSent = sent
		result.BackfillError = backfillErr

		return result, nil

	case errors.Is(err, gap.ErrCollectionNotFound):
		// fall through to fresh registration
		_ = existing

	default:
		return RegisterResult{}, fmt.Errorf("registry: look up collection %s: %w", collectionID, err)
	}

	start, end, _, err := r.catalog.FetchExtent(ctx, shortName, version)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("registry: fetch extent for %s/%s: %w", shortName, version, err)
	}

	if err := r.store.EnsurePartitions(ctx, collectionID); err != nil {
		return RegisterResult{}, fmt.Errorf("registry: ensure partitions for %s: %w", collectionID, err)
	}

	if err := r.store.InsertCollection(ctx, gap.Collection{
		ID:          collectionID,
		ShortName:   shortName,
		Version:     gap.SanitizeVersion(version),
		RawVersion:  rawVersion,
		ExtentStart: start,
		ExtentEnd:   end,
	}); err != nil {
		return RegisterResult{}, fmt.Errorf("registry: insert collection %s: %w", collectionID, err)
	}

	if toleranceSeconds != nil {
		if err := r.tolerances.Upsert(ctx, shortName, rawVersion, *toleranceSeconds); err != nil {
			r.logger.Error("failed to record tolerance", slog.String("collection_id", collectionID), slog.String("error", err.Error()))
		}
	}

	if err := r.subscriptions.IncludeCollection(ctx, collectionID); err != nil {
		r.logger.Error("failed to update subscription filter policy",
			slog.String("collection_id", collectionID), slog.String("error", err.Error()))
	}

	result := RegisterResult{CollectionID: collectionID}

	sent, backfillErr := r.backfill.Run(ctx, collectionID, shortName, version)
	result.GranulesSent = sent
	result.BackfillError = backfillErr

	if backfillErr != nil {
		r.logger.Error("backfill failed after registration commit; retry with force=true",
			slog.String("collection_id", collectionID), slog.String("error", backfillErr.Error()))
	}

	return result, nil
}
