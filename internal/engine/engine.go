// Package engine implements the Gap Maintenance Engine (C4): consumes
// batched ingest/deletion events and applies split-on-add / merge-on-delete
// to the interval store under per-collection serialization.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nasa-cumulus/gapdetect/internal/eventbus"
	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// Engine processes batches of granule events per §4.4.
type Engine struct {
	store  gap.Store
	logger *slog.Logger
}

// New builds an Engine.
func New(store gap.Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// ProcessBatch implements §4.4.1–§4.4.4: group by collection, verify
// registration, and apply the per-collection transaction. It returns the
// delivery ids that failed, for the batchItemFailures response (§6).
func (e *Engine) ProcessBatch(ctx context.Context, deliveries []eventbus.Delivery) []string {
	groups := groupByCollection(deliveries)

	collectionIDs := make([]string, 0, len(groups))
	for id := range groups {
		collectionIDs = append(collectionIDs, id)
	}

	registered, err := e.store.CollectionsExist(ctx, collectionIDs)
	if err != nil {
		e.logger.Error("failed to validate collections; failing whole batch", slog.String("error", err.Error()))

		return allDeliveryIDs(deliveries)
	}

	var failed []string

	for collectionID, events := range groups {
		if !registered[collectionID] {
			e.logger.Warn("batch references unregistered collection; failing group",
				slog.String("collection_id", collectionID))
			failed = append(failed, deliveryIDs(events)...)

			continue
		}

		if err := e.processCollection(ctx, collectionID, events); err != nil {
			e.logger.Error("failed to process collection batch",
				slog.String("collection_id", collectionID), slog.String("error", err.Error()))
			failed = append(failed, deliveryIDs(events)...)
		}
	}

	return failed
}

// processCollection runs §4.4.2's per-collection transaction: acquire the
// advisory lock, stage records, and dispatch by kind. A batch mixing
// ingest and delete for the same collection runs as two sequential passes
// (§4.4.1 step 2).
func (e *Engine) processCollection(ctx context.Context, collectionID string, events []gap.GranuleEvent) error {
	ingest, del := splitByKind(events)

	if len(ingest) > 0 {
		if err := e.applyPass(ctx, collectionID, ingest, gap.EventKindIngest); err != nil {
			return err
		}
	}

	if len(del) > 0 {
		if err := e.applyPass(ctx, collectionID, del, gap.EventKindDelete); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) applyPass(ctx context.Context, collectionID string, events []gap.GranuleEvent, kind gap.EventKind) error {
	return e.store.WithCollectionLock(ctx, collectionID, func(ctx context.Context, tx gap.Tx) error {
		if err := tx.CopyBulk(ctx, collectionID, events); err != nil {
			return fmt.Errorf("engine: stage granules: %w", err)
		}

		switch kind {
		case gap.EventKindIngest:
			if err := tx.ApplyIngest(ctx, collectionID); err != nil {
				return fmt.Errorf("engine: apply ingest: %w", err)
			}
		case gap.EventKindDelete:
			overlaps, err := tx.ApplyDelete(ctx, collectionID)
			if err != nil {
				return fmt.Errorf("engine: apply delete: %w", err)
			}

			for _, o := range overlaps {
				e.logger.Warn("spurious delete overlap detected",
					slog.String("collection_id", collectionID),
					slog.Time("granule_start", o.GranuleStart), slog.Time("granule_end", o.GranuleEnd),
					slog.Time("gap_start", o.GapStart), slog.Time("gap_end", o.GapEnd))
			}
		}

		return nil
	})
}

func groupByCollection(deliveries []eventbus.Delivery) map[string][]gap.GranuleEvent {
	groups := make(map[string][]gap.GranuleEvent)

	for _, d := range deliveries {
		groups[d.Event.CollectionID] = append(groups[d.Event.CollectionID], d.Event)
	}

	return groups
}

func splitByKind(events []gap.GranuleEvent) (ingest, del []gap.GranuleEvent) {
	for _, e := range events {
		if e.Kind == gap.EventKindDelete {
			del = append(del, e)
		} else {
			ingest = append(ingest, e)
		}
	}

	return ingest, del
}

func deliveryIDs(events []gap.GranuleEvent) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.DeliveryID)
	}

	return ids
}

func allDeliveryIDs(deliveries []eventbus.Delivery) []string {
	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		ids = append(ids, d.ID)
	}

	return ids
}
