package storage

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// CopyBulk stages granule records into a transaction-local TEMP TABLE via
// COPY FROM STDIN, grounded on gapUpdate.py's update_gaps/add_gaps (both
// CREATE TEMP TABLE input_records ... ON COMMIT DROP, then cursor.copy(...)).
// pq's CopyIn gives the same bulk-load path through database/sql.
func (h *txHandle) CopyBulk(ctx context.Context, collectionID string, records []gap.GranuleEvent) error {
	if _, err := h.tx.ExecContext(ctx, `
		CREATE TEMP TABLE input_records (
			collection_id text,
			start_ts timestamp,
			end_ts timestamp
		) ON COMMIT DROP`,
	); err != nil {
		return fmt.Errorf("storage: create staging relation: %w", err)
	}

	stmt, err := h.tx.PrepareContext(ctx, pq.CopyIn("input_records", "collection_id", "start_ts", "end_ts"))
	if err != nil {
		return fmt.Errorf("storage: prepare COPY: %w", err)
	}

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, collectionID, r.Begin, r.End); err != nil {
			_ = stmt.Close()

			return fmt.Errorf("storage: stage granule [%s, %s): %w", r.Begin, r.End, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return fmt.Errorf("storage: flush COPY: %w", err)
	}

	return stmt.Close()
}
