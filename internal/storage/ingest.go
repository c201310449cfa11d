package storage

import (
	"context"
	"fmt"
)

// ApplyIngest runs the split-on-add algorithm (§4.4.3) as a single
// set-level statement: gap_set ← gap_set − ⋃granules.
//
// The original implementation's gapUpdate.py delegates this path to an
// external update_gaps.sql file not present in the retrieval pack; this
// statement is derived from the spec's set-difference semantics using the
// same range-algebra techniques gapUpdate.py's sibling add_gaps function
// demonstrates for merging (range_agg/unnest), applied here to multirange
// subtraction ("-") instead of union, which is the natural Postgres
// counterpart of "remove the union of the granules from each affected gap."
// Granule end times round up to the next whole second (§8 scenarios 1 and
// 3), the same rounding ApplyDelete applies to its own input ranges, so a
// granule ending exactly on a gap boundary doesn't leave a zero-width sliver.
func (h *txHandle) ApplyIngest(ctx context.Context, collectionID string) error {
	_, err := h.tx.ExecContext(ctx, `
		WITH input_ranges AS (
			-- Round granule end time up to nearest second to eliminate boundary gaps.
			SELECT tsrange(start_ts, date_trunc('second', end_ts) + interval '1 second') AS granule_range
			FROM input_records
		),
		granule_union AS (
			SELECT range_agg(granule_range) AS merged FROM input_ranges
		),
		affected_gaps AS (
			SELECT DISTINCT gaps.gap_id, tsrange(gaps.start_ts, gaps.end_ts) AS gap_range
			FROM gaps, input_ranges
			WHERE gaps.collection_id = $1
			  AND tsrange(gaps.start_ts, gaps.end_ts) && input_ranges.granule_range
		),
		removed AS (
			DELETE FROM gaps WHERE gap_id IN (SELECT gap_id FROM affected_gaps)
		),
		remainder AS (
			SELECT unnest(tsmultirange(gap_range) - (SELECT merged FROM granule_union)) AS remaining_range
			FROM affected_gaps
		)
		INSERT INTO gaps (collection_id, start_ts, end_ts)
		SELECT $1, lower(remaining_range), upper(remaining_range)
		FROM remainder
		WHERE NOT isempty(remaining_range)`,
		collectionID,
	)
	if err != nil {
		return fmt.Errorf("storage: apply ingest for %s: %w", collectionID, err)
	}

	return nil
}
