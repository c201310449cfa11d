package storage

import (
	"context"
	"fmt"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// ApplyDelete runs the merge-on-delete algorithm (§4.4.4), grounded directly
// on gapUpdate.py's add_gaps: round granule end up to the next whole second,
// detect (but don't abort on) spurious overlaps against existing gaps, then
// merge the new ranges with every overlapping-or-adjacent existing gap via
// range_agg/unnest.
func (h *txHandle) ApplyDelete(ctx context.Context, collectionID string) ([]gap.SpuriousOverlap, error) {
	overlaps, err := h.detectSpuriousOverlaps(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("storage: detect spurious overlaps for %s: %w", collectionID, err)
	}

	_, err = h.tx.ExecContext(ctx, `
		WITH input_ranges AS (
			-- Round granule end time up to nearest second to eliminate boundary gaps.
			SELECT collection_id, tsrange(start_ts, date_trunc('second', end_ts) + interval '1 second') AS gap_range
			FROM input_records
		),
		removed_gaps AS (
			DELETE FROM gaps WHERE gap_id IN (
				SELECT gap_id FROM gaps, input_ranges
				WHERE gaps.collection_id = input_ranges.collection_id
				  AND (tsrange(gaps.start_ts, gaps.end_ts) && input_ranges.gap_range
				       OR tsrange(gaps.start_ts, gaps.end_ts) -|- input_ranges.gap_range)
			) RETURNING collection_id, tsrange(start_ts, end_ts) AS gap_range
		),
		all_ranges AS (
			SELECT collection_id, gap_range FROM input_ranges
			UNION ALL SELECT collection_id, gap_range FROM removed_gaps
		)
		INSERT INTO gaps (collection_id, start_ts, end_ts)
		SELECT collection_id, lower(merged_range), upper(merged_range)
		FROM (
			SELECT collection_id, unnest(range_agg(gap_range)) AS merged_range
			FROM all_ranges GROUP BY collection_id
		) final_ranges`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: apply delete for %s: %w", collectionID, err)
	}

	return overlaps, nil
}

// detectSpuriousOverlaps checks whether any staged (about-to-be-deleted)
// granule range already overlaps an existing gap — "we were told to delete
// a granule whose range we never knew existed," per gapUpdate.py's
// pre-merge overlap check. Logged by the caller; does not abort the delete.
func (h *txHandle) detectSpuriousOverlaps(ctx context.Context, collectionID string) ([]gap.SpuriousOverlap, error) {
	rows, err := h.tx.QueryContext(ctx, `
		SELECT
			ir.start_ts AS granule_start,
			ir.end_ts AS granule_end,
			gaps.start_ts AS gap_start,
			gaps.end_ts AS gap_end
		FROM gaps, input_records ir
		WHERE gaps.collection_id = ir.collection_id
		  AND gaps.collection_id = $1
		  AND tsrange(gaps.start_ts, gaps.end_ts) &&
		      tsrange(ir.start_ts, date_trunc('second', ir.end_ts) + interval '1 second')`,
		collectionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var overlaps []gap.SpuriousOverlap

	for rows.Next() {
		var o gap.SpuriousOverlap
		if err := rows.Scan(&o.GranuleStart, &o.GranuleEnd, &o.GapStart, &o.GapEnd); err != nil {
			return nil, err
		}

		overlaps = append(overlaps, o)
	}

	return overlaps, rows.Err()
}
