package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// ListGaps implements the C5 query surface (§4.5): window filter, a gap/reason
// known-unknown split, and a tolerance filter applied to each resulting
// sub-range (not the raw gap), grounded on knownGap.py's get_reasons overlap
// query and utils.py's fetch_time_gaps tolerance/knownCheck query.
//
// A gap can straddle a reason's boundaries (§8 scenario 6), so a single
// gap/reason pair can contribute both a reason-covered sub-range and one or
// two uncovered remainder sub-ranges — the same range_agg/unnest multirange
// subtraction ApplyIngest uses to compute its own remainder, applied here to
// "gap minus every overlapping reason" instead of "gap minus every granule."
// When include_known is false, only the uncovered (null-reason) sub-ranges
// are emitted. DISTINCT on the emitted triple, per spec, so a gap overlapping
// two reasons with identical intersections does not duplicate.
func (s *PostgresStore) ListGaps(ctx context.Context, filter gap.ListGapsFilter) ([]gap.GapRow, error) {
	// A zero window bound is passed as NULL, which tsrange treats as unbounded.
	var windowStart, windowEnd any
	if !filter.Window.Start.IsZero() {
		windowStart = filter.Window.Start
	}

	if !filter.Window.End.IsZero() {
		windowEnd = filter.Window.End
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH matched_gaps AS (
			SELECT gap_id, tsrange(start_ts, end_ts) AS gap_range
			FROM gaps
			WHERE collection_id = $1
				AND tsrange(start_ts, end_ts) && tsrange($2, $3, '[]')
		),
		overlaps AS (
			SELECT
				matched_gaps.gap_id,
				tsrange(reasons.start_ts, reasons.end_ts) * matched_gaps.gap_range AS covered_range,
				reasons.reason AS reason_text
			FROM matched_gaps
			JOIN reasons
				ON reasons.collection_id = $1
				AND tsrange(reasons.start_ts, reasons.end_ts) && matched_gaps.gap_range
		),
		covered_union AS (
			SELECT gap_id, range_agg(covered_range) AS covered
			FROM overlaps
			GROUP BY gap_id
		),
		uncovered AS (
			SELECT
				lower(remainder) AS start_ts,
				upper(remainder) AS end_ts,
				NULL::text AS reason_text
			FROM matched_gaps
			LEFT JOIN covered_union USING (gap_id)
			CROSS JOIN LATERAL unnest(
				tsmultirange(matched_gaps.gap_range) - COALESCE(covered_union.covered, '{}'::tsmultirange)
			) AS remainder
			WHERE NOT isempty(remainder)
		),
		known AS (
			SELECT lower(covered_range) AS start_ts, upper(covered_range) AS end_ts, reason_text
			FROM overlaps
			WHERE $4
		),
		combined AS (
			SELECT * FROM uncovered
			UNION ALL
			SELECT * FROM known
		)
		SELECT DISTINCT start_ts, end_ts, reason_text
		FROM combined
		WHERE end_ts - start_ts >= ($5 || ' seconds')::interval
		ORDER BY start_ts`,
		filter.CollectionID, windowStart, windowEnd,
		filter.IncludeKnown, int64(filter.Tolerance.Seconds()),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list gaps for %s: %w", filter.CollectionID, err)
	}
	defer func() { _ = rows.Close() }()

	var result []gap.GapRow

	for rows.Next() {
		var row gap.GapRow
		if err := rows.Scan(&row.Start, &row.End, &row.Reason); err != nil {
			return nil, fmt.Errorf("storage: scan gap row: %w", err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Sentinel substitution (§4.5): only the last row's end_ts is rewritten
	// when it carries the far-future sentinel — the Open Questions section
	// flags this as possibly incomplete, but the behavior is pinned as
	// "only the open-ended tail" per the original implementation's
	// fetch_time_gaps, which performs the same last-row-only substitution.
	if n := len(result); n > 0 && result[n-1].End.Equal(gap.FarFutureSentinel) {
		result[n-1].End = nowFunc()
	}

	return result, nil
}

// nowFunc is a seam for tests to control sentinel substitution.
var nowFunc = time.Now
