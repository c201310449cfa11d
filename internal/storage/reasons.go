package storage

import (
	"context"
	"fmt"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// AddReasons inserts reason ranges, grounded on knownGap.py's add_reasons.
// Unlike the original (which commits once after looping inserts), this
// wraps all entries in one transaction: a batch either lands entirely or
// fails entirely, so a caller never observes a partially-applied POST.
func (s *PostgresStore) AddReasons(ctx context.Context, reasons []gap.Reason) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin add-reasons tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range reasons {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reasons (reason_id, collection_id, start_ts, end_ts, reason)
			VALUES ($1, $2, $3, $4, $5)`,
			r.ID, r.CollectionID, r.Start, r.End, r.Text,
		)
		if err != nil {
			return classifyPQError(fmt.Errorf("storage: insert reason for %s: %w", r.CollectionID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit add-reasons tx: %w", err)
	}

	return nil
}

// ListReasons returns reasons overlapping window, ordered by start_ts,
// grounded on knownGap.py's get_reasons.
func (s *PostgresStore) ListReasons(ctx context.Context, collectionID string, window gap.TimeWindow) ([]gap.Reason, error) {
	// A zero window bound is passed as NULL, which tsrange treats as unbounded.
	var windowStart, windowEnd any
	if !window.Start.IsZero() {
		windowStart = window.Start
	}

	if !window.End.IsZero() {
		windowEnd = window.End
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT reason_id, collection_id, start_ts, end_ts, reason
		FROM reasons
		WHERE collection_id = $1
		  AND tsrange(start_ts, end_ts) && tsrange($2, $3)
		ORDER BY start_ts`,
		collectionID, windowStart, windowEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list reasons for %s: %w", collectionID, err)
	}
	defer func() { _ = rows.Close() }()

	var result []gap.Reason

	for rows.Next() {
		var r gap.Reason
		if err := rows.Scan(&r.ID, &r.CollectionID, &r.Start, &r.End, &r.Text); err != nil {
			return nil, fmt.Errorf("storage: scan reason: %w", err)
		}

		result = append(result, r)
	}

	return result, rows.Err()
}
