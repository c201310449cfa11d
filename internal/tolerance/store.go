// Package tolerance provides the per-collection tolerance key-value
// collaborator used by registration (C2 step 3) and the query surface's
// tolerance lookup (§4.5.1).
package tolerance

import (
	"context"
	"database/sql"
	"fmt"
)

// Store resolves and records the granule-gap tolerance, in seconds,
// declared for a (short_name, raw_version) pair.
type Store interface {
	// Upsert records tolerance for (shortName, rawVersion), last-writer-wins.
	Upsert(ctx context.Context, shortName, rawVersion string, toleranceSeconds int64) error

	// Lookup returns the tolerance for (shortName, rawVersion); ok is false
	// if no tolerance has ever been recorded for that pair.
	Lookup(ctx context.Context, shortName, rawVersion string) (toleranceSeconds int64, ok bool, err error)
}

// PostgresStore backs Store with the `tolerances` table (see
// migrations/004_create_tolerances). The teacher's stack carries no
// DynamoDB-equivalent dependency, so this collaborator — external to the
// core per §3 — is modeled as an ordinary table rather than inventing an
// unwired cloud SDK dependency.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a PostgresStore over an existing pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, shortName, rawVersion string, toleranceSeconds int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tolerances (short_name, raw_version, granule_gap_seconds, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (short_name, raw_version)
		DO UPDATE SET granule_gap_seconds = EXCLUDED.granule_gap_seconds, updated_at = now()`,
		shortName, rawVersion, toleranceSeconds,
	)
	if err != nil {
		return fmt.Errorf("tolerance: upsert %s/%s: %w", shortName, rawVersion, err)
	}

	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, shortName, rawVersion string) (int64, bool, error) {
	var seconds int64

	err := s.db.QueryRowContext(ctx, `
		SELECT granule_gap_seconds FROM tolerances WHERE short_name = $1 AND raw_version = $2`,
		shortName, rawVersion,
	).Scan(&seconds)

	switch {
	case err == sql.ErrNoRows:
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("tolerance: lookup %s/%s: %w", shortName, rawVersion, err)
	}

	return seconds, true, nil
}
