package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// txHandle implements gap.Tx against a single *sql.Tx already holding the
// collection's advisory lock.
type txHandle struct {
	tx *sql.Tx
}

var _ gap.Tx = (*txHandle)(nil)

// WithCollectionLock runs fn inside a transaction holding
// pg_advisory_xact_lock(hashtext(collection_id)) for its duration (§4.4.2).
// The lock is transaction-scoped: it releases automatically on commit or
// rollback, including when the caller's context is cancelled mid-transaction
// (the driver aborts the in-flight statement and the rollback follows).
func (s *PostgresStore) WithCollectionLock(
	ctx context.Context,
	collectionID string,
	fn func(ctx context.Context, tx gap.Tx) error,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin collection-lock tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, collectionID); err != nil {
		return fmt.Errorf("storage: acquire advisory lock for %s: %w", collectionID, err)
	}

	if err := fn(ctx, &txHandle{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit collection-lock tx for %s: %w", collectionID, err)
	}

	committed = true

	return nil
}
