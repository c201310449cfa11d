package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// safeIdentifier mirrors the original implementation's re.sub(r"\W+", "_", collection_id)
// used to build a valid, collision-free partition table name from a collection_id
// that may itself contain characters PostgreSQL identifiers can't.
var safeIdentifier = regexp.MustCompile(`\W+`)

func partitionName(prefix, collectionID string) string {
	return prefix + "_" + safeIdentifier.ReplaceAllString(collectionID, "_")
}

// EnsurePartitions provisions the gaps_<cid> and reasons_<cid> partitions and
// their exclusion constraints, grounded on gapConfig.py's init_collection.
// Idempotent: checks pg_class/pg_namespace before creating, so a losing
// racer observes the partition this call didn't create and returns cleanly.
func (s *PostgresStore) EnsurePartitions(ctx context.Context, collectionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin ensure-partitions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"gaps", "reasons"} {
		name := partitionName(table, collectionID)
		if err := ensurePartition(ctx, tx, table, name, collectionID); err != nil {
			return fmt.Errorf("storage: ensure partition %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit ensure-partitions tx: %w", err)
	}

	return nil
}

func ensurePartition(ctx context.Context, tx *sql.Tx, table, partition, collectionID string) error {
	var exists bool

	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = $1 AND n.nspname = 'public'
		)`, partition).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	createSQL := fmt.Sprintf(
		`CREATE TABLE %s PARTITION OF %s FOR VALUES IN (%s)`,
		pq.QuoteIdentifier(partition), table, pq.QuoteLiteral(collectionID),
	)
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return err
	}

	constraintSQL := fmt.Sprintf(
		`ALTER TABLE %s ADD CONSTRAINT %s EXCLUDE USING gist (tsrange(start_ts, end_ts) WITH &&)`,
		pq.QuoteIdentifier(partition), pq.QuoteIdentifier(partition+"_no_overlap"),
	)
	if _, err := tx.ExecContext(ctx, constraintSQL); err != nil {
		return err
	}

	return nil
}

// InsertCollection inserts the collection row and its initial full-extent
// gap in one transaction (§4.2 step 2). The gap insert is a side effect of
// registration, not a caller-requested operation.
func (s *PostgresStore) InsertCollection(ctx context.Context, c gap.Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin insert-collection tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (collection_id, short_name, version, raw_version, extent_start, extent_end)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.ShortName, c.Version, c.RawVersion, c.ExtentStart, c.ExtentEnd,
	)
	if err != nil {
		return classifyPQError(fmt.Errorf("storage: insert collection: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO gaps (collection_id, start_ts, end_ts) VALUES ($1, $2, $3)`,
		c.ID, c.ExtentStart, c.ExtentEnd,
	)
	if err != nil {
		return classifyPQError(fmt.Errorf("storage: insert initial gap: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit insert-collection tx: %w", err)
	}

	return nil
}

// GetCollection looks up a registered collection.
func (s *PostgresStore) GetCollection(ctx context.Context, collectionID string) (gap.Collection, error) {
	var c gap.Collection

	err := s.db.QueryRowContext(ctx, `
		SELECT collection_id, short_name, version, raw_version, extent_start, extent_end, registered_at
		FROM collections WHERE collection_id = $1`, collectionID,
	).Scan(&c.ID, &c.ShortName, &c.Version, &c.RawVersion, &c.ExtentStart, &c.ExtentEnd, &c.RegisteredAt)

	switch {
	case err == sql.ErrNoRows:
		return gap.Collection{}, gap.ErrCollectionNotFound
	case err != nil:
		return gap.Collection{}, fmt.Errorf("storage: get collection: %w", err)
	}

	return c, nil
}

// CollectionsExist reports which of the given ids are registered, grounded
// on gapUpdate.py's validate_collections (batched IN-list lookup).
func (s *PostgresStore) CollectionsExist(ctx context.Context, collectionIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(collectionIDs))
	for _, id := range collectionIDs {
		result[id] = false
	}

	if len(collectionIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT collection_id FROM collections WHERE collection_id = ANY($1)`,
		pq.Array(collectionIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: validate collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan collection id: %w", err)
		}

		result[id] = true
	}

	return result, rows.Err()
}
