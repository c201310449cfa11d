package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

const pgConnErrorRetries = 3

// PostgresStore is the Postgres-backed implementation of gap.Store.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ gap.Store = (*PostgresStore)(nil)

// Open opens a connection pool per Config and validates it with a retried
// liveness ping, mirroring the teacher's storage.NewConnection pattern and
// the original implementation's get_connection_pool retry loop (up to 3
// attempts, exponential backoff).
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("storage: invalid config: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("storage: open connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	var pingErr error

	for attempt := 0; attempt < pgConnErrorRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		pingErr = db.PingContext(pingCtx)
		cancel()

		if pingErr == nil {
			logger.Info("storage: database connection established",
				slog.String("database_url", cfg.MaskDatabaseURL()))

			return db, nil
		}

		logger.Warn("storage: database connection attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", pingErr.Error()))

		time.Sleep(time.Duration(1<<attempt) * 200 * time.Millisecond)
	}

	_ = db.Close()

	return nil, fmt.Errorf("storage: database unreachable after %d attempts: %w", pgConnErrorRetries, pingErr)
}

// NewPostgresStore wraps an already-open connection pool.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// classifyPQError maps a *pq.Error to a domain sentinel error. Exclusion
// constraint violations (SQLSTATE 23P01) become gap.ErrOverlapViolation;
// unique violations (23505) on the collections table become
// gap.ErrCollectionExists.
func classifyPQError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if ok := asPQError(err, &pqErr); ok {
		switch pqErr.Code.Name() {
		case "exclusion_violation":
			return fmt.Errorf("%w: %s", gap.ErrOverlapViolation, pqErr.Detail)
		case "unique_violation":
			return fmt.Errorf("%w: %s", gap.ErrCollectionExists, pqErr.Detail)
		}
	}

	return err
}

// asPQError is a small indirection around errors.As so classifyPQError reads
// linearly; pq wraps driver errors without additional layers in practice but
// this keeps the call site honest about what it's doing.
func asPQError(err error, target **pq.Error) bool {
	return errors.As(err, target)
}
