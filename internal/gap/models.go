// Package gap defines the domain types and storage contracts for collection
// temporal-coverage tracking. Concrete persistence lives in internal/storage;
// this package only describes the shape of the domain and the interfaces a
// store must satisfy (dependency inversion: domain services depend on these
// interfaces, never on internal/storage).
package gap

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FarFutureSentinel marks an open-ended collection extent. Readers substitute
// the current wall-clock time for this value before surfacing it externally.
var FarFutureSentinel = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)

type (
	// EventKind distinguishes the two logical event-queue sources that feed
	// the Gap Maintenance Engine.
	EventKind string

	// Collection is a registered, versioned dataset with a declared temporal
	// extent. collection_id = short_name + "___" + sanitized_version.
	Collection struct {
		ID           string
		ShortName    string
		Version      string // sanitized: '.' replaced with '_'
		RawVersion   string // as reported by the catalog, before sanitization
		ExtentStart  time.Time
		ExtentEnd    time.Time // FarFutureSentinel if open-ended
		RegisteredAt time.Time
	}

	// Gap is a half-open temporal range [Start, End) within a collection's
	// extent not covered by any granule.
	Gap struct {
		ID           uuid.UUID
		CollectionID string
		Start        time.Time
		End          time.Time
	}

	// Reason is a free-text annotation over a temporal range within a
	// collection. Independent of gaps: a reason may be created for a range
	// not presently covered by any gap.
	Reason struct {
		ID           uuid.UUID
		CollectionID string
		Start        time.Time
		End          time.Time
		Text         string
	}

	// GapRow is the read-side projection returned by ListGaps: a gap window,
	// optionally intersected with an overlapping reason.
	GapRow struct {
		Start  time.Time
		End    time.Time
		Reason *string // nil when the window carries no reason
	}

	// GranuleEvent is a transient message consumed by the Gap Maintenance
	// Engine. Kind is derived from which of the two logical queues (ingest
	// vs. deletion) delivered the message, not carried on the wire.
	GranuleEvent struct {
		CollectionID string
		Begin        time.Time
		End          time.Time
		Kind         EventKind
		DeliveryID   string // queue message id, echoed back in batchItemFailures
	}

	// TimeWindow bounds a query or backfill sub-range. A zero value on either
	// field means "unbounded" on that side.
	TimeWindow struct {
		Start time.Time
		End   time.Time
	}

	// ListGapsFilter carries the C5 query parameters.
	ListGapsFilter struct {
		CollectionID string
		Tolerance    time.Duration
		IncludeKnown bool
		Window       TimeWindow
	}
)

const (
	EventKindIngest EventKind = "ingest"
	EventKindDelete EventKind = "delete"
)

// SanitizeVersion replaces '.' with '_', matching the catalog's raw version
// string to the collection_id convention used throughout the store.
func SanitizeVersion(version string) string {
	out := make([]byte, len(version))

	for i := 0; i < len(version); i++ {
		if version[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = version[i]
		}
	}

	return string(out)
}

// CollectionID builds the composite key short_name + "___" + sanitized_version.
func CollectionID(shortName, version string) string {
	return shortName + "___" + SanitizeVersion(version)
}

// Store is the persistence contract for the interval store (C1), the
// collection registry (C2), and reason annotation (C6). internal/storage
// provides the Postgres implementation; domain services in internal/registry,
// internal/engine, internal/query, and internal/reason depend on this
// interface, never on internal/storage directly.
type Store interface {
	// EnsurePartitions provisions the gaps and reasons partitions for a
	// collection if they do not already exist. Idempotent and safe to call
	// concurrently (§4.1): a losing racer observes the partition and
	// continues.
	EnsurePartitions(ctx context.Context, collectionID string) error

	// InsertCollection inserts a collection row and, as a post-insert side
	// effect, the initial full-extent gap. Returns ErrCollectionExists if
	// already registered.
	InsertCollection(ctx context.Context, c Collection) error

	// GetCollection looks up a registered collection by id. Returns
	// ErrCollectionNotFound if absent.
	GetCollection(ctx context.Context, collectionID string) (Collection, error)

	// CollectionsExist reports which of the given ids are registered.
	CollectionsExist(ctx context.Context, collectionIDs []string) (map[string]bool, error)

	// WithCollectionLock runs fn inside a transaction holding the
	// collection's advisory lock (hashtext(collection_id)) for the duration.
	// Used by the Gap Maintenance Engine to serialize per-collection work
	// (§4.4.2); readers never call this.
	WithCollectionLock(ctx context.Context, collectionID string, fn func(ctx context.Context, tx Tx) error) error

	// ListGaps returns the C5 read-side projection.
	ListGaps(ctx context.Context, filter ListGapsFilter) ([]GapRow, error)

	// AddReasons inserts reason ranges. Fails wholesale with
	// ErrOverlapViolation if any entry collides with R1.
	AddReasons(ctx context.Context, reasons []Reason) error

	// ListReasons returns reasons overlapping window, ordered by Start.
	ListReasons(ctx context.Context, collectionID string, window TimeWindow) ([]Reason, error)
}

// Tx is the transaction-scoped handle passed to WithCollectionLock callbacks.
// It exposes the bulk-load and algorithm-application operations the engine
// needs while holding the collection's advisory lock.
type Tx interface {
	// CopyBulk streams granule records into a transaction-local staging
	// relation, per §4.1's copy_bulk contract.
	CopyBulk(ctx context.Context, collectionID string, records []GranuleEvent) error

	// ApplyIngest runs the split-on-add algorithm (§4.4.3) against the
	// staged records for collectionID.
	ApplyIngest(ctx context.Context, collectionID string) error

	// ApplyDelete runs the merge-on-delete algorithm (§4.4.4) against the
	// staged records for collectionID. Returns any spurious-overlap warnings
	// detected (does not abort on them).
	ApplyDelete(ctx context.Context, collectionID string) ([]SpuriousOverlap, error)
}

// SpuriousOverlap describes a deleted granule whose range already overlapped
// an existing gap — an upstream consistency anomaly, logged but not fatal.
type SpuriousOverlap struct {
	GranuleStart time.Time
	GranuleEnd   time.Time
	GapStart     time.Time
	GapEnd       time.Time
}
