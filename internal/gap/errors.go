package gap

import "errors"

// Sentinel errors classified by callers via errors.Is, mirroring the
// teacher's storage-layer error taxonomy (storage.ErrKeyNotFound and
// friends) generalized to the gap domain.
var (
	// ErrCollectionNotFound is returned when an operation references a
	// collection_id absent from the registry.
	ErrCollectionNotFound = errors.New("gap: collection not found")
	// ErrCollectionExists is returned by InsertCollection when the
	// collection is already registered.
	ErrCollectionExists = errors.New("gap: collection already registered")
	// ErrOverlapViolation is returned when an insert would violate the G1/R1
	// non-overlap exclusion constraint.
	ErrOverlapViolation = errors.New("gap: overlap violation")
	// ErrCatalogNotFound is returned when the external catalog has no
	// record matching the requested short_name/version.
	ErrCatalogNotFound = errors.New("gap: collection not found in catalog")
	// ErrInvalidRange is returned when a caller supplies a range with
	// end <= start.
	ErrInvalidRange = errors.New("gap: invalid range")
)
