package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/nasa-cumulus/gapdetect/internal/eventbus"
	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

// fakeStore is an in-memory gap.Store double for exercising ProcessBatch's
// grouping, registration-check, and per-collection dispatch logic without a
// database.
type fakeStore struct {
	registered    map[string]bool
	staged        map[string][]gap.GranuleEvent
	ingestCalls   []string
	deleteCalls   []string
	failIngestFor string
	failDeleteFor string
}

func newFakeStore(registered ...string) *fakeStore {
	set := make(map[string]bool, len(registered))
	for _, id := range registered {
		set[id] = true
	}

	return &fakeStore{registered: set, staged: make(map[string][]gap.GranuleEvent)}
}

func (f *fakeStore) EnsurePartitions(ctx context.Context, collectionID string) error { return nil }

func (f *fakeStore) InsertCollection(ctx context.Context, c gap.Collection) error { return nil }

func (f *fakeStore) GetCollection(ctx context.Context, collectionID string) (gap.Collection, error) {
	return gap.Collection{}, nil
}

func (f *fakeStore) CollectionsExist(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = f.registered[id]
	}

	return result, nil
}

func (f *fakeStore) WithCollectionLock(ctx context.Context, collectionID string, fn func(ctx context.Context, tx gap.Tx) error) error {
	return fn(ctx, &fakeTx{store: f, collectionID: collectionID})
}

func (f *fakeStore) ListGaps(ctx context.Context, filter gap.ListGapsFilter) ([]gap.GapRow, error) {
	return nil, nil
}

func (f *fakeStore) AddReasons(ctx context.Context, reasons []gap.Reason) error { return nil }

func (f *fakeStore) ListReasons(ctx context.Context, collectionID string, window gap.TimeWindow) ([]gap.Reason, error) {
	return nil, nil
}

type fakeTx struct {
	store        *fakeStore
	collectionID string
}

func (t *fakeTx) CopyBulk(ctx context.Context, collectionID string, records []gap.GranuleEvent) error {
	t.store.staged[collectionID] = append(t.store.staged[collectionID], records...)

	return nil
}

func (t *fakeTx) ApplyIngest(ctx context.Context, collectionID string) error {
	t.store.ingestCalls = append(t.store.ingestCalls, collectionID)

	if collectionID == t.store.failIngestFor {
		return errors.New("simulated ingest failure")
	}

	return nil
}

func (t *fakeTx) ApplyDelete(ctx context.Context, collectionID string) ([]gap.SpuriousOverlap, error) {
	t.store.deleteCalls = append(t.store.deleteCalls, collectionID)

	if collectionID == t.store.failDeleteFor {
		return nil, errors.New("simulated delete failure")
	}

	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessBatch_AppliesIngestAndDeletePassesSeparately(t *testing.T) {
	store := newFakeStore("MOD09GA___061")
	e := New(store, discardLogger())

	deliveries := []eventbus.Delivery{
		{ID: "d1", Event: gap.GranuleEvent{CollectionID: "MOD09GA___061", Kind: gap.EventKindIngest, DeliveryID: "d1"}},
		{ID: "d2", Event: gap.GranuleEvent{CollectionID: "MOD09GA___061", Kind: gap.EventKindDelete, DeliveryID: "d2"}},
	}

	failed := e.ProcessBatch(context.Background(), deliveries)

	if len(failed) != 0 {
		t.Fatalf("failed = %v, want none", failed)
	}

	if len(store.ingestCalls) != 1 || len(store.deleteCalls) != 1 {
		t.Errorf("ingestCalls = %v, deleteCalls = %v, want exactly one of each", store.ingestCalls, store.deleteCalls)
	}
}

func TestProcessBatch_UnregisteredCollectionFailsOnlyThatGroup(t *testing.T) {
	store := newFakeStore("MOD09GA___061")
	e := New(store, discardLogger())

	deliveries := []eventbus.Delivery{
		{ID: "d1", Event: gap.GranuleEvent{CollectionID: "MOD09GA___061", Kind: gap.EventKindIngest, DeliveryID: "d1"}},
		{ID: "d2", Event: gap.GranuleEvent{CollectionID: "UNKNOWN___001", Kind: gap.EventKindIngest, DeliveryID: "d2"}},
	}

	failed := e.ProcessBatch(context.Background(), deliveries)

	if len(failed) != 1 || failed[0] != "d2" {
		t.Errorf("failed = %v, want [d2]", failed)
	}
}

func TestProcessBatch_CollectionsExistErrorFailsWholeBatch(t *testing.T) {
	store := newFakeStore("MOD09GA___061")
	e := New(&erroringStore{fakeStore: store}, discardLogger())

	deliveries := []eventbus.Delivery{
		{ID: "d1", Event: gap.GranuleEvent{CollectionID: "MOD09GA___061", Kind: gap.EventKindIngest, DeliveryID: "d1"}},
		{ID: "d2", Event: gap.GranuleEvent{CollectionID: "MOD09GA___061", Kind: gap.EventKindIngest, DeliveryID: "d2"}},
	}

	failed := e.ProcessBatch(context.Background(), deliveries)

	sort.Strings(failed)

	if len(failed) != 2 || failed[0] != "d1" || failed[1] != "d2" {
		t.Errorf("failed = %v, want [d1 d2]", failed)
	}
}

type erroringStore struct {
	*fakeStore
}

func (s *erroringStore) CollectionsExist(ctx context.Context, ids []string) (map[string]bool, error) {
	return nil, errors.New("simulated lookup failure")
}

func TestProcessBatch_ApplyFailureFailsThatGroupOnly(t *testing.T) {
	store := newFakeStore("MOD09GA___061", "MYD09GA___061")
	store.failIngestFor = "MOD09GA___061"

	e := New(store, discardLogger())

	deliveries := []eventbus.Delivery{
		{ID: "d1", Event: gap.GranuleEvent{CollectionID: "MOD09GA___061", Kind: gap.EventKindIngest, DeliveryID: "d1"}},
		{ID: "d2", Event: gap.GranuleEvent{CollectionID: "MYD09GA___061", Kind: gap.EventKindIngest, DeliveryID: "d2"}},
	}

	failed := e.ProcessBatch(context.Background(), deliveries)

	if len(failed) != 1 || failed[0] != "d1" {
		t.Errorf("failed = %v, want [d1]", failed)
	}
}
