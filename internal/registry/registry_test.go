package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nasa-cumulus/gapdetect/internal/catalog"
	"github.com/nasa-cumulus/gapdetect/internal/eventbus"
	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

type fakeStore struct {
	collections map[string]gap.Collection
	inserted    []gap.Collection
	partitioned []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{collections: make(map[string]gap.Collection)}
}

func (f *fakeStore) EnsurePartitions(ctx context.Context, collectionID string) error {
	f.partitioned = append(f.partitioned, collectionID)

	return nil
}

func (f *fakeStore) InsertCollection(ctx context.Context, c gap.Collection) error {
	if _, ok := f.collections[c.ID]; ok {
		return gap.ErrCollectionExists
	}

	f.collections[c.ID] = c
	f.inserted = append(f.inserted, c)

	return nil
}

func (f *fakeStore) GetCollection(ctx context.Context, collectionID string) (gap.Collection, error) {
	c, ok := f.collections[collectionID]
	if !ok {
		return gap.Collection{}, gap.ErrCollectionNotFound
	}

	return c, nil
}

func (f *fakeStore) CollectionsExist(ctx context.Context, ids []string) (map[string]bool, error) {
	return nil, nil
}

func (f *fakeStore) WithCollectionLock(ctx context.Context, collectionID string, fn func(ctx context.Context, tx gap.Tx) error) error {
	return nil
}

func (f *fakeStore) ListGaps(ctx context.Context, filter gap.ListGapsFilter) ([]gap.GapRow, error) {
	return nil, nil
}

func (f *fakeStore) AddReasons(ctx context.Context, reasons []gap.Reason) error { return nil }

func (f *fakeStore) ListReasons(ctx context.Context, collectionID string, window gap.TimeWindow) ([]gap.Reason, error) {
	return nil, nil
}

type fakeToleranceStore struct {
	upserted map[string]int64
}

func (f *fakeToleranceStore) Upsert(ctx context.Context, shortName, rawVersion string, toleranceSeconds int64) error {
	if f.upserted == nil {
		f.upserted = make(map[string]int64)
	}

	f.upserted[shortName+"/"+rawVersion] = toleranceSeconds

	return nil
}

func (f *fakeToleranceStore) Lookup(ctx context.Context, shortName, rawVersion string) (int64, bool, error) {
	return 0, false, nil
}

type fakeBackfiller struct {
	calls   int
	sent    int64
	err     error
}

func (f *fakeBackfiller) Run(ctx context.Context, collectionID, shortName, version string) (int64, error) {
	f.calls++

	return f.sent, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeCatalogServer(t *testing.T) *catalog.Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"feed":{"entry":[{"time_start":"2024-01-01T00:00:00Z","time_end":"2024-02-01T00:00:00Z"}]}}`))
	}))
	t.Cleanup(server.Close)

	return catalog.NewClientWithBaseURL(server.URL, 100, discardLogger())
}

func TestRegister_FreshCollectionRunsFullFlow(t *testing.T) {
	store := newFakeStore()
	tolerances := &fakeToleranceStore{}
	subscriptions := eventbus.NewInMemorySubscriptionManager("arn:ingest", "arn:deletion")
	backfiller := &fakeBackfiller{sent: 42}

	r := New(store, fakeCatalogServer(t), tolerances, subscriptions, backfiller, discardLogger())

	toleranceSeconds := int64(300)

	result, err := r.Register(context.Background(), "MOD09GA", "061", &toleranceSeconds, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantID := gap.CollectionID("MOD09GA", "061")
	if result.CollectionID != wantID {
		t.Errorf("CollectionID = %q, want %q", result.CollectionID, wantID)
	}

	if result.AlreadyExisted {
		t.Error("expected AlreadyExisted = false for a fresh registration")
	}

	if result.GranulesSent != 42 {
		t.Errorf("GranulesSent = %d, want 42", result.GranulesSent)
	}

	if len(store.partitioned) != 1 || store.partitioned[0] != wantID {
		t.Errorf("partitioned = %v, want [%s]", store.partitioned, wantID)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("got %d collections inserted, want 1", len(store.inserted))
	}

	wantExtentStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !store.inserted[0].ExtentStart.Equal(wantExtentStart) {
		t.Errorf("ExtentStart = %v, want %v", store.inserted[0].ExtentStart, wantExtentStart)
	}

	if tolerances.upserted["MOD09GA/061"] != 300 {
		t.Errorf("tolerance upserted = %d, want 300", tolerances.upserted["MOD09GA/061"])
	}

	if backfiller.calls != 1 {
		t.Errorf("backfiller called %d times, want 1", backfiller.calls)
	}
}

func TestRegister_AlreadyExistsWithoutForceIsANoOp(t *testing.T) {
	store := newFakeStore()
	existingID := gap.CollectionID("MOD09GA", "061")
	store.collections[existingID] = gap.Collection{ID: existingID}

	backfiller := &fakeBackfiller{}

	r := New(store, fakeCatalogServer(t), &fakeToleranceStore{}, eventbus.NewInMemorySubscriptionManager("a", "b"), backfiller, discardLogger())

	result, err := r.Register(context.Background(), "MOD09GA", "061", nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.AlreadyExisted {
		t.Error("expected AlreadyExisted = true")
	}

	if backfiller.calls != 0 {
		t.Errorf("backfiller called %d times, want 0 (force not set)", backfiller.calls)
	}
}

func TestRegister_AlreadyExistsWithForceOnlyReRunsBackfill(t *testing.T) {
	store := newFakeStore()
	existingID := gap.CollectionID("MOD09GA", "061")
	store.collections[existingID] = gap.Collection{ID: existingID}

	backfiller := &fakeBackfiller{sent: 7}

	r := New(store, fakeCatalogServer(t), &fakeToleranceStore{}, eventbus.NewInMemorySubscriptionManager("a", "b"), backfiller, discardLogger())

	result, err := r.Register(context.Background(), "MOD09GA", "061", nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.AlreadyExisted {
		t.Error("expected AlreadyExisted = true")
	}

	if result.GranulesSent != 7 {
		t.Errorf("GranulesSent = %d, want 7", result.GranulesSent)
	}

	if backfiller.calls != 1 {
		t.Errorf("backfiller called %d times, want 1", backfiller.calls)
	}

	if len(store.inserted) != 0 {
		t.Error("force re-registration of an existing collection must not re-insert it")
	}
}

func TestRegister_BackfillErrorIsReportedNotFatal(t *testing.T) {
	store := newFakeStore()
	backfiller := &fakeBackfiller{err: errors.New("simulated backfill failure")}

	r := New(store, fakeCatalogServer(t), &fakeToleranceStore{}, eventbus.NewInMemorySubscriptionManager("a", "b"), backfiller, discardLogger())

	result, err := r.Register(context.Background(), "MOD09GA", "061", nil, false)
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}

	if result.BackfillError == nil {
		t.Error("expected BackfillError to be populated")
	}
}

func TestRegister_GetCollectionErrorIsFatal(t *testing.T) {
	store := &erroringStore{fakeStore: newFakeStore()}

	r := New(store, fakeCatalogServer(t), &fakeToleranceStore{}, eventbus.NewInMemorySubscriptionManager("a", "b"), &fakeBackfiller{}, discardLogger())

	_, err := r.Register(context.Background(), "MOD09GA", "061", nil, false)
	if err == nil {
		t.Error("expected an error when the collection lookup itself fails")
	}
}

type erroringStore struct {
	*fakeStore
}

func (s *erroringStore) GetCollection(ctx context.Context, collectionID string) (gap.Collection, error) {
	return gap.Collection{}, errors.New("simulated lookup failure")
}
