package catalog

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  discardLogger(),
	}
}

func TestBaseURLFor(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"PROD", "https://cmr.earthdata.nasa.gov/search"},
		{"", "https://cmr.earthdata.nasa.gov/search"},
		{"UAT", "https://cmr.UAT.earthdata.nasa.gov/search"},
	}

	for _, tt := range tests {
		if got := baseURLFor(tt.env); got != tt.want {
			t.Errorf("baseURLFor(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestFetchExtent_ParsesOpenEndedCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"feed":{"entry":[{"time_start":"2020-01-01T00:00:00Z","time_end":""}]}}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	start, end, hasEnd, err := client.FetchExtent(t.Context(), "MOD09GA", "061")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hasEnd {
		t.Error("expected hasEnd = false for an open-ended collection")
	}

	if !end.Equal(gap.FarFutureSentinel) {
		t.Errorf("end = %v, want gap.FarFutureSentinel", end)
	}

	wantStart := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
}

func TestFetchExtent_NotFoundWhenEmptyFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"feed":{"entry":[]}}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, _, _, err := client.FetchExtent(t.Context(), "MISSING", "001")
	if !errors.Is(err, gap.ErrCatalogNotFound) {
		t.Errorf("err = %v, want gap.ErrCatalogNotFound", err)
	}
}

func TestFetchGranuleCount_ReadsHitsHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("CMR-Hits", "4200")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	count, err := client.FetchGranuleCount(t.Context(), "MOD09GA", "061")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if count != 4200 {
		t.Errorf("count = %d, want 4200", count)
	}
}

func TestFetchPage_ReturnsGranulesAndStopsWhenUnderPageSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"feed":{"entry":[
			{"time_start":"2024-01-01T00:00:00Z","time_end":"2024-01-01T01:00:00Z"},
			{"time_start":"2024-01-01T01:00:00Z","time_end":"2024-01-01T02:00:00Z"}
		]}}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	window := gap.TimeWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	granules, next, err := client.FetchPage(t.Context(), "MOD09GA", "061", window, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(granules) != 2 {
		t.Fatalf("got %d granules, want 2", len(granules))
	}

	if next != "" {
		t.Errorf("next = %q, want empty (page below pageSize signals the final page)", next)
	}
}

func TestFetch_NonOKStatusIsAnError(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises doWithRetry's backoff loop, slow")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, _, _, err := client.FetchExtent(t.Context(), "MOD09GA", "061")
	if err == nil {
		t.Error("expected an error for a non-200 response")
	}
}
