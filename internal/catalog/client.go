// Package catalog wraps the CMR-like external granule catalog that C2 uses
// to resolve a collection's declared extent and that C3 pages through to
// backfill it.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
)

const (
	requestTimeout   = 60 * time.Second
	maxFetchRetries  = 3
	pageSize         = 2000
	searchAfterHdr   = "CMR-Search-After"
)

// Granule is one catalog record covering a contiguous time range.
type Granule struct {
	Begin time.Time
	End   time.Time
}

// Client talks to the CMR-like catalog. Base URL selection follows CMR_ENV
// (§4.3.1); requests are rate-limited client-side so concurrent backfill
// producers collectively respect one requests/second ceiling.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a Client. requestsPerSecond governs the shared limiter
// applied across every caller of this Client (all P backfill producers).
func NewClient(env string, requestsPerSecond float64, logger *slog.Logger) *Client {
	return NewClientWithBaseURL(baseURLFor(env), requestsPerSecond, logger)
}

// NewClientWithBaseURL builds a Client against an explicit base URL,
// bypassing CMR_ENV-based resolution. Used to point a Client at a local
// fake catalog server in tests.
func NewClientWithBaseURL(baseURL string, requestsPerSecond float64, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(math.Max(1, requestsPerSecond))),
		logger:  logger,
	}
}

func baseURLFor(env string) string {
	switch env {
	case "PROD", "":
		return "https://cmr.earthdata.nasa.gov/search"
	default:
		return fmt.Sprintf("https://cmr.%s.earthdata.nasa.gov/search", env)
	}
}

type extentResponse struct {
	Feed struct {
		Entry []struct {
			TimeStart string `json:"time_start"`
			TimeEnd   string `json:"time_end"`
		} `json:"entry"`
	} `json:"feed"`
}

// FetchExtent resolves a collection's declared temporal extent. hasEnd is
// false when the catalog reports no end (open-ended collection); end is then
// the far-future sentinel (gap.FarFutureSentinel).
func (c *Client) FetchExtent(ctx context.Context, shortName, version string) (start, end time.Time, hasEnd bool, err error) {
	query := url.Values{"short_name": {shortName}, "version": {version}}

	body, err := c.doWithRetry(ctx, "/collections.json", query, "")
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	var parsed extentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("catalog: decode extent response: %w", err)
	}

	if len(parsed.Feed.Entry) == 0 {
		return time.Time{}, time.Time{}, false, fmt.Errorf("%w: %s/%s", gap.ErrCatalogNotFound, shortName, version)
	}

	entry := parsed.Feed.Entry[0]

	start, err = time.Parse(time.RFC3339, entry.TimeStart)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("catalog: parse time_start: %w", err)
	}

	if entry.TimeEnd == "" {
		return start, gap.FarFutureSentinel, false, nil
	}

	end, err = time.Parse(time.RFC3339, entry.TimeEnd)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("catalog: parse time_end: %w", err)
	}

	return start, end, true, nil
}

// FetchGranuleCount returns the total granule count for a collection,
// used to size the backfill producer/consumer pool (§4.3 step 2).
func (c *Client) FetchGranuleCount(ctx context.Context, shortName, version string) (int64, error) {
	query := url.Values{"short_name": {shortName}, "version": {version}, "page_size": {"0"}}

	resp, err := c.fetchWithHeaders(ctx, "/granules.json", query, "")
	if err != nil {
		return 0, fmt.Errorf("catalog: fetch granule count: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	hits := resp.Header.Get("CMR-Hits")

	var count int64
	if _, err := fmt.Sscanf(hits, "%d", &count); err != nil {
		return 0, fmt.Errorf("catalog: parse CMR-Hits header %q: %w", hits, err)
	}

	return count, nil
}

type pageResponse struct {
	Feed struct {
		Entry []struct {
			TimeStart string `json:"time_start"`
			TimeEnd   string `json:"time_end"`
		} `json:"entry"`
	} `json:"feed"`
}

// FetchPage retrieves one page of granule records within window, using the
// CMR-Search-After cursor token for pagination (§4.3.1). An empty
// nextSearchAfter return signals the final page.
func (c *Client) FetchPage(ctx context.Context, shortName, version string, window gap.TimeWindow, searchAfter string) ([]Granule, string, error) {
	query := url.Values{
		"short_name":      {shortName},
		"version":         {version},
		"temporal":        {window.Start.Format(time.RFC3339) + "," + window.End.Format(time.RFC3339)},
		"page_size":       {fmt.Sprintf("%d", pageSize)},
	}

	body, err := c.doWithRetry(ctx, "/granules.json", query, searchAfter)
	if err != nil {
		return nil, "", err
	}

	var parsed pageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", fmt.Errorf("catalog: decode page response: %w", err)
	}

	granules := make([]Granule, 0, len(parsed.Feed.Entry))

	for _, e := range parsed.Feed.Entry {
		start, err := time.Parse(time.RFC3339, e.TimeStart)
		if err != nil {
			continue
		}

		end, err := time.Parse(time.RFC3339, e.TimeEnd)
		if err != nil {
			continue
		}

		granules = append(granules, Granule{Begin: start, End: end})
	}

	next := ""
	if len(parsed.Feed.Entry) == pageSize {
		next = parsed.Feed.Entry[len(parsed.Feed.Entry)-1].TimeEnd
	}

	return granules, next, nil
}

// doWithRetry performs one rate-limited GET with exponential backoff
// (attempt² seconds, up to maxFetchRetries), per §4.3's producer retry
// policy.
func (c *Client) doWithRetry(ctx context.Context, path string, query url.Values, searchAfter string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxFetchRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("catalog: rate limiter: %w", err)
		}

		body, err := c.fetch(ctx, path, query, searchAfter)
		if err == nil {
			return body, nil
		}

		lastErr = err
		c.logger.Warn("catalog fetch failed, retrying",
			slog.String("path", path), slog.Int("attempt", attempt), slog.String("error", err.Error()))
	}

	return nil, fmt.Errorf("catalog: exhausted %d retries: %w", maxFetchRetries, lastErr)
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values, searchAfter string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}

	if searchAfter != "" {
		req.Header.Set(searchAfterHdr, searchAfter)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: transport error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: non-200 response %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// fetchWithHeaders performs a single rate-limited GET and returns the raw
// response (caller must close the body), for callers that only need
// response headers (FetchGranuleCount's CMR-Hits).
func (c *Client) fetchWithHeaders(ctx context.Context, path string, query url.Values, searchAfter string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("catalog: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}

	if searchAfter != "" {
		req.Header.Set(searchAfterHdr, searchAfter)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: transport error: %w", err)
	}

	return resp, nil
}
