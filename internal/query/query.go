// Package query implements the Query Surface (C5): tolerance resolution,
// the known/tolerance/window filter contract, and the oversized-response
// object-storage fallback (§4.5, §4.5.1).
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
	"github.com/nasa-cumulus/gapdetect/internal/objectstore"
	"github.com/nasa-cumulus/gapdetect/internal/report"
	"github.com/nasa-cumulus/gapdetect/internal/tolerance"
)

// maxInlineResponseBytes is the §4.5.1 6 MB inline-response ceiling.
const maxInlineResponseBytes = 6 * 1024 * 1024

// Service implements ListGaps plus its HTTP-facing tolerance resolution and
// size-based presigned-URL fallback.
type Service struct {
	store       gap.Store
	tolerances  tolerance.Store
	objects     objectstore.Client
	bucket      string
}

// New builds a query Service.
func New(store gap.Store, tolerances tolerance.Store, objects objectstore.Client, bucket string) *Service {
	return &Service{store: store, tolerances: tolerances, objects: objects, bucket: bucket}
}

// Request carries the parsed query parameters from GET /gaps.
type Request struct {
	CollectionID     string
	ShortName        string
	RawVersion       string
	ToleranceFlag    bool
	ExplicitSeconds  *int64
	IncludeKnown     bool
	Window           gap.TimeWindow
}

// Response is the inline JSON shape {timeGaps, gapTolerance} from §6.
type Response struct {
	TimeGaps     []gap.GapRow `json:"timeGaps"`
	GapTolerance int64        `json:"gapTolerance"`
}

// LargeResponse is returned in place of Response when the payload would
// exceed maxInlineResponseBytes.
type LargeResponse struct {
	Message      string `json:"message"`
	PresignedURL string `json:"presigned_url"`
}

// ListGaps resolves tolerance (explicit seconds, or a KV lookup when
// ToleranceFlag is set with no explicit value), runs the query, and
// returns either an inline Response or, if the serialized body exceeds 6
// MB, a LargeResponse pointing at an object-storage presigned URL.
func (s *Service) ListGaps(ctx context.Context, req Request) (inline *Response, large *LargeResponse, err error) {
	toleranceSeconds, err := s.resolveTolerance(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("query: resolve tolerance: %w", err)
	}

	rows, err := s.store.ListGaps(ctx, gap.ListGapsFilter{
		CollectionID: req.CollectionID,
		Tolerance:    time.Duration(toleranceSeconds) * time.Second,
		IncludeKnown: req.IncludeKnown,
		Window:       req.Window,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("query: list gaps: %w", err)
	}

	response := Response{TimeGaps: rows, GapTolerance: toleranceSeconds}

	body, err := json.Marshal(response)
	if err != nil {
		return nil, nil, fmt.Errorf("query: marshal response: %w", err)
	}

	if len(body) <= maxInlineResponseBytes {
		return &response, nil, nil
	}

	key := fmt.Sprintf("%s/%d.json", req.CollectionID, time.Now().UnixNano())

	url, err := s.objects.Put(ctx, s.bucket, key, body, "application/json", objectstore.DefaultPresignExpiry)
	if err != nil {
		return nil, nil, fmt.Errorf("query: stash oversized response: %w", err)
	}

	return nil, &LargeResponse{Message: "response exceeded inline size limit", PresignedURL: url}, nil
}

// ExportCSV runs the same query and renders the rows as CSV, always via
// object storage (§6: CSV downloads are presumed large).
func (s *Service) ExportCSV(ctx context.Context, req Request) (*LargeResponse, error) {
	toleranceSeconds, err := s.resolveTolerance(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query: resolve tolerance: %w", err)
	}

	rows, err := s.store.ListGaps(ctx, gap.ListGapsFilter{
		CollectionID: req.CollectionID,
		Tolerance:    time.Duration(toleranceSeconds) * time.Second,
		IncludeKnown: req.IncludeKnown,
		Window:       req.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("query: list gaps for report: %w", err)
	}

	body, err := report.WriteCSV(req.ShortName, req.RawVersion, rows)
	if err != nil {
		return nil, fmt.Errorf("query: render csv: %w", err)
	}

	key := fmt.Sprintf("%s/%d.csv", req.CollectionID, time.Now().UnixNano())

	url, err := s.objects.Put(ctx, s.bucket, key, body, "text/csv", objectstore.DefaultPresignExpiry)
	if err != nil {
		return nil, fmt.Errorf("query: stash report: %w", err)
	}

	return &LargeResponse{Message: "report generated", PresignedURL: url}, nil
}

func (s *Service) resolveTolerance(ctx context.Context, req Request) (int64, error) {
	if req.ExplicitSeconds != nil {
		return *req.ExplicitSeconds, nil
	}

	if !req.ToleranceFlag {
		return 0, nil
	}

	seconds, ok, err := s.tolerances.Lookup(ctx, req.ShortName, req.RawVersion)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, nil
	}

	return seconds, nil
}
