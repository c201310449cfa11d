// Package api provides the HTTP API server for the gap detection service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nasa-cumulus/gapdetect/internal/gap"
	"github.com/nasa-cumulus/gapdetect/internal/query"
	"github.com/nasa-cumulus/gapdetect/internal/reason"
)

const (
	healthCheckTimeout = 2 * time.Second
	dateLayout         = "2006-01-02"
)

type (
	// collectionRegistrationRequest is the POST /collections body (§6).
	collectionRegistrationRequest struct {
		Collections []collectionRegistrationInput `json:"collections"`
		Backfill    string                        `json:"backfill,omitempty"`
	}

	collectionRegistrationInput struct {
		ShortName string `json:"short_name"` //nolint:tagliatelle
		Version   string `json:"version"`
		Tolerance *int64 `json:"tolerance,omitempty"`
	}

	collectionRegistrationResponse struct {
		Results []collectionRegistrationResult `json:"results"`
	}

	collectionRegistrationResult struct {
		CollectionID   string `json:"collection_id"` //nolint:tagliatelle
		AlreadyExisted bool   `json:"already_existed"`
		GranulesSent   int64  `json:"granules_sent"`
	}

	// reasonCreateRequest is the POST /reasons body (§6).
	reasonCreateRequest struct {
		Reasons []reasonCreateInput `json:"reasons"`
	}

	reasonCreateInput struct {
		ShortName string    `json:"shortname"`
		Version   string    `json:"version"`
		StartTS   time.Time `json:"start_ts"`
		EndTS     time.Time `json:"end_ts"`
		Reason    string    `json:"reason"`
	}

	reasonListResponse struct {
		Reasons []reasonListEntry `json:"reasons"`
	}

	reasonListEntry struct {
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
		Reason    string    `json:"reason"`
	}
)

// setupRoutes registers every HTTP route for the API server. Per §6,
// requests with an unsupported method against a known path return 501 via
// the bare-path fallback pattern, while the method-specific pattern handles
// the supported verb; Go's ServeMux prefers the more specific match.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /ready", s.handleReady)

	mux.HandleFunc("POST /collections", s.handleRegisterCollections)
	mux.HandleFunc("/collections", s.handleNotImplemented)

	mux.HandleFunc("GET /gaps", s.handleListGaps)
	mux.HandleFunc("/gaps", s.handleNotImplemented)

	mux.HandleFunc("GET /gaps/report", s.handleGapsReport)
	mux.HandleFunc("/gaps/report", s.handleNotImplemented)

	mux.HandleFunc("POST /reasons", s.handleAddReasons)
	mux.HandleFunc("GET /reasons", s.handleListReasons)
	mux.HandleFunc("/reasons", s.handleNotImplemented)

	mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotImplemented("method "+r.Method+" is not supported on "+r.URL.Path))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("no such resource: "+r.URL.Path))
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// handleReady responds to readiness probes by pinging the database pool.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("readiness check failed", "error", err.Error())
		WriteErrorResponse(w, r, s.logger, InternalServerError("database unreachable"))

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleRegisterCollections implements POST /collections (§4.2, §6).
func (s *Server) handleRegisterCollections(w http.ResponseWriter, r *http.Request) {
	var body collectionRegistrationRequest

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("malformed request body: "+err.Error()))

		return
	}

	if len(body.Collections) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("collections must not be empty"))

		return
	}

	force := body.Backfill == "force"

	results := make([]collectionRegistrationResult, 0, len(body.Collections))

	var backfillFailures []string

	for _, c := range body.Collections {
		if c.ShortName == "" || c.Version == "" {
			WriteErrorResponse(w, r, s.logger, BadRequest("short_name and version are required for every collection"))

			return
		}

		result, err := s.registry.Register(r.Context(), c.ShortName, c.Version, c.Tolerance, force)
		if err != nil {
			s.logger.Error("collection registration failed",
				"short_name", c.ShortName, "version", c.Version, "error", err.Error())
			WriteErrorResponse(w, r, s.logger, InternalServerError(
				fmt.Sprintf("failed to register %s/%s: %s", c.ShortName, c.Version, err.Error())))

			return
		}

		if result.BackfillError != nil {
			backfillFailures = append(backfillFailures,
				fmt.Sprintf("%s: %s (use force=True to rectify)", result.CollectionID, result.BackfillError.Error()))
		}

		results = append(results, collectionRegistrationResult{
			CollectionID:   result.CollectionID,
			AlreadyExisted: result.AlreadyExisted,
			GranulesSent:   result.GranulesSent,
		})
	}

	if len(backfillFailures) > 0 {
		WriteErrorResponse(w, r, s.logger, InternalServerError(
			"backfill failed for one or more collections: "+joinSemicolon(backfillFailures)))

		return
	}

	writeJSON(w, s.logger, http.StatusOK, collectionRegistrationResponse{Results: results})
}

// handleListGaps implements GET /gaps (§4.5, §6).
func (s *Server) handleListGaps(w http.ResponseWriter, r *http.Request) {
	req, problem := parseQueryRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	inline, large, err := s.query.ListGaps(r.Context(), req)
	if err != nil {
		s.logger.Error("list gaps failed", "collection_id", req.CollectionID, "error", err.Error())
		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	if large != nil {
		writeJSON(w, s.logger, http.StatusOK, large)

		return
	}

	writeJSON(w, s.logger, http.StatusOK, inline)
}

// handleGapsReport implements GET /gaps/report (§4.5.1, §6).
func (s *Server) handleGapsReport(w http.ResponseWriter, r *http.Request) {
	req, problem := parseQueryRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	large, err := s.query.ExportCSV(r.Context(), req)
	if err != nil {
		s.logger.Error("gap report failed", "collection_id", req.CollectionID, "error", err.Error())
		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	writeJSON(w, s.logger, http.StatusOK, large)
}

// handleAddReasons implements POST /reasons (§4.6, §6).
func (s *Server) handleAddReasons(w http.ResponseWriter, r *http.Request) {
	var body reasonCreateRequest

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("malformed request body: "+err.Error()))

		return
	}

	if len(body.Reasons) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("reasons must not be empty"))

		return
	}

	inputs := make([]reason.Input, 0, len(body.Reasons))

	for _, in := range body.Reasons {
		if in.ShortName == "" || in.Version == "" || in.Reason == "" {
			WriteErrorResponse(w, r, s.logger, BadRequest("shortname, version, and reason are required"))

			return
		}

		inputs = append(inputs, reason.Input{
			ShortName: in.ShortName,
			Version:   in.Version,
			Window:    gap.TimeWindow{Start: in.StartTS, End: in.EndTS},
			Text:      in.Reason,
		})
	}

	if err := s.reasons.Add(r.Context(), inputs); err != nil {
		if errors.Is(err, gap.ErrOverlapViolation) {
			WriteErrorResponse(w, r, s.logger, Conflict("reason overlaps an existing reason: "+err.Error()))

			return
		}

		s.logger.Error("add reasons failed", "error", err.Error())
		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	w.WriteHeader(http.StatusCreated)
}

// handleListReasons implements GET /reasons (§4.6, §6).
func (s *Server) handleListReasons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	shortName := q.Get("short_name")
	version := q.Get("version")

	if shortName == "" || version == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("short_name and version are required"))

		return
	}

	window, problem := parseDateWindow(q)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	reasons, err := s.reasons.List(r.Context(), shortName, version, window)
	if err != nil {
		s.logger.Error("list reasons failed", "short_name", shortName, "version", version, "error", err.Error())
		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	entries := make([]reasonListEntry, 0, len(reasons))
	for _, rr := range reasons {
		entries = append(entries, reasonListEntry{StartTime: rr.Start, EndTime: rr.End, Reason: rr.Text})
	}

	writeJSON(w, s.logger, http.StatusOK, reasonListResponse{Reasons: entries})
}

// parseQueryRequest parses the common GET /gaps and GET /gaps/report query
// parameters into a query.Request, or returns a bad-request ProblemDetail.
func parseQueryRequest(r *http.Request) (query.Request, *ProblemDetail) {
	q := r.URL.Query()

	shortName := q.Get("short_name")
	version := q.Get("version")

	if shortName == "" || version == "" {
		return query.Request{}, BadRequest("short_name and version are required")
	}

	window, problem := parseDateWindow(q)
	if problem != nil {
		return query.Request{}, problem
	}

	req := query.Request{
		CollectionID:  gap.CollectionID(shortName, version),
		ShortName:     shortName,
		RawVersion:    version,
		IncludeKnown:  q.Get("knownGap") == "true",
		ToleranceFlag: q.Get("tolerance") == "true",
		Window:        window,
	}

	if seconds, err := strconv.ParseInt(q.Get("tolerance"), 10, 64); err == nil {
		req.ExplicitSeconds = &seconds
	} else if tol := q.Get("tolerance"); tol != "" && tol != "true" && tol != "false" {
		return query.Request{}, BadRequest("tolerance must be true, false, or a whole number of seconds")
	}

	return req, nil
}

// parseDateWindow parses startDate/endDate query parameters in the exact
// YYYY-MM-DD format required by §6, enforcing startDate <= endDate.
func parseDateWindow(q url.Values) (gap.TimeWindow, *ProblemDetail) {
	startStr := q.Get("startDate")
	endStr := q.Get("endDate")

	var window gap.TimeWindow

	if startStr != "" {
		start, err := time.Parse(dateLayout, startStr)
		if err != nil {
			return window, BadRequest("startDate must be in YYYY-MM-DD format")
		}

		window.Start = start
	}

	if endStr != "" {
		end, err := time.Parse(dateLayout, endStr)
		if err != nil {
			return window, BadRequest("endDate must be in YYYY-MM-DD format")
		}

		window.End = end
	}

	if !window.Start.IsZero() && !window.End.IsZero() && window.Start.After(window.End) {
		return window, BadRequest("startDate must not be after endDate")
	}

	return window, nil
}

func writeJSON(w http.ResponseWriter, logger interface{ Error(string, ...any) }, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err.Error())
	}
}

func joinSemicolon(parts []string) string {
	out := ""

	for i, p := range parts {
		if i > 0 {
			out += "; "
		}

		out += p
	}

	return out
}
