// Package api provides the HTTP API server for the gap detection service.
package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newTestServer() *Server {
	return &Server{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestHandlePing(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.handlePing(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	if rec.Body.String() != "pong" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "pong")
	}
}

func TestHandleNotFound(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()
	s.handleNotFound(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleNotImplemented(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodDelete, "/gaps", nil)
	rec := httptest.NewRecorder()
	s.handleNotImplemented(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
}

func TestParseDateWindow(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantErr    bool
		wantStart  string
		wantEnd    string
	}{
		{"both dates valid", "startDate=2024-01-01&endDate=2024-01-31", false, "2024-01-01", "2024-01-31"},
		{"no dates", "", false, "", ""},
		{"malformed start", "startDate=01-01-2024", true, "", ""},
		{"malformed end", "endDate=not-a-date", true, "", ""},
		{"start after end", "startDate=2024-02-01&endDate=2024-01-01", true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("failed to parse test query: %v", err)
			}

			window, problem := parseDateWindow(q)

			if tt.wantErr {
				if problem == nil {
					t.Fatalf("expected an error problem, got none")
				}

				return
			}

			if problem != nil {
				t.Fatalf("unexpected error problem: %+v", problem)
			}

			if tt.wantStart != "" && !sameDate(window.Start, tt.wantStart) {
				t.Errorf("Start = %v, want %v", window.Start, tt.wantStart)
			}

			if tt.wantEnd != "" && !sameDate(window.End, tt.wantEnd) {
				t.Errorf("End = %v, want %v", window.End, tt.wantEnd)
			}
		})
	}
}

func sameDate(t time.Time, layout string) bool {
	want, err := time.Parse(dateLayout, layout)
	if err != nil {
		return false
	}

	return t.Equal(want)
}

func TestParseQueryRequest_RequiresShortNameAndVersion(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/gaps?version=061", nil)

	_, problem := parseQueryRequest(req)
	if problem == nil {
		t.Fatal("expected a bad-request problem when short_name is missing")
	}

	if problem.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", problem.Status, http.StatusBadRequest)
	}
}

func TestParseQueryRequest_BuildsCollectionID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/gaps?short_name=MOD09GA&version=061&knownGap=true", nil)

	parsed, problem := parseQueryRequest(req)
	if problem != nil {
		t.Fatalf("unexpected error problem: %+v", problem)
	}

	if parsed.CollectionID != "MOD09GA___061" {
		t.Errorf("CollectionID = %q, want MOD09GA___061", parsed.CollectionID)
	}

	if !parsed.IncludeKnown {
		t.Error("expected IncludeKnown to be true")
	}
}

func TestJoinSemicolon(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"empty", nil, ""},
		{"one part", []string{"a"}, "a"},
		{"multiple parts", []string{"a", "b", "c"}, "a; b; c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinSemicolon(tt.parts); got != tt.want {
				t.Errorf("joinSemicolon(%v) = %q, want %q", tt.parts, got, tt.want)
			}
		})
	}
}
