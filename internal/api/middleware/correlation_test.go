// Package middleware provides HTTP middleware components for the gap detection API.
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorrelationID_GeneratesWhenAbsent(t *testing.T) {
	var seen string

	base := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	})

	handler := CorrelationID()(base)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" || seen == "unknown" {
		t.Errorf("expected a generated correlation id, got %q", seen)
	}

	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("response header X-Correlation-ID = %q, want %q", got, seen)
	}
}

func TestCorrelationID_PreservesIncomingHeader(t *testing.T) {
	var seen string

	base := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	})

	handler := CorrelationID()(base)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "caller-supplied-id" {
		t.Errorf("correlation id = %q, want %q", seen, "caller-supplied-id")
	}
}

func TestGetCorrelationID_MissingFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)

	if got := GetCorrelationID(req.Context()); got != "unknown" {
		t.Errorf("GetCorrelationID() = %q, want %q", got, "unknown")
	}
}
