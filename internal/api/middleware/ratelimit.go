// Package middleware provides HTTP middleware components for the gap detection API.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier     int     = 2
	maxCollections              int     = 10000
	defaultGlobalRPS            int     = 100
	defaultPerCollectionRPS     int     = 50
	thresholdMultiplier         float64 = 0.8
	thresholdPercentage         int     = 80
	rateLimiterCleanupInterval          = 5 * time.Minute
	rateLimiterIdleTimeout               = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or distributed stores like Redis (multi-node deployment). The interface
	// enables zero-downtime migration from in-memory to Redis-backed rate
	// limiting when scaling beyond a single node.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// collectionID is empty for requests not scoped to one collection
		// (e.g. POST /collections), in which case only the global tier applies.
		Allow(collectionID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides two-tier rate limiting:
	// 1. Global limit (applied to every request)
	// 2. Per-collection limit (applied when a request is scoped to one collection)
	//
	// Memory cleanup runs periodically to prevent unbounded growth; collections
	// idle longer than idleTimeout are removed.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perCollection map[string]*collectionLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}

		collectionRPS   int
		collectionBurst int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxCollections  int
	}

	// collectionLimiter tracks rate limit state for a single collection.
	collectionLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with two-tier limits.
// Burst capacity is computed automatically as 2 × rate unless overridden in config.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	collectionBurst := computeBurstCapacity(config.PerCollectionRPS, config.PerCollectionBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perCollection:   make(map[string]*collectionLimiter),
		done:            make(chan struct{}),
		collectionRPS:   config.PerCollectionRPS,
		collectionBurst: collectionBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxCollections:  config.MaxCollections,
	}

	rl.startCleanup()

	return rl
}

func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
func (rl *InMemoryRateLimiter) Allow(collectionID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if collectionID == "" {
		return true
	}

	rl.mu.RLock()
	cl, ok := rl.perCollection[collectionID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if cl, ok = rl.perCollection[collectionID]; !ok {
			cl = &collectionLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.collectionRPS), rl.collectionBurst),
				lastAccess: time.Now(),
			}

			rl.perCollection[collectionID] = cl

			currentCount := len(rl.perCollection)
			threshold := int(float64(rl.maxCollections) * thresholdMultiplier)

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max collections limit",
					"current_collections", currentCount,
					"max_collections", rl.maxCollections,
					"threshold_percent", thresholdPercentage)
			}
		}

		rl.mu.Unlock()
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for collectionID, cl := range rl.perCollection {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perCollection, collectionID)
		}
	}
}

// CollectionIDFromRequest extracts the collection scope of a request for
// per-collection rate limiting from its short_name/version query parameters,
// or returns empty for requests with no such scope.
func CollectionIDFromRequest(r *http.Request) string {
	shortName := r.URL.Query().Get("short_name")
	version := r.URL.Query().Get("version")

	if shortName == "" || version == "" {
		return ""
	}

	return shortName + "___" + version
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// Rate limiting is applied in two tiers:
//  1. Global limit (all requests)
//  2. Per-collection limit (requests scoped to one collection)
//
// When a request exceeds the rate limit, the middleware returns a 429 (Too Many
// Requests) response with RFC 7807 error format.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			collectionID := CollectionIDFromRequest(r)

			if !limiter.Allow(collectionID) {
				correlationID := GetCorrelationID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("detail", detail),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRFC7807Error writes a minimal RFC 7807 problem+json body. The fuller
// ProblemDetail type lives in the api package; middleware stays independent
// of it to avoid an import cycle.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, status int, detail, correlationID string) error {
	problem := struct {
		Type          string `json:"type"`
		Title         string `json:"title"`
		Status        int    `json:"status"`
		Detail        string `json:"detail"`
		Instance      string `json:"instance"`
		CorrelationID string `json:"correlationId"`
	}{
		Type:          fmt.Sprintf("https://gapdetect.earthdata.nasa.gov/problems/%d", status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
