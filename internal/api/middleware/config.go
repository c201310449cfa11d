// Package middleware provides HTTP middleware components for the gap detection API.
package middleware

import (
	"time"

	"github.com/nasa-cumulus/gapdetect/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for two tiers:
//   - Global: applied to every request
//   - Per-collection: applied to requests scoped to one collection
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	GlobalRPS        int // Default: 100
	PerCollectionRPS int // Default: 50

	GlobalBurst        int // Default: 0 (computed as 2 × GlobalRPS = 200)
	PerCollectionBurst int // Default: 0 (computed as 2 × PerCollectionRPS = 100)

	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxCollections  int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes collections idle >1 hour
// Default max collections: 10,000 (prevents unbounded memory growth).
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:        config.GetEnvInt("RATE_LIMIT_GLOBAL_RPS", defaultGlobalRPS),
		PerCollectionRPS: config.GetEnvInt("RATE_LIMIT_PER_COLLECTION_RPS", defaultPerCollectionRPS),

		GlobalBurst:        config.GetEnvInt("RATE_LIMIT_GLOBAL_BURST", 0),
		PerCollectionBurst: config.GetEnvInt("RATE_LIMIT_PER_COLLECTION_BURST", 0),

		CleanupInterval: config.GetEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxCollections:  config.GetEnvInt("RATE_LIMIT_MAX_COLLECTIONS", maxCollections),
	}
}
