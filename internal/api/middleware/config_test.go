// Package middleware provides HTTP middleware components for the gap detection API.
package middleware

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.GlobalRPS != defaultGlobalRPS {
		t.Errorf("GlobalRPS = %d, want default %d", cfg.GlobalRPS, defaultGlobalRPS)
	}

	if cfg.PerCollectionRPS != defaultPerCollectionRPS {
		t.Errorf("PerCollectionRPS = %d, want default %d", cfg.PerCollectionRPS, defaultPerCollectionRPS)
	}

	if cfg.CleanupInterval != rateLimiterCleanupInterval {
		t.Errorf("CleanupInterval = %v, want default %v", cfg.CleanupInterval, rateLimiterCleanupInterval)
	}

	if cfg.MaxCollections != maxCollections {
		t.Errorf("MaxCollections = %d, want default %d", cfg.MaxCollections, maxCollections)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("RATE_LIMIT_GLOBAL_RPS", "250")
	t.Setenv("RATE_LIMIT_PER_COLLECTION_RPS", "30")
	t.Setenv("RATE_LIMIT_IDLE_TIMEOUT", "10m")

	cfg := LoadConfig()

	if cfg.GlobalRPS != 250 {
		t.Errorf("GlobalRPS = %d, want 250", cfg.GlobalRPS)
	}

	if cfg.PerCollectionRPS != 30 {
		t.Errorf("PerCollectionRPS = %d, want 30", cfg.PerCollectionRPS)
	}

	if cfg.IdleTimeout != 10*time.Minute {
		t.Errorf("IdleTimeout = %v, want 10m", cfg.IdleTimeout)
	}
}
