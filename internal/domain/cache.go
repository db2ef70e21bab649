package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
//
// Kestrel caches two things: the serialized production classifier (so the
// scorer does not re-read the registry per batch; invalidated on promotion)
// and recent fraud assessments by case ID for the reviewer UI.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetAssessment retrieves a cached fraud assessment for a case.
	GetAssessment(ctx context.Context, tenantID string, caseID string) (*FraudAssessment, error)

	// SetAssessment caches a fraud assessment for reviewer lookups.
	SetAssessment(ctx context.Context, tenantID string, caseID string, a *FraudAssessment, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ProductionModelKey is the cache key for the serialized production
// classifier. Promotion deletes this key.
const ProductionModelKey = "model:production"

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
