package storage

import (
	"context"
	"time"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/settings"
)

// Store is the full persistence surface the broker needs from a backend.
type Store interface {
	identity.Store
	settings.Store

	// List returns every identity ordered by primary email, for exports
	// and administrative views.
	List(ctx context.Context) ([]*identity.Identity, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// Config selects and configures a storage backend.
type Config struct {
	Type string // "memory", "postgres", "sqlite"

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// SQLite config
	SQLitePath string

	// Redis cache config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
	L1CacheSize  int // entries

	// S3 export config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		SQLitePath:       "ssobroker.db",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			"identity": 5 * time.Minute,
			"settings": 1 * time.Minute,
		},
		L1CacheSize: 4096,
	}
}
