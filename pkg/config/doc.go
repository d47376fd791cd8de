// Package config loads application configuration from environment variables.
//
// All variables use the SSOB_ prefix. Every field has a sensible default so
// the broker starts with no environment at all (memory storage, port 8080).
//
// Common settings:
//
//	SSOB_PORT                  API listen port (default 8080)
//	SSOB_HEALTH_PORT           health/metrics port (default 9090)
//	SSOB_STORAGE_TYPE          memory | postgres | sqlite
//	SSOB_POSTGRES_URL          required when storage type is postgres
//	SSOB_SQLITE_PATH           required when storage type is sqlite
//	SSOB_CACHE_ENABLED         wrap storage with the Redis/LRU cache
//	SSOB_REDIS_URL             redis://host:port
//	SSOB_DEFAULT_EMAIL_ORDER   comma-separated domain priority list
//	SSOB_REGISTRY_PATH         path to the application registry YAML
//	SSOB_SESSION_TTL           broker session lifetime (default 10h)
//	SSOB_LOG_LEVEL             debug | info | warn | error
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// LoadConfig validates the result; an invalid combination (for example a
// postgres storage type with no URL) fails fast at startup.
package config
