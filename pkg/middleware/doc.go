// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// # Authentication
//
// Applications authenticate with bearer tokens validated against an
// auth.TokenRegistry. The middleware places an *auth.AuthContext and the
// calling application's key in the request context:
//
//	authMW := middleware.NewAuthMiddleware(tokens, false)
//	router.Use(authMW.Handler)
//
// Scope checks compose per route:
//
//	router.Handle("/api/v1/admin/users/import",
//		middleware.RequireScope(auth.ScopeUsersImport)(importHandler)).Methods("POST")
//
// # Ordering
//
// AuthMiddleware must run before RequireScope and before the rate limiter:
// the rate limiter keys on the authenticated application and falls back to
// client IP when no auth context is present.
//
// # Rate Limiting
//
// Two implementations share the same config shape:
//
//   - RateLimitMiddleware: in-process token bucket, fine for one instance
//   - DistributedRateLimitMiddleware: Redis-backed counters shared across
//     instances, failing open on Redis errors
package middleware
