// Package identity implements the canonical user identity model for the SSO
// broker: one stable identity record reachable through any number of email
// aliases, with deterministic primary-email selection per consuming
// application and merge-based reconciliation of duplicate records discovered
// during bulk imports.
//
// The package is storage-agnostic. Implementations of the Store and
// AliasIndex interfaces live in pkg/storage; everything here operates on the
// injected contracts so the reconciliation logic can be exercised against the
// in-memory store in tests and against PostgreSQL in production.
package identity
