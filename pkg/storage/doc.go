// Package storage provides the persistence backends for the broker: an
// in-memory store for tests and single-process development, plus the
// PostgreSQL and SQLite implementations under their subpackages. All
// backends satisfy the identity.Store and settings.Store contracts and
// enforce the email-uniqueness and settings root-key invariants atomically
// with their writes.
package storage
