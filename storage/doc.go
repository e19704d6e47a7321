// Package storage defines the persistence contract consumed by the
// authentication engine together with the records that cross it.
//
// # Architecture boundaries
//
// Backends (storage/memory, storage/redisstore, storage/postgres) implement
// [Store]. The engine never caches records across calls; every operation
// re-reads from the backend, so several engine instances may share one store.
//
// Token values never reach storage. One-time tokens, refresh tokens and
// blacklist entries are keyed by the SHA-256 hex digest of the token string.
//
// # What this package must NOT do
//
//   - hash passwords or mint tokens
//   - decide authorization outcomes
//   - translate errors into engine error kinds
package storage
