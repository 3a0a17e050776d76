// Package kvstore provides the persistent key/value store backing all local
// client state (the registration cache and the backup history).
//
// # Overview
//
// Store is a small Get/Set/Delete interface plus Update, an atomic
// read-modify-write of one key. Every mutation of shared client state goes
// through Update so that concurrent writers (the registration cache and the
// sync manager) never lose each other's changes.
//
// # Bindings
//
//   - SQLStore over database/sql: SQLite (modernc.org/sqlite, the default)
//     and PostgreSQL (pgx stdlib driver). The schema is applied with embedded
//     goose migrations.
//   - RedisStore over go-redis, using WATCH/MULTI for Update.
//   - MemoryStore, a mutex-guarded map for tests and throwaway sessions.
//
// Open selects a binding by driver name.
//
// Missing keys read as (nil, nil).
package kvstore
