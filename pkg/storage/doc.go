/*
Package storage provides BoltDB-backed persistence for orchestrator state.

The storage package implements the Store interface using bbolt as the
underlying database. Three buckets hold the orchestrator's durable
state, each keyed by a natural identifier and serialized as JSON:

	┌──────────────── BOLTDB STORAGE ────────────────┐
	│                                                  │
	│  File: <dataDir>/labrange.db                     │
	│                                                  │
	│  labs              name        -> LabInstance    │
	│  rate_limits       identity    -> RateLimitEntry │
	│  verified_members  identity/id -> VerifiedMember │
	│                                                  │
	└──────────────────────────────────────────────────┘

# Corruption Handling

Reads never fail on an unreadable record. A record that does not decode
is logged against ErrPersistenceCorrupt and skipped; list operations
return the remaining records and point lookups report ErrNotFound. The
registry self-heals because the reconciler rebuilds truth from the
container engine, so dropping a corrupt record is always safe.

# Concurrency

bbolt provides single-writer, multi-reader transactions. All Store
methods are safe for concurrent use within one process. The database
file lock is process-exclusive: while the daemon holds the store open,
other CLI invocations fail fast with a "locked by another labrange
process" error instead of waiting.
*/
package storage
