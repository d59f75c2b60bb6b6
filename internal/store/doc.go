// Package store provides SQLite-backed durable storage for ledger chains.
//
// The store is insert-only:
//   - chains: one head row per tenant scope (tip hash, length)
//   - entries: immutable chained records, UNIQUE(chain_id, seq) and
//     UNIQUE(chain_id, idempotency_key), indexed by entry_hash
//
// Triggers reject UPDATE and DELETE on entries, DELETE on chains, and any
// chain update that is not a one-entry forward advance. They stand in for
// insert-only grants on a server database.
//
// # Append protocol
//
// AppendEntry reads the tip, builds the entry against it, inserts it and
// advances the chain with a compare-and-set on length, all in one
// transaction. Losing a race surfaces as ir.ErrSequenceConflict; the
// retry policy lives in the ledger package.
//
// # Database Configuration
//
//   - WAL mode: verifiers and exporters read while appends commit
//   - synchronous=FULL: committed entries survive power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: entries must belong to an existing chain
//
// Timestamps are stored as ir.TimestampLayout text, which sorts chronologically.
package store
