// Package normalize turns heterogeneous domain events into the single
// canonical record shape the ledger hashes.
//
// Normalization is deterministic: the same DomainEvent (with OccurredAt set)
// always yields byte-identical canonical metadata and the same derived
// idempotency key.
//
// Value rules for metadata:
//   - every number (ints, floats, json.Number, decimal.Decimal) becomes its decimal string
//   - time.Time becomes ir.TimestampLayout text
//   - nil values are dropped
//   - NaN, Inf, invalid UTF-8 and unknown kinds are rejected
package normalize
