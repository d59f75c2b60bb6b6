// Package ir holds the canonical record types of the audit ledger and the
// functions that turn them into bytes and hashes.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - Canonical JSON is RFC 8785 (UTF-16 key order, NFC strings, no floats, no nulls)
//   - Every hash is SHA-256 with a versioned domain prefix and 0x00 separators
//   - Sequence 0 links to GenesisHash, a documented constant
//   - JSON tags use snake_case
package ir
