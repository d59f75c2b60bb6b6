package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Domain prefixes for every hash the ledger computes.
// The version suffix leaves room for an algorithm migration.
const (
	DomainEntry       = "auditchain/entry/v1"
	DomainMetadata    = "auditchain/metadata/v1"
	DomainIdempotency = "auditchain/idempotency/v1"
	DomainBundle      = "auditchain/bundle/v1"
)

// GenesisHash is the prevHash of sequence 0 in every chain: 64 hex zeros.
// It is a fixed constant, never derived from data, so any implementation
// can seed a replay without reading anything but the entries.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HashLen is the length of every hex-encoded hash in the ledger.
const HashLen = 64

// hashWithDomain computes SHA256(domain || 0x00 || part0 || 0x00 || part1 ...).
// The null separators keep the domain/part boundaries unambiguous; canonical
// JSON never contains a raw 0x00 byte.
func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeEntryHash is H(canonicalPayload ‖ prevHash ‖ sequence):
//
//	SHA256("auditchain/entry/v1" 0x00 payload 0x00 prevHash 0x00 decimal(sequence))
func ComputeEntryHash(payload []byte, prevHash string, sequence int64) string {
	return hashWithDomain(DomainEntry, payload, []byte(prevHash), []byte(strconv.FormatInt(sequence, 10)))
}

// EntryHash recomputes the hash of e from its stored fields, linking it to prevHash.
// The entry's own PrevHash field is ignored; callers compare it separately.
func EntryHash(e Entry, prevHash string) (string, error) {
	payload, err := CanonicalPayload(e)
	if err != nil {
		return "", fmt.Errorf("entry hash seq=%d: %w", e.Sequence, err)
	}
	return ComputeEntryHash(payload, prevHash, e.Sequence), nil
}

// MetadataHash hashes the full canonical metadata text.
func MetadataHash(canonical []byte) string {
	return hashWithDomain(DomainMetadata, canonical)
}

// IdempotencyKey derives a stable key from the identifying fields of a domain event.
func IdempotencyKey(fields IRObject) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("idempotency key: %w", err)
	}
	return hashWithDomain(DomainIdempotency, canonical), nil
}

// BundleDigest hashes canonical bundle content for signing.
func BundleDigest(canonical []byte) string {
	return hashWithDomain(DomainBundle, canonical)
}

// IsHash reports whether s looks like a ledger hash (64 lowercase hex chars).
func IsHash(s string) bool {
	if len(s) != HashLen {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) < 0
}
