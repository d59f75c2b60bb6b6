package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the only timestamp format that enters a canonical payload:
// UTC, fixed-width microseconds, literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Criticality selects how a failed append affects the originating action.
type Criticality string

const (
	// HighAssurance events fail the calling action when the append cannot be committed.
	HighAssurance Criticality = "high_assurance"
	// BestEffort events let the calling action proceed in degraded mode.
	BestEffort Criticality = "best_effort"
)

// Valid reports whether c is a known criticality.
func (c Criticality) Valid() bool {
	return c == HighAssurance || c == BestEffort
}

// DomainEvent is what a domain action hands to the ledger, before normalization.
type DomainEvent struct {
	ChainID      string
	EventType    string
	ResourceType string
	ResourceID   string
	ActorID      string

	// OccurredAt defaults to the normalizer clock when zero. Callers that
	// want retry-safe derived idempotency keys must set it.
	OccurredAt time.Time

	Metadata map[string]any

	// Criticality overrides the catalog entry for EventType when set.
	Criticality Criticality

	// IdempotencyKey overrides the derived key when set.
	IdempotencyKey string

	// SourceEventID identifies the originating domain event, if it has one.
	SourceEventID string

	// Corrects is the entry hash of an earlier entry this event corrects.
	Corrects string
}

// NormalizedEvent is the canonical record shape shared by every entry.
type NormalizedEvent struct {
	ChainID           string          `json:"chain_id"`
	EventType         string          `json:"event_type"`
	ResourceType      string          `json:"resource_type"`
	ResourceID        string          `json:"resource_id"`
	ActorID           string          `json:"actor_id"`
	Timestamp         time.Time       `json:"timestamp"`
	Criticality       Criticality     `json:"criticality"`
	Metadata          json.RawMessage `json:"metadata"`           // canonical JSON, bounded
	MetadataHash      string          `json:"metadata_hash"`      // hash of the full original metadata
	MetadataBytes     int64           `json:"metadata_bytes"`     // size of the full original metadata
	MetadataTruncated bool            `json:"metadata_truncated"` // Metadata is a subset of the original
	IdempotencyKey    string          `json:"idempotency_key"`
	Corrects          string          `json:"corrects,omitempty"`
}

// Entry is one committed, immutable record of a chain.
type Entry struct {
	ID string `json:"id"`
	NormalizedEvent
	Sequence  int64  `json:"sequence"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// Chain is the per-tenant head record.
type Chain struct {
	ID          string    `json:"chain_id"`
	GenesisHash string    `json:"genesis_hash"`
	TipHash     string    `json:"tip_hash"`
	Length      int64     `json:"length"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tip is the chain head as read inside an append transaction.
type Tip struct {
	ChainID string
	Exists  bool   // false until the first append commits
	Length  int64  // next sequence to assign
	Hash    string // GenesisHash when !Exists

	// Timestamp of the last committed entry; zero at genesis. A new entry's
	// timestamp never precedes it.
	Timestamp time.Time
}

// CanonicalPayload builds the canonical JSON of every stored field of e except
// ID, Sequence, PrevHash and EntryHash. Stored metadata is re-canonicalized,
// so semantically identical JSON hashes identically.
func CanonicalPayload(e Entry) ([]byte, error) {
	meta, err := ParseObject(string(e.Metadata))
	if err != nil {
		return nil, fmt.Errorf("canonical payload: metadata: %w", err)
	}

	obj := IRObject{
		"actor_id":           IRString(e.ActorID),
		"chain_id":           IRString(e.ChainID),
		"criticality":        IRString(e.Criticality),
		"event_type":         IRString(e.EventType),
		"idempotency_key":    IRString(e.IdempotencyKey),
		"metadata":           meta,
		"metadata_bytes":     IRInt(e.MetadataBytes),
		"metadata_hash":      IRString(e.MetadataHash),
		"metadata_truncated": IRBool(e.MetadataTruncated),
		"resource_id":        IRString(e.ResourceID),
		"resource_type":      IRString(e.ResourceType),
		"timestamp":          IRString(FormatTimestamp(e.Timestamp)),
	}
	if e.Corrects != "" {
		obj["corrects"] = IRString(e.Corrects)
	}

	payload, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}
	return payload, nil
}
