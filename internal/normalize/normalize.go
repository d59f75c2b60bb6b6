package normalize

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/roach88/auditchain/internal/catalog"
	"github.com/roach88/auditchain/internal/ir"
)

// DefaultMaxMetadataBytes bounds the stored canonical metadata.
const DefaultMaxMetadataBytes = 8192

// maxFieldBytes bounds free-form identifier fields.
const maxFieldBytes = 256

// Normalizer validates and canonicalizes domain events.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	catalog          *catalog.Catalog
	maxMetadataBytes int
	now              func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxMetadataBytes sets the stored metadata bound.
func WithMaxMetadataBytes(n int) Option {
	return func(nz *Normalizer) {
		nz.maxMetadataBytes = n
	}
}

// WithClock sets the clock used when an event has no OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(nz *Normalizer) {
		nz.now = now
	}
}

// New creates a Normalizer that resolves criticality from cat.
func New(cat *catalog.Catalog, opts ...Option) *Normalizer {
	nz := &Normalizer{
		catalog:          cat,
		maxMetadataBytes: DefaultMaxMetadataBytes,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(nz)
	}
	return nz
}

// Normalize validates ev and returns its canonical record. A resource id
// without a resource type takes the type the catalog declares for the event.
// Every failure is a VALIDATION_ERROR; nothing is appended.
func (nz *Normalizer) Normalize(ev ir.DomainEvent) (ir.NormalizedEvent, error) {
	if ev.ResourceID != "" && ev.ResourceType == "" {
		if et, ok := nz.catalog.Lookup(ev.EventType); ok {
			ev.ResourceType = et.ResourceType
		}
	}
	if err := validate(ev); err != nil {
		return ir.NormalizedEvent{}, err
	}

	meta, err := toIRObject(ev.Metadata)
	if err != nil {
		return ir.NormalizedEvent{}, ir.NewValidationError("metadata", err.Error())
	}
	full, err := ir.MarshalCanonical(meta)
	if err != nil {
		return ir.NormalizedEvent{}, ir.NewValidationError("metadata", err.Error())
	}

	stored, truncated, err := boundMetadata(meta, full, nz.maxMetadataBytes)
	if err != nil {
		return ir.NormalizedEvent{}, ir.NewValidationError("metadata", err.Error())
	}

	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = nz.now()
	}
	ts = ts.UTC().Truncate(time.Microsecond)

	crit := ev.Criticality
	if crit == "" {
		crit = nz.catalog.Criticality(ev.EventType)
	}

	out := ir.NormalizedEvent{
		ChainID:           ev.ChainID,
		EventType:         ev.EventType,
		ResourceType:      ev.ResourceType,
		ResourceID:        ev.ResourceID,
		ActorID:           ev.ActorID,
		Timestamp:         ts,
		Criticality:       crit,
		Metadata:          stored,
		MetadataHash:      ir.MetadataHash(full),
		MetadataBytes:     int64(len(full)),
		MetadataTruncated: truncated,
		IdempotencyKey:    ev.IdempotencyKey,
		Corrects:          ev.Corrects,
	}

	if out.IdempotencyKey == "" {
		key, err := ir.IdempotencyKey(ir.IRObject{
			"actor_id":        ir.IRString(out.ActorID),
			"chain_id":        ir.IRString(out.ChainID),
			"event_type":      ir.IRString(out.EventType),
			"metadata_hash":   ir.IRString(out.MetadataHash),
			"occurred_at":     ir.IRString(ir.FormatTimestamp(out.Timestamp)),
			"resource_id":     ir.IRString(out.ResourceID),
			"resource_type":   ir.IRString(out.ResourceType),
			"source_event_id": ir.IRString(ev.SourceEventID),
		})
		if err != nil {
			return ir.NormalizedEvent{}, ir.NewValidationError("idempotency_key", err.Error())
		}
		out.IdempotencyKey = key
	}

	return out, nil
}

func validate(ev ir.DomainEvent) error {
	if !ir.ValidChainID(ev.ChainID) {
		return ir.NewValidationError("chain_id", fmt.Sprintf("invalid chain id %q", ev.ChainID))
	}
	if !ir.ValidEventType(ev.EventType) {
		return ir.NewValidationError("event_type", fmt.Sprintf("invalid event type %q", ev.EventType))
	}
	if ev.ActorID == "" {
		return ir.NewValidationError("actor_id", "required")
	}
	if ev.ResourceID != "" && ev.ResourceType == "" {
		return ir.NewValidationError("resource_type", "required when resource_id is set")
	}
	if ev.Criticality != "" && !ev.Criticality.Valid() {
		return ir.NewValidationError("criticality", fmt.Sprintf("unknown criticality %q", ev.Criticality))
	}
	if ev.Corrects != "" && !ir.IsHash(ev.Corrects) {
		return ir.NewValidationError("corrects", "must be an entry hash")
	}

	fields := []struct {
		name, value string
	}{
		{"actor_id", ev.ActorID},
		{"resource_type", ev.ResourceType},
		{"resource_id", ev.ResourceID},
		{"idempotency_key", ev.IdempotencyKey},
		{"source_event_id", ev.SourceEventID},
	}
	for _, f := range fields {
		if !utf8.ValidString(f.value) {
			return ir.NewValidationError(f.name, "invalid UTF-8")
		}
		if len(f.value) > maxFieldBytes {
			return ir.NewValidationError(f.name, fmt.Sprintf("longer than %d bytes", maxFieldBytes))
		}
	}
	return nil
}

// boundMetadata returns full when it fits in limit. Otherwise it keeps
// top-level keys in canonical order until the next one would overflow.
func boundMetadata(meta ir.IRObject, full []byte, limit int) ([]byte, bool, error) {
	if limit <= 0 || len(full) <= limit {
		return full, false, nil
	}

	kept := ir.IRObject{}
	out := []byte("{}")
	for _, k := range meta.SortedKeys() {
		kept[k] = meta[k]
		candidate, err := ir.MarshalCanonical(kept)
		if err != nil {
			return nil, false, err
		}
		if len(candidate) > limit {
			delete(kept, k)
			break
		}
		out = candidate
	}
	return out, true, nil
}
