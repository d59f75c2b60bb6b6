package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/auditchain/internal/ir"
)

// entryColumns is the column list every entry query selects, in scan order.
const entryColumns = `id, chain_id, seq, event_type, resource_type, resource_id, actor_id,
	timestamp, criticality, metadata, metadata_hash, metadata_bytes, metadata_truncated,
	idempotency_key, corrects, prev_hash, entry_hash`

const chainColumns = `chain_id, genesis_hash, tip_hash, length, created_at, updated_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// entryArgs returns the INSERT arguments for e in entryColumns order.
func entryArgs(e ir.Entry) []any {
	return []any{
		e.ID,
		e.ChainID,
		e.Sequence,
		e.EventType,
		e.ResourceType,
		e.ResourceID,
		e.ActorID,
		ir.FormatTimestamp(e.Timestamp),
		string(e.Criticality),
		string(e.Metadata),
		e.MetadataHash,
		e.MetadataBytes,
		boolToInt(e.MetadataTruncated),
		e.IdempotencyKey,
		e.Corrects,
		e.PrevHash,
		e.EntryHash,
	}
}

// scanEntry reads one entry row. Metadata is kept as stored text so a
// tampered column surfaces as a hash mismatch, not a read failure.
func scanEntry(sc scanner) (ir.Entry, error) {
	var (
		e         ir.Entry
		ts        string
		crit      string
		meta      string
		truncated int
	)
	err := sc.Scan(
		&e.ID,
		&e.ChainID,
		&e.Sequence,
		&e.EventType,
		&e.ResourceType,
		&e.ResourceID,
		&e.ActorID,
		&ts,
		&crit,
		&meta,
		&e.MetadataHash,
		&e.MetadataBytes,
		&truncated,
		&e.IdempotencyKey,
		&e.Corrects,
		&e.PrevHash,
		&e.EntryHash,
	)
	if err != nil {
		return ir.Entry{}, err
	}

	parsed, err := ir.ParseTimestamp(ts)
	if err != nil {
		return ir.Entry{}, fmt.Errorf("scan entry seq=%d: %w", e.Sequence, err)
	}
	e.Timestamp = parsed
	e.Criticality = ir.Criticality(crit)
	e.Metadata = []byte(meta)
	e.MetadataTruncated = truncated != 0
	return e, nil
}

// scanEntryRow reads a single-row entry query, mapping no rows to ir.ErrEntryNotFound.
func scanEntryRow(row *sql.Row) (ir.Entry, error) {
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Entry{}, ir.ErrEntryNotFound
	}
	return e, err
}

func scanChain(sc scanner) (ir.Chain, error) {
	var (
		c                  ir.Chain
		created, updated string
	)
	if err := sc.Scan(&c.ID, &c.GenesisHash, &c.TipHash, &c.Length, &created, &updated); err != nil {
		return ir.Chain{}, err
	}

	var err error
	if c.CreatedAt, err = ir.ParseTimestamp(created); err != nil {
		return ir.Chain{}, fmt.Errorf("scan chain %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = ir.ParseTimestamp(updated); err != nil {
		return ir.Chain{}, fmt.Errorf("scan chain %s: %w", c.ID, err)
	}
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
