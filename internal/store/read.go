package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/auditchain/internal/ir"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Snapshot reads the ledger as of one point in time. It is only valid
// inside the View callback that produced it.
type Snapshot struct {
	q querier
}

// View runs fn against a consistent snapshot taken from the read pool.
// Appends that commit while fn runs are not visible to it.
func (s *Store) View(ctx context.Context, fn func(*Snapshot) error) error {
	tx, err := s.rdb.BeginTx(ctx, nil)
	if err != nil {
		return classify("", "begin read", err)
	}
	defer tx.Rollback() // Read-only; nothing to commit
	return fn(&Snapshot{q: tx})
}

// reads serves single-statement reads from the read pool.
func (s *Store) reads() *Snapshot {
	return &Snapshot{q: s.rdb}
}

// GetChain returns the chain head record.
// Returns ir.ErrChainNotFound if no entry was ever appended to chainID.
func (s *Store) GetChain(ctx context.Context, chainID string) (ir.Chain, error) {
	return s.reads().GetChain(ctx, chainID)
}

// ListChains returns every chain ordered by chain id.
// Returns an empty slice (not nil) when the ledger is empty.
func (s *Store) ListChains(ctx context.Context) ([]ir.Chain, error) {
	return s.reads().ListChains(ctx)
}

// ReadEntries returns up to limit entries of chainID with fromSeq <= seq <= toSeq.
// See Snapshot.ReadEntries.
func (s *Store) ReadEntries(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]ir.Entry, error) {
	return s.reads().ReadEntries(ctx, chainID, fromSeq, toSeq, limit)
}

// ReadEntry returns the entry at seq.
// Returns ir.ErrEntryNotFound if the sequence is absent.
func (s *Store) ReadEntry(ctx context.Context, chainID string, seq int64) (ir.Entry, error) {
	return s.reads().ReadEntry(ctx, chainID, seq)
}

// MaxSequence returns the highest sequence stored for chainID.
func (s *Store) MaxSequence(ctx context.Context, chainID string) (int64, bool, error) {
	return s.reads().MaxSequence(ctx, chainID)
}

// GetEntryByHash looks an entry up by its entry hash across all chains.
// Returns ir.ErrEntryNotFound if no entry carries that hash.
func (s *Store) GetEntryByHash(ctx context.Context, entryHash string) (ir.Entry, error) {
	return s.reads().GetEntryByHash(ctx, entryHash)
}

// SequenceRangeForTime resolves a timestamp window to a sequence range.
// See Snapshot.SequenceRangeForTime.
func (s *Store) SequenceRangeForTime(ctx context.Context, chainID string, from, to time.Time) (first, last int64, ok bool, err error) {
	return s.reads().SequenceRangeForTime(ctx, chainID, from, to)
}

// GetChain returns the chain head record.
func (r *Snapshot) GetChain(ctx context.Context, chainID string) (ir.Chain, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+chainColumns+` FROM chains WHERE chain_id = ?`, chainID)

	c, err := scanChain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Chain{}, fmt.Errorf("get chain %s: %w", chainID, ir.ErrChainNotFound)
	}
	if err != nil {
		return ir.Chain{}, classify(chainID, "get chain", err)
	}
	return c, nil
}

// ListChains returns every chain ordered by chain id.
func (r *Snapshot) ListChains(ctx context.Context) ([]ir.Chain, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+chainColumns+` FROM chains ORDER BY chain_id COLLATE BINARY ASC`)
	if err != nil {
		return nil, classify("", "list chains", err)
	}
	defer rows.Close()

	chains := []ir.Chain{}
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, classify("", "list chains", err)
		}
		chains = append(chains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("", "iterate chains", err)
	}
	return chains, nil
}

// ReadEntries returns up to limit entries of chainID with fromSeq <= seq <= toSeq,
// ordered by seq ascending. Missing sequences are simply absent from the result;
// detecting them is the verifier's job.
//
// A limit <= 0 means no limit. Returns an empty slice (not nil) if no entries match.
func (r *Snapshot) ReadEntries(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]ir.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE chain_id = ? AND seq >= ? AND seq <= ?
		ORDER BY seq ASC
		LIMIT ?
	`, chainID, fromSeq, toSeq, limit)
	if err != nil {
		return nil, classify(chainID, "read entries", err)
	}
	defer rows.Close()

	entries := make([]ir.Entry, 0, max(limit, 0))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify(chainID, "read entries", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(chainID, "iterate entries", err)
	}
	return entries, nil
}

// ReadEntry returns the entry at seq.
func (r *Snapshot) ReadEntry(ctx context.Context, chainID string, seq int64) (ir.Entry, error) {
	e, err := scanEntryRow(r.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE chain_id = ? AND seq = ?`, chainID, seq))
	if errors.Is(err, ir.ErrEntryNotFound) {
		return ir.Entry{}, fmt.Errorf("read entry %s/%d: %w", chainID, seq, err)
	}
	if err != nil {
		return ir.Entry{}, classify(chainID, "read entry", err)
	}
	return e, nil
}

// MaxSequence returns the highest sequence stored for chainID. ok is false
// when the chain has no entry rows at all.
func (r *Snapshot) MaxSequence(ctx context.Context, chainID string) (seq int64, ok bool, err error) {
	var hi sql.NullInt64
	if err := r.q.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM entries WHERE chain_id = ?`, chainID,
	).Scan(&hi); err != nil {
		return 0, false, classify(chainID, "max sequence", err)
	}
	return hi.Int64, hi.Valid, nil
}

// GetEntryByHash looks an entry up by its entry hash across all chains.
func (r *Snapshot) GetEntryByHash(ctx context.Context, entryHash string) (ir.Entry, error) {
	e, err := scanEntryRow(r.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE entry_hash = ?
		ORDER BY chain_id COLLATE BINARY ASC, seq ASC
		LIMIT 1
	`, entryHash))
	if errors.Is(err, ir.ErrEntryNotFound) {
		return ir.Entry{}, fmt.Errorf("get entry %s: %w", entryHash, err)
	}
	if err != nil {
		return ir.Entry{}, classify("", "get entry by hash", err)
	}
	return e, nil
}

// SequenceRangeForTime resolves a timestamp window [from, to] (inclusive) to the
// lowest and highest sequence whose timestamp falls inside it. ok is false when
// no entry falls inside the window. Entry timestamps never decrease along a
// chain, so every sequence in between falls inside the window too.
func (r *Snapshot) SequenceRangeForTime(ctx context.Context, chainID string, from, to time.Time) (first, last int64, ok bool, err error) {
	var lo, hi sql.NullInt64
	err = r.q.QueryRowContext(ctx, `
		SELECT MIN(seq), MAX(seq)
		FROM entries
		WHERE chain_id = ? AND timestamp >= ? AND timestamp <= ?
	`, chainID, ir.FormatTimestamp(from), ir.FormatTimestamp(to)).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, false, classify(chainID, "resolve time range", err)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}
