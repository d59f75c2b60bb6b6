package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/auditchain/internal/ir"
)

// BuildFunc computes the entry to append from the tip read inside the
// append transaction. It must be pure: it may run once per attempt.
type BuildFunc func(tip ir.Tip) (ir.Entry, error)

// AppendEntry runs one optimistic append attempt for chainID in a single transaction:
//
//  1. read the chain tip (absent chain = genesis)
//  2. return the committed entry when idempotencyKey was already used in the chain
//  3. build the entry against the tip; its timestamp must not precede the tip's
//  4. insert the chain row on genesis, then the entry under UNIQUE(chain_id, seq)
//  5. advance the chain with compare-and-set on length
//
// Returns inserted=false for an idempotent replay. A lost race returns an
// error wrapping ir.ErrSequenceConflict; the caller reloads and retries.
// Other database failures come back as STORAGE_UNAVAILABLE.
func (s *Store) AppendEntry(ctx context.Context, chainID, idempotencyKey string, build BuildFunc) (entry ir.Entry, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Entry{}, false, classify(chainID, "begin append", err)
	}
	defer tx.Rollback() // No-op if committed

	tip, err := readTip(ctx, tx, chainID)
	if err != nil {
		return ir.Entry{}, false, classify(chainID, "read tip", err)
	}

	if tip.Exists && idempotencyKey != "" {
		existing, err := scanEntryRow(tx.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM entries WHERE chain_id = ? AND idempotency_key = ?`,
			chainID, idempotencyKey))
		switch {
		case err == nil:
			return existing, false, nil
		case !errors.Is(err, ir.ErrEntryNotFound):
			return ir.Entry{}, false, classify(chainID, "lookup idempotency key", err)
		}
	}

	entry, err = build(tip)
	if err != nil {
		return ir.Entry{}, false, err
	}
	if entry.ChainID != chainID || entry.Sequence != tip.Length || entry.PrevHash != tip.Hash {
		return ir.Entry{}, false, fmt.Errorf("append %s: built entry does not extend tip (seq=%d, length=%d)",
			chainID, entry.Sequence, tip.Length)
	}
	if entry.Timestamp.Before(tip.Timestamp) {
		return ir.Entry{}, false, fmt.Errorf("append %s: entry timestamp %s precedes tip timestamp %s",
			chainID, ir.FormatTimestamp(entry.Timestamp), ir.FormatTimestamp(tip.Timestamp))
	}

	now := ir.FormatTimestamp(s.now())

	if !tip.Exists {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chains (`+chainColumns+`) VALUES (?, ?, ?, 0, ?, ?)`,
			chainID, ir.GenesisHash, ir.GenesisHash, now, now)
		if err != nil {
			return ir.Entry{}, false, classify(chainID, "create chain", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entryArgs(entry)...)
	if err != nil {
		return ir.Entry{}, false, classify(chainID, "insert entry", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE chains SET tip_hash = ?, length = ?, updated_at = ?
		WHERE chain_id = ? AND length = ?
	`, entry.EntryHash, entry.Sequence+1, now, chainID, tip.Length)
	if err != nil {
		return ir.Entry{}, false, classify(chainID, "advance chain", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ir.Entry{}, false, classify(chainID, "advance chain", err)
	}
	if n != 1 {
		return ir.Entry{}, false, fmt.Errorf("advance chain %s: %w", chainID, ir.ErrSequenceConflict)
	}

	if err := tx.Commit(); err != nil {
		return ir.Entry{}, false, classify(chainID, "commit append", err)
	}
	return entry, true, nil
}

// readTip loads the chain head inside tx.
func readTip(ctx context.Context, tx *sql.Tx, chainID string) (ir.Tip, error) {
	tip := ir.Tip{ChainID: chainID, Hash: ir.GenesisHash}
	err := tx.QueryRowContext(ctx,
		`SELECT tip_hash, length FROM chains WHERE chain_id = ?`, chainID,
	).Scan(&tip.Hash, &tip.Length)
	if errors.Is(err, sql.ErrNoRows) {
		return tip, nil
	}
	if err != nil {
		return ir.Tip{}, err
	}
	tip.Exists = true

	if tip.Length > 0 {
		var ts string
		err := tx.QueryRowContext(ctx,
			`SELECT timestamp FROM entries WHERE chain_id = ? AND seq = ?`, chainID, tip.Length-1,
		).Scan(&ts)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Missing tail entry; the verifier reports it.
		case err != nil:
			return ir.Tip{}, err
		default:
			if tip.Timestamp, err = ir.ParseTimestamp(ts); err != nil {
				return ir.Tip{}, err
			}
		}
	}
	return tip, nil
}

// classify maps a database error onto the ledger taxonomy:
// uniqueness and lock errors are a lost race, cancellation passes through,
// everything else is STORAGE_UNAVAILABLE.
func classify(chainID, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey):
			return fmt.Errorf("%s: %w: %v", op, ir.ErrSequenceConflict, err)
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %v", op, ir.ErrSequenceConflict, err)
		}
	}
	return ir.NewStorageUnavailableError(chainID, op, err)
}
