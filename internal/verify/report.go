package verify

import (
	"fmt"
	"time"

	"github.com/roach88/auditchain/internal/ir"
)

// DefectKind names one class of chain break.
type DefectKind string

const (
	// HashMismatch: the recomputed entry hash differs from the stored one.
	HashMismatch DefectKind = "HASH_MISMATCH"
	// LinkMismatch: the stored prevHash is not the previous entry's hash.
	LinkMismatch DefectKind = "LINK_MISMATCH"
	// SequenceGap: one or more sequence numbers are missing.
	SequenceGap DefectKind = "SEQUENCE_GAP"
	// TipMismatch: the chain head disagrees with the replayed entries.
	TipMismatch DefectKind = "TIP_MISMATCH"
)

// Defect is one detected break.
type Defect struct {
	Kind     DefectKind `json:"type"`
	Sequence int64      `json:"sequence"`
	Expected string     `json:"expected,omitempty"`
	Actual   string     `json:"actual,omitempty"`
	Message  string     `json:"message"`
}

// Report is the result of a deep verification.
type Report struct {
	ChainID           string   `json:"chainId"`
	From              int64    `json:"from"`
	To                int64    `json:"to"`
	IsValid           bool     `json:"isValid"`
	TotalEntries      int64    `json:"totalEntries"`
	VerifiedEntries   int64    `json:"verifiedEntries"`
	FirstInvalidEntry *int64   `json:"firstInvalidEntry"`
	Errors            []Defect `json:"errors"`
}

// Err converts the first defect into the ledger error taxonomy.
// Returns nil for a valid report.
func (r Report) Err() error {
	if r.IsValid || len(r.Errors) == 0 {
		return nil
	}

	d := r.Errors[0]
	msg := fmt.Sprintf("%s: %s (%d defects)", d.Kind, d.Message, len(r.Errors))
	var le *ir.LedgerError
	if d.Kind == SequenceGap {
		le = ir.NewSequenceGapError(r.ChainID, d.Sequence, msg)
	} else {
		le = ir.NewIntegrityError(r.ChainID, d.Sequence, msg)
	}
	le.Details = map[string]string{
		"defects": fmt.Sprintf("%d", len(r.Errors)),
		"type":    string(d.Kind),
	}
	return le
}

func (r *Report) add(d Defect) {
	r.Errors = append(r.Errors, d)
	r.IsValid = false
	if r.FirstInvalidEntry == nil || d.Sequence < *r.FirstInvalidEntry {
		seq := d.Sequence
		r.FirstInvalidEntry = &seq
	}
}

// ShallowReport compares the stored tip with the last entry, without replay.
type ShallowReport struct {
	ChainID        string    `json:"chainId"`
	IsValid        bool      `json:"isValid"`
	ChainLength    int64     `json:"chainLength"`
	GenesisHash    string    `json:"genesisHash"`
	LatestHash     string    `json:"latestHash"`
	LastVerifiedAt time.Time `json:"lastVerifiedAt"`
}
