package verify

import (
	"fmt"

	"github.com/roach88/auditchain/internal/ir"
)

// Scanner replays entries of one chain in ascending sequence order and
// records every defect in a Report. It is shared by live verification and
// offline bundle re-verification.
//
// The running previous hash is the recomputed hash of the last entry. After
// the first hash or link mismatch every later entry is flagged as
// linkage-broken, whichever field was altered. A gap is reported once and
// the scan re-anchors on the next present entry's stored prevHash, so a
// deletion does not cascade.
type Scanner struct {
	report   *Report
	expected int64  // next sequence the scan expects
	prev     string // running expected prevHash
	anchored bool
	last     int64 // last fed sequence, -1 before the first
	brokenAt int64 // first entry with a hash or link mismatch, -1 while intact
}

// NewScanner starts a scan at from, linked to anchorHash. An empty
// anchorHash means the anchor is unknown: the first entry's stored
// prevHash is accepted as-is.
func NewScanner(chainID string, from, to int64, anchorHash string) *Scanner {
	return &Scanner{
		report: &Report{
			ChainID:      chainID,
			From:         from,
			To:           to,
			IsValid:      true,
			TotalEntries: to - from + 1,
			Errors:       []Defect{},
		},
		expected: from,
		prev:     anchorHash,
		anchored: anchorHash != "",
		last:     -1,
		brokenAt: -1,
	}
}

// Feed checks one entry. Entries must arrive in ascending sequence order.
func (s *Scanner) Feed(e ir.Entry) {
	if e.Sequence < s.expected || e.Sequence > s.report.To {
		return
	}

	if e.Sequence > s.expected {
		s.gap(s.expected, e.Sequence-1)
		s.prev = e.PrevHash
	} else if !s.anchored {
		s.prev = e.PrevHash
	}
	s.anchored = true

	ok := true
	if e.PrevHash != s.prev {
		ok = false
		s.report.add(Defect{
			Kind:     LinkMismatch,
			Sequence: e.Sequence,
			Expected: s.prev,
			Actual:   e.PrevHash,
			Message:  "prevHash does not match the previous entry",
		})
	}

	recomputed, err := ir.EntryHash(e, s.prev)
	switch {
	case err != nil:
		ok = false
		s.report.add(Defect{
			Kind:     HashMismatch,
			Sequence: e.Sequence,
			Actual:   e.EntryHash,
			Message:  fmt.Sprintf("payload cannot be canonicalized: %v", err),
		})
		recomputed = e.EntryHash
	case recomputed != e.EntryHash:
		ok = false
		s.report.add(Defect{
			Kind:     HashMismatch,
			Sequence: e.Sequence,
			Expected: recomputed,
			Actual:   e.EntryHash,
			Message:  "stored entryHash does not match the recomputed hash",
		})
	}

	switch {
	case !ok:
		if s.brokenAt < 0 {
			s.brokenAt = e.Sequence
		}
	case s.brokenAt >= 0:
		s.report.add(Defect{
			Kind:     LinkMismatch,
			Sequence: e.Sequence,
			Message:  fmt.Sprintf("linkage broken at entry %d", s.brokenAt),
		})
	default:
		s.report.VerifiedEntries++
	}
	s.prev = recomputed
	s.expected = e.Sequence + 1
	s.last = e.Sequence
}

// Finish reports trailing missing entries and returns the report.
func (s *Scanner) Finish() Report {
	if s.expected <= s.report.To {
		s.gap(s.expected, s.report.To)
		s.expected = s.report.To + 1
	}
	return *s.report
}

// CheckTip compares the chain head against the scan. Call it before Finish
// and only when the scan covered the last committed sequence. A missing last entry is already
// reported as a gap and is not checked again.
func (s *Scanner) CheckTip(tipHash string) {
	if s.last != s.report.To {
		return
	}
	if tipHash != s.prev {
		s.report.add(Defect{
			Kind:     TipMismatch,
			Sequence: s.report.To,
			Expected: s.prev,
			Actual:   tipHash,
			Message:  "chain tipHash does not match the last entry",
		})
	}
}

// CheckStoredLength reports entry rows stored at or beyond the chain length,
// which the chain head does not account for. Call it with CheckTip.
func (s *Scanner) CheckStoredLength(length, maxSeq int64) {
	if maxSeq < length {
		return
	}
	s.report.add(Defect{
		Kind:     TipMismatch,
		Sequence: length,
		Expected: fmt.Sprintf("%d", length-1),
		Actual:   fmt.Sprintf("%d", maxSeq),
		Message:  fmt.Sprintf("storage holds entries up to %d beyond chain length %d", maxSeq, length),
	})
}

// LastHash is the running hash after the last fed entry.
func (s *Scanner) LastHash() string {
	return s.prev
}

func (s *Scanner) gap(first, last int64) {
	msg := fmt.Sprintf("entry %d is missing", first)
	if last > first {
		msg = fmt.Sprintf("entries %d..%d are missing", first, last)
	}
	s.report.add(Defect{
		Kind:     SequenceGap,
		Sequence: first,
		Message:  msg,
	})
}
