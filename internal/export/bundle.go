package export

import (
	"fmt"
	"time"

	"github.com/roach88/auditchain/internal/integrity"
	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/verify"
)

// Anchor is the entry just before an exported range. Only its hash is
// exported; the bundle's first entry must link to it.
type Anchor struct {
	Sequence  int64  `json:"sequence"`
	EntryHash string `json:"entry_hash"`
}

// Signature is an HMAC over the bundle digest.
type Signature struct {
	KeyID  string `json:"key_id"`
	Digest string `json:"digest"`
	Value  string `json:"value"`
}

// Bundle is a self-contained, re-verifiable slice of one chain.
type Bundle struct {
	FormatVersion string        `json:"format_version"`
	ChainID       string        `json:"chain_id"`
	GenesisHash   string        `json:"genesis_hash"`
	TipHash       string        `json:"tip_hash"`
	ChainLength   int64         `json:"chain_length"`
	From          int64         `json:"from"`
	To            int64         `json:"to"`
	Anchor        *Anchor       `json:"anchor,omitempty"`
	Entries       []ir.Entry    `json:"entries"`
	Attestation   verify.Report `json:"attestation"`
	ExportedAt    time.Time     `json:"exported_at"`
	ExportedBy    string        `json:"exported_by"`
	Signature     *Signature    `json:"signature,omitempty"`
}

// Digest hashes the canonical form of every bundle field except Signature.
// Entries contribute their full canonical payload, so the digest covers
// everything Reverify reads.
func (b *Bundle) Digest() (string, error) {
	entries := make(ir.IRArray, 0, len(b.Entries))
	for _, e := range b.Entries {
		payload, err := ir.CanonicalPayload(e)
		if err != nil {
			return "", fmt.Errorf("bundle digest: %w", err)
		}
		obj, err := ir.ParseObject(string(payload))
		if err != nil {
			return "", fmt.Errorf("bundle digest: %w", err)
		}
		entries = append(entries, ir.IRObject{
			"id":         ir.IRString(e.ID),
			"sequence":   ir.IRInt(e.Sequence),
			"prev_hash":  ir.IRString(e.PrevHash),
			"entry_hash": ir.IRString(e.EntryHash),
			"payload":    obj,
		})
	}

	doc := ir.IRObject{
		"format_version": ir.IRString(b.FormatVersion),
		"chain_id":       ir.IRString(b.ChainID),
		"genesis_hash":   ir.IRString(b.GenesisHash),
		"tip_hash":       ir.IRString(b.TipHash),
		"chain_length":   ir.IRInt(b.ChainLength),
		"from":           ir.IRInt(b.From),
		"to":             ir.IRInt(b.To),
		"entries":        entries,
		"attestation": ir.IRObject{
			"is_valid":         ir.IRBool(b.Attestation.IsValid),
			"total_entries":    ir.IRInt(b.Attestation.TotalEntries),
			"verified_entries": ir.IRInt(b.Attestation.VerifiedEntries),
			"defects":          ir.IRInt(int64(len(b.Attestation.Errors))),
		},
		"exported_at": ir.IRString(ir.FormatTimestamp(b.ExportedAt)),
		"exported_by": ir.IRString(b.ExportedBy),
	}
	if b.Anchor != nil {
		doc["anchor"] = ir.IRObject{
			"sequence":   ir.IRInt(b.Anchor.Sequence),
			"entry_hash": ir.IRString(b.Anchor.EntryHash),
		}
	}

	canonical, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("bundle digest: %w", err)
	}
	return ir.BundleDigest(canonical), nil
}

// Reverify recomputes every hash in b from the bundle alone and checks
// that the result reproduces the recorded attestation.
//
// The returned report is the recomputed one. The error is an
// INTEGRITY_VIOLATION or SEQUENCE_GAP_DETECTED when the bundle is broken,
// and an INTEGRITY_VIOLATION when it disagrees with its attestation.
func Reverify(b *Bundle) (verify.Report, error) {
	if b.FormatVersion != ir.FormatVersion {
		return verify.Report{}, ir.NewValidationError("format_version",
			fmt.Sprintf("unsupported bundle format %q", b.FormatVersion))
	}
	if b.From < 0 || b.To < b.From || b.To >= b.ChainLength {
		return verify.Report{}, ir.NewValidationError("range",
			fmt.Sprintf("invalid range %d..%d for chain length %d", b.From, b.To, b.ChainLength))
	}

	anchor := b.GenesisHash
	if b.From > 0 {
		if b.Anchor == nil || b.Anchor.Sequence != b.From-1 {
			return verify.Report{}, ir.NewIntegrityError(b.ChainID, b.From, "bundle anchor is missing")
		}
		anchor = b.Anchor.EntryHash
	} else if b.GenesisHash != ir.GenesisHash {
		return verify.Report{}, ir.NewIntegrityError(b.ChainID, 0, "bundle genesis hash is not the ledger genesis")
	}

	sc := verify.NewScanner(b.ChainID, b.From, b.To, anchor)
	for _, e := range b.Entries {
		if e.ChainID != b.ChainID {
			return verify.Report{}, ir.NewIntegrityError(b.ChainID, e.Sequence,
				fmt.Sprintf("entry belongs to chain %q", e.ChainID))
		}
		sc.Feed(e)
	}
	if b.To == b.ChainLength-1 {
		sc.CheckTip(b.TipHash)
	}
	rep := sc.Finish()

	if err := rep.Err(); err != nil {
		return rep, err
	}
	att := b.Attestation
	if att.IsValid != rep.IsValid ||
		att.TotalEntries != rep.TotalEntries ||
		att.VerifiedEntries != rep.VerifiedEntries ||
		len(att.Errors) != len(rep.Errors) {
		return rep, ir.NewIntegrityError(b.ChainID, -1, "bundle does not reproduce its attestation")
	}
	return rep, nil
}

// VerifySignature recomputes the digest of b and checks its signature.
func VerifySignature(b *Bundle, ring *integrity.Keyring) error {
	if b.Signature == nil {
		return fmt.Errorf("bundle is not signed")
	}
	digest, err := b.Digest()
	if err != nil {
		return err
	}
	if digest != b.Signature.Digest {
		return fmt.Errorf("bundle digest changed: %w", integrity.ErrSignatureMismatch)
	}
	return ring.Verify(b.ChainID, digest, b.Signature.Value, b.Signature.KeyID)
}
