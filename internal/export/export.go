package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/auditchain/internal/integrity"
	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/store"
	"github.com/roach88/auditchain/internal/verify"
)

const tracerName = "github.com/roach88/auditchain/internal/export"

// Reader is what the bundler reads inside one snapshot. *store.Snapshot implements it.
type Reader interface {
	verify.Reader
	SequenceRangeForTime(ctx context.Context, chainID string, from, to time.Time) (first, last int64, ok bool, err error)
}

// Source pins read snapshots. *store.Store implements it.
type Source interface {
	View(ctx context.Context, fn func(*store.Snapshot) error) error
}

// Request selects what to export. Date bounds and sequence bounds are
// mutually exclusive; with neither, the whole chain is exported.
type Request struct {
	ChainID  string
	FromDate *time.Time
	ToDate   *time.Time
	FromSeq  *int64
	ToSeq    *int64

	// Exporter overrides the bundler's default identity.
	Exporter string
}

// Bundler produces bundles.
type Bundler struct {
	source   Source
	verifier *verify.Verifier
	keyring  *integrity.Keyring
	exporter string
	pageSize int
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Bundler.
type Option func(*Bundler)

// WithKeyring signs every bundle with ring.
func WithKeyring(ring *integrity.Keyring) Option {
	return func(b *Bundler) {
		b.keyring = ring
	}
}

// WithExporter sets the default ExportedBy identity.
func WithExporter(name string) Option {
	return func(b *Bundler) {
		b.exporter = name
	}
}

// WithClock sets the clock used for ExportedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Bundler) {
		b.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bundler) {
		b.logger = logger
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Bundler) {
		b.tracer = tracer
	}
}

// New creates a Bundler.
func New(src Source, v *verify.Verifier, opts ...Option) *Bundler {
	b := &Bundler{
		source:   src,
		verifier: v,
		exporter: "auditchain",
		pageSize: verify.DefaultPageSize,
		now:      time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Export verifies and packages the requested range.
//
// Returns a VALIDATION_ERROR for a bad request or an empty date window,
// the attestation error when the range has defects, and a wrapped context
// error when cancelled. No partial bundle is ever returned.
func (b *Bundler) Export(ctx context.Context, req Request) (*Bundle, error) {
	ctx, span := b.tracer.Start(ctx, "export.Export",
		trace.WithAttributes(attribute.String("ledger.chain_id", req.ChainID)))
	defer span.End()

	bundle, err := b.export(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("export.from", bundle.From),
		attribute.Int64("export.to", bundle.To),
		attribute.Int("export.entries", len(bundle.Entries)),
	)
	b.logger.Info("chain exported",
		"chain_id", bundle.ChainID,
		"from", bundle.From,
		"to", bundle.To,
		"exported_by", bundle.ExportedBy)
	return bundle, nil
}

func (b *Bundler) export(ctx context.Context, req Request) (*Bundle, error) {
	var bundle *Bundle
	err := b.source.View(ctx, func(snap *store.Snapshot) error {
		var err error
		bundle, err = b.collect(ctx, snap, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if b.keyring != nil {
		digest, err := bundle.Digest()
		if err != nil {
			return nil, err
		}
		sig, keyID, err := b.keyring.Sign(bundle.ChainID, digest)
		if err != nil {
			return nil, fmt.Errorf("sign bundle: %w", err)
		}
		bundle.Signature = &Signature{KeyID: keyID, Digest: digest, Value: sig}
	}
	return bundle, nil
}

// collect attests and reads the range from one snapshot, then replays the
// entries it is about to ship and refuses them unless they reproduce the
// attestation.
func (b *Bundler) collect(ctx context.Context, r Reader, req Request) (*Bundle, error) {
	chain, err := r.GetChain(ctx, req.ChainID)
	if err != nil {
		return nil, err
	}

	w, err := b.resolve(ctx, r, chain, req)
	if err != nil {
		return nil, err
	}

	att, err := b.verifier.VerifyIn(ctx, r, req.ChainID, verify.Range{From: &w.from, To: &w.to})
	if err != nil {
		return nil, err
	}
	if err := att.Err(); err != nil {
		return nil, err
	}

	bundle := &Bundle{
		FormatVersion: ir.FormatVersion,
		ChainID:       chain.ID,
		GenesisHash:   chain.GenesisHash,
		TipHash:       chain.TipHash,
		ChainLength:   chain.Length,
		From:          w.from,
		To:            w.to,
		Attestation:   att,
		ExportedAt:    b.now().UTC().Truncate(time.Microsecond),
		ExportedBy:    b.exporter,
	}
	if req.Exporter != "" {
		bundle.ExportedBy = req.Exporter
	}

	if w.from > 0 {
		prev, err := r.ReadEntry(ctx, req.ChainID, w.from-1)
		if err != nil {
			return nil, err
		}
		bundle.Anchor = &Anchor{Sequence: prev.Sequence, EntryHash: prev.EntryHash}
	}

	entries, err := b.readRange(ctx, r, req.ChainID, w.from, w.to)
	if err != nil {
		return nil, err
	}
	if err := w.contains(req.ChainID, entries); err != nil {
		return nil, err
	}
	bundle.Entries = entries

	if _, err := Reverify(bundle); err != nil {
		return nil, fmt.Errorf("export %s: shipped entries do not match the attestation: %w", req.ChainID, err)
	}
	return bundle, nil
}

// window is a resolved export range. Date-bounded windows also keep their
// time bounds so the shipped entries can be checked against them.
type window struct {
	from, to int64
	byDate   bool
	lo, hi   time.Time
}

// contains checks that every entry of a date window falls inside it.
func (w window) contains(chainID string, entries []ir.Entry) error {
	if !w.byDate {
		return nil
	}
	for _, e := range entries {
		if e.Timestamp.Before(w.lo) || e.Timestamp.After(w.hi) {
			return ir.NewValidationError("range", fmt.Sprintf(
				"entry %d of %s at %s falls outside %s..%s; export by sequence instead",
				e.Sequence, chainID, ir.FormatTimestamp(e.Timestamp),
				ir.FormatTimestamp(w.lo), ir.FormatTimestamp(w.hi)))
		}
	}
	return nil
}

// resolve turns the request into an inclusive sequence range.
func (b *Bundler) resolve(ctx context.Context, r Reader, chain ir.Chain, req Request) (window, error) {
	byDate := req.FromDate != nil || req.ToDate != nil
	bySeq := req.FromSeq != nil || req.ToSeq != nil
	if byDate && bySeq {
		return window{}, ir.NewValidationError("range", "date and sequence bounds are mutually exclusive")
	}

	if !byDate {
		from, to := int64(0), chain.Length-1
		if req.FromSeq != nil {
			from = *req.FromSeq
		}
		if req.ToSeq != nil {
			to = *req.ToSeq
		}
		if from < 0 || to < from || to >= chain.Length {
			return window{}, ir.NewValidationError("range",
				fmt.Sprintf("invalid sequence range %d..%d for chain length %d", from, to, chain.Length))
		}
		return window{from: from, to: to}, nil
	}

	lo := time.Time{}
	hi := time.Date(9999, 12, 31, 23, 59, 59, 999999000, time.UTC)
	if req.FromDate != nil {
		lo = req.FromDate.UTC()
	}
	if req.ToDate != nil {
		hi = req.ToDate.UTC()
	}
	if hi.Before(lo) {
		return window{}, ir.NewValidationError("to_date", "must not be before from_date")
	}

	first, last, ok, err := r.SequenceRangeForTime(ctx, chain.ID, lo, hi)
	if err != nil {
		return window{}, err
	}
	if !ok {
		return window{}, ir.NewValidationError("range",
			fmt.Sprintf("no entries between %s and %s", ir.FormatTimestamp(lo), ir.FormatTimestamp(hi)))
	}
	if last >= chain.Length {
		last = chain.Length - 1
	}
	return window{from: first, to: last, byDate: true, lo: lo, hi: hi}, nil
}

func (b *Bundler) readRange(ctx context.Context, r Reader, chainID string, from, to int64) ([]ir.Entry, error) {
	entries := make([]ir.Entry, 0, to-from+1)
	cursor := from
	for cursor <= to {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("export %s: %w", chainID, err)
		}
		page, err := r.ReadEntries(ctx, chainID, cursor, to, b.pageSize)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if len(page) < b.pageSize {
			break
		}
		cursor = page[len(page)-1].Sequence + 1
	}

	if int64(len(entries)) != to-from+1 {
		return nil, ir.NewSequenceGapError(chainID, from,
			fmt.Sprintf("expected %d entries, read %d", to-from+1, len(entries)))
	}
	return entries, nil
}
