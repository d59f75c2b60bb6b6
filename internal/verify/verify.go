package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/store"
)

const tracerName = "github.com/roach88/auditchain/internal/verify"

// DefaultPageSize is the number of entries read per storage round trip.
const DefaultPageSize = 500

// Reader is the read side of the store. *store.Store and *store.Snapshot
// implement it.
type Reader interface {
	GetChain(ctx context.Context, chainID string) (ir.Chain, error)
	ReadEntries(ctx context.Context, chainID string, fromSeq, toSeq int64, limit int) ([]ir.Entry, error)
	ReadEntry(ctx context.Context, chainID string, seq int64) (ir.Entry, error)
	MaxSequence(ctx context.Context, chainID string) (int64, bool, error)
}

// Source is a Reader that can pin a consistent snapshot. *store.Store implements it.
type Source interface {
	Reader
	View(ctx context.Context, fn func(*store.Snapshot) error) error
}

// Range selects a sequence range. Nil bounds mean the chain start and the
// tip as of the start of verification.
type Range struct {
	From *int64
	To   *int64
}

// Verifier checks chains.
type Verifier struct {
	source   Source
	pageSize int
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithPageSize sets the page size for deep scans.
func WithPageSize(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

// WithClock sets the clock used for LastVerifiedAt.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(v *Verifier) {
		v.tracer = tracer
	}
}

// New creates a Verifier reading from src.
func New(src Source, opts ...Option) *Verifier {
	v := &Verifier{
		source:   src,
		pageSize: DefaultPageSize,
		now:      time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify replays rng of chainID and reports every defect found.
//
// The whole scan reads one storage snapshot. The upper bound is the chain
// length in that snapshot; entries appended during the scan are not examined.
// A range that ends at the tip also checks the chain head and reports entry
// rows stored beyond the chain length. A range that starts after 0 links to
// the stored hash of entry From-1.
//
// The returned error is non-nil only when verification could not run:
// unknown chain, invalid range, or storage failure. Defects are in the
// Report.
func (v *Verifier) Verify(ctx context.Context, chainID string, rng Range) (Report, error) {
	var rep Report
	err := v.source.View(ctx, func(snap *store.Snapshot) error {
		var err error
		rep, err = v.VerifyIn(ctx, snap, chainID, rng)
		return err
	})
	if err != nil {
		return Report{}, err
	}
	return rep, nil
}

// VerifyIn is Verify against r, for callers that already hold a snapshot
// and read more from it.
func (v *Verifier) VerifyIn(ctx context.Context, r Reader, chainID string, rng Range) (Report, error) {
	ctx, span := v.tracer.Start(ctx, "verify.Verify",
		trace.WithAttributes(attribute.String("ledger.chain_id", chainID)))
	defer span.End()

	rep, err := v.verify(ctx, r, chainID, rng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}

	span.SetAttributes(
		attribute.Bool("verify.valid", rep.IsValid),
		attribute.Int64("verify.total", rep.TotalEntries),
		attribute.Int64("verify.verified", rep.VerifiedEntries),
		attribute.Int("verify.defects", len(rep.Errors)),
	)
	if !rep.IsValid {
		v.logger.Warn("chain verification failed",
			"chain_id", chainID,
			"first_invalid", *rep.FirstInvalidEntry,
			"defects", len(rep.Errors))
	}
	return rep, nil
}

func (v *Verifier) verify(ctx context.Context, r Reader, chainID string, rng Range) (Report, error) {
	chain, err := r.GetChain(ctx, chainID)
	if err != nil {
		return Report{}, err
	}

	from, to, err := resolveRange(chain, rng)
	if err != nil {
		return Report{}, err
	}

	anchor := ir.GenesisHash
	var anchorMissing bool
	if from > 0 {
		prev, err := r.ReadEntry(ctx, chainID, from-1)
		switch {
		case errors.Is(err, ir.ErrEntryNotFound):
			anchor = ""
			anchorMissing = true
		case err != nil:
			return Report{}, err
		default:
			anchor = prev.EntryHash
		}
	}

	sc := NewScanner(chainID, from, to, anchor)
	if anchorMissing {
		sc.gap(from-1, from-1)
	}

	cursor := from
	for cursor <= to {
		if err := ctx.Err(); err != nil {
			return Report{}, fmt.Errorf("verify %s: %w", chainID, err)
		}
		page, err := r.ReadEntries(ctx, chainID, cursor, to, v.pageSize)
		if err != nil {
			return Report{}, err
		}
		for _, e := range page {
			sc.Feed(e)
		}
		if len(page) < v.pageSize {
			break
		}
		cursor = page[len(page)-1].Sequence + 1
	}

	if to == chain.Length-1 {
		sc.CheckTip(chain.TipHash)
		maxSeq, ok, err := r.MaxSequence(ctx, chainID)
		if err != nil {
			return Report{}, err
		}
		if ok {
			sc.CheckStoredLength(chain.Length, maxSeq)
		}
	}
	return sc.Finish(), nil
}

// Shallow compares the chain head with its last entry without replaying
// the chain.
func (v *Verifier) Shallow(ctx context.Context, chainID string) (ShallowReport, error) {
	var rep ShallowReport
	err := v.source.View(ctx, func(snap *store.Snapshot) error {
		var err error
		rep, err = v.shallow(ctx, snap, chainID)
		return err
	})
	if err != nil {
		return ShallowReport{}, err
	}
	return rep, nil
}

func (v *Verifier) shallow(ctx context.Context, r Reader, chainID string) (ShallowReport, error) {
	chain, err := r.GetChain(ctx, chainID)
	if err != nil {
		return ShallowReport{}, err
	}

	rep := ShallowReport{
		ChainID:        chainID,
		ChainLength:    chain.Length,
		GenesisHash:    chain.GenesisHash,
		LatestHash:     chain.TipHash,
		LastVerifiedAt: v.now().UTC(),
	}

	last, err := r.ReadEntry(ctx, chainID, chain.Length-1)
	switch {
	case errors.Is(err, ir.ErrEntryNotFound):
		return rep, nil
	case err != nil:
		return ShallowReport{}, err
	}
	maxSeq, _, err := r.MaxSequence(ctx, chainID)
	if err != nil {
		return ShallowReport{}, err
	}

	rep.IsValid = chain.GenesisHash == ir.GenesisHash &&
		last.EntryHash == chain.TipHash &&
		maxSeq == chain.Length-1
	return rep, nil
}

func resolveRange(chain ir.Chain, rng Range) (int64, int64, error) {
	from, to := int64(0), chain.Length-1
	if rng.From != nil {
		from = *rng.From
	}
	if rng.To != nil {
		to = *rng.To
	}

	switch {
	case from < 0:
		return 0, 0, ir.NewValidationError("from", "must not be negative")
	case to >= chain.Length:
		return 0, 0, ir.NewValidationError("to",
			fmt.Sprintf("must be below chain length %d", chain.Length))
	case from > to:
		return 0, 0, ir.NewValidationError("from", "must not exceed to")
	}
	return from, to, nil
}
