package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/auditchain/internal/catalog"
	"github.com/roach88/auditchain/internal/export"
	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/ledger"
	"github.com/roach88/auditchain/internal/normalize"
	"github.com/roach88/auditchain/internal/store"
	"github.com/roach88/auditchain/internal/testutil"
	"github.com/roach88/auditchain/internal/verify"
)

// harness is one scenario run wired against a fresh store.
type harness struct {
	store    *store.Store
	recorder *ledger.Recorder
	verifier *verify.Verifier
	bundler  *export.Bundler
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a fresh in-memory database
//  2. Append each event through the recorder, checking expectations
//  3. Run the tamper statements with the insert-only triggers dropped
//  4. Deep-verify every chain
//  5. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	clock := testutil.NewStepClock(scenario.Start, scenario.Step)

	// Chain timestamps are not hashed; a frozen store clock keeps the
	// event clock advancing once per event only.
	st, err := store.Open(":memory:", store.WithClock(testutil.Fixed(scenario.Start)))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	cat, err := catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	nzOpts := []normalize.Option{normalize.WithClock(clock.Now)}
	if scenario.MaxMetadataBytes > 0 {
		nzOpts = append(nzOpts, normalize.WithMaxMetadataBytes(scenario.MaxMetadataBytes))
	}
	eng := ledger.NewEngine(st,
		ledger.WithIDGenerator(ledger.NewSequentialGenerator("entry")),
		ledger.WithLogger(logger))
	verifier := verify.New(st, verify.WithClock(testutil.Fixed(scenario.Start)), verify.WithLogger(logger))

	h := &harness{
		store:    st,
		recorder: ledger.NewRecorder(normalize.New(cat, nzOpts...), eng, nil, logger),
		verifier: verifier,
		bundler: export.New(st, verifier,
			export.WithClock(testutil.Fixed(scenario.Start)),
			export.WithLogger(logger)),
	}

	result := NewResult()
	if err := h.executeEvents(ctx, scenario.Events, result); err != nil {
		return nil, fmt.Errorf("failed to execute events: %w", err)
	}

	if err := h.tamper(ctx, scenario.Tamper); err != nil {
		return nil, fmt.Errorf("failed to tamper: %w", err)
	}

	chains, err := st.ListChains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	for _, c := range chains {
		rep, err := verifier.Verify(ctx, c.ID, verify.Range{})
		if err != nil {
			return nil, fmt.Errorf("failed to verify %s: %w", c.ID, err)
		}
		result.Reports[c.ID] = rep
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

// executeEvents appends every event and checks its expect clause.
// Append errors are outcomes, not harness failures.
func (h *harness) executeEvents(ctx context.Context, events []EventStep, result *Result) error {
	for i, step := range events {
		ev := ir.DomainEvent{
			ChainID:        step.Chain,
			EventType:      step.Type,
			ResourceType:   step.ResourceType,
			ResourceID:     step.ResourceID,
			ActorID:        step.Actor,
			Metadata:       step.Metadata,
			Criticality:    ir.Criticality(step.Criticality),
			IdempotencyKey: step.IdempotencyKey,
			SourceEventID:  step.SourceEventID,
		}
		if step.OccurredAt != nil {
			ev.OccurredAt = *step.OccurredAt
		}
		if step.Corrects != nil {
			target := result.Steps[*step.Corrects]
			if target.EntryHash == "" {
				return fmt.Errorf("events[%d]: corrects step %d, which committed nothing", i, *step.Corrects)
			}
			ev.Corrects = target.EntryHash
		}

		sr := StepResult{Step: i, ChainID: step.Chain, EventType: step.Type, Sequence: -1}
		receipt, err := h.recorder.Record(ctx, ev)
		switch {
		case err != nil:
			sr.Error = string(ir.CodeOf(err))
			if sr.Error == "" {
				return fmt.Errorf("events[%d]: %w", i, err)
			}
		case receipt.Degraded:
			sr.Error = receipt.Reason
		default:
			entry, err := h.store.ReadEntry(ctx, receipt.ChainID, receipt.Sequence)
			if err != nil {
				return fmt.Errorf("events[%d]: read back: %w", i, err)
			}
			sr.Sequence = entry.Sequence
			sr.PrevHash = entry.PrevHash
			sr.EntryHash = entry.EntryHash
			if step.Expect != nil && step.Expect.Truncated && !entry.MetadataTruncated {
				result.AddError(fmt.Sprintf("events[%d]: expected truncated metadata", i))
			}
		}
		result.Steps = append(result.Steps, sr)

		if step.Expect != nil {
			for _, msg := range checkExpect(i, *step.Expect, sr, result.Steps) {
				result.AddError(msg)
			}
		}
	}
	return nil
}

func checkExpect(i int, want Expect, got StepResult, steps []StepResult) []string {
	var errs []string
	if want.Error != got.Error {
		errs = append(errs, fmt.Sprintf("events[%d]: expected error %q, got %q", i, want.Error, got.Error))
	}
	if want.Sequence != nil && *want.Sequence != got.Sequence {
		errs = append(errs, fmt.Sprintf("events[%d]: expected sequence %d, got %d", i, *want.Sequence, got.Sequence))
	}
	if want.DuplicateOf != nil {
		orig := steps[*want.DuplicateOf]
		if orig.EntryHash == "" || orig.EntryHash != got.EntryHash {
			errs = append(errs, fmt.Sprintf("events[%d]: expected duplicate of step %d", i, *want.DuplicateOf))
		}
	}
	return errs
}

// tamper runs raw statements after dropping the insert-only triggers.
func (h *harness) tamper(ctx context.Context, stmts []string) error {
	if len(stmts) == 0 {
		return nil
	}
	for _, trigger := range []string{"entries_no_update", "entries_no_delete", "chains_no_delete", "chains_forward_only"} {
		if _, err := h.store.DB().ExecContext(ctx, "DROP TRIGGER IF EXISTS "+trigger); err != nil {
			return fmt.Errorf("drop %s: %w", trigger, err)
		}
	}
	for _, stmt := range stmts {
		if _, err := h.store.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSpace(stmt), err)
		}
	}
	return nil
}
