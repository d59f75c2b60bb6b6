package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/auditchain/internal/export"
	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/verify"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Chain    string
	Expected string
	Actual   string
	Defects  []verify.Defect // full defect list for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s on %s\n", e.Type, e.Chain)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Defects) > 0 {
		fmt.Fprintf(&buf, "\nDefects:\n")
		for _, d := range e.Defects {
			fmt.Fprintf(&buf, "  seq %d %s: %s\n", d.Sequence, d.Kind, d.Message)
		}
	}
	return buf.String()
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a, result); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *harness) evaluate(ctx context.Context, a Assertion, result *Result) error {
	rep, ok := result.Reports[a.Chain]
	if !ok && a.Type != AssertChainLength {
		return &AssertionError{Type: a.Type, Chain: a.Chain, Expected: "chain exists", Actual: "no such chain"}
	}

	switch a.Type {
	case AssertChainValid:
		return assertChainValid(a, rep)
	case AssertChainLength:
		return h.assertChainLength(ctx, a)
	case AssertDefect:
		return assertDefect(a, rep)
	case AssertDefectCount:
		return assertDefectCount(a, rep)
	case AssertBundleReverifies:
		return h.assertBundleReverifies(ctx, a)
	case AssertExportRefused:
		return h.assertExportRefused(ctx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertChainValid(a Assertion, rep verify.Report) error {
	if rep.IsValid {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Chain:    a.Chain,
		Expected: "no defects",
		Actual:   fmt.Sprintf("%d defects", len(rep.Errors)),
		Defects:  rep.Errors,
	}
}

func (h *harness) assertChainLength(ctx context.Context, a Assertion) error {
	var length int64
	chain, err := h.store.GetChain(ctx, a.Chain)
	switch {
	case err == nil:
		length = chain.Length
	case errors.Is(err, ir.ErrChainNotFound):
	default:
		return err
	}
	if length == a.Length {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Chain:    a.Chain,
		Expected: fmt.Sprintf("length %d", a.Length),
		Actual:   fmt.Sprintf("length %d", length),
	}
}

func assertDefect(a Assertion, rep verify.Report) error {
	for _, d := range rep.Errors {
		if string(d.Kind) == a.Kind && d.Sequence == a.Sequence {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Chain:    a.Chain,
		Expected: fmt.Sprintf("%s at seq %d", a.Kind, a.Sequence),
		Actual:   "not reported",
		Defects:  rep.Errors,
	}
}

func assertDefectCount(a Assertion, rep verify.Report) error {
	if len(rep.Errors) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Chain:    a.Chain,
		Expected: fmt.Sprintf("%d defects", a.Count),
		Actual:   fmt.Sprintf("%d defects", len(rep.Errors)),
		Defects:  rep.Errors,
	}
}

func (h *harness) assertBundleReverifies(ctx context.Context, a Assertion) error {
	bundle, err := h.bundler.Export(ctx, export.Request{ChainID: a.Chain})
	if err != nil {
		return &AssertionError{Type: a.Type, Chain: a.Chain, Expected: "export succeeds", Actual: err.Error()}
	}
	if _, err := export.Reverify(bundle); err != nil {
		return &AssertionError{Type: a.Type, Chain: a.Chain, Expected: "bundle re-verifies", Actual: err.Error()}
	}
	return nil
}

func (h *harness) assertExportRefused(ctx context.Context, a Assertion) error {
	_, err := h.bundler.Export(ctx, export.Request{ChainID: a.Chain})
	if ir.IsIntegrityViolation(err) || ir.IsSequenceGap(err) {
		return nil
	}
	actual := "export succeeded"
	if err != nil {
		actual = err.Error()
	}
	return &AssertionError{Type: a.Type, Chain: a.Chain, Expected: "export refused with an integrity error", Actual: actual}
}
