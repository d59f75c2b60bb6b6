package harness

import (
	"context"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/auditchain/internal/ir"
)

// Snapshot is the deterministic part of a run: every step's hashes and
// every chain's defects.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, s := range result.Steps {
		m := map[string]any{
			"step":       int64(s.Step),
			"chain_id":   s.ChainID,
			"event_type": s.EventType,
		}
		if s.Error != "" {
			m["error"] = s.Error
		} else {
			m["sequence"] = s.Sequence
			m["prev_hash"] = s.PrevHash
			m["entry_hash"] = s.EntryHash
		}
		steps[i] = m
	}

	ids := make([]string, 0, len(result.Reports))
	for id := range result.Reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chains := make([]any, 0, len(ids))
	for _, id := range ids {
		rep := result.Reports[id]
		defects := make([]any, len(rep.Errors))
		for i, d := range rep.Errors {
			defects[i] = map[string]any{
				"kind":     string(d.Kind),
				"sequence": d.Sequence,
			}
		}
		chains = append(chains, map[string]any{
			"chain_id": id,
			"valid":    rep.IsValid,
			"defects":  defects,
		})
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario": name,
		"steps":    steps,
		"chains":   chains,
	})
}

// RunWithGolden runs a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	snap, err := Snapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snap)
	return result, nil
}
