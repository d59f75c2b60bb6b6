package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/auditchain/internal/ir"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// buildTestEntry returns a BuildFunc that links a minimal entry to the tip.
func buildTestEntry(chainID, key string) BuildFunc {
	return func(tip ir.Tip) (ir.Entry, error) {
		e := ir.Entry{
			ID: fmt.Sprintf("%s-%d", chainID, tip.Length),
			NormalizedEvent: ir.NormalizedEvent{
				ChainID:        chainID,
				EventType:      "DOCUMENT_APPROVED",
				ResourceType:   "document",
				ResourceID:     "doc-1",
				ActorID:        "gp1",
				Timestamp:      testNow.Add(time.Duration(tip.Length) * time.Minute),
				Criticality:    ir.HighAssurance,
				Metadata:       []byte(`{}`),
				MetadataHash:   ir.MetadataHash([]byte(`{}`)),
				MetadataBytes:  2,
				IdempotencyKey: key,
			},
			Sequence: tip.Length,
			PrevHash: tip.Hash,
		}
		h, err := ir.EntryHash(e, tip.Hash)
		if err != nil {
			return ir.Entry{}, err
		}
		e.EntryHash = h
		return e, nil
	}
}

// appendN appends n entries with distinct idempotency keys.
func appendN(t *testing.T, s *Store, chainID string, n int) []ir.Entry {
	t.Helper()
	var out []ir.Entry
	for i := 0; i < n; i++ {
		e, inserted, err := s.AppendEntry(context.Background(), chainID, fmt.Sprintf("k%d", i),
			buildTestEntry(chainID, fmt.Sprintf("k%d", i)))
		if err != nil {
			t.Fatalf("AppendEntry(%d) failed: %v", i, err)
		}
		if !inserted {
			t.Fatalf("AppendEntry(%d) was not inserted", i)
		}
		out = append(out, e)
	}
	return out
}
