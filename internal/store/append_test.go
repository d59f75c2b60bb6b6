package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditchain/internal/ir"
)

func TestAppendEntry_GenesisCreatesChain(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e, inserted, err := s.AppendEntry(ctx, "team_42", "k0", buildTestEntry("team_42", "k0"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(0), e.Sequence)
	assert.Equal(t, ir.GenesisHash, e.PrevHash)

	chain, err := s.GetChain(ctx, "team_42")
	require.NoError(t, err)
	assert.Equal(t, ir.GenesisHash, chain.GenesisHash)
	assert.Equal(t, e.EntryHash, chain.TipHash)
	assert.Equal(t, int64(1), chain.Length)
	assert.Equal(t, testNow, chain.CreatedAt)
}

func TestAppendEntry_LinksToTip(t *testing.T) {
	s := createTestStore(t)
	entries := appendN(t, s, "team_42", 5)

	for i := 1; i < len(entries); i++ {
		assert.Equal(t, int64(i), entries[i].Sequence)
		assert.Equal(t, entries[i-1].EntryHash, entries[i].PrevHash)
	}

	chain, err := s.GetChain(context.Background(), "team_42")
	require.NoError(t, err)
	assert.Equal(t, int64(5), chain.Length)
	assert.Equal(t, entries[4].EntryHash, chain.TipHash)
}

func TestAppendEntry_IdempotentReplay(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, inserted, err := s.AppendEntry(ctx, "team_42", "same", buildTestEntry("team_42", "same"))
	require.NoError(t, err)
	require.True(t, inserted)

	called := false
	second, inserted, err := s.AppendEntry(ctx, "team_42", "same", func(tip ir.Tip) (ir.Entry, error) {
		called = true
		return buildTestEntry("team_42", "same")(tip)
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.False(t, called, "build must not run for a replayed key")
	assert.Equal(t, first.EntryHash, second.EntryHash)

	chain, err := s.GetChain(ctx, "team_42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), chain.Length)
}

func TestAppendEntry_ChainsAreIndependent(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, "team_a", 3)
	b := appendN(t, s, "team_b", 1)

	assert.Equal(t, int64(0), b[0].Sequence)
	assert.Equal(t, ir.GenesisHash, b[0].PrevHash)
}

func TestAppendEntry_BuildErrorRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err := s.AppendEntry(ctx, "team_42", "k0", func(ir.Tip) (ir.Entry, error) {
		return ir.Entry{}, boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetChain(ctx, "team_42")
	assert.ErrorIs(t, err, ir.ErrChainNotFound)
}

func TestAppendEntry_RejectsEntryNotExtendingTip(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, "team_42", 1)

	_, _, err := s.AppendEntry(context.Background(), "team_42", "stale", func(tip ir.Tip) (ir.Entry, error) {
		stale := tip
		stale.Length = 0
		stale.Hash = ir.GenesisHash
		return buildTestEntry("team_42", "stale")(stale)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not extend tip")
}

func TestAppendEntry_DuplicateSequenceIsConflict(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, "team_42", 1)

	// A rogue writer claims seq 1 without advancing the chain row.
	_, err := s.db.Exec(`INSERT INTO entries (`+entryColumns+`)
		SELECT 'rogue', chain_id, 1, event_type, resource_type, resource_id, actor_id, timestamp,
		criticality, metadata, metadata_hash, metadata_bytes, metadata_truncated, 'rogue-key',
		corrects, prev_hash, entry_hash FROM entries WHERE seq = 0`)
	require.NoError(t, err)

	_, _, err = s.AppendEntry(context.Background(), "team_42", "k1", buildTestEntry("team_42", "k1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ir.ErrSequenceConflict)
	assert.False(t, ir.IsStorageUnavailable(err))
}

func TestAppendEntry_ConcurrentWritersOneStore(t *testing.T) {
	s := createTestStore(t)
	const writers, perWriter = 10, 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if _, _, err := s.AppendEntry(context.Background(), "team_42", key, buildTestEntry("team_42", key)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("append failed: %v", err)
	}

	entries, err := s.ReadEntries(context.Background(), "team_42", 0, 1000, 0)
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)
	for i, e := range entries {
		assert.Equal(t, int64(i), e.Sequence)
	}
}

func TestAppendEntry_SecondHandleSeesCommittedTip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	s1, err := Open(path)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	ctx := context.Background()
	e0, _, err := s1.AppendEntry(ctx, "team_42", "k0", buildTestEntry("team_42", "k0"))
	require.NoError(t, err)
	e1, _, err := s2.AppendEntry(ctx, "team_42", "k1", buildTestEntry("team_42", "k1"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, e0.EntryHash, e1.PrevHash)
}

func TestAppendEntry_CanceledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.AppendEntry(ctx, "team_42", "k0", buildTestEntry("team_42", "k0"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAppendEntry_RejectsTimestampBeforeTip(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, "team_42", 2)

	_, _, err := s.AppendEntry(context.Background(), "team_42", "late", func(tip ir.Tip) (ir.Entry, error) {
		assert.Equal(t, testNow.Add(time.Minute), tip.Timestamp)
		e, err := buildTestEntry("team_42", "late")(tip)
		if err != nil {
			return ir.Entry{}, err
		}
		e.Timestamp = testNow.Add(-time.Hour)
		return e, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precedes tip timestamp")

	chain, err := s.GetChain(context.Background(), "team_42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), chain.Length)
}

func TestAppendEntry_GenesisTipHasNoTimestamp(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.AppendEntry(context.Background(), "team_42", "k0", func(tip ir.Tip) (ir.Entry, error) {
		assert.False(t, tip.Exists)
		assert.True(t, tip.Timestamp.IsZero())
		return buildTestEntry("team_42", "k0")(tip)
	})
	require.NoError(t, err)
}
