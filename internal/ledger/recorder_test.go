package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditchain/internal/catalog"
	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/normalize"
	"github.com/roach88/auditchain/internal/outbox"
)

type capturePublisher struct {
	mu       sync.Mutex
	messages []outbox.Message
}

func (p *capturePublisher) Publish(m outbox.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, m)
	return true
}

func newRecorder(t *testing.T, app Appender, pub Publisher) *Recorder {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	nz := normalize.New(cat, normalize.WithClock(func() time.Time { return testTime }))
	eng := NewEngine(app, WithLogger(discardLogger()), WithRetryConfig(fastRetry(3)))
	return NewRecorder(nz, eng, pub, discardLogger())
}

func domainEvent(eventType string) ir.DomainEvent {
	return ir.DomainEvent{
		ChainID:    "team_42",
		EventType:  eventType,
		ActorID:    "gp1",
		OccurredAt: testTime,
	}
}

func TestRecord_CommitsAndPublishes(t *testing.T) {
	pub := &capturePublisher{}
	rec := newRecorder(t, openStore(t), pub)

	receipt, err := rec.Record(context.Background(), domainEvent("FUND_CREATED"))
	require.NoError(t, err)

	assert.False(t, receipt.Degraded)
	assert.Equal(t, int64(0), receipt.Sequence)
	assert.Equal(t, ir.HighAssurance, receipt.Criticality)
	assert.True(t, ir.IsHash(receipt.EntryHash))

	require.Len(t, pub.messages, 1)
	assert.Equal(t, receipt.EntryHash, pub.messages[0].EntryHash)
}

func TestRecord_ValidationAlwaysReturned(t *testing.T) {
	rec := newRecorder(t, openStore(t), nil)

	ev := domainEvent("DOCUMENT_VIEWED")
	ev.ActorID = ""
	_, err := rec.Record(context.Background(), ev)
	assert.True(t, ir.IsValidationError(err))
}

func TestRecord_HighAssuranceFailsAction(t *testing.T) {
	flaky := &flakyAppender{inner: openStore(t), conflicts: 100}
	pub := &capturePublisher{}
	rec := newRecorder(t, flaky, pub)

	_, err := rec.Record(context.Background(), domainEvent("BAD_ACTOR_CERTIFIED"))
	require.Error(t, err)
	assert.True(t, ir.IsContentionError(err))
	assert.Empty(t, pub.messages)
}

func TestRecord_BestEffortDegrades(t *testing.T) {
	tests := []struct {
		name string
		app  func(t *testing.T) Appender
		code ir.ErrorCode
	}{
		{"contention", func(t *testing.T) Appender {
			return &flakyAppender{inner: openStore(t), conflicts: 100}
		}, ir.ErrCodeContention},
		{"storage unavailable", func(t *testing.T) Appender {
			return &flakyAppender{err: ir.NewStorageUnavailableError("team_42", "insert", errors.New("io"))}
		}, ir.ErrCodeStorageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &capturePublisher{}
			rec := newRecorder(t, tt.app(t), pub)

			receipt, err := rec.Record(context.Background(), domainEvent("DOCUMENT_VIEWED"))
			require.NoError(t, err)
			assert.True(t, receipt.Degraded)
			assert.Equal(t, string(tt.code), receipt.Reason)
			assert.Equal(t, ir.BestEffort, receipt.Criticality)
			assert.Empty(t, pub.messages)
		})
	}
}

func TestRecord_BestEffortNonRetryableStillReturned(t *testing.T) {
	flaky := &flakyAppender{err: errors.New("unexpected")}
	rec := newRecorder(t, flaky, nil)

	_, err := rec.Record(context.Background(), domainEvent("DOCUMENT_VIEWED"))
	require.Error(t, err)
}

func TestRecord_Team42Sequence(t *testing.T) {
	rec := newRecorder(t, openStore(t), nil)
	ctx := context.Background()

	steps := []struct{ eventType, actor string }{
		{"FUND_CREATED", "gp1"},
		{"BAD_ACTOR_CERTIFIED", "gp1"},
		{"NDA_SIGNED", "lp1"},
	}
	prev := ir.GenesisHash
	for i, step := range steps {
		ev := domainEvent(step.eventType)
		ev.ActorID = step.actor
		receipt, err := rec.Record(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, int64(i), receipt.Sequence)
		assert.NotEqual(t, prev, receipt.EntryHash)
		prev = receipt.EntryHash
	}
}
