package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/store"
)

const tracerName = "github.com/roach88/auditchain/internal/ledger"

// Appender runs one optimistic append attempt. *store.Store implements it.
type Appender interface {
	AppendEntry(ctx context.Context, chainID, idempotencyKey string, build store.BuildFunc) (ir.Entry, bool, error)
}

// RetryConfig bounds the append retry loop.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Deadline bounds the whole append, across all attempts.
	Deadline time.Duration

	// BaseBackoff doubles per attempt up to MaxBackoff, plus up to 10% jitter.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig is used when no RetryConfig is supplied.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 8,
		Deadline:    5 * time.Second,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  250 * time.Millisecond,
	}
}

// Engine appends normalized events to chains.
//
// Thread-safety: Append is safe for concurrent use. Contention is per chain;
// appends to different chains never wait on each other beyond storage locking.
type Engine struct {
	store  Appender
	retry  RetryConfig
	ids    IDGenerator
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryConfig sets the retry bounds.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *Engine) {
		e.retry = cfg
	}
}

// WithIDGenerator sets the entry id generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		e.ids = ids
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the tracer. Defaults to the global provider's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// NewEngine creates an Engine over st.
func NewEngine(st Appender, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		retry:  DefaultRetryConfig(),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.MaxAttempts < 1 {
		e.retry.MaxAttempts = 1
	}
	if e.retry.Deadline <= 0 {
		e.retry.Deadline = DefaultRetryConfig().Deadline
	}
	if e.retry.BaseBackoff <= 0 {
		e.retry.BaseBackoff = DefaultRetryConfig().BaseBackoff
	}
	if e.retry.MaxBackoff < e.retry.BaseBackoff {
		e.retry.MaxBackoff = e.retry.BaseBackoff
	}
	return e
}

// Append links ev to the tip of its chain and commits it.
//
// A replayed idempotency key returns the entry committed the first time.
// Exhausting MaxAttempts or Deadline returns a retryable CONTENTION error;
// storage faults return STORAGE_UNAVAILABLE immediately.
func (e *Engine) Append(ctx context.Context, ev ir.NormalizedEvent) (ir.Entry, error) {
	if err := checkNormalized(ev); err != nil {
		return ir.Entry{}, err
	}

	ctx, span := e.tracer.Start(ctx, "ledger.Append",
		trace.WithAttributes(
			attribute.String("ledger.chain_id", ev.ChainID),
			attribute.String("ledger.event_type", ev.EventType),
		))
	defer span.End()

	entry, attempts, err := e.appendWithRetry(ctx, ev)
	span.SetAttributes(attribute.Int("ledger.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ir.Entry{}, err
	}

	span.SetAttributes(
		attribute.Int64("ledger.sequence", entry.Sequence),
		attribute.String("ledger.entry_hash", entry.EntryHash),
	)
	return entry, nil
}

func (e *Engine) appendWithRetry(ctx context.Context, ev ir.NormalizedEvent) (ir.Entry, int, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, e.retry.Deadline)
	defer cancel()

	// One id per logical append, reused across attempts.
	id := e.ids.Generate()
	build := func(tip ir.Tip) (ir.Entry, error) {
		return buildEntry(id, ev, tip)
	}

	r := retry.New[ir.Entry](retry.Config{
		MaxAttempts:   e.retry.MaxAttempts,
		InitialDelay:  e.retry.BaseBackoff,
		MaxDelay:      e.retry.MaxBackoff,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable: func(err error) bool {
			return errors.Is(err, ir.ErrSequenceConflict)
		},
		OnRetry: func(attempt int, err error) {
			e.logger.Debug("append lost race",
				"chain_id", ev.ChainID,
				"attempt", attempt,
				"error", err)
		},
	})

	var attempts int
	var lastConflict error
	entry, err := r.Do(deadlineCtx, func(ctx context.Context) (ir.Entry, error) {
		attempts++
		entry, inserted, err := e.store.AppendEntry(ctx, ev.ChainID, ev.IdempotencyKey, build)
		if err != nil {
			if errors.Is(err, ir.ErrSequenceConflict) {
				lastConflict = err
			}
			return ir.Entry{}, err
		}
		if inserted {
			e.logger.Debug("entry appended",
				"chain_id", entry.ChainID,
				"seq", entry.Sequence,
				"attempt", attempts)
		} else {
			e.logger.Info("idempotent replay",
				"chain_id", entry.ChainID,
				"seq", entry.Sequence,
				"idempotency_key", ev.IdempotencyKey)
		}
		return entry, nil
	})

	switch {
	case err == nil:
		return entry, attempts, nil
	case ctx.Err() != nil:
		return ir.Entry{}, attempts, fmt.Errorf("append %s: %w", ev.ChainID, ctx.Err())
	case errors.Is(err, ir.ErrSequenceConflict), deadlineCtx.Err() != nil:
		cause := lastConflict
		if cause == nil {
			cause = err
		}
		e.logger.Warn("append contention exhausted",
			"chain_id", ev.ChainID,
			"attempt", attempts,
			"error", cause)
		return ir.Entry{}, attempts, ir.NewContentionError(ev.ChainID, attempts, cause)
	default:
		return ir.Entry{}, attempts, err
	}
}

// buildEntry links ev to tip and computes its entry hash. A timestamp
// earlier than the tip's is raised to it, so timestamps never decrease
// along a chain and a date window maps to one contiguous sequence range.
func buildEntry(id string, ev ir.NormalizedEvent, tip ir.Tip) (ir.Entry, error) {
	if ev.Timestamp.Before(tip.Timestamp) {
		ev.Timestamp = tip.Timestamp
	}
	entry := ir.Entry{
		ID:              id,
		NormalizedEvent: ev,
		Sequence:        tip.Length,
		PrevHash:        tip.Hash,
	}
	h, err := ir.EntryHash(entry, tip.Hash)
	if err != nil {
		return ir.Entry{}, ir.NewValidationError("metadata", err.Error())
	}
	entry.EntryHash = h
	return entry, nil
}

// checkNormalized guards the engine against events that skipped the normalizer.
func checkNormalized(ev ir.NormalizedEvent) error {
	switch {
	case !ir.ValidChainID(ev.ChainID):
		return ir.NewValidationError("chain_id", fmt.Sprintf("invalid chain id %q", ev.ChainID))
	case !ir.ValidEventType(ev.EventType):
		return ir.NewValidationError("event_type", fmt.Sprintf("invalid event type %q", ev.EventType))
	case ev.IdempotencyKey == "":
		return ir.NewValidationError("idempotency_key", "required")
	case !ev.Criticality.Valid():
		return ir.NewValidationError("criticality", fmt.Sprintf("unknown criticality %q", ev.Criticality))
	case ev.Timestamp.IsZero():
		return ir.NewValidationError("timestamp", "required")
	}
	return nil
}
