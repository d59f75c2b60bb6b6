package ledger

import (
	"context"
	"log/slog"

	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/normalize"
	"github.com/roach88/auditchain/internal/outbox"
)

// Publisher receives a notification for every committed entry.
// *outbox.Outbox implements it.
type Publisher interface {
	Publish(m outbox.Message) bool
}

// Receipt is what a domain action gets back from Record.
type Receipt struct {
	EntryID     string         `json:"entry_id,omitempty"`
	ChainID     string         `json:"chain_id"`
	Sequence    int64          `json:"sequence"`
	EntryHash   string         `json:"entry_hash,omitempty"`
	Criticality ir.Criticality `json:"criticality"`

	// Degraded is set when a best-effort event could not be committed.
	// The action proceeded without an audit entry.
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Recorder is the single append contract domain actions use.
type Recorder struct {
	normalizer *normalize.Normalizer
	engine     *Engine
	publisher  Publisher
	logger     *slog.Logger
}

// NewRecorder wires a Recorder. publisher may be nil.
func NewRecorder(nz *normalize.Normalizer, engine *Engine, publisher Publisher, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		normalizer: nz,
		engine:     engine,
		publisher:  publisher,
		logger:     logger,
	}
}

// Record normalizes ev, appends it and publishes a notification.
//
// Validation errors are always returned. For high_assurance events every
// append error is returned. For best_effort events, CONTENTION and
// STORAGE_UNAVAILABLE are logged and a degraded receipt comes back with a
// nil error.
func (r *Recorder) Record(ctx context.Context, ev ir.DomainEvent) (Receipt, error) {
	norm, err := r.normalizer.Normalize(ev)
	if err != nil {
		return Receipt{}, err
	}

	entry, err := r.engine.Append(ctx, norm)
	if err != nil {
		if norm.Criticality == ir.BestEffort && ir.IsRetryable(err) {
			r.logger.WarnContext(ctx, "best-effort audit entry dropped",
				"chain_id", norm.ChainID,
				"event_type", norm.EventType,
				"error_code", string(ir.CodeOf(err)),
				"error", err)
			return Receipt{
				ChainID:     norm.ChainID,
				Sequence:    -1,
				Criticality: norm.Criticality,
				Degraded:    true,
				Reason:      string(ir.CodeOf(err)),
			}, nil
		}
		return Receipt{}, err
	}

	if r.publisher != nil {
		r.publisher.Publish(outbox.MessageFor(entry))
	}

	return Receipt{
		EntryID:     entry.ID,
		ChainID:     entry.ChainID,
		Sequence:    entry.Sequence,
		EntryHash:   entry.EntryHash,
		Criticality: entry.Criticality,
	}, nil
}
