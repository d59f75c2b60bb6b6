// Package outbox delivers ledger notifications after commit.
//
// Ledger durability never depends on delivery: Publish only enqueues, and a
// full or closed queue drops the notification with a warning. Dispatcher
// workers deliver to every sink with exponential retry; a bounded dedup
// cache makes redelivery of the same entry a no-op.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/roach88/auditchain/internal/cache"
	"github.com/roach88/auditchain/internal/ir"
)

// Message is the notification published for each committed entry.
type Message struct {
	EntryID     string         `json:"entry_id"`
	ChainID     string         `json:"chain_id"`
	Sequence    int64          `json:"sequence"`
	EntryHash   string         `json:"entry_hash"`
	EventType   string         `json:"event_type"`
	Criticality ir.Criticality `json:"criticality"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Key identifies the entry a message describes.
func (m Message) Key() string {
	return m.ChainID + "/" + m.EntryHash
}

// MessageFor builds the notification for a committed entry.
func MessageFor(e ir.Entry) Message {
	return Message{
		EntryID:     e.ID,
		ChainID:     e.ChainID,
		Sequence:    e.Sequence,
		EntryHash:   e.EntryHash,
		EventType:   e.EventType,
		Criticality: e.Criticality,
		Timestamp:   e.Timestamp,
	}
}

// Config configures an Outbox.
type Config struct {
	QueueSize    int
	Workers      int
	MaxAttempts  int
	InitialDelay time.Duration
	DedupSize    int
	DedupTTL     time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    1024,
		Workers:      2,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		DedupSize:    4096,
		DedupTTL:     time.Hour,
	}
}

// Outbox queues notifications and dispatches them to sinks.
//
// Thread-safety: Publish is safe from any goroutine. Run must be called once.
type Outbox struct {
	queue  *messageQueue
	sinks  []Sink
	dedup  *cache.Cache[string]
	cfg    Config
	logger *slog.Logger
}

// New creates an Outbox delivering to sinks.
func New(cfg Config, logger *slog.Logger, sinks ...Sink) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Outbox{
		queue:  newMessageQueue(cfg.QueueSize),
		sinks:  sinks,
		dedup:  cache.New[string](cfg.DedupSize, cfg.DedupTTL),
		cfg:    cfg,
		logger: logger,
	}
}

// Publish enqueues m. Returns false when the notification was dropped.
func (o *Outbox) Publish(m Message) bool {
	if o.queue.Enqueue(m) {
		return true
	}
	o.logger.Warn("outbox dropped notification",
		"chain_id", m.ChainID,
		"seq", m.Sequence,
		"queue_len", o.queue.Len(),
		"closed", o.queue.Closed())
	return false
}

// Pending returns the number of queued, undelivered messages.
func (o *Outbox) Pending() int {
	return o.queue.Len()
}

// Close stops accepting messages. Run drains what is queued, then returns.
func (o *Outbox) Close() {
	o.queue.Close()
}

// Run starts the dispatcher workers and blocks until ctx is done or the
// outbox is closed and drained.
func (o *Outbox) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (o *Outbox) work(ctx context.Context) {
	for {
		for {
			if ctx.Err() != nil {
				return
			}
			m, ok := o.queue.TryDequeue()
			if !ok {
				break
			}
			o.deliver(ctx, m)
		}

		if o.queue.Closed() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-o.queue.Wait():
		}
	}
}

// deliver sends m to every sink. The dedup key is claimed before delivery so
// concurrent workers never send the same entry twice, and released when a
// sink fails so a later copy can be retried.
func (o *Outbox) deliver(ctx context.Context, m Message) {
	key := m.Key()
	if !o.dedup.Claim(key) {
		o.logger.Debug("outbox skipped duplicate",
			"chain_id", m.ChainID,
			"seq", m.Sequence,
			"dedup_len", o.dedup.Len())
		return
	}

	r := retry.New[struct{}](retry.Config{
		MaxAttempts:   o.cfg.MaxAttempts,
		InitialDelay:  o.cfg.InitialDelay,
		BackoffPolicy: retry.BackoffExponential,
	})

	ok := true
	for _, sink := range o.sinks {
		_, err := r.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, sink.Deliver(ctx, m)
		})
		if err != nil {
			ok = false
			o.logger.Error("outbox delivery failed",
				"sink", sink.Name(),
				"chain_id", m.ChainID,
				"seq", m.Sequence,
				"error", err)
		}
	}
	if !ok {
		o.dedup.Release(key)
	}
}
