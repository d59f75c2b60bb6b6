package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Sink receives notifications. Deliver may be called again for the same
// message after a failure, so implementations must tolerate redelivery.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

// LogSink writes each notification as a structured log record.
type LogSink struct {
	Logger *slog.Logger
}

// Name implements Sink.
func (s LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s LogSink) Deliver(ctx context.Context, m Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "ledger entry committed",
		"chain_id", m.ChainID,
		"seq", m.Sequence,
		"event_type", m.EventType,
		"entry_hash", m.EntryHash)
	return nil
}

// WebhookSink POSTs each notification as JSON.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink creates a sink with a bounded per-request timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink. Any non-2xx response is an error.
func (s *WebhookSink) Deliver(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.Key())

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
