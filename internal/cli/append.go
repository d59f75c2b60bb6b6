package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/auditchain/internal/ir"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	EventType      string
	ResourceType   string
	ResourceID     string
	ActorID        string
	Metadata       string
	Criticality    string
	IdempotencyKey string
	OccurredAt     string
	SourceEventID  string
	Corrects       string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append <chain-id>",
		Short: "Append one event to a chain",
		Long: `Normalize an event and append it to the tip of a chain.

The chain is created by its first append. Replaying the same idempotency key
returns the entry committed the first time.

Exit codes:
  0 - Entry committed (or degraded best-effort event)
  2 - Validation error
  3 - Contention or storage unavailable; retry later

Examples:
  auditchain append team_42 --type FUND_CREATED --actor gp1 \
      --resource-type fund --resource-id fund-1 --metadata '{"amount":1500}'
  auditchain append team_42 --type DOCUMENT_VIEWED --actor lp1 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EventType, "type", "", "event type, e.g. FUND_CREATED (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&opts.ActorID, "actor", "", "acting user or service (required)")
	_ = cmd.MarkFlagRequired("actor")
	cmd.Flags().StringVar(&opts.ResourceType, "resource-type", "", "type of the affected resource")
	cmd.Flags().StringVar(&opts.ResourceID, "resource-id", "", "id of the affected resource")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "{}", "event metadata as a JSON object")
	cmd.Flags().StringVar(&opts.Criticality, "criticality", "", "high_assurance or best_effort (default from catalog)")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "explicit idempotency key")
	cmd.Flags().StringVar(&opts.OccurredAt, "occurred-at", "", "RFC 3339 time the event happened (default now)")
	cmd.Flags().StringVar(&opts.SourceEventID, "source-event-id", "", "id of the originating domain event")
	cmd.Flags().StringVar(&opts.Corrects, "corrects", "", "entry hash this event corrects")

	return cmd
}

func runAppend(opts *AppendOptions, chainID string, cmd *cobra.Command) error {
	ev := ir.DomainEvent{
		ChainID:        chainID,
		EventType:      opts.EventType,
		ResourceType:   opts.ResourceType,
		ResourceID:     opts.ResourceID,
		ActorID:        opts.ActorID,
		Criticality:    ir.Criticality(opts.Criticality),
		IdempotencyKey: opts.IdempotencyKey,
		SourceEventID:  opts.SourceEventID,
		Corrects:       opts.Corrects,
	}

	meta, err := parseMetadata(opts.Metadata)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --metadata", err)
	}
	ev.Metadata = meta

	if opts.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339Nano, opts.OccurredAt)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --occurred-at", err)
		}
		ev.OccurredAt = t
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	receipt, err := a.recorder(opts.RootOptions, nil).Record(cmd.Context(), ev)
	if err != nil {
		return ledgerExit("append failed", err)
	}

	return opts.formatter(cmd).Emit(receipt, func(w io.Writer) {
		if receipt.Degraded {
			fmt.Fprintf(w, "degraded: %s event not recorded (%s)\n", receipt.Criticality, receipt.Reason)
			return
		}
		fmt.Fprintf(w, "chain:    %s\n", receipt.ChainID)
		fmt.Fprintf(w, "sequence: %d\n", receipt.Sequence)
		fmt.Fprintf(w, "entry:    %s\n", receipt.EntryID)
		fmt.Fprintf(w, "hash:     %s\n", receipt.EntryHash)
	})
}

// parseMetadata decodes a JSON object keeping numbers exact.
func parseMetadata(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("metadata has trailing data")
	}
	return meta, nil
}
