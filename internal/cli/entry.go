package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/auditchain/internal/ir"
)

// NewEntryCommand creates the entry command.
func NewEntryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entry <entry-hash>",
		Short: "Show one entry by its hash",
		Long: `Look up a committed entry by its entry hash, for example the hash a
correction refers to.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntry(rootOpts, args[0], cmd)
		},
	}
}

func runEntry(opts *RootOptions, hash string, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := a.store.GetEntryByHash(cmd.Context(), hash)
	if err != nil {
		return ledgerExit("failed to read entry", err)
	}

	return opts.formatter(cmd).Emit(e, func(w io.Writer) {
		fmt.Fprintf(w, "chain:       %s\n", e.ChainID)
		fmt.Fprintf(w, "sequence:    %d\n", e.Sequence)
		fmt.Fprintf(w, "id:          %s\n", e.ID)
		fmt.Fprintf(w, "event:       %s\n", e.EventType)
		fmt.Fprintf(w, "actor:       %s\n", e.ActorID)
		if e.ResourceType != "" || e.ResourceID != "" {
			fmt.Fprintf(w, "resource:    %s/%s\n", e.ResourceType, e.ResourceID)
		}
		fmt.Fprintf(w, "timestamp:   %s\n", ir.FormatTimestamp(e.Timestamp))
		fmt.Fprintf(w, "criticality: %s\n", e.Criticality)
		fmt.Fprintf(w, "metadata:    %s\n", e.Metadata)
		if e.MetadataTruncated {
			fmt.Fprintf(w, "             (truncated, %d bytes, %s)\n", e.MetadataBytes, e.MetadataHash)
		}
		if e.Corrects != "" {
			fmt.Fprintf(w, "corrects:    %s\n", e.Corrects)
		}
		fmt.Fprintf(w, "prev:        %s\n", e.PrevHash)
		fmt.Fprintf(w, "hash:        %s\n", e.EntryHash)
	})
}
