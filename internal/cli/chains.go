package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/auditchain/internal/ir"
)

// NewChainsCommand creates the chains command.
func NewChainsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains with their length and tip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChains(rootOpts, cmd)
		},
	}
}

func runChains(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	chains, err := a.store.ListChains(cmd.Context())
	if err != nil {
		return ledgerExit("failed to list chains", err)
	}
	if chains == nil {
		chains = []ir.Chain{}
	}

	return opts.formatter(cmd).Emit(chains, func(w io.Writer) {
		if len(chains) == 0 {
			fmt.Fprintln(w, "No chains in ledger.")
			return
		}
		for _, c := range chains {
			fmt.Fprintf(w, "%-24s length=%-6d tip=%s\n", c.ID, c.Length, c.TipHash)
		}
	})
}
