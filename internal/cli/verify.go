package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/auditchain/internal/verify"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Shallow bool
	From    int64
	To      int64
}

// VerifyResult is the JSON payload of the verify command.
type VerifyResult struct {
	Reports []verify.Report        `json:"reports,omitempty"`
	Shallow []verify.ShallowReport `json:"shallow,omitempty"`
	Valid   bool                   `json:"valid"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [chain-id]",
		Short: "Replay chains and report integrity defects",
		Long: `Replay a chain from genesis (or from --from) and recompute every hash.

Without a chain id every chain is verified. All defects are reported; the
scan never stops at the first one. --shallow only compares the stored tip
with the last entry.

Exit codes:
  0 - Every verified chain is intact
  1 - At least one defect was found
  2 - Command error (unknown chain, bad range, etc.)

Examples:
  auditchain verify team_42
  auditchain verify team_42 --from 100 --to 200
  auditchain verify --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Shallow, "shallow", false, "compare tip with last entry only")
	cmd.Flags().Int64Var(&opts.From, "from", -1, "first sequence to verify (default 0)")
	cmd.Flags().Int64Var(&opts.To, "to", -1, "last sequence to verify (default tip)")

	return cmd
}

func runVerify(opts *VerifyOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	var chainIDs []string
	if len(args) == 1 {
		chainIDs = args
	} else {
		chains, err := a.store.ListChains(ctx)
		if err != nil {
			return ledgerExit("failed to list chains", err)
		}
		for _, c := range chains {
			chainIDs = append(chainIDs, c.ID)
		}
	}

	var rng verify.Range
	if cmd.Flags().Changed("from") {
		rng.From = &opts.From
	}
	if cmd.Flags().Changed("to") {
		rng.To = &opts.To
	}

	result := VerifyResult{Valid: true}
	for _, id := range chainIDs {
		opts.formatter(cmd).VerboseLog("verifying %s", id)
		if opts.Shallow {
			rep, err := a.verifier.Shallow(ctx, id)
			if err != nil {
				return ledgerExit(fmt.Sprintf("failed to verify %s", id), err)
			}
			result.Shallow = append(result.Shallow, rep)
			result.Valid = result.Valid && rep.IsValid
			continue
		}

		rep, err := a.verifier.Verify(ctx, id, rng)
		if err != nil {
			return ledgerExit(fmt.Sprintf("failed to verify %s", id), err)
		}
		result.Reports = append(result.Reports, rep)
		result.Valid = result.Valid && rep.IsValid
	}

	err = opts.formatter(cmd).Emit(result, func(w io.Writer) {
		if len(chainIDs) == 0 {
			fmt.Fprintln(w, "No chains in ledger.")
			return
		}
		for _, rep := range result.Shallow {
			fmt.Fprintf(w, "%s: %s (length %d, tip %s)\n", rep.ChainID, validity(rep.IsValid), rep.ChainLength, rep.LatestHash)
		}
		for _, rep := range result.Reports {
			writeReport(w, rep)
		}
	})
	if err != nil {
		return err
	}

	if !result.Valid {
		return reportedFailure("integrity verification failed")
	}
	return nil
}

func writeReport(w io.Writer, rep verify.Report) {
	fmt.Fprintf(w, "%s [%d..%d]: %s, %d/%d entries verified\n",
		rep.ChainID, rep.From, rep.To, validity(rep.IsValid), rep.VerifiedEntries, rep.TotalEntries)
	for _, d := range rep.Errors {
		fmt.Fprintf(w, "  seq %d %s: %s\n", d.Sequence, d.Kind, d.Message)
	}
}

func validity(ok bool) string {
	if ok {
		return "valid"
	}
	return "INVALID"
}
