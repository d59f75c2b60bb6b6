package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/auditchain/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "text" | "json"
	Database   string // overrides the configured database path
	ConfigPath string

	// Logger is built from the flags before any command runs.
	Logger *slog.Logger

	// Now overrides the wall clock (for testing). Nil means time.Now.
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the auditchain CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRoot()
	return cmd
}

func newRoot() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "auditchain",
		Version: ir.LedgerVersion,
		Short:   "auditchain - tamper-evident audit ledger",
		Long: `Append-only, hash-chained audit ledger.

Every entry commits to the hash of the entry before it, so any later
modification, deletion or reordering is detectable by replaying the chain.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !isValidFormat(opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose, opts.LogFormat)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format on stderr (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")

	// Add subcommands
	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewVerifyBundleCommand(opts))
	cmd.AddCommand(NewChainsCommand(opts))
	cmd.AddCommand(NewEntryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd, opts
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported on stdout as a JSON envelope with --format json and
// on stderr otherwise.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRoot()
	return execute(ctx, cmd, opts, args, stdout, stderr)
}

func execute(ctx context.Context, cmd *cobra.Command, opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	// Flag parsing errors are not ExitErrors.
	exitErr := ledgerExit("auditchain", err)
	if exitErr.Reported {
		return exitErr.Code
	}
	err = exitErr
	out := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr, Verbose: opts.Verbose}
	if !isValidFormat(out.Format) {
		out.Format = "text"
	}
	_ = out.Error(errorCode(err), err.Error(), errorDetails(err))
	return GetExitCode(err)
}

func newLogger(w io.Writer, verbose bool, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
