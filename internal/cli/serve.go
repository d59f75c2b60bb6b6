package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/auditchain/internal/api"
	"github.com/roach88/auditchain/internal/outbox"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger HTTP API",
		Long: `Serve the append, verify and export API and dispatch commit
notifications to the configured sinks. SIGINT or SIGTERM drains in-flight
requests and queued notifications before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	sinks := []outbox.Sink{outbox.LogSink{Logger: a.logger}}
	if url := a.cfg.Outbox.WebhookURL; url != "" {
		sinks = append(sinks, outbox.NewWebhookSink(url, a.cfg.Outbox.WebhookTimeout))
	}
	ob := outbox.New(a.cfg.OutboxConfig(), a.logger, sinks...)

	// The dispatcher outlives the listener so queued notifications drain.
	obCtx, obCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer obCancel()
	done := make(chan error, 1)
	go func() { done <- ob.Run(obCtx) }()

	srv := api.NewServer(api.Deps{
		Store:          a.store,
		Recorder:       a.recorder(opts.RootOptions, ob),
		Verifier:       a.verifier,
		Bundler:        a.bundler,
		Logger:         a.logger,
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
	})
	serveErr := srv.ListenAndServe(ctx, addr)

	ob.Close()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("outbox stopped early", "error", err, "pending", ob.Pending())
	}

	if serveErr != nil {
		return WrapExitError(ExitCommandError, "server failed", serveErr)
	}
	return nil
}
