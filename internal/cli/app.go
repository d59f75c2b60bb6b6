package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/auditchain/internal/catalog"
	"github.com/roach88/auditchain/internal/config"
	"github.com/roach88/auditchain/internal/export"
	"github.com/roach88/auditchain/internal/integrity"
	"github.com/roach88/auditchain/internal/ledger"
	"github.com/roach88/auditchain/internal/normalize"
	"github.com/roach88/auditchain/internal/store"
	"github.com/roach88/auditchain/internal/verify"
)

// app is the wired ledger a command works against.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.Store
	catalog  *catalog.Catalog
	keyring  *integrity.Keyring
	engine   *ledger.Engine
	verifier *verify.Verifier
	bundler  *export.Bundler
}

// openApp loads configuration and opens the ledger. Every failure is a
// command error.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cat, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load event catalog", err)
	}

	ring, err := cfg.Keyring()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load signing keys", err)
	}

	logger.Debug("opening ledger", "path", cfg.DatabasePath)
	st, err := store.Open(cfg.DatabasePath, store.WithClock(opts.now))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	verifier := verify.New(st, verify.WithLogger(logger), verify.WithClock(opts.now))
	bundlerOpts := []export.Option{
		export.WithLogger(logger),
		export.WithClock(opts.now),
		export.WithExporter(cfg.Exporter),
	}
	if ring != nil {
		bundlerOpts = append(bundlerOpts, export.WithKeyring(ring))
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		catalog:  cat,
		keyring:  ring,
		engine:   ledger.NewEngine(st, ledger.WithRetryConfig(cfg.RetryConfig()), ledger.WithLogger(logger)),
		verifier: verifier,
		bundler:  export.New(st, verifier, bundlerOpts...),
	}, nil
}

// recorder wires the append contract. pub may be nil.
func (a *app) recorder(opts *RootOptions, pub ledger.Publisher) *ledger.Recorder {
	nz := normalize.New(a.catalog,
		normalize.WithMaxMetadataBytes(a.cfg.MaxMetadataBytes),
		normalize.WithClock(opts.now))
	return ledger.NewRecorder(nz, a.engine, pub, a.logger)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// loadKeyring reads only the signing keys. It returns nil, nil when none
// are configured.
func loadKeyring(opts *RootOptions) (*integrity.Keyring, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg.Keyring()
}
