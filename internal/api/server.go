// Package api exposes the ledger over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/auditchain/internal/export"
	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/ledger"
	"github.com/roach88/auditchain/internal/verify"
)

// maxBodyBytes caps append request bodies.
const maxBodyBytes = 1 << 20

// Store is the read side the handlers need. *store.Store implements it.
type Store interface {
	Ping(ctx context.Context) error
	GetChain(ctx context.Context, chainID string) (ir.Chain, error)
	ListChains(ctx context.Context) ([]ir.Chain, error)
	GetEntryByHash(ctx context.Context, entryHash string) (ir.Entry, error)
}

// Deps are the components a Server routes to.
type Deps struct {
	Store    Store
	Recorder *ledger.Recorder
	Verifier *verify.Verifier
	Bundler  *export.Bundler
	Logger   *slog.Logger

	// RequestTimeout bounds every request. Zero means 30s.
	RequestTimeout time.Duration
}

// Server serves the ledger API.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	handler http.Handler
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}
	s := &Server{deps: deps, logger: deps.Logger}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.deps.RequestTimeout))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(api chi.Router) {
		api.Get("/chains", s.handleListChains)
		api.Route("/chains/{chainID}", func(c chi.Router) {
			c.Get("/", s.handleGetChain)
			c.Post("/entries", s.handleAppend)
			c.Get("/verify", s.handleVerify)
			c.Get("/export", s.handleExport)
		})
		api.Get("/entries/{entryHash}", s.handleGetEntry)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("api listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// accessLog logs one line per request with its request id.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.requestLogger(r).Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}

// requestLogger returns a logger scoped to the request.
func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	l := s.logger.With("request_id", middleware.GetReqID(r.Context()))
	if id := chi.URLParam(r, "chainID"); id != "" {
		l = l.With("chain_id", id)
	}
	return l
}
