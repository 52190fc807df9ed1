// Package app wires the captionsync subsystems into running programs.
//
// [App] is the caption feed server: New builds the history store, the
// websocket hub, the optional metadata lookup and the health and metrics
// endpoints, Run serves them until its context ends, and Shutdown tears
// everything down in order. [Follow] is the headless viewer that follows one
// session's live caption feed.
//
// For testing, inject test doubles via functional options (WithHistoryStore,
// WithMetadata, WithListener). When an option is not provided, New creates the
// real implementation from the config through the backend registry.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/captionsync/internal/config"
	"github.com/MrWong99/captionsync/internal/feedserver"
	"github.com/MrWong99/captionsync/internal/health"
	"github.com/MrWong99/captionsync/internal/metadata"
	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/internal/resilience"
)

const shutdownGrace = 10 * time.Second

// App owns the feed server's subsystem lifetimes.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	history  feedserver.HistoryStore
	meta     metadata.Service
	hub      *feedserver.Hub
	health   *health.Handler
	handler  http.Handler
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(s feedserver.HistoryStore) Option {
	return func(a *App) { a.history = s }
}

// WithMetadata injects a metadata service instead of creating one from config.
func WithMetadata(svc metadata.Service) Option {
	return func(a *App) { a.meta = svc }
}

// WithListener makes Run serve on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg resolves the
// history and metadata backends named in cfg.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Metadata ──────────────────────────────────────────────────────
	if err := a.initMetadata(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init metadata: %w", err)
	}

	// ── 3. Hub ───────────────────────────────────────────────────────────
	a.initHub()

	// ── 4. Health + routes ───────────────────────────────────────────────
	a.initHealth()
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	if a.reg == nil {
		return errors.New("no history store and no registry")
	}
	store, err := a.reg.CreateHistory(ctx, a.cfg.History)
	if err != nil {
		return err
	}
	a.history = store
	if c, ok := store.(interface{ Close() }); ok {
		a.closers = append(a.closers, func() error {
			c.Close()
			return nil
		})
	}
	backend := a.cfg.History.Backend
	if backend == "" {
		backend = config.HistoryMemory
	}
	slog.Info("caption history ready", "backend", backend)
	return nil
}

func (a *App) initMetadata() error {
	if a.meta != nil || a.reg == nil {
		return nil
	}
	svc, err := a.reg.CreateMetadata(a.cfg.Metadata)
	if err != nil {
		return err
	}
	a.meta = svc
	if svc != nil {
		slog.Info("session metadata ready", "backend", a.cfg.Metadata.Backend)
	}
	return nil
}

func (a *App) initHub() {
	opts := []feedserver.Option{
		feedserver.WithMetrics(a.metrics),
		feedserver.WithSendBuffer(a.cfg.Server.SendBuffer),
		feedserver.WithWriteTimeout(a.cfg.Server.WriteTimeout),
	}
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		opts = append(opts, feedserver.WithAcceptOptions(&websocket.AcceptOptions{
			OriginPatterns: a.cfg.Server.AllowedOrigins,
		}))
	}
	a.hub = feedserver.New(a.history, opts...)
	a.closers = append([]func() error{a.hub.Close}, a.closers...)
}

func (a *App) initHealth() {
	var checkers []health.Checker
	if p, ok := a.history.(health.Pinger); ok {
		checkers = append(checkers, health.PingChecker("history", p))
	}
	if b, ok := a.meta.(interface {
		Breaker() *resilience.CircuitBreaker
	}); ok {
		checkers = append(checkers, health.BreakerChecker("metadata", b.Breaker()))
	}
	a.health = health.New(checkers...)
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.hub.Register(mux)
	a.health.Register(mux)
	if a.meta != nil {
		mux.HandleFunc("GET /sessions/{id}", a.handleSessionInfo)
	}
	if path := a.metricsPath(); path != "" {
		mux.Handle("GET "+path, observe.MetricsHandler())
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) metricsPath() string {
	switch p := a.cfg.Observe.MetricsPath; p {
	case "":
		return "/metrics"
	case "-":
		return ""
	default:
		return p
	}
}

// handleSessionInfo lets browser viewers decide between following the live
// feed and loading the archived track.
func (a *App) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.meta.Status(r.Context(), r.PathValue("id"))
	status := http.StatusOK
	var body any = info
	switch {
	case errors.Is(err, metadata.ErrUnknownSession):
		status, body = http.StatusNotFound, map[string]string{"error": err.Error()}
	case errors.Is(err, resilience.ErrCircuitOpen):
		status, body = http.StatusServiceUnavailable, map[string]string{"error": err.Error()}
	case err != nil:
		observe.Logger(r.Context()).Warn("app: session lookup failed", "err", err)
		status, body = http.StatusBadGateway, map[string]string{"error": "metadata lookup failed"}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Hub returns the caption feed hub.
func (a *App) Hub() *feedserver.Hub { return a.hub }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains the server. The hub is
// closed first so that subscribers see a going-away close and reconnect to
// the next instance. Run returns nil after a cancellation-triggered stop.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("feed server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = a.hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
