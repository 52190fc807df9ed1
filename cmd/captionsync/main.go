// Command captionsync runs the caption feed server or follows a session's
// captions from the terminal.
//
// Usage:
//
//	captionsync serve  -config captionsync.yaml
//	captionsync follow -config captionsync.yaml -session <id> [-highlight text [-sounds-like]]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/captionsync/internal/app"
	"github.com/MrWong99/captionsync/internal/config"
	"github.com/MrWong99/captionsync/internal/feedserver"
	"github.com/MrWong99/captionsync/internal/metadata"
	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/internal/resilience"
	"github.com/MrWong99/captionsync/internal/viewer"
)

// version is set at build time via -ldflags.
var version = "dev"

// logLevel is shared by every handler so the level can change on reload.
var logLevel slog.LevelVar

func main() {
	os.Exit(run(os.Args[1:]))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: captionsync <serve|follow> [flags]")
	fmt.Fprintln(os.Stderr, "  serve   run the caption feed server")
	fmt.Fprintln(os.Stderr, "  follow  print a session's captions as they become active")
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	switch args[0] {
	case "serve":
		return serve(args[1:])
	case "follow":
		return follow(args[1:])
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "captionsync: unknown command %q\n", args[0])
		usage()
		return 2
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serve(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "captionsync.yaml", "path to the YAML configuration file")
	listen := fs.String("listen", "", "override server.listen_addr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	watcher, code := startWatcher(*configPath, nil)
	if watcher == nil {
		return code
	}
	defer watcher.Stop()
	cfg := clone(watcher.Current())
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}

	slog.Info("captionsync starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"history", cfg.History.Backend,
		"metadata", cfg.Metadata.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observe.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() { _ = shutdownOTel(context.Background()) }()

	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	application, err := app.New(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── follow ────────────────────────────────────────────────────────────────────

func follow(args []string) int {
	fs := flag.NewFlagSet("follow", flag.ContinueOnError)
	configPath := fs.String("config", "captionsync.yaml", "path to the YAML configuration file")
	sessionID := fs.String("session", "", "session id to follow (required)")
	feedURL := fs.String("feed", "", "override feed.base_url")
	highlight := fs.String("highlight", "", "mark captions containing this text")
	soundsLike := fs.Bool("sounds-like", false, "match -highlight phonetically")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "captionsync follow: -session is required")
		return 2
	}

	var follower atomic.Pointer[app.Follower]
	watcher, code := startWatcher(*configPath, func(d config.ConfigDiff, cfg *config.Config) {
		if f := follower.Load(); f != nil {
			f.Apply(d, cfg)
		}
	})
	if watcher == nil {
		return code
	}
	defer watcher.Stop()
	cfg := clone(watcher.Current())
	if *feedURL != "" {
		cfg.Feed.BaseURL = *feedURL
	}

	reg := config.NewRegistry()
	registerBuiltinBackends(reg)
	meta, err := reg.CreateMetadata(cfg.Metadata)
	if err != nil {
		slog.Error("failed to create metadata service", "err", err)
		return 1
	}

	opts := []app.FollowOption{
		app.FollowOutput(os.Stdout),
		app.FollowHighlight(*highlight, *soundsLike),
	}
	if meta != nil {
		opts = append(opts, app.FollowMetadata(meta))
	}
	f, err := app.NewFollower(cfg, *sessionID, opts...)
	if err != nil {
		slog.Error("failed to create follower", "err", err)
		return 1
	}
	follower.Store(f)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := f.Run(ctx); err != nil {
		switch {
		case errors.Is(err, metadata.ErrUnknownSession):
			fmt.Fprintf(os.Stderr, "captionsync: session %q not found\n", *sessionID)
		case errors.Is(err, viewer.ErrNoFeed):
			fmt.Fprintln(os.Stderr, "captionsync: session is live; set feed.base_url or pass -feed")
		default:
			slog.Error("follow error", "err", err)
		}
		return 1
	}
	return 0
}

// ── Configuration ─────────────────────────────────────────────────────────────

// startWatcher loads path, installs the logger and keeps watching the file.
// Hot-reloadable settings are applied in place; apply receives the diff for
// command-specific settings. On failure it returns a nil watcher and an exit
// code.
func startWatcher(path string, apply func(config.ConfigDiff, *config.Config)) (*config.Watcher, int) {
	w, err := config.NewWatcher(path, func(old, cur *config.Config) {
		d := config.Diff(old, cur)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes require a restart", "fields", d.RestartRequired)
		}
		if apply != nil && d.Changed() {
			apply(d, cur)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "captionsync: config file %q not found\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "captionsync: %v\n", err)
		}
		return nil, 1
	}

	cfg := w.Current()
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))
	return w, 0
}

// clone returns a copy of cfg that flag overrides may change without
// affecting the watcher's reload diff.
func clone(cfg *config.Config) *config.Config {
	c := *cfg
	return &c
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the history and metadata backends that ship
// with captionsync into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterHistory(config.HistoryMemory, func(context.Context, config.HistoryConfig) (feedserver.HistoryStore, error) {
		return feedserver.NewMemoryHistory(), nil
	})
	reg.RegisterHistory(config.HistoryPostgres, func(ctx context.Context, cfg config.HistoryConfig) (feedserver.HistoryStore, error) {
		h, err := feedserver.NewPostgresHistory(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
	reg.RegisterMetadata(config.MetadataPostgRST, func(cfg config.MetadataConfig) (metadata.Service, error) {
		p, err := metadata.NewPostgREST(metadata.PostgRESTConfig{
			URL:           cfg.URL,
			APIKey:        cfg.APIKey,
			SessionsTable: cfg.SessionsTable,
			CaptionsTable: cfg.CaptionsTable,
			Breaker: resilience.CircuitBreakerConfig{
				Name:         "metadata",
				MaxFailures:  cfg.Breaker.MaxFailures,
				ResetTimeout: cfg.Breaker.ResetTimeout,
				HalfOpenMax:  cfg.Breaker.HalfOpenMax,
				OnStateChange: func(from, to resilience.State) {
					slog.Warn("metadata circuit breaker state changed", "from", from.String(), "to", to.String())
				},
			},
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
