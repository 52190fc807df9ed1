package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.SendBuffer < 0 {
		errs = append(errs, fmt.Errorf("server.send_buffer %d must be >= 0", cfg.Server.SendBuffer))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout %s must be >= 0", cfg.Server.WriteTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// History
	switch cfg.History.Backend {
	case "", HistoryMemory:
		if cfg.History.PostgresDSN != "" {
			slog.Warn("history.postgres_dsn is set but history.backend is memory; captions will not be persisted")
		}
	case HistoryPostgres:
		if cfg.History.PostgresDSN == "" {
			errs = append(errs, errors.New("history.postgres_dsn is required when history.backend is postgres"))
		}
	default:
		slog.Warn("unknown history backend; it must be registered before use", "backend", cfg.History.Backend)
	}

	// Feed
	if cfg.Feed.BaseURL != "" {
		u, err := url.Parse(cfg.Feed.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("feed.base_url: %w", err))
		case !isFeedScheme(u.Scheme):
			errs = append(errs, fmt.Errorf("feed.base_url scheme %q is invalid; valid values: ws, wss, http, https", u.Scheme))
		}
	}
	if cfg.Feed.PathTemplate != "" && !strings.Contains(cfg.Feed.PathTemplate, "{id}") {
		errs = append(errs, fmt.Errorf("feed.path_template %q must contain {id}", cfg.Feed.PathTemplate))
	}
	if cfg.Feed.InitialDelay < 0 || cfg.Feed.MaxDelay < 0 {
		errs = append(errs, errors.New("feed.initial_delay and feed.max_delay must be >= 0"))
	}
	if cfg.Feed.InitialDelay > 0 && cfg.Feed.MaxDelay > 0 && cfg.Feed.InitialDelay > cfg.Feed.MaxDelay {
		errs = append(errs, fmt.Errorf("feed.initial_delay %s exceeds feed.max_delay %s", cfg.Feed.InitialDelay, cfg.Feed.MaxDelay))
	}
	if cfg.Feed.Multiplier != 0 && cfg.Feed.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("feed.multiplier %.2f must be >= 1", cfg.Feed.Multiplier))
	}
	if cfg.Feed.DisplayDelay < 0 {
		errs = append(errs, fmt.Errorf("feed.display_delay %s must be >= 0", cfg.Feed.DisplayDelay))
	}

	// Drift
	if cfg.Drift.Tolerance < 0 || cfg.Drift.SafetyMargin < 0 || cfg.Drift.MinInterval < 0 {
		errs = append(errs, errors.New("drift durations must be >= 0"))
	}
	if cfg.Drift.Tolerance > 0 && cfg.Drift.SafetyMargin >= cfg.Drift.Tolerance {
		errs = append(errs, fmt.Errorf("drift.safety_margin %s must be smaller than drift.tolerance %s", cfg.Drift.SafetyMargin, cfg.Drift.Tolerance))
	}

	// Metadata
	switch cfg.Metadata.Backend {
	case "":
		if cfg.Metadata.URL != "" {
			slog.Warn("metadata.url is set but metadata.backend is empty; sessions are treated as live")
		}
	case MetadataPostgRST:
		if cfg.Metadata.URL == "" {
			errs = append(errs, errors.New("metadata.url is required when metadata.backend is postgrest"))
		}
	default:
		slog.Warn("unknown metadata backend; it must be registered before use", "backend", cfg.Metadata.Backend)
	}
	if b := cfg.Metadata.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("metadata.breaker values must be >= 0"))
	}

	return errors.Join(errs...)
}

func isFeedScheme(s string) bool {
	switch s {
	case "ws", "wss", "http", "https":
		return true
	}
	return false
}
