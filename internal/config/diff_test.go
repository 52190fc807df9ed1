package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/captionsync/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Feed:   config.FeedConfig{BaseURL: "wss://captions.example.com"},
		Drift:  config.DriftConfig{Tolerance: 20 * time.Second, SafetyMargin: 3 * time.Second},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(d config.ConfigDiff) bool {
				return d.LogLevelChanged && d.NewLogLevel == config.LogDebug
			},
		},
		{
			name:   "display delay",
			mutate: func(c *config.Config) { c.Feed.DisplayDelay = time.Second },
			check:  func(d config.ConfigDiff) bool { return d.DisplayDelayChanged },
		},
		{
			name:   "drift tolerance",
			mutate: func(c *config.Config) { c.Drift.Tolerance = 30 * time.Second },
			check:  func(d config.ConfigDiff) bool { return d.DriftChanged },
		},
		{
			name:   "drift min interval",
			mutate: func(c *config.Config) { c.Drift.MinInterval = 5 * time.Second },
			check:  func(d config.ConfigDiff) bool { return d.DriftChanged },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !tt.check(d) {
				t.Errorf("unexpected diff %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	next.Server.ListenAddr = ":9090"
	next.History = config.HistoryConfig{Backend: config.HistoryPostgres, PostgresDSN: "postgres://localhost/captions"}
	next.Server.TLS = &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}
	next.Drift.MaxNetworkRetries = 5

	d := config.Diff(baseConfig(), next)
	want := []string{"server.listen_addr", "server.tls", "history", "drift.max_network_retries"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.DriftChanged || d.LogLevelChanged {
		t.Errorf("hot-reload flags set: %+v", d)
	}
}

func TestDiff_TLSComparedByValue(t *testing.T) {
	t.Parallel()
	a, b := baseConfig(), baseConfig()
	a.Server.TLS = &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}
	b.Server.TLS = &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}
	if d := config.Diff(a, b); d.Changed() {
		t.Errorf("equal TLS configs reported as changed: %+v", d)
	}
}
