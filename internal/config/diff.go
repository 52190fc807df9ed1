package config

import "slices"

// ConfigDiff describes what changed between two configs. Hot-reloadable
// settings are reported individually; everything else is listed in
// RestartRequired by its YAML path.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DisplayDelayChanged bool

	// DriftChanged is true when tolerance, safety margin or min interval
	// changed.
	DriftChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart, in schema order.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DisplayDelayChanged || d.DriftChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Feed.DisplayDelay != new.Feed.DisplayDelay {
		d.DisplayDelayChanged = true
	}
	if old.Drift.Tolerance != new.Drift.Tolerance ||
		old.Drift.SafetyMargin != new.Drift.SafetyMargin ||
		old.Drift.MinInterval != new.Drift.MinInterval {
		d.DriftChanged = true
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("server.send_buffer", old.Server.SendBuffer != new.Server.SendBuffer)
	restart("server.write_timeout", old.Server.WriteTimeout != new.Server.WriteTimeout)
	restart("history", old.History != new.History)
	restart("feed.base_url", old.Feed.BaseURL != new.Feed.BaseURL)
	restart("feed.path_template", old.Feed.PathTemplate != new.Feed.PathTemplate)
	restart("feed.backoff", old.Feed.InitialDelay != new.Feed.InitialDelay ||
		old.Feed.MaxDelay != new.Feed.MaxDelay || old.Feed.Multiplier != new.Feed.Multiplier)
	restart("feed.stream_url", old.Feed.StreamURL != new.Feed.StreamURL)
	restart("drift.max_network_retries", old.Drift.MaxNetworkRetries != new.Drift.MaxNetworkRetries)
	restart("metadata", old.Metadata != new.Metadata)
	restart("observability", old.Observe != new.Observe)

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
