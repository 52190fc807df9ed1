// Package observe provides application-wide observability primitives for
// captionsync: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all captionsync metrics.
const meterName = "github.com/MrWong99/captionsync"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Live feed client ---

	// FeedConnectAttempts counts transport open attempts. Use with attribute:
	//   attribute.String("status", "ok" | "error")
	FeedConnectAttempts metric.Int64Counter

	// FeedReconnects counts scheduled reconnects after an unclean close.
	FeedReconnects metric.Int64Counter

	// FeedReconnectDelay tracks the backoff delay chosen for each reconnect.
	FeedReconnectDelay metric.Float64Histogram

	// FeedMessages counts decoded feed messages. Use with attribute:
	//   attribute.String("kind", ...)
	FeedMessages metric.Int64Counter

	// FeedMalformed counts discarded frames that failed to parse.
	FeedMalformed metric.Int64Counter

	// ConnectedFeeds tracks the number of feed clients currently connected.
	ConnectedFeeds metric.Int64UpDownCounter

	// --- Playback ---

	// DriftCorrections counts forced seeks back towards the live edge.
	DriftCorrections metric.Int64Counter

	// Drift tracks the measured live-edge drift at each correction, in seconds.
	Drift metric.Float64Histogram

	// MediaFaults counts fatal streaming faults. Use with attributes:
	//   attribute.String("category", ...), attribute.String("action", ...)
	MediaFaults metric.Int64Counter

	// --- Feed server ---

	// CaptionsPublished counts captions accepted by the feed server. Use with
	// attribute: attribute.String("kind", "interim" | "confirmed")
	CaptionsPublished metric.Int64Counter

	// FeedSubscribers tracks the number of websocket subscribers across all
	// sessions.
	FeedSubscribers metric.Int64UpDownCounter

	// SubscribersDropped counts subscribers closed for falling behind.
	SubscribersDropped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// delayBuckets covers reconnect backoff delays from 100ms up to a few minutes.
var delayBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30, 60, 120,
}

// driftBuckets covers drift values around the 20s default tolerance.
var driftBuckets = []float64{
	5, 10, 20, 30, 45, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Live feed client.
	if met.FeedConnectAttempts, err = m.Int64Counter("captionsync.feed.connect_attempts",
		metric.WithDescription("Caption feed transport open attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.FeedReconnects, err = m.Int64Counter("captionsync.feed.reconnects",
		metric.WithDescription("Reconnects scheduled after an unclean close."),
	); err != nil {
		return nil, err
	}
	if met.FeedReconnectDelay, err = m.Float64Histogram("captionsync.feed.reconnect_delay",
		metric.WithDescription("Backoff delay chosen for each scheduled reconnect."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(delayBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FeedMessages, err = m.Int64Counter("captionsync.feed.messages",
		metric.WithDescription("Decoded caption feed messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.FeedMalformed, err = m.Int64Counter("captionsync.feed.malformed",
		metric.WithDescription("Caption feed frames discarded because they failed to parse."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedFeeds, err = m.Int64UpDownCounter("captionsync.feed.connected",
		metric.WithDescription("Number of caption feed clients currently connected."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.DriftCorrections, err = m.Int64Counter("captionsync.playback.drift_corrections",
		metric.WithDescription("Forced seeks back towards the live edge."),
	); err != nil {
		return nil, err
	}
	if met.Drift, err = m.Float64Histogram("captionsync.playback.drift",
		metric.WithDescription("Live-edge drift measured when a correction fired."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(driftBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MediaFaults, err = m.Int64Counter("captionsync.playback.media_faults",
		metric.WithDescription("Fatal streaming faults by category and recovery action."),
	); err != nil {
		return nil, err
	}

	// Feed server.
	if met.CaptionsPublished, err = m.Int64Counter("captionsync.server.captions_published",
		metric.WithDescription("Captions accepted by the feed server by kind."),
	); err != nil {
		return nil, err
	}
	if met.FeedSubscribers, err = m.Int64UpDownCounter("captionsync.server.subscribers",
		metric.WithDescription("Number of websocket subscribers across all sessions."),
	); err != nil {
		return nil, err
	}
	if met.SubscribersDropped, err = m.Int64Counter("captionsync.server.subscribers_dropped",
		metric.WithDescription("Subscribers closed because they fell behind the broadcast."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("captionsync.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordConnectAttempt records a transport open attempt.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, status string) {
	m.FeedConnectAttempts.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordReconnect records a scheduled reconnect and its delay in seconds.
func (m *Metrics) RecordReconnect(ctx context.Context, delaySeconds float64) {
	m.FeedReconnects.Add(ctx, 1)
	m.FeedReconnectDelay.Record(ctx, delaySeconds)
}

// RecordFeedMessage records a decoded message of the given kind.
func (m *Metrics) RecordFeedMessage(ctx context.Context, kind string) {
	m.FeedMessages.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordDriftCorrection records one forced seek and the drift that caused it.
func (m *Metrics) RecordDriftCorrection(ctx context.Context, driftSeconds float64) {
	m.DriftCorrections.Add(ctx, 1)
	m.Drift.Record(ctx, driftSeconds)
}

// RecordMediaFault records a fatal streaming fault and the action taken.
func (m *Metrics) RecordMediaFault(ctx context.Context, category, action string) {
	m.MediaFaults.Add(ctx, 1,
		metric.WithAttributes(
			Attr("category", category),
			Attr("action", action),
		),
	)
}

// RecordPublished records a caption accepted by the feed server.
func (m *Metrics) RecordPublished(ctx context.Context, kind string) {
	m.CaptionsPublished.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}
