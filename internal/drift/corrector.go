// Package drift keeps live playback close to the broadcast edge and decides
// how to react to streaming faults.
//
// A [Corrector] reacts to buffer progress: when the playhead has fallen more
// than Tolerance behind the live edge it seeks to SafetyMargin before the
// edge. A [Recovery] applies the fault policy: bounded reloads for network
// faults, in-place recovery for decode faults, and a terminal state for
// everything else.
package drift

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/pkg/media"
)

const (
	// DefaultTolerance is how far behind the live edge playback may fall
	// before it is pulled forward.
	DefaultTolerance = 20 * time.Second

	// DefaultSafetyMargin is how far behind the live edge a correction lands.
	DefaultSafetyMargin = 3 * time.Second
)

// Config holds the correction policy.
type Config struct {
	// Tolerance is the maximum drift left alone. Zero selects 20s.
	Tolerance time.Duration

	// SafetyMargin is the distance from the live edge a correction seeks to.
	// Zero selects 3s.
	SafetyMargin time.Duration

	// MinInterval suppresses corrections that follow the previous one within
	// this duration. Zero never suppresses.
	MinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	return c
}

// Option configures a [Corrector] or a [Recovery].
type Option func(*options)

type options struct {
	metrics *observe.Metrics
	now     func() time.Time
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNow replaces the clock used for MinInterval.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Corrector pulls a live playhead forward when it drifts too far behind the
// edge. Corrections are purely reactive; nothing polls.
type Corrector struct {
	el    media.Element
	st    media.Streamer
	opts  options
	unsub func()

	mu          sync.Mutex
	cfg         Config
	corrections int
	last        time.Time
}

// NewCorrector subscribes to el and starts correcting against st's live edge.
func NewCorrector(el media.Element, st media.Streamer, cfg Config, opts ...Option) *Corrector {
	c := &Corrector{
		el:   el,
		st:   st,
		cfg:  cfg.withDefaults(),
		opts: buildOptions(opts),
	}
	c.unsub = el.Subscribe(c.handle)
	return c
}

func (c *Corrector) handle(ev media.Event) {
	if ev.Type != media.EventProgress || c.el.Paused() {
		return
	}
	edge, ok := c.st.LiveEdge()
	if !ok {
		return
	}
	current := c.el.CurrentTime()
	drift := edge - current

	c.mu.Lock()
	if drift <= c.cfg.Tolerance.Seconds() {
		c.mu.Unlock()
		return
	}
	now := c.opts.now()
	if c.cfg.MinInterval > 0 && !c.last.IsZero() && now.Sub(c.last) < c.cfg.MinInterval {
		c.mu.Unlock()
		return
	}
	target := edge - c.cfg.SafetyMargin.Seconds()
	c.last = now
	c.corrections++
	c.mu.Unlock()

	c.el.SetCurrentTime(target)
	c.opts.metrics.RecordDriftCorrection(context.Background(), drift)
	slog.Info("drift: playback pulled to live edge",
		"live_edge", edge, "current", current, "drift", drift, "target", target)
}

// Corrections returns how many seeks the corrector has performed.
func (c *Corrector) Corrections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrections
}

// SetConfig replaces the policy, e.g. after a configuration reload.
func (c *Corrector) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg.withDefaults()
}

// Config returns the effective policy.
func (c *Corrector) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Close stops reacting to the element.
func (c *Corrector) Close() {
	c.unsub()
}
