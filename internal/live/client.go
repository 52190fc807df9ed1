// Package live implements the client side of a live caption feed.
//
// A [Client] holds one transport to the feed of the selected session, applies
// the feed's history, interim and confirmed messages to a [caption.Store], and
// reconnects with exponential backoff after unclean closes. All state is
// mutated under a single mutex; each transport attempt is represented by a
// link value, and callbacks belonging to a link that is no longer current are
// ignored.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/pkg/caption"
	"github.com/MrWong99/captionsync/pkg/feed"
)

const (
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

// Config holds the feed location and the reconnect policy of a [Client].
type Config struct {
	// BaseURL is the feed host, e.g. "wss://captions.example.com".
	// http and https are mapped to ws and wss.
	BaseURL string

	// PathTemplate is appended to BaseURL; "{id}" is replaced by the escaped
	// session id. Defaults to [feed.DefaultPathTemplate].
	PathTemplate string

	// SessionID selects the initial session. It may be empty and set later
	// with [Client.SetSession].
	SessionID string

	// InitialDelay is the delay before the first reconnect attempt.
	// Defaults to 1s.
	InitialDelay time.Duration

	// MaxDelay caps the reconnect delay. Defaults to 30s.
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor. Defaults to 2.
	Multiplier float64

	// DisplayDelay holds back each confirmed caption before it is appended to
	// the store. Zero appends immediately.
	DisplayDelay time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithDialer replaces the websocket transport.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithClock replaces the system clock used for reconnect and display timers.
func WithClock(clk Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithStore makes the client write into s instead of a private store.
func WithStore(s *caption.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithObserver registers fn to receive every confirmed caption after it has
// been appended to the store.
func WithObserver(fn func(caption.Segment)) Option {
	return func(c *Client) { c.onCaption = fn }
}

// WithStateObserver registers fn to receive every connection state change.
func WithStateObserver(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is a reconnecting live caption feed client. It is safe for
// concurrent use.
type Client struct {
	baseURL      string
	pathTemplate string
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	displayDelay time.Duration

	dialer    Dialer
	clock     Clock
	store     *caption.Store
	onCaption func(caption.Segment)
	onState   func(State)
	metrics   *observe.Metrics

	mu        sync.Mutex
	sessionID string
	wanted    bool
	closed    bool
	state     State
	attempt   int
	interim   string
	link      *link
	retry     *pendingTimer
	display   *pendingTimer
	queue     []queued
}

// link is one transport attempt. conn is set once the transport opened and is
// guarded by Client.mu.
type link struct {
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	conn   Conn
}

// shutdown closes the transport and releases the attempt's context. A close
// handshake may block, so callers run it off the client's lock.
func (l *link) shutdown() {
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.cancel()
}

type pendingTimer struct {
	t Timer
}

type queued struct {
	seg caption.Segment
	due time.Time
}

// effects collects notifications and transports to close while the lock is
// held, to be delivered once it is released.
type effects struct {
	states   []State
	captions []caption.Segment
	stale    []*link
}

func (c *Client) deliver(e effects) {
	for _, l := range e.stale {
		go l.shutdown()
	}
	if c.onState != nil {
		for _, s := range e.states {
			c.onState(s)
		}
	}
	if c.onCaption != nil {
		for _, seg := range e.captions {
			c.onCaption(seg)
		}
	}
}

// New creates a disconnected client. It does not open a transport until
// [Client.Connect] is called.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("live: base URL is required")
	}
	c := &Client{
		baseURL:      cfg.BaseURL,
		pathTemplate: cfg.PathTemplate,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		multiplier:   cfg.Multiplier,
		displayDelay: cfg.DisplayDelay,
		sessionID:    cfg.SessionID,
		dialer:       WebSocketDialer{},
		clock:        systemClock{},
	}
	if c.pathTemplate == "" {
		c.pathTemplate = feed.DefaultPathTemplate
	}
	if c.initialDelay <= 0 {
		c.initialDelay = defaultInitialDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	if c.multiplier < 1 {
		c.multiplier = defaultMultiplier
	}
	if c.displayDelay < 0 {
		return nil, fmt.Errorf("live: display delay must be >= 0, got %s", cfg.DisplayDelay)
	}
	for _, o := range opts {
		o(c)
	}
	if c.store == nil {
		c.store = caption.NewStore()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.sessionID != "" {
		if _, err := feed.URL(c.baseURL, c.pathTemplate, c.sessionID); err != nil {
			return nil, fmt.Errorf("live: %w", err)
		}
	}
	return c, nil
}

// BackoffDelay returns min(maxDelay, initial × multiplier^attempt).
func BackoffDelay(initial, maxDelay time.Duration, multiplier float64, attempt int) time.Duration {
	d := float64(initial) * math.Pow(multiplier, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// Connect opens a transport to the current session's feed. It is a no-op
// while a transport is already open or opening. A scheduled reconnect is
// replaced by an immediate attempt.
func (c *Client) Connect() {
	var e effects
	c.mu.Lock()
	if !c.closed {
		c.wanted = true
		if c.link == nil && c.sessionID != "" {
			c.stopRetryLocked()
			c.openLocked(&e)
		}
	}
	c.mu.Unlock()
	c.deliver(e)
}

// Disconnect closes the transport and cancels any scheduled reconnect. No
// further attempt is made until [Client.Connect] is called again.
func (c *Client) Disconnect() {
	var e effects
	c.mu.Lock()
	c.wanted = false
	c.teardownLocked(&e)
	c.setStateLocked(StateDisconnected, &e)
	c.mu.Unlock()
	c.deliver(e)
}

// Close disconnects the client permanently.
func (c *Client) Close() error {
	c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// ClearCaptions empties the store and the interim text without touching the
// connection. Captions waiting for their display delay are dropped.
func (c *Client) ClearCaptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelDisplayLocked()
	c.interim = ""
	c.store.Clear()
}

// SetSession switches the client to another session. The current transport
// is torn down without counting as a failure, the store and interim text are
// cleared and the backoff counter is reset. If the client was connecting or
// connected it opens exactly one new transport for id.
func (c *Client) SetSession(id string) error {
	if id != "" {
		if _, err := feed.URL(c.baseURL, c.pathTemplate, id); err != nil {
			return fmt.Errorf("live: %w", err)
		}
	}

	var e effects
	c.mu.Lock()
	if id == c.sessionID {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked(&e)
	c.attempt = 0
	c.interim = ""
	c.store.Clear()
	c.sessionID = id
	if c.wanted && !c.closed && id != "" {
		c.openLocked(&e)
	} else {
		c.setStateLocked(StateDisconnected, &e)
	}
	c.mu.Unlock()
	c.deliver(e)
	return nil
}

// SetDisplayDelay changes the hold-back applied to captions confirmed from
// now on. Captions already queued keep their due time, and later captions
// are queued behind them so the store keeps delivery order. Negative values
// are treated as zero.
func (c *Client) SetDisplayDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayDelay = max(d, 0)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Interim returns the most recent unconfirmed caption text, or "".
func (c *Client) Interim() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim
}

// Attempt returns the reconnect attempt counter.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// SessionID returns the selected session.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Captions returns a copy of the confirmed captions in arrival order.
func (c *Client) Captions() []caption.Segment {
	return c.store.Snapshot()
}

// Store returns the store the client writes into.
func (c *Client) Store() *caption.Store {
	return c.store
}

// openLocked starts a new transport attempt for the current session.
func (c *Client) openLocked(e *effects) {
	url, err := feed.URL(c.baseURL, c.pathTemplate, c.sessionID)
	if err != nil {
		slog.Error("live: cannot resolve feed URL", "session_id", c.sessionID, "err", err)
		c.setStateLocked(StateError, e)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{url: url, ctx: ctx, cancel: cancel}
	c.link = l
	c.setStateLocked(StateConnecting, e)
	go c.run(l)
}

// teardownLocked detaches the current link, the scheduled reconnect and the
// display queue. Nothing it does schedules a reconnect.
func (c *Client) teardownLocked(e *effects) {
	c.stopRetryLocked()
	c.cancelDisplayLocked()
	c.interim = ""
	if c.link != nil {
		e.stale = append(e.stale, c.link)
		c.link = nil
	}
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.t.Stop()
		c.retry = nil
	}
}

func (c *Client) setStateLocked(s State, e *effects) {
	if c.state == s {
		return
	}
	ctx := context.Background()
	if c.state == StateConnected {
		c.metrics.ConnectedFeeds.Add(ctx, -1)
	}
	if s == StateConnected {
		c.metrics.ConnectedFeeds.Add(ctx, 1)
	}
	c.state = s
	e.states = append(e.states, s)
}

// run owns one link: it dials, then reads until the transport closes.
func (c *Client) run(l *link) {
	conn, err := c.dialer.Dial(l.ctx, l.url)
	if err != nil {
		c.dialFailed(l, err)
		return
	}
	if !c.opened(l, conn) {
		_ = conn.Close()
		return
	}
	for {
		data, err := conn.Read(l.ctx)
		if err != nil {
			c.closedBy(l, err)
			return
		}
		c.receive(l, data)
	}
}

func (c *Client) dialFailed(l *link, err error) {
	var e effects
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	l.cancel()
	c.metrics.RecordConnectAttempt(context.Background(), "error")
	slog.Warn("live: feed connection failed",
		"session_id", c.sessionID, "attempt", c.attempt, "err", err)
	c.setStateLocked(StateError, &e)
	c.scheduleRetryLocked()
	c.mu.Unlock()
	c.deliver(e)
}

func (c *Client) opened(l *link, conn Conn) bool {
	var e effects
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return false
	}
	l.conn = conn
	c.attempt = 0
	c.metrics.RecordConnectAttempt(context.Background(), "ok")
	slog.Info("live: feed connected", "session_id", c.sessionID)
	c.setStateLocked(StateConnected, &e)
	c.mu.Unlock()
	c.deliver(e)
	return true
}

func (c *Client) closedBy(l *link, err error) {
	var e effects
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	e.stale = append(e.stale, l)
	if errors.Is(err, ErrClosedCleanly) {
		// No history replay follows a clean close, so the display queue
		// keeps draining on its own timer.
		slog.Info("live: feed closed", "session_id", c.sessionID, "queued", len(c.queue))
		c.setStateLocked(StateDisconnected, &e)
	} else {
		// The reconnect replays the history, which includes anything still
		// waiting in the display queue.
		c.cancelDisplayLocked()
		slog.Warn("live: feed connection lost", "session_id", c.sessionID, "err", err)
		c.setStateLocked(StateConnecting, &e)
		c.scheduleRetryLocked()
	}
	c.mu.Unlock()
	c.deliver(e)
}

// scheduleRetryLocked arms the single reconnect timer and advances the
// attempt counter.
func (c *Client) scheduleRetryLocked() {
	if !c.wanted || c.closed {
		return
	}
	c.stopRetryLocked()
	delay := BackoffDelay(c.initialDelay, c.maxDelay, c.multiplier, c.attempt)
	c.attempt++
	p := &pendingTimer{}
	c.retry = p
	p.t = c.clock.AfterFunc(delay, func() { c.fireRetry(p) })
	c.metrics.RecordReconnect(context.Background(), delay.Seconds())
	slog.Info("live: reconnect scheduled",
		"session_id", c.sessionID, "attempt", c.attempt, "delay", delay)
}

func (c *Client) fireRetry(p *pendingTimer) {
	var e effects
	c.mu.Lock()
	if c.retry != p {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	if c.wanted && !c.closed && c.link == nil && c.sessionID != "" {
		c.openLocked(&e)
	}
	c.mu.Unlock()
	c.deliver(e)
}

func (c *Client) receive(l *link, data []byte) {
	msg, err := feed.Decode(data)

	var e effects
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	ctx := context.Background()
	switch {
	case errors.Is(err, feed.ErrUnknownKind):
		slog.Debug("live: ignoring feed message", "session_id", c.sessionID, "kind", msg.Kind)
	case err != nil:
		c.metrics.FeedMalformed.Add(ctx, 1)
		slog.Warn("live: discarding malformed feed message", "session_id", c.sessionID, "err", err)
	default:
		c.metrics.RecordFeedMessage(ctx, msg.Kind)
		c.applyLocked(msg, &e)
	}
	c.mu.Unlock()
	c.deliver(e)
}

func (c *Client) applyLocked(msg feed.Message, e *effects) {
	switch msg.Kind {
	case feed.KindHistory:
		// The snapshot is authoritative, including for captions that were
		// still waiting to be displayed.
		c.cancelDisplayLocked()
		c.store.Replace(msg.History)
	case feed.KindInterim:
		c.interim = msg.Interim
	case feed.KindConfirmed:
		c.interim = ""
		// Captions still waiting keep their place ahead of this one, even
		// when the delay has since been lowered to zero.
		if c.displayDelay > 0 || len(c.queue) > 0 {
			c.enqueueLocked(msg.Confirmed)
			return
		}
		c.store.Append(msg.Confirmed)
		e.captions = append(e.captions, msg.Confirmed)
	}
}
