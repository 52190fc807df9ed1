// Package feedserver serves live caption feeds over WebSocket.
//
// Every subscriber of a session first receives a history message with all
// confirmed captions stored so far, then every interim and confirmed message
// published afterwards. Subscribing and publishing for one session are
// serialised, so the history a subscriber receives and the broadcasts that
// follow it never overlap and never leave a gap.
package feedserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/pkg/caption"
	"github.com/MrWong99/captionsync/pkg/feed"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

var (
	// ErrClosed is returned by publish operations after [Hub.Close].
	ErrClosed = errors.New("feedserver: hub closed")

	// ErrInvalidCaption wraps validation failures of published captions.
	ErrInvalidCaption = errors.New("feedserver: invalid caption")
)

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithSendBuffer sets how many messages may queue for one subscriber before
// it is dropped as too slow.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithWriteTimeout bounds a single websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithAcceptOptions overrides the websocket handshake options, e.g. to set
// allowed origins.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(h *Hub) { h.acceptOpts = opts }
}

// WithNow replaces the clock used to stamp created_at on published captions.
func WithNow(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// Hub fans caption messages out to the websocket subscribers of each
// session. It is safe for concurrent use.
type Hub struct {
	store        HistoryStore
	metrics      *observe.Metrics
	sendBuffer   int
	writeTimeout time.Duration
	acceptOpts   *websocket.AcceptOptions
	now          func() time.Time

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

// room holds the subscribers of one session. Its mutex serialises history
// snapshots against broadcasts.
type room struct {
	mu    sync.Mutex
	subs  map[*subscriber]struct{}
	ended bool
}

// New creates a hub that replays history from store.
func New(store HistoryStore, opts ...Option) *Hub {
	h := &Hub{
		store:        store,
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		rooms:        make(map[string]*room),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register mounts the hub's routes on mux:
//
//	GET  /sessions/{id}/captions   websocket feed
//	POST /sessions/{id}/captions   ingest an interim or confirmed caption
//	POST /sessions/{id}/end        close the session's feed cleanly
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /sessions/{id}/captions", h.handleSubscribe)
	mux.HandleFunc("POST /sessions/{id}/captions", h.handleIngest)
	mux.HandleFunc("POST /sessions/{id}/end", h.handleEnd)
}

// room returns the room for sessionID, creating it on first use. It returns
// nil once the hub is closed.
func (h *Hub) room(sessionID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	r, ok := h.rooms[sessionID]
	if !ok {
		r = &room{subs: make(map[*subscriber]struct{})}
		h.rooms[sessionID] = r
	}
	return r
}

// lockRoom returns the live room for sessionID with its mutex held. A room
// ended between lookup and locking is skipped in favour of its successor.
func (h *Hub) lockRoom(sessionID string) (*room, error) {
	for {
		r := h.room(sessionID)
		if r == nil {
			return nil, ErrClosed
		}
		r.mu.Lock()
		if !r.ended {
			return r, nil
		}
		r.mu.Unlock()
	}
}

// Subscribers returns the number of subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// PublishInterim broadcasts provisional text for sessionID. Interim text is
// not stored.
func (h *Hub) PublishInterim(ctx context.Context, sessionID, text string) error {
	msg, err := feed.EncodeInterim(text)
	if err != nil {
		return fmt.Errorf("feedserver: publish interim: %w", err)
	}
	r, err := h.lockRoom(sessionID)
	if err != nil {
		return err
	}
	h.broadcastLocked(sessionID, r, msg)
	r.mu.Unlock()
	h.metrics.RecordPublished(ctx, feed.KindInterim)
	return nil
}

// PublishConfirmed stores seg and broadcasts it. A missing id is filled with
// a new UUID and a zero CreatedAt with the current time. The stored segment
// is returned.
func (h *Hub) PublishConfirmed(ctx context.Context, seg caption.Segment) (_ caption.Segment, err error) {
	ctx, span := observe.StartSessionSpan(ctx, "feedserver.PublishConfirmed", seg.SessionID)
	defer func() { observe.EndSpan(span, err) }()

	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = h.now().UTC()
	}
	if seg.SessionID == "" {
		return caption.Segment{}, fmt.Errorf("%w: session id is required", ErrInvalidCaption)
	}
	if err := seg.Validate(); err != nil {
		return caption.Segment{}, fmt.Errorf("%w: %w", ErrInvalidCaption, err)
	}
	msg, err := feed.EncodeConfirmed(seg)
	if err != nil {
		return caption.Segment{}, fmt.Errorf("feedserver: publish confirmed: %w", err)
	}

	r, err := h.lockRoom(seg.SessionID)
	if err != nil {
		return caption.Segment{}, err
	}
	defer r.mu.Unlock()
	if err := h.store.Append(ctx, seg); err != nil {
		return caption.Segment{}, fmt.Errorf("feedserver: publish confirmed: %w", err)
	}
	h.broadcastLocked(seg.SessionID, r, msg)
	h.metrics.RecordPublished(ctx, feed.KindConfirmed)
	return seg, nil
}

// EndSession closes every subscriber of sessionID with a normal closure so
// that clients do not reconnect.
func (h *Hub) EndSession(sessionID string) {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
	for s := range r.subs {
		s.shut(websocket.StatusNormalClosure, "session ended")
	}
	slog.Info("feedserver: session ended", "session_id", sessionID, "subscribers", len(r.subs))
}

// Close disconnects every subscriber with StatusGoingAway, which clients
// treat as unclean and reconnect after. Further subscriptions and publishes
// are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		r.ended = true
		for s := range r.subs {
			s.shut(websocket.StatusGoingAway, "server shutting down")
		}
		r.mu.Unlock()
	}
	return nil
}

// broadcastLocked queues msg for every subscriber of r. Subscribers whose
// queue is full are dropped.
func (h *Hub) broadcastLocked(sessionID string, r *room, msg []byte) {
	for s := range r.subs {
		if s.enqueue(msg) {
			continue
		}
		delete(r.subs, s)
		s.shut(websocket.StatusPolicyViolation, "subscriber too slow")
		h.release(s)
		h.metrics.SubscribersDropped.Add(context.Background(), 1)
		slog.Warn("feedserver: dropping slow subscriber", "session_id", sessionID)
	}
}

// subscribe sends the history snapshot to s and registers it for broadcasts
// in one step.
func (h *Hub) subscribe(ctx context.Context, sessionID string, s *subscriber) error {
	r, err := h.lockRoom(sessionID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	history, err := h.store.List(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("feedserver: load history: %w", err)
	}
	msg, err := feed.EncodeHistory(history)
	if err != nil {
		return fmt.Errorf("feedserver: encode history: %w", err)
	}
	s.enqueue(msg)
	r.subs[s] = struct{}{}
	h.metrics.FeedSubscribers.Add(ctx, 1)
	return nil
}

func (h *Hub) unsubscribe(sessionID string, s *subscriber) {
	defer h.release(s)
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, s)
}

// release uncounts s exactly once, however it left.
func (h *Hub) release(s *subscriber) {
	s.released.Do(func() {
		h.metrics.FeedSubscribers.Add(context.Background(), -1)
	})
}

func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	log := observe.SessionLogger(r.Context(), sessionID)

	conn, err := websocket.Accept(w, r, h.acceptOpts)
	if err != nil {
		log.Warn("feedserver: websocket accept failed", "err", err)
		return
	}
	ctx := conn.CloseRead(r.Context())

	s := newSubscriber(h.sendBuffer)
	if err := h.subscribe(ctx, sessionID, s); err != nil {
		log.Error("feedserver: subscribe failed", "err", err)
		code := websocket.StatusInternalError
		if errors.Is(err, ErrClosed) {
			code = websocket.StatusGoingAway
		}
		_ = conn.Close(code, "feed unavailable")
		return
	}
	defer h.unsubscribe(sessionID, s)

	log.Debug("feedserver: subscriber connected")
	s.writeLoop(ctx, conn, h.writeTimeout)
	log.Debug("feedserver: subscriber gone")
}

// subscriber is one websocket connection's outbound queue.
type subscriber struct {
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	released sync.Once

	// Set once, before done is closed.
	code   websocket.StatusCode
	reason string
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue queues msg without blocking. It reports false when the queue is
// full or the subscriber was shut.
func (s *subscriber) enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// shut asks the write loop to close the connection with code.
func (s *subscriber) shut(code websocket.StatusCode, reason string) {
	s.once.Do(func() {
		s.code = code
		s.reason = reason
		close(s.done)
	})
}

func (s *subscriber) writeLoop(ctx context.Context, conn *websocket.Conn, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			_ = conn.CloseNow()
			return
		case <-s.done:
			// A normal closure is final for the client, so everything queued
			// before it must still go out.
			if s.code == websocket.StatusNormalClosure && !s.drain(ctx, conn, timeout) {
				return
			}
			_ = conn.Close(s.code, s.reason)
			return
		case msg := <-s.send:
			if !write(ctx, conn, timeout, msg) {
				return
			}
		}
	}
}

// drain writes every message still queued. Nothing is queued after done is
// closed because shut and enqueue both run under the room lock.
func (s *subscriber) drain(ctx context.Context, conn *websocket.Conn, timeout time.Duration) bool {
	for {
		select {
		case msg := <-s.send:
			if !write(ctx, conn, timeout, msg) {
				return false
			}
		default:
			return true
		}
	}
}

// write sends msg within timeout. On failure the connection is torn down and
// false is returned.
func write(ctx context.Context, conn *websocket.Conn, timeout time.Duration, msg []byte) bool {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	err := conn.Write(wctx, websocket.MessageText, msg)
	cancel()
	if err != nil {
		_ = conn.CloseNow()
		return false
	}
	return true
}
