// Package viewer wires the caption components of one session together.
//
// A [Session] owns one [caption.Store] and binds to it a [live.Client], a
// [playback.Synchronizer] and a [search.Engine]. Live sessions additionally
// get a [drift.Corrector] and a [drift.Recovery] on the streaming engine.
//
// [Session.Open] asks the metadata service how to open the session: a live
// session connects to the caption feed and loads the stream, an ended session
// loads its complete caption track once and never connects. Close tears the
// components down in reverse order.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/captionsync/internal/drift"
	"github.com/MrWong99/captionsync/internal/live"
	"github.com/MrWong99/captionsync/internal/metadata"
	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/internal/playback"
	"github.com/MrWong99/captionsync/internal/search"
	"github.com/MrWong99/captionsync/pkg/caption"
	"github.com/MrWong99/captionsync/pkg/media"
)

var (
	// ErrAlreadyOpen is returned by a second call to [Session.Open].
	ErrAlreadyOpen = errors.New("viewer: session already opened")

	// ErrClosed is returned by [Session.Open] after [Session.Close].
	ErrClosed = errors.New("viewer: session closed")

	// ErrNoFeed is returned by [Session.Open] for a live session when no
	// feed base URL is configured.
	ErrNoFeed = errors.New("viewer: no caption feed configured")
)

// Mode tells how a session was opened.
type Mode int

const (
	// ModeIdle means Open has not run, or the session is scheduled and has
	// nothing to show yet.
	ModeIdle Mode = iota

	// ModeLive means the caption feed is connected and playback follows the
	// live edge.
	ModeLive

	// ModeArchive means the complete caption track was loaded once.
	ModeArchive
)

// String returns the lowercase name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeLive:
		return "live"
	case ModeArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Config describes the session to open and the policies of its components.
type Config struct {
	// SessionID selects the session. Required.
	SessionID string

	// Feed configures the live caption client. Its SessionID is ignored.
	// Without a BaseURL no client is built and only archived sessions open.
	Feed live.Config

	// StreamURL is loaded when the metadata carries no stream URL.
	StreamURL string

	// Drift is the live-edge correction policy.
	Drift drift.Config

	// Recovery is the streaming fault policy.
	Recovery drift.RecoveryConfig
}

// Option configures a [Session].
type Option func(*Session)

// WithMetadata sets the service consulted by [Session.Open]. Without one,
// every session is treated as live.
func WithMetadata(svc metadata.Service) Option {
	return func(s *Session) { s.meta = svc }
}

// WithStreamer attaches the streaming engine that feeds the element. Without
// one, drift correction and fault recovery are disabled.
func WithStreamer(st media.Streamer) Option {
	return func(s *Session) { s.streamer = st }
}

// WithClientOptions passes extra options to the live client.
func WithClientOptions(opts ...live.Option) Option {
	return func(s *Session) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithSearchOptions passes options to the search engine, e.g. a custom
// matcher.
func WithSearchOptions(opts ...search.Option) Option {
	return func(s *Session) { s.searchOpts = append(s.searchOpts, opts...) }
}

// WithSegmentObserver registers fn for active segment changes of the
// playhead.
func WithSegmentObserver(fn func(seg caption.Segment, ok bool)) Option {
	return func(s *Session) { s.onSegment = fn }
}

// WithCaptionObserver registers fn for every caption confirmed on the live
// feed, after it has been stored.
func WithCaptionObserver(fn func(caption.Segment)) Option {
	return func(s *Session) { s.onCaption = fn }
}

// WithMetrics overrides the metrics instance passed to the live client and the
// drift components.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is the caption view of one broadcast or recording. It is safe for
// concurrent use.
type Session struct {
	cfg        Config
	el         media.Element
	streamer   media.Streamer
	meta       metadata.Service
	clientOpts []live.Option
	searchOpts []search.Option
	onSegment  func(caption.Segment, bool)
	onCaption  func(caption.Segment)
	metrics    *observe.Metrics

	store  *caption.Store
	client *live.Client
	sync   *playback.Synchronizer
	search *search.Engine

	mu        sync.Mutex
	opened    bool
	closed    bool
	mode      Mode
	info      metadata.SessionInfo
	corrector *drift.Corrector
	recovery  *drift.Recovery
	loaded    bool
	closeOnce sync.Once
}

// New builds a session bound to el. Nothing is connected or loaded until
// [Session.Open].
func New(cfg Config, el media.Element, opts ...Option) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("viewer: session id is required")
	}
	if el == nil {
		return nil, errors.New("viewer: media element is required")
	}
	s := &Session{cfg: cfg, el: el, store: caption.NewStore()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	if cfg.Feed.BaseURL != "" {
		feedCfg := cfg.Feed
		feedCfg.SessionID = cfg.SessionID
		clientOpts := append([]live.Option{
			live.WithStore(s.store),
			live.WithMetrics(s.metrics),
			live.WithObserver(s.confirmed),
		}, s.clientOpts...)
		client, err := live.New(feedCfg, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("viewer: %w", err)
		}
		s.client = client
	}

	var syncOpts []playback.Option
	if s.onSegment != nil {
		syncOpts = append(syncOpts, playback.WithSegmentObserver(s.onSegment))
	}
	s.sync = playback.New(s.store, el, syncOpts...)
	s.search = search.NewEngine(s.store, s.searchOpts...)
	return s, nil
}

// Open looks the session up and opens it in the matching mode. A nil
// metadata service, or a session reported live, connects the caption feed.
// An ended session loads its caption track. A scheduled session stays idle.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.opened:
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	s.mu.Unlock()

	log := observe.SessionLogger(ctx, s.cfg.SessionID)

	info := metadata.SessionInfo{ID: s.cfg.SessionID, Status: metadata.StatusLive}
	if s.meta != nil {
		var err error
		info, err = s.meta.Status(ctx, s.cfg.SessionID)
		if err != nil {
			return fmt.Errorf("viewer: session status: %w", err)
		}
	}

	switch {
	case metadata.ShouldAutoConnect(info):
		return s.openLive(log, info)
	case info.Status == metadata.StatusEnded:
		return s.openArchive(ctx, log, info)
	default:
		s.mu.Lock()
		s.info = info
		s.mu.Unlock()
		log.Info("viewer: session not live yet", "status", info.Status)
		return nil
	}
}

func (s *Session) openLive(log *slog.Logger, info metadata.SessionInfo) error {
	if s.client == nil {
		return ErrNoFeed
	}
	url := info.StreamURL
	if url == "" {
		url = s.cfg.StreamURL
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.info = info
	s.mode = ModeLive
	if s.streamer != nil {
		dopts := []drift.Option{drift.WithMetrics(s.metrics)}
		s.corrector = drift.NewCorrector(s.el, s.streamer, s.cfg.Drift, dopts...)
		if url != "" {
			s.recovery = drift.NewRecovery(s.streamer, url, s.cfg.Recovery, dopts...)
			s.loaded = true
		}
	}
	load := s.loaded
	s.mu.Unlock()

	if load {
		if err := s.streamer.Load(url); err != nil {
			return fmt.Errorf("viewer: load stream: %w", err)
		}
	}
	s.client.Connect()
	log.Info("viewer: following live session", "stream_url", url)
	return nil
}

func (s *Session) openArchive(ctx context.Context, log *slog.Logger, info metadata.SessionInfo) error {
	track, err := s.meta.Captions(ctx, s.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("viewer: load caption track: %w", err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.info = info
	s.mode = ModeArchive
	s.store.Replace(track)
	s.mu.Unlock()

	s.sync.Refresh()
	log.Info("viewer: loaded archived captions", "captions", len(track))
	return nil
}

// confirmed re-evaluates the active segment, since a caption may have landed
// under a still playhead.
func (s *Session) confirmed(seg caption.Segment) {
	s.sync.Refresh()
	if s.onCaption != nil {
		s.onCaption(seg)
	}
}

// Close stops every component. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		corrector, recovery, loaded := s.corrector, s.recovery, s.loaded
		s.mu.Unlock()

		if s.client != nil {
			_ = s.client.Close()
		}
		if recovery != nil {
			recovery.Close()
		}
		if corrector != nil {
			corrector.Close()
		}
		if loaded {
			s.streamer.Destroy()
		}
		s.sync.Close()
	})
	return nil
}

// SetDriftConfig replaces the correction policy of a live session.
func (s *Session) SetDriftConfig(cfg drift.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Drift = cfg
	if s.corrector != nil {
		s.corrector.SetConfig(cfg)
	}
}

// SetDisplayDelay changes the hold-back of newly confirmed captions.
func (s *Session) SetDisplayDelay(d time.Duration) {
	if s.client != nil {
		s.client.SetDisplayDelay(d)
	}
}

// Mode returns how the session was opened.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Info returns the metadata the session was opened with.
func (s *Session) Info() metadata.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Store returns the session's caption store.
func (s *Session) Store() *caption.Store { return s.store }

// Client returns the live caption client, or nil when no feed is configured.
func (s *Session) Client() *live.Client { return s.client }

// Playback returns the playhead synchronizer.
func (s *Session) Playback() *playback.Synchronizer { return s.sync }

// Search returns the search engine over the session's captions.
func (s *Session) Search() *search.Engine { return s.search }

// Corrector returns the drift corrector, or nil when the session is not live
// or has no streamer.
func (s *Session) Corrector() *drift.Corrector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrector
}

// Recovery returns the fault recovery, or nil when no stream was loaded.
func (s *Session) Recovery() *drift.Recovery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovery
}
