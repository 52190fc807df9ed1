// Package playback keeps a caption store aligned with a media element's
// playhead.
package playback

import (
	"sync"

	"github.com/MrWong99/captionsync/pkg/caption"
	"github.com/MrWong99/captionsync/pkg/media"
)

// Option configures a [Synchronizer].
type Option func(*Synchronizer)

// WithSegmentObserver registers fn to be called whenever the active segment
// changes. ok is false when the playhead moved into a gap.
func WithSegmentObserver(fn func(seg caption.Segment, ok bool)) Option {
	return func(s *Synchronizer) { s.onSegment = fn }
}

// Synchronizer tracks the playhead of a [media.Element] and resolves the
// caption active at that instant. The active segment is derived from
// (store, current time) on every call; nothing is cached.
type Synchronizer struct {
	store     *caption.Store
	el        media.Element
	onSegment func(caption.Segment, bool)
	unsub     func()

	mu       sync.Mutex
	now      float64
	playing  bool
	activeID string
	closed   bool
}

// New starts tracking el against store.
func New(store *caption.Store, el media.Element, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:   store,
		el:      el,
		now:     el.CurrentTime(),
		playing: !el.Paused(),
	}
	for _, o := range opts {
		o(s)
	}
	s.unsub = el.Subscribe(s.handle)
	return s
}

func (s *Synchronizer) handle(ev media.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch ev.Type {
	case media.EventTimeUpdate:
		s.now = ev.Time
	case media.EventPlay:
		s.playing = true
	case media.EventPause:
		s.playing = false
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Refresh()
}

// Refresh re-evaluates the active segment and notifies the observer if it
// changed. Callers invoke it after the store changes while the playhead is
// still.
func (s *Synchronizer) Refresh() {
	seg, ok := s.store.Active(s.CurrentTime())

	s.mu.Lock()
	id := ""
	if ok {
		id = seg.ID
	}
	changed := id != s.activeID
	s.activeID = id
	s.mu.Unlock()

	if changed && s.onSegment != nil {
		s.onSegment(seg, ok)
	}
}

// CurrentTime returns the last known playback position in seconds.
func (s *Synchronizer) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// IsPlaying reports whether the element is playing.
func (s *Synchronizer) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// CurrentSegment returns the segment with Start <= CurrentTime < End.
func (s *Synchronizer) CurrentSegment() (caption.Segment, bool) {
	return s.store.Active(s.CurrentTime())
}

// SeekTo moves the playhead to t seconds, e.g. when a caption is clicked.
func (s *Synchronizer) SeekTo(t float64) {
	if t < 0 {
		t = 0
	}
	s.el.SetCurrentTime(t)
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
	s.Refresh()
}

// Close stops tracking the element.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.unsub()
}
