// Package mock provides in-memory implementations of [media.Element] and
// [media.Streamer] for use in unit tests.
//
// Both mocks record every control call and let the test push events to the
// registered subscribers synchronously with Emit.
package mock

import (
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/captionsync/pkg/media"
)

// subscribers is a small registry of callbacks keyed by registration id.
type subscribers[E any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(E)
}

func (s *subscribers[E]) add(fn func(E)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(E))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers[E]) emit(ev E) {
	s.mu.Lock()
	fns := make([]func(E), 0, len(s.fns))
	for _, id := range slices.Sorted(maps.Keys(s.fns)) {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (s *subscribers[E]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// ─── Element ──────────────────────────────────────────────────────────────────

// Element is a mock implementation of [media.Element].
type Element struct {
	mu sync.Mutex

	// Time is the current playback position.
	Time float64

	// IsPaused is returned by [Element.Paused]. A zero Element is playing.
	IsPaused bool

	// PlayError is returned by [Element.Play].
	PlayError error

	// Seeks records every value passed to SetCurrentTime, in order.
	Seeks []float64

	subs subscribers[media.Event]
}

var _ media.Element = (*Element)(nil)

// CurrentTime implements [media.Element].
func (e *Element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Time
}

// SetCurrentTime implements [media.Element]. It records the seek and updates
// Time but does not emit an event.
func (e *Element) SetCurrentTime(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Time = t
	e.Seeks = append(e.Seeks, t)
}

// Paused implements [media.Element].
func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.IsPaused
}

// Play implements [media.Element].
func (e *Element) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.PlayError != nil {
		return e.PlayError
	}
	e.IsPaused = false
	return nil
}

// Pause implements [media.Element].
func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.IsPaused = true
}

// Subscribe implements [media.Element].
func (e *Element) Subscribe(fn func(media.Event)) func() {
	return e.subs.add(fn)
}

// Subscribers returns the number of active subscriptions.
func (e *Element) Subscribers() int {
	return e.subs.count()
}

// SeekCalls returns a copy of the recorded seeks.
func (e *Element) SeekCalls() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.Seeks))
	copy(out, e.Seeks)
	return out
}

// Emit delivers ev to every subscriber synchronously. Play, pause and time
// update events also update the mock's own state first.
func (e *Element) Emit(ev media.Event) {
	e.mu.Lock()
	switch ev.Type {
	case media.EventTimeUpdate:
		e.Time = ev.Time
	case media.EventPlay:
		e.IsPaused = false
	case media.EventPause:
		e.IsPaused = true
	}
	e.mu.Unlock()
	e.subs.emit(ev)
}

// ─── Streamer ─────────────────────────────────────────────────────────────────

// Streamer is a mock implementation of [media.Streamer].
type Streamer struct {
	mu sync.Mutex

	// Edge and HasEdge are returned by [Streamer.LiveEdge].
	Edge    float64
	HasEdge bool

	// LoadError is returned by [Streamer.Load].
	LoadError error

	// LoadCalls records every URL passed to Load.
	LoadCalls []string

	// CallCountRecover records how many times RecoverMediaError was called.
	CallCountRecover int

	// CallCountDestroy records how many times Destroy was called.
	CallCountDestroy int

	subs subscribers[media.StreamerEvent]
}

var _ media.Streamer = (*Streamer)(nil)

// Load implements [media.Streamer].
func (s *Streamer) Load(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoadCalls = append(s.LoadCalls, url)
	return s.LoadError
}

// RecoverMediaError implements [media.Streamer].
func (s *Streamer) RecoverMediaError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountRecover++
}

// Destroy implements [media.Streamer].
func (s *Streamer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountDestroy++
}

// LiveEdge implements [media.Streamer].
func (s *Streamer) LiveEdge() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Edge, s.HasEdge
}

// SetLiveEdge updates the reported live edge.
func (s *Streamer) SetLiveEdge(edge float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Edge = edge
	s.HasEdge = true
}

// Subscribe implements [media.Streamer].
func (s *Streamer) Subscribe(fn func(media.StreamerEvent)) func() {
	return s.subs.add(fn)
}

// Subscribers returns the number of active subscriptions.
func (s *Streamer) Subscribers() int {
	return s.subs.count()
}

// Loads returns a copy of the recorded Load URLs.
func (s *Streamer) Loads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.LoadCalls))
	copy(out, s.LoadCalls)
	return out
}

// Recovers returns how many times RecoverMediaError was called.
func (s *Streamer) Recovers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountRecover
}

// Destroys returns how many times Destroy was called.
func (s *Streamer) Destroys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountDestroy
}

// Emit delivers ev to every subscriber synchronously.
func (s *Streamer) Emit(ev media.StreamerEvent) {
	s.subs.emit(ev)
}
