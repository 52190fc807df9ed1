// Package headless provides wall-clock driven implementations of the
// [media.Element] and [media.Streamer] interfaces for environments without a
// real media stack, such as the captionsync command-line follower.
//
// The [Player] advances its playhead in real time while playing and emits
// time-update and progress events on a fixed tick. The [Source] reports a
// live edge computed by a caller-supplied function, typically the end of the
// newest confirmed caption.
package headless

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/captionsync/pkg/media"
)

const defaultTick = 250 * time.Millisecond

// Option configures a [Player].
type Option func(*Player)

// WithTick sets the interval between time-update events. Default: 250ms.
func WithTick(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.tick = d
		}
	}
}

// WithNow overrides the wall clock. Intended for tests.
func WithNow(now func() time.Time) Option {
	return func(p *Player) {
		p.now = now
	}
}

// Player is a headless [media.Element]. Create with [NewPlayer] and release
// with [Player.Close]. It starts paused at position 0.
type Player struct {
	tick time.Duration
	now  func() time.Time

	mu        sync.Mutex
	base      float64
	startedAt time.Time
	playing   bool
	nextID    int
	subs      map[int]func(media.Event)

	done     chan struct{}
	stopOnce sync.Once
}

var _ media.Element = (*Player)(nil)

// NewPlayer creates a paused player and starts its tick loop.
func NewPlayer(opts ...Option) *Player {
	p := &Player{
		tick: defaultTick,
		now:  time.Now,
		subs: make(map[int]func(media.Event)),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.loop()
	return p
}

// CurrentTime implements [media.Element].
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() float64 {
	if !p.playing {
		return p.base
	}
	return p.base + p.now().Sub(p.startedAt).Seconds()
}

// SetCurrentTime implements [media.Element]. A time-update event follows.
func (p *Player) SetCurrentTime(t float64) {
	if t < 0 {
		t = 0
	}
	p.mu.Lock()
	p.base = t
	p.startedAt = p.now()
	p.mu.Unlock()
	p.emit(media.Event{Type: media.EventTimeUpdate, Time: t})
}

// Paused implements [media.Element].
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.playing
}

// Play implements [media.Element].
func (p *Player) Play() error {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return nil
	}
	p.playing = true
	p.startedAt = p.now()
	pos := p.base
	p.mu.Unlock()

	p.emit(media.Event{Type: media.EventPlay, Time: pos})
	return nil
}

// Pause implements [media.Element].
func (p *Player) Pause() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.base = p.positionLocked()
	p.playing = false
	pos := p.base
	p.mu.Unlock()

	p.emit(media.Event{Type: media.EventPause, Time: pos})
}

// Subscribe implements [media.Element].
func (p *Player) Subscribe(fn func(media.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// Close stops the tick loop. Safe to call multiple times.
func (p *Player) Close() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

func (p *Player) loop() {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			playing := p.playing
			pos := p.positionLocked()
			p.mu.Unlock()
			if !playing {
				continue
			}
			p.emit(media.Event{Type: media.EventTimeUpdate, Time: pos})
			p.emit(media.Event{Type: media.EventProgress, Time: pos})
		}
	}
}

// emit calls subscribers outside the lock so they may call back into p.
func (p *Player) emit(ev media.Event) {
	p.mu.Lock()
	fns := make([]func(media.Event), 0, len(p.subs))
	for _, id := range slices.Sorted(maps.Keys(p.subs)) {
		fns = append(fns, p.subs[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Source is a headless [media.Streamer] whose live edge is supplied by a
// function. Loading never fails and immediately reports [media.StreamerLoaded].
type Source struct {
	edge func() (float64, bool)

	mu     sync.Mutex
	url    string
	nextID int
	subs   map[int]func(media.StreamerEvent)
}

var _ media.Streamer = (*Source)(nil)

// NewSource creates a Source. edge may be nil, in which case the live edge is
// always unknown.
func NewSource(edge func() (float64, bool)) *Source {
	return &Source{
		edge: edge,
		subs: make(map[int]func(media.StreamerEvent)),
	}
}

// Load implements [media.Streamer].
func (s *Source) Load(url string) error {
	s.mu.Lock()
	s.url = url
	fns := slices.Collect(maps.Values(s.subs))
	s.mu.Unlock()

	for _, fn := range fns {
		fn(media.StreamerEvent{Type: media.StreamerLoaded})
	}
	return nil
}

// URL returns the most recently loaded URL.
func (s *Source) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// RecoverMediaError implements [media.Streamer]. There is no pipeline to
// recover, so it does nothing.
func (s *Source) RecoverMediaError() {}

// Destroy implements [media.Streamer].
func (s *Source) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = ""
}

// LiveEdge implements [media.Streamer].
func (s *Source) LiveEdge() (float64, bool) {
	if s.edge == nil {
		return 0, false
	}
	return s.edge()
}

// Subscribe implements [media.Streamer].
func (s *Source) Subscribe(fn func(media.StreamerEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
