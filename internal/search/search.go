// Package search finds captions containing a query and keeps a navigation
// pointer over the matches.
//
// [Compute] is a pure function of (segments, query). [Engine] binds it to a
// [caption.Store] and adds the one piece of user state, the current match.
package search

import (
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/captionsync/pkg/caption"
)

// Index is the result of matching a query against a caption list.
type Index struct {
	// Query is the normalised (trimmed) query.
	Query string

	// MatchIndices holds the positions of the matching segments in
	// ascending order.
	MatchIndices []int
}

// Normalize trims q. An empty result means "no query".
func Normalize(q string) string {
	return strings.TrimSpace(q)
}

// Matcher decides whether a caption text matches a normalised, non-empty
// query. Implementations must be safe for concurrent use.
type Matcher interface {
	Match(text, query string) bool
}

// MatcherFunc adapts a function to [Matcher].
type MatcherFunc func(text, query string) bool

// Match implements [Matcher].
func (f MatcherFunc) Match(text, query string) bool { return f(text, query) }

// Substring is the default matcher: text contains query, ignoring case.
var Substring Matcher = MatcherFunc(func(text, query string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(query))
})

// Compute returns the positions of every segment whose text contains query,
// ignoring case. A blank query matches nothing.
func Compute(segments []caption.Segment, query string) Index {
	return ComputeWith(segments, query, Substring)
}

// ComputeWith is [Compute] with a custom matcher.
func ComputeWith(segments []caption.Segment, query string, m Matcher) Index {
	q := Normalize(query)
	idx := Index{Query: q}
	if q == "" {
		return idx
	}
	for i, s := range segments {
		if m.Match(s.Text, q) {
			idx.MatchIndices = append(idx.MatchIndices, i)
		}
	}
	return idx
}

// Mode selects what [Engine.Filtered] returns.
type Mode int

const (
	// ModeMatches returns only matching segments. With a blank query every
	// segment is returned.
	ModeMatches Mode = iota

	// ModeAll returns every segment with matches flagged.
	ModeAll
)

// Entry is one row of a filtered caption view.
type Entry struct {
	caption.Segment

	// Position is the segment's index in the store.
	Position int

	// Match reports whether the segment matches the current query.
	Match bool
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMatcher replaces the default [Substring] matcher.
func WithMatcher(m Matcher) Option {
	return func(e *Engine) {
		if m != nil {
			e.matcher = m
		}
	}
}

// Engine searches a caption store. It is safe for concurrent use.
type Engine struct {
	store   *caption.Store
	matcher Matcher

	mu      sync.Mutex
	query   string
	pointer int

	// Memoised view of (store version, query).
	version  uint64
	computed bool
	segments []caption.Segment
	index    Index
}

// NewEngine creates an engine over store with an empty query.
func NewEngine(store *caption.Store, opts ...Option) *Engine {
	e := &Engine{store: store, matcher: Substring}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetQuery replaces the query. Any change resets the current match to the
// first match.
func (e *Engine) SetQuery(q string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q == e.query {
		return
	}
	e.query = q
	e.pointer = 0
	e.computed = false
}

// Query returns the query as set.
func (e *Engine) Query() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.query
}

// Index returns the current match result.
func (e *Engine) Index() Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.refreshLocked()
	idx.MatchIndices = slices.Clone(idx.MatchIndices)
	return idx
}

// MatchIndices returns the store positions of the matching segments.
func (e *Engine) MatchIndices() []int {
	return e.Index().MatchIndices
}

// MatchCount returns the number of matching segments.
func (e *Engine) MatchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.refreshLocked().MatchIndices)
}

// CurrentMatchIndex returns the position of the current match within the
// match list, or -1 when there are no matches.
func (e *Engine) CurrentMatchIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked(len(e.refreshLocked().MatchIndices))
}

// CurrentMatch returns the segment under the navigation pointer.
func (e *Engine) CurrentMatch() (caption.Segment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.refreshLocked()
	cur := e.currentLocked(len(idx.MatchIndices))
	if cur < 0 {
		return caption.Segment{}, false
	}
	return e.segments[idx.MatchIndices[cur]], true
}

// GoToNextMatch advances the pointer, wrapping from the last match to the
// first, and returns the new current match index.
func (e *Engine) GoToNextMatch() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.refreshLocked().MatchIndices)
	cur := e.currentLocked(n)
	if cur < 0 {
		return -1
	}
	e.pointer = (cur + 1) % n
	return e.pointer
}

// GoToPrevMatch moves the pointer back, wrapping from the first match to the
// last, and returns the new current match index.
func (e *Engine) GoToPrevMatch() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.refreshLocked().MatchIndices)
	cur := e.currentLocked(n)
	if cur < 0 {
		return -1
	}
	e.pointer = (cur - 1 + n) % n
	return e.pointer
}

// IsMatch reports whether the segment with the given id matches the query.
func (e *Engine) IsMatch(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.refreshLocked()
	for _, i := range idx.MatchIndices {
		if e.segments[i].ID == id {
			return true
		}
	}
	return false
}

// Filtered returns the caption view for mode.
func (e *Engine) Filtered(mode Mode) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.refreshLocked()

	match := make([]bool, len(e.segments))
	for _, i := range idx.MatchIndices {
		match[i] = true
	}

	out := make([]Entry, 0, len(e.segments))
	for i, s := range e.segments {
		if mode == ModeMatches && idx.Query != "" && !match[i] {
			continue
		}
		out = append(out, Entry{Segment: s, Position: i, Match: match[i]})
	}
	return out
}

// currentLocked maps the stored pointer onto a match list of length n. A
// pointer left beyond the end by a shrinking store falls back to 0.
func (e *Engine) currentLocked(n int) int {
	if n == 0 {
		return -1
	}
	if e.pointer >= n || e.pointer < 0 {
		e.pointer = 0
	}
	return e.pointer
}

// refreshLocked recomputes the index when the store or the query changed.
func (e *Engine) refreshLocked() Index {
	v := e.store.Version()
	if e.computed && v == e.version {
		return e.index
	}
	e.segments = e.store.Snapshot()
	e.index = ComputeWith(e.segments, e.query, e.matcher)
	e.version = v
	e.computed = true
	return e.index
}
