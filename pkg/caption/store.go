package caption

import "sync"

// Store is the ordered collection of caption segments for one session.
//
// Segments are kept in arrival (or replay) order. The only mutations are
// [Store.Append], [Store.Replace] (history snapshot) and [Store.Clear]
// (session change). Every mutation bumps [Store.Version] so that derived
// views can tell whether they are stale.
//
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	segments []Segment
	version  uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds seg at the end of the store.
func (s *Store) Append(seg Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, seg)
	s.version++
}

// Replace discards the current contents and installs a copy of segments.
func (s *Store) Replace(segments []Segment) {
	cp := make([]Segment, len(segments))
	copy(cp, segments)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = cp
	s.version++
}

// Clear removes every segment.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = nil
	s.version++
}

// Len returns the number of segments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// Version returns a counter that increases on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a copy of the segments in order. The caller owns the slice.
func (s *Store) Snapshot() []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]Segment, len(s.segments))
	copy(cp, s.segments)
	return cp
}

// Last returns the most recently stored segment.
func (s *Store) Last() (Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.segments) == 0 {
		return Segment{}, false
	}
	return s.segments[len(s.segments)-1], true
}

// Lookup returns the segment with the given id.
func (s *Store) Lookup(id string) (Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, seg := range s.segments {
		if seg.ID == id {
			return seg, true
		}
	}
	return Segment{}, false
}

// Active returns the segment active at time t, using the same rule as [At].
func (s *Store) Active(t float64) (Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := At(s.segments, t); i >= 0 {
		return s.segments[i], true
	}
	return Segment{}, false
}
