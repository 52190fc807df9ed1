package feedserver

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/captionsync/pkg/caption"
)

// ErrDuplicate is returned by [HistoryStore.Append] when a segment with the
// same id was already stored.
var ErrDuplicate = errors.New("feedserver: duplicate caption id")

// HistoryStore persists confirmed captions so that (re)connecting
// subscribers can be sent the full history of a session.
//
// Implementations must return segments in the order they were appended and
// must be safe for concurrent use.
type HistoryStore interface {
	Append(ctx context.Context, seg caption.Segment) error
	List(ctx context.Context, sessionID string) ([]caption.Segment, error)
}

// MemoryHistory is an in-process [HistoryStore]. History is lost on restart.
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]caption.Segment
	ids      map[string]struct{}
}

var _ HistoryStore = (*MemoryHistory)(nil)

// NewMemoryHistory returns an empty store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		sessions: make(map[string][]caption.Segment),
		ids:      make(map[string]struct{}),
	}
}

// Append implements [HistoryStore].
func (m *MemoryHistory) Append(_ context.Context, seg caption.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[seg.ID]; ok {
		return ErrDuplicate
	}
	m.ids[seg.ID] = struct{}{}
	m.sessions[seg.SessionID] = append(m.sessions[seg.SessionID], seg)
	return nil
}

// List implements [HistoryStore]. It never returns nil.
func (m *MemoryHistory) List(_ context.Context, sessionID string) ([]caption.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.sessions[sessionID])
	if out == nil {
		out = []caption.Segment{}
	}
	return out, nil
}
