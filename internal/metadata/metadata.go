// Package metadata looks up session information that decides how a viewer
// opens a session: a live session connects to the caption feed, an ended one
// loads its complete caption track once.
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/captionsync/pkg/caption"
)

// ErrUnknownSession is returned when no session has the requested id.
var ErrUnknownSession = errors.New("metadata: unknown session")

// Status is the broadcast state of a session.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
)

// SessionInfo describes one broadcast or recording.
type SessionInfo struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	StreamURL string     `json:"stream_url"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Service reads session metadata and archived caption tracks.
type Service interface {
	// Status returns the session's metadata or [ErrUnknownSession].
	Status(ctx context.Context, sessionID string) (SessionInfo, error)

	// Captions returns the session's complete caption track ordered by
	// start time.
	Captions(ctx context.Context, sessionID string) ([]caption.Segment, error)
}

// ShouldAutoConnect reports whether a viewer should open the live caption
// feed for info. Only live sessions have one.
func ShouldAutoConnect(info SessionInfo) bool {
	return info.Status == StatusLive
}
