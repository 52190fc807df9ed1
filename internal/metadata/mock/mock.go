// Package mock provides a test double for [metadata.Service].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/captionsync/internal/metadata"
	"github.com/MrWong99/captionsync/pkg/caption"
)

// Service is a mock implementation of [metadata.Service].
type Service struct {
	mu sync.Mutex

	// Info is returned by Status.
	Info metadata.SessionInfo

	// StatusError is returned by Status when non-nil.
	StatusError error

	// Track is returned by Captions.
	Track []caption.Segment

	// CaptionsError is returned by Captions when non-nil.
	CaptionsError error

	// StatusCalls and CaptionsCalls record the requested session ids.
	StatusCalls   []string
	CaptionsCalls []string
}

var _ metadata.Service = (*Service)(nil)

// Status implements [metadata.Service].
func (s *Service) Status(_ context.Context, sessionID string) (metadata.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusCalls = append(s.StatusCalls, sessionID)
	if s.StatusError != nil {
		return metadata.SessionInfo{}, s.StatusError
	}
	return s.Info, nil
}

// Captions implements [metadata.Service].
func (s *Service) Captions(_ context.Context, sessionID string) ([]caption.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CaptionsCalls = append(s.CaptionsCalls, sessionID)
	if s.CaptionsError != nil {
		return nil, s.CaptionsError
	}
	out := make([]caption.Segment, len(s.Track))
	copy(out, s.Track)
	return out, nil
}

// Calls returns how many times Status and Captions were called.
func (s *Service) Calls() (status, captions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.StatusCalls), len(s.CaptionsCalls)
}
