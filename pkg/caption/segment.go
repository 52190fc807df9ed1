// Package caption defines the caption segment type shared by every layer of
// captionsync and the ordered, append-only [Store] that holds the segments of
// one session.
//
// A segment covers the half-open interval [Start, End) in seconds of media
// time. Segments are immutable once created; the store only ever appends new
// ones or replaces its whole contents with a replayed history snapshot.
package caption

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned by [Segment.Validate] when Start is not strictly
// before End.
var ErrInvalidRange = errors.New("caption: start_time must be before end_time")

// Segment is one timed, transcribed utterance.
type Segment struct {
	// ID is an opaque token unique within the session.
	ID string `json:"id"`

	// SessionID identifies the broadcast or recording the segment belongs to.
	SessionID string `json:"session_id"`

	// Start is the inclusive start of the segment in seconds of media time.
	Start float64 `json:"start_time"`

	// End is the exclusive end of the segment in seconds of media time.
	End float64 `json:"end_time"`

	// Text is the transcribed utterance (UTF-8).
	Text string `json:"text"`

	// Speaker names the speaker when diarization is available. May be empty.
	Speaker string `json:"speaker,omitempty"`

	// Confidence is the recogniser confidence in [0, 1]. Nil when unreported.
	Confidence *float64 `json:"confidence,omitempty"`

	// CreatedAt is when the segment was confirmed by the transcriber.
	CreatedAt time.Time `json:"created_at"`
}

// Validate reports whether s is well-formed.
func (s Segment) Validate() error {
	if s.ID == "" {
		return errors.New("caption: id is required")
	}
	if !(s.Start < s.End) {
		return fmt.Errorf("%w (start=%g end=%g)", ErrInvalidRange, s.Start, s.End)
	}
	if s.Confidence != nil && (*s.Confidence < 0 || *s.Confidence > 1) {
		return fmt.Errorf("caption: confidence %g is out of range [0, 1]", *s.Confidence)
	}
	return nil
}

// Contains reports whether t falls inside [Start, End).
func (s Segment) Contains(t float64) bool {
	return s.Start <= t && t < s.End
}

// Duration returns the length of the segment.
func (s Segment) Duration() time.Duration {
	return time.Duration((s.End - s.Start) * float64(time.Second))
}

// At returns the index of the segment active at time t, or -1 when t falls in
// a gap or outside every segment. Gaps are never rounded to a neighbour.
//
// When segments touch (one's End equals the next one's Start) the later
// segment wins at the shared instant because End is exclusive. The scan is
// linear; sessions are expected to hold at most a few thousand segments.
func At(segments []Segment, t float64) int {
	for i := range segments {
		if segments[i].Contains(t) {
			return i
		}
	}
	return -1
}
