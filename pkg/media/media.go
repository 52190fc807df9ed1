// Package media defines the collaborator interfaces captionsync consumes from
// the playback side: a media element that owns the playhead and an adaptive
// streaming engine that feeds it.
//
// The two abstractions are:
//
//   - [Element]: exposes the playback position, play/pause control and a
//     stream of [Event] notifications (position change, play, pause, buffer
//     progress).
//   - [Streamer]: loads a manifest, reports the live edge of a growing
//     broadcast and classifies fatal faults into [FaultCategory] values.
//
// Decoding is never done here; implementations wrap a platform media stack.
// This package lives under pkg/ so that host applications can provide their
// own implementations.
package media

// EventType classifies notifications emitted by an [Element].
type EventType int

const (
	// EventTimeUpdate is emitted whenever the playback position changes.
	EventTimeUpdate EventType = iota

	// EventPlay is emitted when playback starts or resumes.
	EventPlay

	// EventPause is emitted when playback pauses.
	EventPause

	// EventProgress is emitted when more media has been buffered.
	EventProgress
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventTimeUpdate:
		return "TIME_UPDATE"
	case EventPlay:
		return "PLAY"
	case EventPause:
		return "PAUSE"
	case EventProgress:
		return "PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to callbacks registered with [Element.Subscribe].
type Event struct {
	Type EventType

	// Time is the playback position in seconds when the event fired.
	Time float64
}

// Element is the media element abstraction. Exactly one owner drives an
// Element at a time; several observers may subscribe to it.
//
// Implementations must be safe for concurrent use.
type Element interface {
	// CurrentTime returns the playback position in seconds.
	CurrentTime() float64

	// SetCurrentTime moves the playhead to t seconds.
	SetCurrentTime(t float64)

	// Paused reports whether playback is paused.
	Paused() bool

	// Play starts or resumes playback.
	Play() error

	// Pause pauses playback.
	Pause()

	// Subscribe registers fn for every subsequent event. The returned function
	// removes the registration; after it returns fn is never called again.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// FaultCategory classifies a streaming engine failure.
type FaultCategory int

const (
	// FaultNetwork covers manifest/segment fetch failures.
	FaultNetwork FaultCategory = iota

	// FaultDecode covers media pipeline errors the engine can recover in place.
	FaultDecode

	// FaultOther covers everything else.
	FaultOther
)

// String returns the human-readable name of the category.
func (c FaultCategory) String() string {
	switch c {
	case FaultNetwork:
		return "network"
	case FaultDecode:
		return "decode"
	default:
		return "other"
	}
}

// Fault describes an error reported by a [Streamer].
type Fault struct {
	Category FaultCategory

	// Fatal is true when the engine cannot continue without intervention.
	Fatal bool

	// Details is a free-form description for logs.
	Details string
}

// StreamerEventType classifies notifications emitted by a [Streamer].
type StreamerEventType int

const (
	// StreamerLoaded is emitted once a manifest has been parsed successfully.
	StreamerLoaded StreamerEventType = iota

	// StreamerFault is emitted for every engine error; see [StreamerEvent.Fault].
	StreamerFault
)

// StreamerEvent is delivered to callbacks registered with [Streamer.Subscribe].
type StreamerEvent struct {
	Type  StreamerEventType
	Fault Fault
}

// Streamer is the adaptive-streaming engine abstraction.
//
// Implementations must be safe for concurrent use.
type Streamer interface {
	// Load starts (or restarts) loading the manifest at url.
	Load(url string) error

	// RecoverMediaError asks the engine to recover from a decode fault in place.
	RecoverMediaError()

	// Destroy releases every resource held by the engine.
	Destroy()

	// LiveEdge returns the newest playable position of a live broadcast.
	// ok is false when the edge is unknown (archive media or nothing loaded).
	LiveEdge() (edge float64, ok bool)

	// Subscribe registers fn for every subsequent engine event.
	Subscribe(fn func(StreamerEvent)) (unsubscribe func())
}
