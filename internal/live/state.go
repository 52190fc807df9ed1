package live

// State is the connection state of a [Client].
type State int

const (
	// StateDisconnected means no transport exists and none is scheduled.
	StateDisconnected State = iota

	// StateConnecting means a transport is being opened, or a reconnect is
	// scheduled after an unclean close.
	StateConnecting

	// StateConnected means the transport is open and delivering messages.
	StateConnected

	// StateError means the last open attempt failed. A reconnect is still
	// scheduled unless the client was disconnected.
	StateError
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
