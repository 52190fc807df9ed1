package live

import "time"

// Clock schedules the client's deferred work: reconnect attempts and delayed
// caption display. Tests substitute a manually advanced implementation.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports false when the
	// callback already fired or was already stopped.
	Stop() bool
}

// systemClock is the [Clock] backed by the time package.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
