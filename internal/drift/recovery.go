package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/captionsync/pkg/media"
)

// DefaultMaxNetworkRetries bounds consecutive reloads after network faults.
const DefaultMaxNetworkRetries = 3

// ErrTerminal is wrapped by the error returned from [Recovery.Terminal] once
// playback cannot continue without user action.
var ErrTerminal = errors.New("drift: playback failed")

// RecoveryConfig holds the fault policy.
type RecoveryConfig struct {
	// MaxNetworkRetries is the number of reloads attempted for consecutive
	// fatal network faults. Zero selects 3; a negative value disables
	// retries.
	MaxNetworkRetries int
}

// Recovery applies the fault policy to a [media.Streamer].
type Recovery struct {
	st         media.Streamer
	url        string
	maxRetries int
	opts       options
	unsub      func()

	mu       sync.Mutex
	retries  int
	terminal error
}

// NewRecovery subscribes to st. url is what reloads and [Recovery.Retry] load.
func NewRecovery(st media.Streamer, url string, cfg RecoveryConfig, opts ...Option) *Recovery {
	maxRetries := cfg.MaxNetworkRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxNetworkRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	r := &Recovery{
		st:         st,
		url:        url,
		maxRetries: maxRetries,
		opts:       buildOptions(opts),
	}
	r.unsub = st.Subscribe(r.handle)
	return r
}

func (r *Recovery) handle(ev media.StreamerEvent) {
	switch ev.Type {
	case media.StreamerLoaded:
		r.mu.Lock()
		r.retries = 0
		r.mu.Unlock()
	case media.StreamerFault:
		if ev.Fault.Fatal {
			r.fault(ev.Fault)
		}
	}
}

func (r *Recovery) fault(f media.Fault) {
	r.mu.Lock()
	if r.terminal != nil {
		r.mu.Unlock()
		return
	}

	var action string
	switch f.Category {
	case media.FaultNetwork:
		if r.retries < r.maxRetries {
			r.retries++
			action = "reload"
		} else {
			r.terminal = fmt.Errorf("%w: network fault after %d retries: %s", ErrTerminal, r.maxRetries, f.Details)
			action = "terminal"
		}
	case media.FaultDecode:
		action = "recover"
	default:
		r.terminal = fmt.Errorf("%w: %s fault: %s", ErrTerminal, f.Category, f.Details)
		action = "terminal"
	}
	attempt := r.retries
	r.mu.Unlock()

	r.opts.metrics.RecordMediaFault(context.Background(), f.Category.String(), action)

	switch action {
	case "reload":
		slog.Warn("drift: network fault, reloading stream",
			"attempt", attempt, "max", r.maxRetries, "details", f.Details)
		if err := r.st.Load(r.url); err != nil {
			slog.Error("drift: reload failed", "url", r.url, "err", err)
		}
	case "recover":
		slog.Warn("drift: decode fault, recovering in place", "details", f.Details)
		r.st.RecoverMediaError()
	case "terminal":
		slog.Error("drift: unrecoverable playback fault",
			"category", f.Category.String(), "details", f.Details)
		r.st.Destroy()
	}
}

// Terminal returns the terminal error, or nil while playback can continue.
func (r *Recovery) Terminal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

// NetworkRetries returns the number of reloads since the last successful load.
func (r *Recovery) NetworkRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

// Retry clears the terminal state and the retry budget and loads the stream
// again. It is the user-triggered way out of a terminal fault.
func (r *Recovery) Retry() error {
	r.mu.Lock()
	r.terminal = nil
	r.retries = 0
	r.mu.Unlock()
	if err := r.st.Load(r.url); err != nil {
		return fmt.Errorf("drift: retry: %w", err)
	}
	return nil
}

// Close stops reacting to the streamer.
func (r *Recovery) Close() {
	r.unsub()
}
