package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/captionsync/internal/config"
	"github.com/MrWong99/captionsync/internal/drift"
	"github.com/MrWong99/captionsync/internal/live"
	"github.com/MrWong99/captionsync/internal/metadata"
	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/internal/search"
	"github.com/MrWong99/captionsync/internal/search/phonetic"
	"github.com/MrWong99/captionsync/internal/viewer"
	"github.com/MrWong99/captionsync/pkg/caption"
	"github.com/MrWong99/captionsync/pkg/media/headless"
)

// Follower is a headless viewer of one session. It plays a wall-clock
// playhead, follows the live caption feed (or loads the archived track) and
// prints every caption that becomes active.
type Follower struct {
	session *viewer.Session
	player  *headless.Player
	out     io.Writer
}

// FollowOption configures a [Follower].
type FollowOption func(*followOptions)

type followOptions struct {
	meta       metadata.Service
	out        io.Writer
	clientOpts []live.Option
	metrics    *observe.Metrics
	tick       time.Duration
	highlight  string
	soundsLike bool
}

// FollowMetadata sets the service that decides between live and archive mode.
func FollowMetadata(svc metadata.Service) FollowOption {
	return func(o *followOptions) { o.meta = svc }
}

// FollowOutput sets where active captions are printed. Default: io.Discard.
func FollowOutput(w io.Writer) FollowOption {
	return func(o *followOptions) { o.out = w }
}

// FollowClientOptions passes extra options to the live caption client.
func FollowClientOptions(opts ...live.Option) FollowOption {
	return func(o *followOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// FollowMetrics overrides the metrics instance.
func FollowMetrics(m *observe.Metrics) FollowOption {
	return func(o *followOptions) { o.metrics = m }
}

// FollowTick sets the playhead's time-update interval.
func FollowTick(d time.Duration) FollowOption {
	return func(o *followOptions) { o.tick = d }
}

// FollowHighlight marks printed captions that match query. With soundsLike
// the match is phonetic, so misspelled names are found too.
func FollowHighlight(query string, soundsLike bool) FollowOption {
	return func(o *followOptions) {
		o.highlight = query
		o.soundsLike = soundsLike
	}
}

// NewFollower builds a follower for sessionID using the feed and drift
// sections of cfg. The headless streamer reports the end of the newest
// caption as its live edge.
func NewFollower(cfg *config.Config, sessionID string, opts ...FollowOption) (*Follower, error) {
	o := followOptions{out: io.Discard}
	for _, opt := range opts {
		opt(&o)
	}

	var playerOpts []headless.Option
	if o.tick > 0 {
		playerOpts = append(playerOpts, headless.WithTick(o.tick))
	}
	f := &Follower{player: headless.NewPlayer(playerOpts...), out: o.out}

	source := headless.NewSource(func() (float64, bool) {
		last, ok := f.session.Store().Last()
		return last.End, ok
	})

	log := slog.With("session_id", sessionID)
	vopts := []viewer.Option{
		viewer.WithStreamer(source),
		viewer.WithSegmentObserver(f.active),
		viewer.WithCaptionObserver(func(seg caption.Segment) {
			log.Debug("caption confirmed", "caption_id", seg.ID, "start", seg.Start, "end", seg.End)
		}),
		viewer.WithClientOptions(append([]live.Option{
			live.WithStateObserver(func(s live.State) {
				log.Info("caption feed state", "state", s.String())
			}),
		}, o.clientOpts...)...),
	}
	if o.meta != nil {
		vopts = append(vopts, viewer.WithMetadata(o.meta))
	}
	if o.metrics != nil {
		vopts = append(vopts, viewer.WithMetrics(o.metrics))
	}
	if o.soundsLike {
		vopts = append(vopts, viewer.WithSearchOptions(search.WithMatcher(phonetic.New())))
	}

	session, err := viewer.New(viewer.Config{
		SessionID: sessionID,
		Feed:      FeedConfig(cfg.Feed),
		StreamURL: cfg.Feed.StreamURL,
		Drift:     DriftConfig(cfg.Drift),
		Recovery:  drift.RecoveryConfig{MaxNetworkRetries: cfg.Drift.MaxNetworkRetries},
	}, f.player, vopts...)
	if err != nil {
		f.player.Close()
		return nil, fmt.Errorf("app: follow: %w", err)
	}
	f.session = session
	session.Search().SetQuery(o.highlight)
	return f, nil
}

// FeedConfig converts the feed section into the live client's config.
func FeedConfig(c config.FeedConfig) live.Config {
	return live.Config{
		BaseURL:      c.BaseURL,
		PathTemplate: c.PathTemplate,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		DisplayDelay: c.DisplayDelay,
	}
}

// DriftConfig converts the drift section into the corrector's config.
func DriftConfig(c config.DriftConfig) drift.Config {
	return drift.Config{
		Tolerance:    c.Tolerance,
		SafetyMargin: c.SafetyMargin,
		MinInterval:  c.MinInterval,
	}
}

func (f *Follower) active(seg caption.Segment, ok bool) {
	if !ok {
		return
	}
	mark := " "
	if f.session.Search().IsMatch(seg.ID) {
		mark = "*"
	}
	if seg.Speaker != "" {
		fmt.Fprintf(f.out, "%s[%8.2f] %s: %s\n", mark, seg.Start, seg.Speaker, seg.Text)
		return
	}
	fmt.Fprintf(f.out, "%s[%8.2f] %s\n", mark, seg.Start, seg.Text)
}

// Run opens the session, starts the playhead and blocks until ctx is
// cancelled. The session is closed before Run returns.
func (f *Follower) Run(ctx context.Context) error {
	defer f.Close()

	if err := f.session.Open(ctx); err != nil {
		return fmt.Errorf("app: follow: %w", err)
	}
	info := f.session.Info()
	slog.Info("following session",
		"session_id", info.ID,
		"mode", f.session.Mode().String(),
		"title", info.Title,
	)
	if err := f.player.Play(); err != nil {
		return fmt.Errorf("app: follow: play: %w", err)
	}

	<-ctx.Done()
	return nil
}

// Apply hot-reloads the policies that a running follower can change.
func (f *Follower) Apply(d config.ConfigDiff, cfg *config.Config) {
	if d.DisplayDelayChanged {
		f.session.SetDisplayDelay(cfg.Feed.DisplayDelay)
	}
	if d.DriftChanged {
		f.session.SetDriftConfig(DriftConfig(cfg.Drift))
	}
}

// Session returns the underlying viewer session.
func (f *Follower) Session() *viewer.Session { return f.session }

// Close releases the session and stops the playhead. It is safe to call more
// than once.
func (f *Follower) Close() {
	_ = f.session.Close()
	f.player.Close()
}
