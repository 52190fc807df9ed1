package live

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/captionsync/internal/observe"
	"github.com/MrWong99/captionsync/pkg/caption"
	"github.com/MrWong99/captionsync/pkg/feed"
)

var errAbnormal = errors.New("websocket: status = StatusAbnormalClosure")

func segment(id string, start, end float64, text string) caption.Segment {
	return caption.Segment{
		ID:        id,
		SessionID: "s1",
		Start:     start,
		End:       end,
		Text:      text,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// mustEncode returns a func that unwraps an encoder result, for example
// mustEncode(t)(feed.EncodeInterim("x")).
func mustEncode(t *testing.T) func([]byte, error) []byte {
	t.Helper()
	return func(b []byte, err error) []byte {
		t.Helper()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return b
	}
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) (*Client, *fakeDialer, *fakeClock) {
	t.Helper()
	d := &fakeDialer{}
	clk := newFakeClock()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://captions.example.com"
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "s1"
	}
	opts = append([]Option{WithDialer(d), WithClock(clk)}, opts...)
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, d, clk
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.State() == want })
}

func waitPending(t *testing.T, clk *fakeClock, want ...time.Duration) {
	t.Helper()
	waitFor(t, "scheduled timers", func() bool { return slices.Equal(clk.Pending(), want) })
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{200, 30 * time.Second},
		{5000, 30 * time.Second},
	}
	for _, tt := range tests {
		got := BackoffDelay(time.Second, 30*time.Second, 2, tt.attempt)
		if got != tt.want {
			t.Errorf("BackoffDelay(attempt=%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := New(Config{BaseURL: "ftp://host", SessionID: "s1"}); err == nil {
		t.Error("expected error for unsupported scheme")
	}
	if _, err := New(Config{BaseURL: "wss://host", DisplayDelay: -time.Second}); err == nil {
		t.Error("expected error for negative display delay")
	}

	c, err := New(Config{BaseURL: "wss://host"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("initial state = %s, want disconnected", c.State())
	}
	if c.Attempt() != 0 {
		t.Errorf("initial attempt = %d, want 0", c.Attempt())
	}
}

func TestClient_ConnectResolvesURL(t *testing.T) {
	t.Parallel()

	c, d, _ := newTestClient(t, Config{SessionID: "room 7"})
	c.Connect()
	waitState(t, c, StateConnected)

	want := "wss://captions.example.com/sessions/room%207/captions"
	if got := d.URL(0); got != want {
		t.Errorf("dialed %q, want %q", got, want)
	}

	// Connecting again while connected opens nothing new.
	c.Connect()
	time.Sleep(10 * time.Millisecond)
	if d.Calls() != 1 {
		t.Errorf("dial calls = %d, want 1", d.Calls())
	}
}

func TestClient_ConnectWithoutSessionIsIdle(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c, err := New(Config{BaseURL: "wss://host"}, WithDialer(d), WithClock(newFakeClock()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Connect()
	time.Sleep(10 * time.Millisecond)
	if d.Calls() != 0 {
		t.Errorf("dial calls = %d, want 0", d.Calls())
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}
}

func TestClient_ReconnectBackoff(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{})
	d.SetFail(true)
	c.Connect()
	waitState(t, c, StateError)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, delay := range want {
		waitPending(t, clk, delay)
		if got := c.Attempt(); got != i+1 {
			t.Fatalf("after schedule %d: attempt = %d, want %d", i, got, i+1)
		}
		if i < len(want)-1 {
			clk.Advance(delay)
		}
	}

	// The next attempt succeeds and resets the counter.
	d.SetFail(false)
	clk.Advance(30 * time.Second)
	waitState(t, c, StateConnected)
	if got := c.Attempt(); got != 0 {
		t.Errorf("attempt after successful open = %d, want 0", got)
	}
	if got := d.Calls(); got != len(want)+1 {
		t.Errorf("dial calls = %d, want %d", got, len(want)+1)
	}

	// The first reconnect after a fresh open starts from the initial delay.
	d.Conn(t, 0).Drop(errAbnormal)
	waitState(t, c, StateConnecting)
	waitPending(t, clk, 1*time.Second)
}

func TestClient_UncleanCloseReconnectsAndReplaysHistory(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{})
	c.Connect()
	waitState(t, c, StateConnected)

	first := d.Conn(t, 0)
	first.Send(t, mustEncode(t)(feed.EncodeHistory([]caption.Segment{
		segment("a", 0, 2, "one"),
		segment("b", 2, 4, "two"),
	})))
	waitFor(t, "history", func() bool { return c.Store().Len() == 2 })

	first.Drop(errAbnormal)
	waitState(t, c, StateConnecting)
	waitPending(t, clk, time.Second)
	waitFor(t, "old transport closed", first.IsClosed)

	clk.Advance(time.Second)
	waitState(t, c, StateConnected)

	second := d.Conn(t, 1)
	second.Send(t, mustEncode(t)(feed.EncodeHistory([]caption.Segment{
		segment("a", 0, 2, "one"),
		segment("b", 2, 4, "two"),
		segment("c", 4, 6, "three"),
	})))
	waitFor(t, "replayed history", func() bool { return c.Store().Len() == 3 })

	got := c.Captions()
	for i, id := range []string{"a", "b", "c"} {
		if got[i].ID != id {
			t.Errorf("captions[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestClient_DisconnectIsSticky(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{})
	c.Connect()
	waitState(t, c, StateConnected)

	d.Conn(t, 0).Drop(errAbnormal)
	waitPending(t, clk, time.Second)

	c.Disconnect()
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
	if p := clk.Pending(); len(p) != 0 {
		t.Fatalf("pending timers after disconnect = %v, want none", p)
	}

	clk.Advance(10 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	if got := d.Calls(); got != 1 {
		t.Errorf("dial calls after disconnect = %d, want 1", got)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestClient_DisconnectWhileConnected(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{})
	c.Connect()
	waitState(t, c, StateConnected)
	conn := d.Conn(t, 0)

	c.Disconnect()
	waitFor(t, "transport closed", conn.IsClosed)

	clk.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if got := d.Calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	if p := clk.Pending(); len(p) != 0 {
		t.Errorf("pending timers = %v, want none", p)
	}

	// An explicit Connect recovers.
	c.Connect()
	waitState(t, c, StateConnected)
	if got := d.Calls(); got != 2 {
		t.Errorf("dial calls after reconnect = %d, want 2", got)
	}
}

func TestClient_CleanCloseDoesNotReconnect(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{})
	c.Connect()
	waitState(t, c, StateConnected)

	d.Conn(t, 0).Drop(ErrClosedCleanly)
	waitState(t, c, StateDisconnected)

	clk.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if got := d.Calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	if p := clk.Pending(); len(p) != 0 {
		t.Errorf("pending timers = %v, want none", p)
	}
}

func TestClient_SetSessionClearsAndDialsOnce(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{SessionID: "a"})
	c.Connect()
	waitState(t, c, StateConnected)

	old := d.Conn(t, 0)
	old.Send(t, mustEncode(t)(feed.EncodeHistory([]caption.Segment{segment("x", 0, 1, "hi")})))
	old.Send(t, mustEncode(t)(feed.EncodeInterim("typing")))
	waitFor(t, "interim", func() bool { return c.Interim() == "typing" })

	if err := c.SetSession("b"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if n := c.Store().Len(); n != 0 {
		t.Errorf("store len after session change = %d, want 0", n)
	}
	if got := c.Interim(); got != "" {
		t.Errorf("interim after session change = %q, want empty", got)
	}
	if got := c.SessionID(); got != "b" {
		t.Errorf("session = %q, want b", got)
	}

	waitState(t, c, StateConnected)
	waitFor(t, "old transport closed", old.IsClosed)
	clk.Advance(10 * time.Minute)
	time.Sleep(10 * time.Millisecond)

	if got := d.Calls(); got != 2 {
		t.Fatalf("dial calls = %d, want 2", got)
	}
	if got := d.URL(1); !strings.HasSuffix(got, "/sessions/b/captions") {
		t.Errorf("second dial URL = %q, want session b", got)
	}
	if p := clk.Pending(); len(p) != 0 {
		t.Errorf("pending timers = %v, want none", p)
	}
	if got := c.Attempt(); got != 0 {
		t.Errorf("attempt = %d, want 0", got)
	}
}

func TestClient_SetSessionResetsBackoff(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{SessionID: "a"})
	d.SetFail(true)
	c.Connect()
	waitPending(t, clk, time.Second)
	clk.Advance(time.Second)
	waitPending(t, clk, 2*time.Second)

	if err := c.SetSession("b"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	// The old schedule is gone; the new session's first failure starts over.
	waitPending(t, clk, time.Second)
	if got := c.Attempt(); got != 1 {
		t.Errorf("attempt after first failure on new session = %d, want 1", got)
	}
	if got := d.Calls(); got != 3 {
		t.Errorf("dial calls = %d, want 3", got)
	}
}

func TestClient_SetSessionWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, d, _ := newTestClient(t, Config{SessionID: "a"})
	c.Store().Append(segment("x", 0, 1, "stale"))

	if err := c.SetSession("b"); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if d.Calls() != 0 {
		t.Errorf("dial calls = %d, want 0", d.Calls())
	}
	if c.Store().Len() != 0 {
		t.Errorf("store len = %d, want 0", c.Store().Len())
	}
	if err := c.SetSession(""); err != nil {
		t.Errorf("SetSession(\"\") = %v, want nil", err)
	}
}

func TestClient_HistoryThenConfirmed(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		observed []string
	)
	c, d, _ := newTestClient(t, Config{}, WithObserver(func(s caption.Segment) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, s.ID)
	}))
	c.Connect()
	waitState(t, c, StateConnected)

	conn := d.Conn(t, 0)
	conn.Send(t, mustEncode(t)(feed.EncodeHistory([]caption.Segment{
		segment("a", 0, 2, "안녕하세요"),
		segment("b", 2, 4, "예산 심의를 시작합니다"),
	})))
	conn.Send(t, mustEncode(t)(feed.EncodeInterim("다음 안건")))
	waitFor(t, "interim", func() bool { return c.Interim() == "다음 안건" })

	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("c", 4, 6, "다음 안건입니다"))))
	waitFor(t, "confirmed", func() bool { return c.Store().Len() == 3 })

	got := c.Captions()
	for i, id := range []string{"a", "b", "c"} {
		if got[i].ID != id {
			t.Errorf("captions[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
	if got := c.Interim(); got != "" {
		t.Errorf("interim = %q, want empty", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(observed, []string{"c"}) {
		t.Errorf("observer saw %v, want [c]", observed)
	}
}

func TestClient_MalformedFrameIgnored(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	c, d, _ := newTestClient(t, Config{}, WithMetrics(m))
	c.Connect()
	waitState(t, c, StateConnected)

	conn := d.Conn(t, 0)
	conn.Send(t, []byte("{not json"))
	conn.Send(t, []byte(`{"kind":"confirmed","payload":{"caption":{"id":"bad","start_time":5,"end_time":1,"text":"x"}}}`))
	conn.Send(t, []byte(`{"kind":"summary","payload":{}}`))
	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("ok", 0, 1, "fine"))))
	waitFor(t, "valid caption", func() bool { return c.Store().Len() == 1 })

	if got := c.State(); got != StateConnected {
		t.Errorf("state = %s, want connected", got)
	}
	if got := c.Captions()[0].ID; got != "ok" {
		t.Errorf("caption id = %q, want ok", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var malformed int64
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			if mt.Name != "captionsync.feed.malformed" {
				continue
			}
			for _, dp := range mt.Data.(metricdata.Sum[int64]).DataPoints {
				malformed += dp.Value
			}
		}
	}
	if malformed != 2 {
		t.Errorf("malformed count = %d, want 2", malformed)
	}
}

func TestClient_DisplayDelay(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{DisplayDelay: 2 * time.Second})
	c.Connect()
	waitState(t, c, StateConnected)
	conn := d.Conn(t, 0)

	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("a", 0, 1, "first"))))
	waitPending(t, clk, 2*time.Second)
	clk.Advance(time.Second)
	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("b", 1, 2, "second"))))
	// One timer serves the queue; b waits behind a.
	time.Sleep(10 * time.Millisecond)
	if n := c.Store().Len(); n != 0 {
		t.Fatalf("store len before delay = %d, want 0", n)
	}

	clk.Advance(time.Second)
	if got := c.Captions(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("after 2s captions = %v, want [a]", got)
	}
	waitPending(t, clk, time.Second)

	clk.Advance(time.Second)
	got := c.Captions()
	if len(got) != 2 || got[1].ID != "b" {
		t.Fatalf("after 3s captions = %v, want [a b]", got)
	}
}

func TestClient_SetDisplayDelay(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{})
	c.Connect()
	waitState(t, c, StateConnected)
	conn := d.Conn(t, 0)

	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("a", 0, 1, "first"))))
	waitFor(t, "immediate caption", func() bool { return c.Store().Len() == 1 })

	c.SetDisplayDelay(2 * time.Second)
	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("b", 1, 2, "second"))))
	waitPending(t, clk, 2*time.Second)
	if n := c.Store().Len(); n != 1 {
		t.Fatalf("store len before delay = %d, want 1", n)
	}
	clk.Advance(2 * time.Second)
	if n := c.Store().Len(); n != 2 {
		t.Errorf("store len after delay = %d, want 2", n)
	}
}

func TestClient_DisconnectDropsQueuedCaptions(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{DisplayDelay: time.Second})
	c.Connect()
	waitState(t, c, StateConnected)

	d.Conn(t, 0).Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("a", 0, 1, "first"))))
	waitPending(t, clk, time.Second)

	c.Disconnect()
	clk.Advance(time.Minute)
	if n := c.Store().Len(); n != 0 {
		t.Errorf("store len = %d, want 0", n)
	}
}

func TestClient_LoweringDisplayDelayKeepsOrder(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{DisplayDelay: 2 * time.Second})
	c.Connect()
	waitState(t, c, StateConnected)
	conn := d.Conn(t, 0)

	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("a", 0, 1, "first"))))
	waitPending(t, clk, 2*time.Second)

	c.SetDisplayDelay(0)
	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("b", 1, 2, "second"))))
	// The reader handles frames in order, so b is applied once this is taken.
	conn.Send(t, mustEncode(t)(feed.EncodeInterim("typing")))
	if n := c.Store().Len(); n != 0 {
		t.Fatalf("store len while a is queued = %d, want 0", n)
	}

	clk.Advance(2 * time.Second)
	got := c.Captions()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("captions = %v, want [a b]", got)
	}

	// With the queue drained, new captions append immediately again.
	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("c", 2, 3, "third"))))
	waitFor(t, "immediate caption", func() bool { return c.Store().Len() == 3 })
}

func TestClient_CleanCloseKeepsQueuedCaptions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var observed []string
	c, d, clk := newTestClient(t, Config{DisplayDelay: time.Second}, WithObserver(func(seg caption.Segment) {
		mu.Lock()
		observed = append(observed, seg.ID)
		mu.Unlock()
	}))
	c.Connect()
	waitState(t, c, StateConnected)

	conn := d.Conn(t, 0)
	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("a", 0, 1, "second to last"))))
	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("b", 1, 2, "last"))))
	waitPending(t, clk, time.Second)

	conn.Drop(ErrClosedCleanly)
	waitState(t, c, StateDisconnected)

	clk.Advance(time.Minute)
	got := c.Captions()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("captions after clean close = %v, want [a b]", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(observed, []string{"a", "b"}) {
		t.Errorf("observed = %v, want [a b]", observed)
	}
	if n := d.Calls(); n != 1 {
		t.Errorf("dial calls = %d, want 1", n)
	}
}

func TestClient_UncleanCloseDropsQueueForReplay(t *testing.T) {
	t.Parallel()

	c, d, clk := newTestClient(t, Config{DisplayDelay: time.Second})
	c.Connect()
	waitState(t, c, StateConnected)

	d.Conn(t, 0).Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("a", 0, 1, "first"))))
	waitPending(t, clk, time.Second)

	d.Conn(t, 0).Drop(errAbnormal)
	waitState(t, c, StateConnecting)
	// Only the reconnect timer is left.
	waitPending(t, clk, time.Second)

	clk.Advance(time.Second)
	waitState(t, c, StateConnected)
	if n := c.Store().Len(); n != 0 {
		t.Fatalf("store len before replay = %d, want 0", n)
	}
	d.Conn(t, 1).Send(t, mustEncode(t)(feed.EncodeHistory([]caption.Segment{segment("a", 0, 1, "first")})))
	waitFor(t, "replayed history", func() bool { return c.Store().Len() == 1 })
}

func TestClient_ClearCaptions(t *testing.T) {
	t.Parallel()

	c, d, _ := newTestClient(t, Config{})
	c.Connect()
	waitState(t, c, StateConnected)

	conn := d.Conn(t, 0)
	conn.Send(t, mustEncode(t)(feed.EncodeConfirmed(segment("a", 0, 1, "first"))))
	conn.Send(t, mustEncode(t)(feed.EncodeInterim("more")))
	waitFor(t, "interim", func() bool { return c.Interim() == "more" })

	c.ClearCaptions()
	if c.Store().Len() != 0 || c.Interim() != "" {
		t.Errorf("after clear: len=%d interim=%q", c.Store().Len(), c.Interim())
	}
	if c.State() != StateConnected {
		t.Errorf("state = %s, want connected", c.State())
	}
}

func TestClient_StateObserver(t *testing.T) {
	t.Parallel()

	rec := &stateRecorder{}
	c, d, clk := newTestClient(t, Config{}, WithStateObserver(rec.record))
	c.Connect()
	waitState(t, c, StateConnected)

	d.SetFail(true)
	d.Conn(t, 0).Drop(errAbnormal)
	waitPending(t, clk, time.Second)
	clk.Advance(time.Second)
	waitState(t, c, StateError)
	waitPending(t, clk, 2*time.Second)
	c.Disconnect()

	// The retry reuses the Connecting state entered on the drop, so it is
	// not reported twice.
	want := []State{
		StateConnecting, StateConnected,
		StateConnecting, StateError,
		StateDisconnected,
	}
	waitFor(t, "state notifications", func() bool { return len(rec.get()) == len(want) })
	if got := rec.get(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestClient_CloseIsPermanent(t *testing.T) {
	t.Parallel()

	c, d, _ := newTestClient(t, Config{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Connect()
	time.Sleep(10 * time.Millisecond)
	if d.Calls() != 0 {
		t.Errorf("dial calls after Close = %d, want 0", d.Calls())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateError:        "error",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
