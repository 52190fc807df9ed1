package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/captionsync/internal/resilience"
)

// fakePostgREST answers the two queries the client issues.
func fakePostgREST(t *testing.T, failing *atomic.Bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"503","message":"database unavailable"}`))
			return
		}
		if got := r.Header.Get("apikey"); got != "secret" {
			t.Errorf("apikey header = %q, want secret", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Range", "0-0/*")
		switch r.URL.Query().Get("id") {
		case "eq.live-1":
			_, _ = w.Write([]byte(`[{"id":"live-1","title":"Budget committee","status":"live","stream_url":"https://cdn.example.com/live-1.m3u8"}]`))
		case "eq.vod-1":
			_, _ = w.Write([]byte(`[{"id":"vod-1","title":"Plenary","status":"ended","stream_url":"https://cdn.example.com/vod-1.m3u8","ended_at":"2026-02-27T18:00:00Z"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	})
	mux.HandleFunc("GET /rest/v1/captions", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("session_id") != "eq.vod-1" {
			t.Errorf("session filter = %q", q.Get("session_id"))
		}
		if !strings.HasPrefix(q.Get("order"), "start_time.asc") {
			t.Errorf("order = %q, want start_time ascending", q.Get("order"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Range", "0-2/*")
		_, _ = w.Write([]byte(`[
			{"id":"a","session_id":"vod-1","start_time":0,"end_time":2,"text":"안녕하세요","created_at":"2026-02-27T17:00:00Z"},
			{"id":"bad","session_id":"vod-1","start_time":3,"end_time":3,"text":"zero length","created_at":"2026-02-27T17:00:01Z"},
			{"id":"b","session_id":"vod-1","start_time":2,"end_time":4,"text":"예산","created_at":"2026-02-27T17:00:02Z"}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *PostgREST {
	t.Helper()
	p, err := NewPostgREST(PostgRESTConfig{
		URL:    url,
		APIKey: "secret",
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	if err != nil {
		t.Fatalf("NewPostgREST: %v", err)
	}
	return p
}

func TestPostgREST_Status(t *testing.T) {
	t.Parallel()
	var failing atomic.Bool
	p := newTestClient(t, fakePostgREST(t, &failing).URL)
	ctx := context.Background()

	live, err := p.Status(ctx, "live-1")
	if err != nil {
		t.Fatalf("Status(live-1): %v", err)
	}
	if live.Status != StatusLive || live.Title != "Budget committee" || !ShouldAutoConnect(live) {
		t.Errorf("live session = %+v", live)
	}

	vod, err := p.Status(ctx, "vod-1")
	if err != nil {
		t.Fatalf("Status(vod-1): %v", err)
	}
	if vod.Status != StatusEnded || vod.EndedAt == nil || ShouldAutoConnect(vod) {
		t.Errorf("ended session = %+v", vod)
	}
}

func TestPostgREST_UnknownSessionDoesNotTripBreaker(t *testing.T) {
	t.Parallel()
	var failing atomic.Bool
	p := newTestClient(t, fakePostgREST(t, &failing).URL)
	ctx := context.Background()

	for range 5 {
		if _, err := p.Status(ctx, "nope"); !errors.Is(err, ErrUnknownSession) {
			t.Fatalf("err = %v, want ErrUnknownSession", err)
		}
	}
	if p.Breaker().State() != resilience.StateClosed {
		t.Errorf("breaker = %s, want closed", p.Breaker().State())
	}
}

func TestPostgREST_BreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()
	var failing atomic.Bool
	failing.Store(true)
	p := newTestClient(t, fakePostgREST(t, &failing).URL)
	ctx := context.Background()

	for range 2 {
		if _, err := p.Status(ctx, "live-1"); err == nil {
			t.Fatal("expected error from failing server")
		}
	}
	failing.Store(false)
	if _, err := p.Status(ctx, "live-1"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestPostgREST_Captions(t *testing.T) {
	t.Parallel()
	var failing atomic.Bool
	p := newTestClient(t, fakePostgREST(t, &failing).URL)

	got, err := p.Captions(context.Background(), "vod-1")
	if err != nil {
		t.Fatalf("Captions: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Captions = %+v, want [a b] with the invalid row skipped", got)
	}
}

func TestNewPostgREST_RequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := NewPostgREST(PostgRESTConfig{}); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestShouldAutoConnect(t *testing.T) {
	t.Parallel()
	tests := map[Status]bool{
		StatusLive:      true,
		StatusEnded:     false,
		StatusScheduled: false,
		"":              false,
	}
	for status, want := range tests {
		if got := ShouldAutoConnect(SessionInfo{Status: status}); got != want {
			t.Errorf("ShouldAutoConnect(%q) = %v, want %v", status, got, want)
		}
	}
}
