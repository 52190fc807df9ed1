package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// defaultReadLimit bounds a single feed frame. History snapshots of long
// sessions are far larger than the websocket library's 32 KiB default.
const defaultReadLimit = 16 << 20

// ErrClosedCleanly is returned by [Conn.Read] when the feed closed the
// connection with a normal closure. The client does not reconnect after it.
var ErrClosedCleanly = errors.New("live: feed closed cleanly")

// Conn is one open transport to a caption feed.
type Conn interface {
	// Read blocks until the next frame arrives. It returns [ErrClosedCleanly]
	// on a normal closure and any other error on an unclean one.
	Read(ctx context.Context) ([]byte, error)

	// Close closes the transport. It may be called while Read is blocked.
	Close() error
}

// Dialer opens transports to caption feeds.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer is the production [Dialer] built on github.com/coder/websocket.
type WebSocketDialer struct {
	// Header is sent with the opening handshake (e.g. Authorization).
	Header http.Header

	// HTTPClient overrides the client used for the handshake. May be nil.
	HTTPClient *http.Client

	// ReadLimit caps the size of one frame in bytes. Zero selects 16 MiB.
	ReadLimit int64
}

var _ Dialer = WebSocketDialer{}

// Dial implements [Dialer].
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	ws.SetReadLimit(limit)
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a websocket connection to [Conn].
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, ErrClosedCleanly
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client disconnect")
}
