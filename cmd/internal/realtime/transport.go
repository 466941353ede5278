package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// Conn is one established message transport.
//
// Read blocks until a text frame arrives, ctx is done or the connection dies.
// Close is idempotent.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with github.com/coder/websocket.
type WebSocketDialer struct {
	// HTTPClient is used for the upgrade request; nil means http.DefaultClient.
	HTTPClient *http.Client

	// Header is sent with the upgrade request.
	Header http.Header

	// ReadLimit caps a single inbound frame; zero means the package default.
	ReadLimit int64
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = maxFrameBytes
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	mt, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText {
		return nil, fmt.Errorf("%w: unsupported message type %v", ErrDecode, mt)
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	err := w.c.Close(websocket.StatusNormalClosure, "bye")
	if err != nil && (errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1) {
		return nil
	}
	return err
}
