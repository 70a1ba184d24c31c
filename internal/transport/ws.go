package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// wsConn adapts a *websocket.Conn to the Conn interface. Reads and writes
// use context.Background: the protocol engine owns all timeout semantics
// (auth-wait, upload-idle, chunk-ack) above this layer, per spec.md §5.
type wsConn struct {
	c          *websocket.Conn
	remoteAddr string
}

// Accept upgrades an inbound HTTP request to a WebSocket connection bound at
// the server's configured mount path.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (Conn, error) {
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return &wsConn{c: c, remoteAddr: r.RemoteAddr}, nil
}

// Dial opens a client-side connection to apiUrl.
func Dial(ctx context.Context, apiURL string, opts *websocket.DialOptions) (Conn, error) {
	c, _, err := websocket.Dial(ctx, apiURL, opts)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &wsConn{c: c, remoteAddr: apiURL}, nil
}

func (w *wsConn) Read() (Frame, error) {
	typ, data, err := w.c.Read(context.Background())
	if err != nil {
		return Frame{}, err
	}
	kind := FrameText
	if typ == websocket.MessageBinary {
		kind = FrameBinary
	}
	return Frame{Kind: kind, Data: data}, nil
}

func (w *wsConn) SendText(data []byte) error {
	return w.c.Write(context.Background(), websocket.MessageText, data)
}

func (w *wsConn) SendBinary(data []byte) error {
	return w.c.Write(context.Background(), websocket.MessageBinary, data)
}

func (w *wsConn) Close(code int, reason string) error {
	return w.c.Close(websocket.StatusCode(code), reason)
}

func (w *wsConn) RemoteAddr() string { return w.remoteAddr }
