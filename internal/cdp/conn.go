// internal/cdp/conn.go
package cdp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Debugger replies (a full scan result in particular) can be large.
	maxMessageSize = 64 << 20
)

// Conn is one full-duplex message stream to a debugging target.
// ReadMessage is called from a single goroutine; WriteMessage may be called
// concurrently.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to a target's websocket debugger URL.
type Dialer interface {
	Dial(ctx context.Context, wsURL string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, wsURL string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, wsURL string) (Conn, error) { return f(ctx, wsURL) }

// WebSocketDialer dials over gorilla/websocket.
var WebSocketDialer Dialer = DialerFunc(DialWebSocket)

// DialWebSocket connects to wsURL.
func DialWebSocket(ctx context.Context, wsURL string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
		ReadBufferSize:   64 << 10,
		WriteBufferSize:  64 << 10,
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial debugger at %s: %w", wsURL, err)
	}
	ws.SetReadLimit(maxMessageSize)
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
	wm sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.wm.Lock()
	defer c.wm.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.wm.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wm.Unlock()
	return c.ws.Close()
}
