// internal/relay/websocket.go
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 8 << 20
)

// WebSocketEndpoint adapts a websocket connection to Endpoint with one read
// pump and one write pump.
type WebSocketEndpoint struct {
	conn   *websocket.Conn
	logger *zap.Logger

	in   chan string
	send chan string
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWebSocketEndpoint starts the pumps for conn. buf bounds both queues.
func NewWebSocketEndpoint(conn *websocket.Conn, buf int, logger *zap.Logger) *WebSocketEndpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buf <= 0 {
		buf = 1
	}
	e := &WebSocketEndpoint{
		conn:   conn,
		logger: logger,
		in:     make(chan string, buf),
		send:   make(chan string, buf),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.wg.Add(2)
	go e.readPump()
	go e.writePump()
	return e
}

func (e *WebSocketEndpoint) Messages() <-chan string { return e.in }
func (e *WebSocketEndpoint) Done() <-chan struct{}   { return e.done }

func (e *WebSocketEndpoint) Send(ctx context.Context, msg string) error {
	select {
	case <-e.done:
		return ErrEndpointClosed
	default:
	}
	select {
	case e.send <- msg:
		return nil
	case <-e.done:
		return ErrEndpointClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops both pumps and waits for them.
func (e *WebSocketEndpoint) Close() error {
	e.shutdown()
	e.wg.Wait()
	return nil
}

func (e *WebSocketEndpoint) shutdown() {
	e.closeOnce.Do(func() {
		close(e.quit)
		close(e.done)
	})
}

// readPump pumps messages from the websocket connection to the relay.
func (e *WebSocketEndpoint) readPump() {
	defer func() {
		e.shutdown()
		e.wg.Done()
	}()
	e.conn.SetReadLimit(maxMessageSize)
	_ = e.conn.SetReadDeadline(time.Now().Add(pongWait))
	e.conn.SetPongHandler(func(string) error { return e.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, message, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.logger.Warn("Websocket endpoint read error", zap.Error(err))
			}
			return
		}
		select {
		case e.in <- string(message):
		case <-e.quit:
			return
		}
	}
}

// writePump pumps messages from the relay to the websocket connection.
func (e *WebSocketEndpoint) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Closing the conn unblocks the read pump.
		_ = e.conn.Close()
		e.wg.Done()
	}()

	for {
		select {
		case msg := <-e.send:
			_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				e.logger.Debug("Websocket endpoint write failed", zap.Error(err))
				e.shutdown()
				return
			}
		case <-ticker.C:
			_ = e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				e.shutdown()
				return
			}
		case <-e.quit:
			_ = e.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
