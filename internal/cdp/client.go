// internal/cdp/client.go
package cdp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/internal/observability"
)

const eventBuffer = 16

// Client correlates commands and replies over one debugger connection.
// Ids increase monotonically from 1. A reply for a command whose caller gave
// up is logged and dropped; a reply for an id we never issued is reported as
// *UnmatchedReplyError. Neither ends the connection.
type Client struct {
	conn    Conn
	logger  *zap.Logger
	metrics *observability.Metrics
	onError func(error)

	nextID atomic.Int64

	mu        sync.Mutex
	pending   map[int64]chan response
	abandoned map[int64]struct{}
	subs      map[string][]chan Event
	closed    bool
	closeErr  error

	done      chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithErrorHandler receives non-fatal connection errors such as unmatched replies.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Client) { c.onError = fn }
}

// NewClient starts reading from conn. The client owns conn from now on.
func NewClient(conn Conn, opts ...Option) *Client {
	c := &Client{
		conn:      conn,
		logger:    zap.NewNop(),
		pending:   make(map[int64]chan response),
		abandoned: make(map[int64]struct{}),
		subs:      make(map[string][]chan Event),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cdp")
	go c.readLoop()
	return c
}

// Dial opens a connection to wsURL with dialer and wraps it in a Client.
func Dial(ctx context.Context, dialer Dialer, wsURL string, opts ...Option) (*Client, error) {
	if dialer == nil {
		dialer = WebSocketDialer
	}
	conn, err := dialer.Dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Call sends one command and decodes its result into result (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id, false)
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}
	if err := c.conn.WriteMessage(payload); err != nil {
		c.forget(id, false)
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if result == nil || len(resp.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id, true)
		return ctx.Err()
	}
}

// forget drops a pending id. Abandoned ids are remembered so their late
// reply is not mistaken for a stray one.
func (c *Client) forget(id int64, abandon bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return
	}
	delete(c.pending, id)
	if abandon {
		c.abandoned[id] = struct{}{}
	}
}

// Subscribe returns a channel of events named method. The channel is closed
// when cancel is called or the connection ends. Slow subscribers lose events.
func (c *Client) Subscribe(method string) (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[method] = append(c.subs[method], ch)
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.subs[method]
			for i, sub := range subs {
				if sub == ch {
					c.subs[method] = append(subs[:i], subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel
}

// Close ends the connection and fails every outstanding command.
func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	<-c.readDone
	return nil
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrClientClosed) {
				c.logger.Debug("Debugger connection read ended.", zap.Error(err))
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrClientClosed, err))
			return
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping undecodable debugger message.", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}

		switch {
		case msg.ID != nil:
			c.dispatchReply(*msg.ID, msg)
		case msg.Method != "":
			c.dispatchEvent(Event{Method: msg.Method, Params: msg.Params})
		}
	}
}

func (c *Client) dispatchReply(id int64, msg envelope) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	_, late := c.abandoned[id]
	if late {
		delete(c.abandoned, id)
	}
	c.mu.Unlock()

	switch {
	case ok:
		resp := response{result: msg.Result}
		if msg.Error != nil {
			resp.err = msg.Error
		}
		ch <- resp
	case late:
		c.logger.Debug("Dropping reply for abandoned command.", zap.Int64("id", id))
	default:
		err := &UnmatchedReplyError{ID: id}
		c.logger.Warn("Received reply for unknown command.", zap.Int64("id", id))
		c.metrics.ObserveUnmatchedReply()
		if c.onError != nil {
			c.onError(err)
		}
	}
}

func (c *Client) dispatchEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs[ev.Method] {
		select {
		case ch <- ev:
		default:
			c.logger.Debug("Subscriber buffer full; dropping event.", zap.String("method", ev.Method))
		}
	}
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = reason
		pending := c.pending
		c.pending = make(map[int64]chan response)
		subs := c.subs
		c.subs = make(map[string][]chan Event)
		c.mu.Unlock()

		_ = c.conn.Close()

		for _, ch := range pending {
			ch <- response{err: reason}
		}
		for _, list := range subs {
			for _, ch := range list {
				close(ch)
			}
		}
		close(c.done)
	})
}
