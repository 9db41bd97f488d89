// internal/relay/relay.go
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/a11y-bridge/internal/config"
	"github.com/xkilldash9x/a11y-bridge/internal/observability"
)

var (
	// ErrInvalidTransition is returned when an endpoint is added in the wrong state.
	ErrInvalidTransition = errors.New("invalid relay state transition")
	// ErrRelayClosed is returned by every operation on a closed relay.
	ErrRelayClosed = errors.New("relay is closed")
	// ErrNoSurface means a surface-bound event was dropped because no surface is attached.
	ErrNoSurface = errors.New("no surface attached")
)

// socketEvent is the event type used to mirror raw socket traffic to the surface.
const socketEvent = "websocket"

// State of the relay's endpoint pair.
type State int

const (
	StateDisconnected State = iota
	StateSocketOnly
	StateBoth
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSocketOnly:
		return "socket_only"
	case StateBoth:
		return "both"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventKind classifies subscriber notifications.
type EventKind int

const (
	EventState EventKind = iota
	EventMessage
	EventClose
)

// Event is what subscribers receive. Message events carry the frame as it
// arrived from Channel.
type Event struct {
	Kind    EventKind
	State   State
	Channel Channel
	Data    string
	Err     error
}

// Handler executes a trigger and returns the payload for the result event.
type Handler interface {
	Handle(ctx context.Context, f Frame) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, f Frame) (interface{}, error)

func (fn HandlerFunc) Handle(ctx context.Context, f Frame) (interface{}, error) { return fn(ctx, f) }

// Relay moves messages between a socket endpoint and a surface endpoint.
// Each endpoint is drained by its own pump, so frames from one source are
// handled strictly in arrival order. A closed relay cannot be reused.
type Relay struct {
	id      string
	cfg     config.RelayConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	state    State
	socket   Endpoint
	surface  Endpoint
	handlers map[string]Handler
	subs     []chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a relay in the Disconnected state.
func New(cfg config.RelayConfig, logger *zap.Logger, metrics *observability.Metrics) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SubscriberBuf <= 0 {
		cfg.SubscriberBuf = 64
	}
	id := uuid.New().String()

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	r := &Relay{
		id:       id,
		cfg:      cfg,
		logger:   logger.Named("relay").With(zap.String("relay_id", id)),
		metrics:  metrics,
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	if cfg.TriggerInterval > 0 {
		r.limiter = rate.NewLimiter(rate.Every(cfg.TriggerInterval), 1)
	}
	return r
}

// ID identifies the relay in logs.
func (r *Relay) ID() string { return r.id }

// Done is closed once the relay has reached Closed.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Handle registers h for frames whose prefix is eventType.
func (r *Relay) Handle(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// Subscribe returns a channel of relay events. It is closed after the
// terminal close event. Slow subscribers lose message events but always
// receive the close event.
func (r *Relay) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, r.cfg.SubscriberBuf)
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.subs = append(r.subs, ch)
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, sub := range r.subs {
				if sub == ch {
					r.subs = append(r.subs[:i], r.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

// ConnectSocket moves Disconnected to SocketOnly.
func (r *Relay) ConnectSocket(ep Endpoint) error {
	return r.attach(ChannelSocket, ep, StateDisconnected, StateSocketOnly)
}

// AttachSurface moves SocketOnly to Both. Nothing posted before this point
// is replayed to the surface.
func (r *Relay) AttachSurface(ep Endpoint) error {
	return r.attach(ChannelSurface, ep, StateSocketOnly, StateBoth)
}

func (r *Relay) attach(ch Channel, ep Endpoint, from, to State) error {
	r.mu.Lock()
	switch {
	case r.state == StateClosing || r.state == StateClosed:
		r.mu.Unlock()
		return ErrRelayClosed
	case r.state != from:
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot attach %s in state %s", ErrInvalidTransition, ch, state)
	}
	if ch == ChannelSocket {
		r.socket = ep
	} else {
		r.surface = ep
	}
	r.state = to
	r.mu.Unlock()

	r.logger.Info("Endpoint attached.", zap.Stringer("channel", ch), zap.Stringer("state", to))
	r.broadcast(Event{Kind: EventState, State: to, Channel: ch})
	r.group.Go(func() error { return r.pump(ch, ep) })
	return nil
}

// PostToSurface frames payload and sends it to the surface. Without an
// attached surface the event is dropped and ErrNoSurface returned.
func (r *Relay) PostToSurface(ctx context.Context, eventType string, payload interface{}) error {
	msg, err := EncodeFrame(eventType, payload)
	if err != nil {
		return err
	}
	return r.sendRaw(ctx, ChannelSurface, msg)
}

// SendToSocket sends msg unchanged to the socket.
func (r *Relay) SendToSocket(ctx context.Context, msg string) error {
	return r.sendRaw(ctx, ChannelSocket, msg)
}

func (r *Relay) sendRaw(ctx context.Context, ch Channel, msg string) error {
	r.mu.Lock()
	state := r.state
	ep := r.socket
	if ch == ChannelSurface {
		ep = r.surface
	}
	r.mu.Unlock()

	if state == StateClosing || state == StateClosed {
		return ErrRelayClosed
	}
	if ep == nil {
		if ch == ChannelSurface {
			r.logger.Debug("Dropping surface event; no surface attached.")
			return ErrNoSurface
		}
		return fmt.Errorf("%w: no socket connected", ErrInvalidTransition)
	}
	if err := ep.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send to %s: %w", ch, err)
	}
	r.metrics.ObserveRelayFrame("to_" + ch.String())
	return nil
}

// pump drains one endpoint in order until it closes or the relay stops.
func (r *Relay) pump(ch Channel, ep Endpoint) error {
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case <-ep.Done():
			r.drain(ch, ep)
			r.endpointClosed(ch)
			return nil
		case msg, ok := <-ep.Messages():
			if !ok {
				r.endpointClosed(ch)
				return nil
			}
			r.receive(ch, msg)
		}
	}
}

// drain handles frames the endpoint buffered before it went away, so a
// peer's last messages are not lost to the close.
func (r *Relay) drain(ch Channel, ep Endpoint) {
	for r.ctx.Err() == nil {
		select {
		case msg, ok := <-ep.Messages():
			if !ok {
				return
			}
			r.receive(ch, msg)
		default:
			return
		}
	}
}

func (r *Relay) receive(ch Channel, msg string) {
	r.metrics.ObserveRelayFrame("from_" + ch.String())
	r.broadcast(Event{Kind: EventMessage, Channel: ch, Data: msg})
	r.dispatch(ch, msg)
}

func (r *Relay) dispatch(ch Channel, msg string) {
	eventType, payload, _ := SplitFrame(msg)

	r.mu.Lock()
	h, isTrigger := r.handlers[eventType]
	r.mu.Unlock()

	if isTrigger {
		if ch == ChannelSocket {
			// Let the surface show that a run was requested.
			r.forward(ChannelSurface, msg)
		}
		r.runTrigger(ch, h, Frame{Channel: ch, EventType: eventType, Payload: payload})
		return
	}

	if ch == ChannelSurface {
		r.forward(ChannelSocket, msg)
		return
	}

	mirrored, err := EncodeFrame(socketEvent, socketMessage{Event: "message", Message: msg})
	if err != nil {
		r.logger.Error("Failed to frame socket message.", zap.Error(err))
		return
	}
	r.forward(ChannelSurface, mirrored)
}

func (r *Relay) forward(to Channel, msg string) {
	if err := r.sendRaw(r.ctx, to, msg); err != nil && !errors.Is(err, ErrNoSurface) && !errors.Is(err, ErrRelayClosed) {
		r.logger.Warn("Failed to forward frame.", zap.Stringer("to", to), zap.Error(err))
	}
}

func (r *Relay) runTrigger(from Channel, h Handler, f Frame) {
	log := r.logger.With(zap.String("trigger", f.EventType), zap.Stringer("from", from))

	var result interface{}
	var err error
	if r.limiter != nil && !r.limiter.Allow() {
		err = fmt.Errorf("trigger %s throttled; retry in %s", f.EventType, r.cfg.TriggerInterval)
	} else {
		start := time.Now()
		result, err = h.Handle(r.ctx, f)
		log.Debug("Trigger handled.", zap.Duration("took", time.Since(start)), zap.Error(err))
	}

	eventType, payload := r.cfg.ResultEvent, result
	if err != nil {
		log.Warn("Trigger failed.", zap.Error(err))
		eventType, payload = r.cfg.ErrorEvent, errorPayload{Message: err.Error(), Trigger: f.EventType}
	}

	msg, encErr := EncodeFrame(eventType, payload)
	if encErr != nil {
		log.Error("Failed to frame trigger result.", zap.Error(encErr))
		return
	}
	r.forward(ChannelSurface, msg)
	if from == ChannelSocket {
		r.forward(ChannelSocket, msg)
	}
}

func (r *Relay) broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.logger.Debug("Subscriber buffer full; dropping relay event.")
		}
	}
}

func (r *Relay) endpointClosed(ch Channel) {
	r.logger.Info("Endpoint closed.", zap.Stringer("channel", ch))
	r.teardown(fmt.Errorf("%s endpoint closed", ch))
}

// Close tears the relay down and waits for its pumps to exit.
func (r *Relay) Close() error {
	r.teardown(nil)
	return r.group.Wait()
}

// teardown moves to Closing, closes both endpoints synchronously, emits the
// close event once and ends in Closed.
func (r *Relay) teardown(reason error) {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.state = StateClosing
		socket, surface := r.socket, r.surface
		r.mu.Unlock()

		r.broadcast(Event{Kind: EventState, State: StateClosing})
		r.cancel()
		for _, ep := range []Endpoint{socket, surface} {
			if ep != nil {
				_ = ep.Close()
			}
		}

		r.mu.Lock()
		r.state = StateClosed
		subs := r.subs
		r.subs = nil
		r.mu.Unlock()

		closeEv := Event{Kind: EventClose, State: StateClosed, Err: reason}
		for _, ch := range subs {
			// The close event must not be lost to a full buffer.
			select {
			case ch <- closeEv:
			default:
				select {
				case <-ch:
				default:
				}
				ch <- closeEv
			}
			close(ch)
		}
		close(r.done)
		r.logger.Info("Relay closed.", zap.Error(reason))
	})
}
