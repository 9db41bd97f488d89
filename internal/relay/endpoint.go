package relay

import (
	"context"
	"errors"
	"sync"
)

// ErrEndpointClosed is returned by Send on a closed endpoint.
var ErrEndpointClosed = errors.New("relay endpoint closed")

// Endpoint is one side of the relay. Messages delivers inbound messages in
// arrival order; Done is closed when the endpoint goes away for any reason.
type Endpoint interface {
	Send(ctx context.Context, msg string) error
	Messages() <-chan string
	Done() <-chan struct{}
	Close() error
}

// PipeEndpoint is an in-memory Endpoint. The peer writes with Deliver and
// reads what the relay sent from Sent.
type PipeEndpoint struct {
	in   chan string
	out  chan string
	done chan struct{}
	once sync.Once
}

// NewPipeEndpoint creates a pipe whose queues hold buf messages each.
func NewPipeEndpoint(buf int) *PipeEndpoint {
	return &PipeEndpoint{
		in:   make(chan string, buf),
		out:  make(chan string, buf),
		done: make(chan struct{}),
	}
}

func (p *PipeEndpoint) Send(ctx context.Context, msg string) error {
	select {
	case <-p.done:
		return ErrEndpointClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrEndpointClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEndpoint) Messages() <-chan string { return p.in }
func (p *PipeEndpoint) Done() <-chan struct{}   { return p.done }

func (p *PipeEndpoint) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Deliver hands msg to the relay as if the peer had sent it.
func (p *PipeEndpoint) Deliver(ctx context.Context, msg string) error {
	select {
	case <-p.done:
		return ErrEndpointClosed
	default:
	}
	select {
	case p.in <- msg:
		return nil
	case <-p.done:
		return ErrEndpointClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent yields messages the relay sent to this endpoint.
func (p *PipeEndpoint) Sent() <-chan string { return p.out }
