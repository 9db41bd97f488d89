package browser

import (
	"sync"
	"sync/atomic"
)

// InstrumentationState is what we currently believe about the engine's
// presence in a target.
type InstrumentationState int32

const (
	StateUnknown InstrumentationState = iota
	StateAbsent
	StatePresent
)

func (s InstrumentationState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePresent:
		return "present"
	default:
		return "unknown"
	}
}

// Target is a page inside the browser that can be evaluated against.
type Target struct {
	ID           string
	WebSocketURL string

	mu    sync.RWMutex
	url   string
	state atomic.Int32
	busy  atomic.Bool
}

func NewTarget(id, url, wsURL string) *Target {
	return &Target{ID: id, url: url, WebSocketURL: wsURL}
}

func (t *Target) URL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.url
}

func (t *Target) State() InstrumentationState {
	return InstrumentationState(t.state.Load())
}

func (t *Target) SetState(s InstrumentationState) {
	t.state.Store(int32(s))
}

// MarkNavigated records a top-level navigation. Whatever was injected into
// the previous document is gone, so the state drops back to unknown.
func (t *Target) MarkNavigated(url string) {
	t.mu.Lock()
	if url != "" {
		t.url = url
	}
	t.mu.Unlock()
	t.state.Store(int32(StateUnknown))
}

// TryAcquire claims the target for one scan. It reports false when another
// scan already holds it.
func (t *Target) TryAcquire() bool {
	return t.busy.CompareAndSwap(false, true)
}

func (t *Target) Release() {
	t.busy.Store(false)
}
