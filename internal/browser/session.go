// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const closeTimeout = 15 * time.Second

// Session is a scoped handle to a debuggable browser. It is released by
// Close exactly once, and also when the browser goes away on its own; either
// way every registered close callback runs and Done is closed.
type Session struct {
	id     string
	cfg    Config
	logger *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu       sync.Mutex
	isClosed bool
	onClose  []func()
	done     chan struct{}
	once     sync.Once
}

// Launch spawns a browser (or attaches to one when cfg.Attach is set),
// opens a tab on cfg.TargetURL and confirms the debugging connection works.
// Any failure comes back as *LaunchError and leaves nothing running.
func Launch(ctx context.Context, cfg *Config, logger *zap.Logger) (*Session, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	norm, err := cfg.normalize()
	if err != nil {
		return nil, &LaunchError{Endpoint: cfg.Endpoint(), Attach: cfg.Attach, Err: err}
	}

	id := uuid.New().String()
	log := logger.Named("browser").With(zap.String("session_id", id), zap.String("endpoint", norm.Endpoint()))

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if norm.Attach {
		log.Info("Attaching to running browser.")
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, fmt.Sprintf("ws://%s", norm.Endpoint()))
	} else {
		log.Info("Launching browser.", zap.Bool("headless", norm.Headless), zap.String("exec_path", norm.ExecutablePath))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, norm.allocatorOptions()...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf))

	// The first Run allocates the browser and binds it to tabCtx, so the
	// timeout is enforced out here rather than through a derived context.
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(tabCtx, chromedp.Navigate(norm.TargetURL))
	}()

	select {
	case err = <-errCh:
	case <-time.After(norm.LaunchTimeout):
		err = fmt.Errorf("browser did not respond within %s", norm.LaunchTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, &LaunchError{Endpoint: norm.Endpoint(), Attach: norm.Attach, Err: err}
	}

	s := &Session{
		id:          id,
		cfg:         norm,
		logger:      log,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		done:        make(chan struct{}),
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev.(type) {
		case *inspector.EventDetached, *inspector.EventTargetCrashed:
			// Listeners must not block the event loop.
			go s.remoteClosed("target detached or crashed")
		}
	})
	go s.watch()

	log.Info("Browser session ready.", zap.String("target_url", norm.TargetURL))
	return s, nil
}

// ID is a unique identifier for this session.
func (s *Session) ID() string { return s.id }

// Endpoint is the host:port of the debugging interface.
func (s *Session) Endpoint() string { return s.cfg.Endpoint() }

// Context is the chromedp context bound to the session's own tab.
func (s *Session) Context() context.Context { return s.tabCtx }

// Done is closed once the session has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// OnClose registers fn to run when the session is released. If the session
// is already closed fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// AttachTarget lists the browser's targets and picks the page to scan,
// preferring the tab this session opened.
func (s *Session) AttachTarget(ctx context.Context) (*Target, error) {
	if s.closed() {
		return nil, fmt.Errorf("browser session %s is closed", s.id)
	}

	infos, err := chromedp.Targets(s.tabCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var own target.ID
	if c := chromedp.FromContext(s.tabCtx); c != nil && c.Target != nil {
		own = c.Target.TargetID
	}

	info := selectPageTarget(infos, own)
	if info == nil {
		return nil, &NoTargetError{Endpoint: s.Endpoint(), Seen: len(infos)}
	}

	t := NewTarget(string(info.TargetID), info.URL, s.pageWebSocketURL(info.TargetID))
	s.logger.Debug("Attached to page target.", zap.String("target_id", t.ID), zap.String("url", info.URL))
	return t, nil
}

func (s *Session) pageWebSocketURL(id target.ID) string {
	return fmt.Sprintf("ws://%s/devtools/page/%s", s.Endpoint(), id)
}

// selectPageTarget returns the preferred page target, or nil when none exists.
func selectPageTarget(infos []*target.Info, preferred target.ID) *target.Info {
	var first *target.Info
	for _, info := range infos {
		if info == nil || info.Type != "page" {
			continue
		}
		if preferred != "" && info.TargetID == preferred {
			return info
		}
		if first == nil {
			first = info
		}
	}
	return first
}

// Close releases the session. A spawned browser is terminated; an attached
// one is left running with only our tab closed. Safe to call repeatedly.
func (s *Session) Close(ctx context.Context) error {
	s.release("closed by owner")

	select {
	case <-s.tabCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("Context cancelled while waiting for browser shutdown.", zap.Error(ctx.Err()))
		return ctx.Err()
	case <-time.After(closeTimeout):
		s.logger.Warn("Timeout waiting for browser shutdown.")
	}
	return nil
}

// Dispose releases the session without waiting for the browser to exit.
func (s *Session) Dispose() {
	s.release("disposed")
}

func (s *Session) watch() {
	select {
	case <-s.tabCtx.Done():
		s.remoteClosed("debugging connection closed")
	case <-s.done:
	}
}

func (s *Session) remoteClosed(reason string) {
	if s.closed() {
		return
	}
	s.logger.Warn("Browser went away; releasing session.", zap.String("reason", reason))
	s.release(reason)
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

func (s *Session) release(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.isClosed = true
		callbacks := s.onClose
		s.onClose = nil
		s.mu.Unlock()

		s.logger.Debug("Releasing browser session.", zap.String("reason", reason))
		s.tabCancel()
		s.allocCancel()

		for _, fn := range callbacks {
			fn()
		}
		close(s.done)
	})
}
