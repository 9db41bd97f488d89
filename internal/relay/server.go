// internal/relay/server.go
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Factory builds a fresh relay. Closed relays are never reused, so the
// server asks for a new one whenever a socket connects.
type Factory func() *Relay

// Server exposes the relay over HTTP: /socket and /surface upgrade to
// websocket endpoints, and metricsPath (when non-empty) serves metrics.
type Server struct {
	factory  Factory
	logger   *zap.Logger
	buf      int
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu      sync.Mutex
	current *Relay
}

// NewServer wires the routes. metrics may be nil.
func NewServer(factory Factory, buf int, metricsPath string, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		factory: factory,
		logger:  logger.Named("relay_server"),
		buf:     buf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHostOrigin,
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("/socket", s.handleSocket)
	s.mux.HandleFunc("/surface", s.handleSurface)
	if metricsPath != "" && metrics != nil {
		s.mux.Handle(metricsPath, metrics)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Current returns the relay bound to the most recent socket, if any.
func (s *Server) Current() *Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then closes the live relay.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("Relay server listening.", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if r := s.Current(); r != nil {
		_ = r.Close()
	}
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rel := s.current
	if rel == nil || rel.State() != StateDisconnected {
		if rel != nil {
			// One socket per relay; a new connection replaces the old pair.
			go rel.Close()
		}
		rel = s.factory()
		s.current = rel
	}
	s.mu.Unlock()

	ep, err := s.upgrade(w, r)
	if err != nil {
		return
	}
	if err := rel.ConnectSocket(ep); err != nil {
		s.logger.Warn("Rejecting socket.", zap.Error(err))
		_ = ep.Close()
	}
}

func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	rel := s.Current()
	if rel == nil {
		http.Error(w, "no socket connected", http.StatusConflict)
		return
	}
	ep, err := s.upgrade(w, r)
	if err != nil {
		return
	}
	if err := rel.AttachSurface(ep); err != nil {
		s.logger.Warn("Rejecting surface.", zap.Error(err))
		_ = ep.Close()
	}
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*WebSocketEndpoint, error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed.", zap.Error(err))
		return nil, err
	}
	return NewWebSocketEndpoint(conn, s.buf, s.logger), nil
}

// sameHostOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from the serving host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
