package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/a11y-bridge/internal/config"
	"github.com/xkilldash9x/a11y-bridge/internal/observability"
)

func dial(t *testing.T, base, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(base, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	return conn
}

func TestServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	cfg := config.NewDefaultConfig().Relay
	srv := NewServer(func() *Relay {
		r := New(cfg, logger, metrics)
		r.Handle(cfg.TriggerEvent, HandlerFunc(func(context.Context, Frame) (interface{}, error) {
			return []string{"image-alt"}, nil
		}))
		return r
	}, cfg.SubscriberBuf, "/metrics", metrics.Handler(), logger)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	t.Run("surface before socket is refused", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/surface", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	socket := dial(t, ts.URL, "/socket")
	defer socket.Close()
	require.Eventually(t, func() bool {
		r := srv.Current()
		return r != nil && r.State() == StateSocketOnly
	}, 2*time.Second, 10*time.Millisecond)

	surface := dial(t, ts.URL, "/surface")
	defer surface.Close()
	require.Eventually(t, func() bool { return srv.Current().State() == StateBoth }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, socket.WriteMessage(websocket.TextMessage, []byte("hello")))
	_ = surface.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := surface.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `websocket:{"event":"message","message":"hello"}`, string(msg))

	require.NoError(t, surface.WriteMessage(websocket.TextMessage, []byte(cfg.TriggerEvent)))
	_, msg, err = surface.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, cfg.ResultEvent+`:["image-alt"]`, string(msg))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Current().Close())
}
