// internal/browser/session_test.go
package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/a11y-bridge/internal/config"
)

const testTimeout = 45 * time.Second

// findBrowser returns a local chrome binary or skips the test.
func findBrowser(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no chrome binary on PATH")
	return ""
}

func TestSelectPageTarget(t *testing.T) {
	infos := []*target.Info{
		{TargetID: "sw", Type: "service_worker", URL: "https://example.test/sw.js"},
		{TargetID: "p1", Type: "page", URL: "https://example.test/a"},
		nil,
		{TargetID: "p2", Type: "page", URL: "https://example.test/b"},
	}

	t.Run("prefers own tab", func(t *testing.T) {
		got := selectPageTarget(infos, "p2")
		require.NotNil(t, got)
		assert.Equal(t, target.ID("p2"), got.TargetID)
	})

	t.Run("falls back to first page", func(t *testing.T) {
		got := selectPageTarget(infos, "gone")
		require.NotNil(t, got)
		assert.Equal(t, target.ID("p1"), got.TargetID)
	})

	t.Run("no page targets", func(t *testing.T) {
		assert.Nil(t, selectPageTarget(infos[:1], ""))
		assert.Nil(t, selectPageTarget(nil, ""))
	})
}

func TestConfig(t *testing.T) {
	t.Run("builder", func(t *testing.T) {
		c := NewConfig().WithExecutable("/opt/chrome").WithEndpoint("", 9333).WithArgs("--lang=en", "mute-audio")
		assert.Equal(t, "/opt/chrome", c.ExecutablePath)
		assert.Equal(t, "127.0.0.1:9333", c.Endpoint())
		assert.Equal(t, []string{"--lang=en", "mute-audio"}, c.Args)
		assert.False(t, c.Attach)

		c.AttachTo("10.0.0.2", 9222)
		assert.True(t, c.Attach)
		assert.Equal(t, "10.0.0.2:9222", c.Endpoint())
	})

	t.Run("from application config", func(t *testing.T) {
		bc := config.NewDefaultConfig().Browser
		bc.Attach = true
		bc.LaunchTimeout = 0
		c := FromConfig(bc)
		assert.True(t, c.Attach)
		assert.Equal(t, bc.Port, c.Port)
		assert.Equal(t, defaultLaunchTimeout, c.LaunchTimeout)
	})

	t.Run("normalize picks a free port when spawning", func(t *testing.T) {
		norm, err := NewConfig().normalize()
		require.NoError(t, err)
		assert.NotZero(t, norm.Port)
	})

	t.Run("normalize rejects attach without port", func(t *testing.T) {
		c := NewConfig()
		c.Attach = true
		_, err := c.normalize()
		assert.Error(t, err)
	})

	t.Run("normalize expands the profile dir", func(t *testing.T) {
		norm, err := NewConfig().WithEndpoint("", 9222).WithProfileDir("~/.a11y-profile").normalize()
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(norm.ProfileDir))
	})

	t.Run("allocator options carry overrides", func(t *testing.T) {
		c := NewConfig().WithEndpoint("", 9222).WithExecutable("/opt/chrome").WithProfileDir("/tmp/p").WithArgs("--lang=en")
		base := NewConfig().WithEndpoint("", 9222)
		assert.Greater(t, len(c.allocatorOptions()), len(base.allocatorOptions()))
	})
}

func TestTarget(t *testing.T) {
	tg := NewTarget("t1", "https://example.test/", "ws://127.0.0.1:9222/devtools/page/t1")
	assert.Equal(t, StateUnknown, tg.State())

	tg.SetState(StatePresent)
	assert.Equal(t, "present", tg.State().String())

	tg.MarkNavigated("https://example.test/next")
	assert.Equal(t, StateUnknown, tg.State())
	assert.Equal(t, "https://example.test/next", tg.URL())

	require.True(t, tg.TryAcquire())
	assert.False(t, tg.TryAcquire(), "second acquire must fail while busy")
	tg.Release()
	assert.True(t, tg.TryAcquire())
}

func TestLaunchFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	t.Run("invalid executable", func(t *testing.T) {
		cfg := NewConfig().WithExecutable(filepath.Join(t.TempDir(), "no-such-chrome"))
		cfg.LaunchTimeout = 5 * time.Second

		s, err := Launch(ctx, cfg, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Nil(t, s)

		var launchErr *LaunchError
		require.True(t, errors.As(err, &launchErr))
		assert.False(t, launchErr.Attach)
	})

	t.Run("attach without port", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Attach = true

		_, err := Launch(ctx, cfg, zaptest.NewLogger(t))
		var launchErr *LaunchError
		require.True(t, errors.As(err, &launchErr))
		assert.True(t, launchErr.Attach)
	})
}

func TestSessionLifecycle(t *testing.T) {
	execPath := findBrowser(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html lang="en"><head><title>t</title></head><body><main>ok</main></body></html>`))
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	cfg := NewConfig().WithExecutable(execPath).WithTargetURL(server.URL)
	s, err := Launch(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	var callbacks int
	s.OnClose(func() { callbacks++ })

	tg, err := s.AttachTarget(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tg.ID)
	assert.Contains(t, tg.WebSocketURL, "/devtools/page/"+tg.ID)
	assert.Equal(t, StateUnknown, tg.State())

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx), "close is idempotent")
	assert.Equal(t, 1, callbacks)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}

	_, err = s.AttachTarget(ctx)
	assert.Error(t, err)
}
