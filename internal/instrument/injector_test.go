// internal/instrument/injector_test.go
package instrument

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/a11y-bridge/internal/browser"
	"github.com/xkilldash9x/a11y-bridge/internal/cdp"
	"github.com/xkilldash9x/a11y-bridge/internal/config"
)

const engineStub = `window.axe = { run: function () { return Promise.resolve({violations: []}); } };`

// fakePage simulates one document: the engine exists once the engine
// source has been evaluated, and a navigation wipes it.
type fakePage struct {
	mu          sync.Mutex
	engine      bool
	scaffolds   int
	engines     int
	sentinels   int
	failOn      string
	loadsViaSrc bool
}

func (p *fakePage) Evaluate(_ context.Context, expr string, _ bool) (*cdp.EvaluateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOn != "" && strings.Contains(expr, p.failOn) {
		return &cdp.EvaluateResult{ExceptionDetails: &cdp.ExceptionDetails{Text: "Uncaught SyntaxError"}}, nil
	}

	switch {
	case expr == SentinelExpression:
		p.sentinels++
		value := []byte("false")
		if p.engine {
			value = []byte("true")
		}
		return &cdp.EvaluateResult{Result: cdp.RemoteObject{Type: "boolean", Value: value}}, nil
	case strings.Contains(expr, "attachShadow"):
		p.scaffolds++
		if p.loadsViaSrc {
			p.engine = true
		}
	case expr == engineStub:
		p.engines++
		p.engine = true
	}
	return &cdp.EvaluateResult{Result: cdp.RemoteObject{Type: "undefined"}}, nil
}

func (p *fakePage) navigate() {
	p.mu.Lock()
	p.engine = false
	p.mu.Unlock()
}

func testInstrumentConfig(t *testing.T) config.InstrumentConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "axe.min.js")
	require.NoError(t, os.WriteFile(path, []byte(engineStub), 0o600))

	cfg := config.NewDefaultConfig().Instrument
	cfg.EnginePath = path
	cfg.WaitForSentinel = true
	cfg.SentinelTimeout = 200 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

func TestEnsureInstrumented(t *testing.T) {
	ctx := context.Background()

	t.Run("injects once and is idempotent", func(t *testing.T) {
		inj, err := NewInjector(testInstrumentConfig(t), zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		page := &fakePage{}
		target := browser.NewTarget("t1", "https://site.test/", "")

		require.NoError(t, inj.EnsureInstrumented(ctx, page, target))
		assert.Equal(t, browser.StatePresent, target.State())
		require.NoError(t, inj.EnsureInstrumented(ctx, page, target))

		assert.Equal(t, 1, page.scaffolds)
		assert.Equal(t, 1, page.engines, "second call must observe the sentinel and skip")
	})

	t.Run("navigation resets instrumentation", func(t *testing.T) {
		inj, err := NewInjector(testInstrumentConfig(t), zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		page := &fakePage{}
		target := browser.NewTarget("t1", "https://site.test/", "")

		require.NoError(t, inj.EnsureInstrumented(ctx, page, target))
		page.navigate()
		target.MarkNavigated("https://site.test/next")
		assert.Equal(t, browser.StateUnknown, target.State())

		require.NoError(t, inj.EnsureInstrumented(ctx, page, target))
		assert.Equal(t, 2, page.engines)
		assert.Equal(t, browser.StatePresent, target.State())
	})

	t.Run("sentinel stays absent within the wait", func(t *testing.T) {
		cfg := testInstrumentConfig(t)
		cfg.EnginePath = ""
		cfg.EngineURL = "https://cdn.test/axe.min.js"
		inj, err := NewInjector(cfg, zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		page := &fakePage{}
		target := browser.NewTarget("t1", "https://site.test/", "")

		start := time.Now()
		require.NoError(t, inj.EnsureInstrumented(ctx, page, target), "an unconfirmed injection is not an error")
		assert.GreaterOrEqual(t, time.Since(start), cfg.SentinelTimeout)
		assert.Equal(t, browser.StateUnknown, target.State())
		assert.Greater(t, page.sentinels, 2, "sentinel is polled")
	})

	t.Run("engine loaded by script src", func(t *testing.T) {
		cfg := testInstrumentConfig(t)
		cfg.EnginePath = ""
		cfg.EngineURL = "https://cdn.test/axe.min.js"
		inj, err := NewInjector(cfg, zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		page := &fakePage{loadsViaSrc: true}
		target := browser.NewTarget("t1", "https://site.test/", "")

		require.NoError(t, inj.EnsureInstrumented(ctx, page, target))
		assert.Equal(t, browser.StatePresent, target.State())
		assert.Equal(t, 0, page.engines)
	})

	t.Run("engine source that throws", func(t *testing.T) {
		inj, err := NewInjector(testInstrumentConfig(t), zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		page := &fakePage{failOn: "window.axe = {"}
		target := browser.NewTarget("t1", "https://site.test/", "")

		err = inj.EnsureInstrumented(ctx, page, target)
		var injErr *InjectionError
		require.True(t, errors.As(err, &injErr))
		assert.Equal(t, "engine", injErr.Stage)
		assert.Equal(t, browser.StateAbsent, target.State())
	})

	t.Run("no engine configured", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Instrument
		cfg.EnginePath = ""
		cfg.EngineURL = ""
		cfg.WaitForSentinel = true
		cfg.SentinelTimeout = 5 * time.Second
		inj, err := NewInjector(cfg, zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		page := &fakePage{}
		target := browser.NewTarget("t1", "https://site.test/", "")

		start := time.Now()
		err = inj.EnsureInstrumented(ctx, page, target)
		var injErr *InjectionError
		require.True(t, errors.As(err, &injErr))
		assert.Equal(t, "engine", injErr.Stage)
		assert.ErrorIs(t, err, ErrNoEngineSource)
		assert.Less(t, time.Since(start), cfg.SentinelTimeout, "must not wait for a sentinel that cannot appear")
		assert.Equal(t, 0, page.scaffolds)
		assert.Equal(t, browser.StateAbsent, target.State())

		page.engine = true
		require.NoError(t, inj.EnsureInstrumented(ctx, page, target), "an engine already in the page needs no source")
		assert.Equal(t, browser.StatePresent, target.State())
	})
}

func TestNewInjector(t *testing.T) {
	t.Run("missing engine file", func(t *testing.T) {
		cfg := testInstrumentConfig(t)
		cfg.EnginePath = filepath.Join(t.TempDir(), "missing.js")
		_, err := NewInjector(cfg, zaptest.NewLogger(t), nil)
		assert.Error(t, err)
	})

	t.Run("invalid root id", func(t *testing.T) {
		cfg := testInstrumentConfig(t)
		cfg.RootID = "not a dom id"
		_, err := NewInjector(cfg, zaptest.NewLogger(t), nil)
		assert.Error(t, err)
	})
}
