// internal/instrument/injector.go
package instrument

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/internal/browser"
	"github.com/xkilldash9x/a11y-bridge/internal/browser/shim"
	"github.com/xkilldash9x/a11y-bridge/internal/cdp"
	"github.com/xkilldash9x/a11y-bridge/internal/config"
	"github.com/xkilldash9x/a11y-bridge/internal/observability"
)

// SentinelExpression is true once the engine's entry point is callable in
// the page's main world.
const SentinelExpression = `typeof window.axe === 'object' && window.axe !== null && typeof window.axe.run === 'function'`

// Result labels recorded per EnsureInstrumented call.
const (
	ResultSkipped     = "skipped"
	ResultInjected    = "injected"
	ResultUnconfirmed = "unconfirmed"
	ResultFailed      = "failed"
)

// ErrNoEngineSource means the engine is absent and neither an engine path
// nor an engine URL is configured.
var ErrNoEngineSource = errors.New("no engine source or engine url configured")

// Evaluator runs script in a target. *cdp.Client satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, returnByValue bool) (*cdp.EvaluateResult, error)
}

// InjectionError means the instrumentation could not be added to the page.
type InjectionError struct {
	Stage string // sentinel, scaffold or engine.
	Err   error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("instrumentation failed during %s: %v", e.Stage, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

// Injector makes sure the scan engine is present in a target before a scan.
type Injector struct {
	cfg          config.InstrumentConfig
	scaffold     string
	engineSource string
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// NewInjector prepares the scaffold script and, when EnginePath is set,
// reads the engine source once.
func NewInjector(cfg config.InstrumentConfig, logger *zap.Logger, metrics *observability.Metrics) (*Injector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scaffold, err := shim.BuildScaffold(shim.Template(), shim.ScaffoldConfig{
		RootID:    cfg.RootID,
		EngineURL: cfg.EngineURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build scaffold: %w", err)
	}

	inj := &Injector{
		cfg:      cfg,
		scaffold: scaffold,
		logger:   logger.Named("instrument"),
		metrics:  metrics,
	}

	if cfg.EnginePath != "" {
		path, err := homedir.Expand(cfg.EnginePath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand engine path: %w", err)
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read engine source: %w", err)
		}
		inj.engineSource = string(src)
	}
	return inj, nil
}

// EnsureInstrumented checks the sentinel and injects only when it is absent.
// The check runs on every call since navigation silently discards anything
// injected earlier. A sentinel that does not appear within the configured
// wait is logged and the call still succeeds; the scan that follows reports
// the real failure if the engine never loaded.
func (i *Injector) EnsureInstrumented(ctx context.Context, ev Evaluator, t *browser.Target) error {
	log := i.logger.With(zap.String("target_id", t.ID))

	present, err := i.sentinel(ctx, ev)
	if err != nil {
		t.SetState(browser.StateUnknown)
		i.metrics.ObserveInjection(ResultFailed)
		return &InjectionError{Stage: "sentinel", Err: err}
	}
	if present {
		t.SetState(browser.StatePresent)
		i.metrics.ObserveInjection(ResultSkipped)
		log.Debug("Engine already present; skipping injection.")
		return nil
	}

	t.SetState(browser.StateAbsent)
	if i.engineSource == "" && i.cfg.EngineURL == "" {
		i.metrics.ObserveInjection(ResultFailed)
		return &InjectionError{Stage: "engine", Err: ErrNoEngineSource}
	}
	log.Info("Injecting instrumentation.", zap.String("url", t.URL()))

	if err := i.run(ctx, ev, i.scaffold); err != nil {
		i.metrics.ObserveInjection(ResultFailed)
		return &InjectionError{Stage: "scaffold", Err: err}
	}
	if i.engineSource != "" {
		if err := i.run(ctx, ev, i.engineSource); err != nil {
			i.metrics.ObserveInjection(ResultFailed)
			return &InjectionError{Stage: "engine", Err: err}
		}
	}

	if !i.cfg.WaitForSentinel {
		t.SetState(browser.StateUnknown)
		i.metrics.ObserveInjection(ResultInjected)
		return nil
	}

	if i.waitForSentinel(ctx, ev) {
		t.SetState(browser.StatePresent)
		i.metrics.ObserveInjection(ResultInjected)
		log.Debug("Engine confirmed after injection.")
		return nil
	}

	t.SetState(browser.StateUnknown)
	i.metrics.ObserveInjection(ResultUnconfirmed)
	log.Warn("Engine not confirmed after injection; continuing.", zap.Duration("waited", i.cfg.SentinelTimeout))
	return nil
}

func (i *Injector) sentinel(ctx context.Context, ev Evaluator) (bool, error) {
	res, err := ev.Evaluate(ctx, SentinelExpression, true)
	if err != nil {
		return false, err
	}
	if res.ExceptionDetails != nil {
		return false, fmt.Errorf("sentinel check threw: %s", res.ExceptionDetails.Message())
	}
	var present bool
	if len(res.Result.Value) > 0 {
		if err := json.Unmarshal(res.Result.Value, &present); err != nil {
			return false, fmt.Errorf("sentinel returned a non-boolean value: %w", err)
		}
	}
	return present, nil
}

func (i *Injector) run(ctx context.Context, ev Evaluator, script string) error {
	res, err := ev.Evaluate(ctx, script, true)
	if err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("script threw: %s", res.ExceptionDetails.Message())
	}
	return nil
}

func (i *Injector) waitForSentinel(ctx context.Context, ev Evaluator) bool {
	waitCtx, cancel := context.WithTimeout(ctx, i.cfg.SentinelTimeout)
	defer cancel()

	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if present, err := i.sentinel(waitCtx, ev); err == nil && present {
			return true
		}
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}
