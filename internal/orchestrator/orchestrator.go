// File: internal/orchestrator/orchestrator.go
// Description: Drives one scan through the pipeline: instrument the target,
// run the engine, project the findings and publish diagnostics.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/api/schemas"
	"github.com/xkilldash9x/a11y-bridge/internal/browser"
	"github.com/xkilldash9x/a11y-bridge/internal/config"
	"github.com/xkilldash9x/a11y-bridge/internal/diagnostics"
	"github.com/xkilldash9x/a11y-bridge/internal/instrument"
	"github.com/xkilldash9x/a11y-bridge/internal/observability"
	"github.com/xkilldash9x/a11y-bridge/internal/relay"
)

// ErrScanInProgress is returned when the target is already being scanned.
var ErrScanInProgress = errors.New("a scan is already running on this target")

// Scan outcome labels.
const (
	OutcomeSuccess       = "success"
	OutcomeBusy          = "busy"
	OutcomeInjectFailed  = "inject_failed"
	OutcomeScanFailed    = "scan_failed"
	OutcomePublishFailed = "publish_failed"
)

// ScanClient is the part of the debugger client the scanner needs.
// *cdp.Client satisfies it.
type ScanClient interface {
	instrument.Evaluator
	RunScan(ctx context.Context, tags []string) (*schemas.ScanResult, error)
}

type refresher interface {
	Refresh()
}

// Report is what a completed scan hands back.
type Report struct {
	Result     *schemas.ScanResult     `json:"result"`
	Projection *diagnostics.Projection `json:"projection"`
	Duration   time.Duration           `json:"duration"`
}

// Components are the pipeline stages a Scanner drives.
type Components struct {
	Injector  *instrument.Injector
	Projector *diagnostics.Projector
	Resolver  diagnostics.Resolver
	Publisher *diagnostics.Publisher
}

// Scanner runs scans against a single target. Only one scan runs at a time.
type Scanner struct {
	cfg     config.ScanConfig
	target  *browser.Target
	client  ScanClient
	comp    Components
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewScanner checks that every stage is present.
func NewScanner(
	cfg config.ScanConfig,
	target *browser.Target,
	client ScanClient,
	comp Components,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*Scanner, error) {
	if target == nil ||
		client == nil ||
		comp.Injector == nil ||
		comp.Projector == nil ||
		comp.Resolver == nil ||
		comp.Publisher == nil {
		return nil, fmt.Errorf("cannot initialize scanner with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		cfg:     cfg,
		target:  target,
		client:  client,
		comp:    comp,
		logger:  logger.Named("scanner").With(zap.String("target_id", target.ID)),
		metrics: metrics,
	}, nil
}

// Target is the page this scanner works on.
func (s *Scanner) Target() *browser.Target { return s.target }

// Scan instruments the target if needed, runs the engine and publishes the
// projected diagnostics. A concurrent call fails fast with ErrScanInProgress.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	if !s.target.TryAcquire() {
		s.metrics.ObserveScan(OutcomeBusy, 0)
		return nil, ErrScanInProgress
	}
	defer s.target.Release()

	start := time.Now()
	s.logger.Info("Starting scan.", zap.String("url", s.target.URL()), zap.Strings("tags", s.cfg.Tags))

	if err := s.comp.Injector.EnsureInstrumented(ctx, s.client, s.target); err != nil {
		s.metrics.ObserveScan(OutcomeInjectFailed, time.Since(start))
		return nil, err
	}

	scanCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	result, err := s.client.RunScan(scanCtx, s.cfg.Tags)
	if err != nil {
		s.metrics.ObserveScan(OutcomeScanFailed, time.Since(start))
		return nil, fmt.Errorf("scan of %s failed: %w", s.target.URL(), err)
	}
	if result.URL == "" {
		result.URL = s.target.URL()
	}

	if r, ok := s.comp.Resolver.(refresher); ok {
		r.Refresh()
	}
	proj := s.comp.Projector.Project(result, s.comp.Resolver)

	report := &Report{Result: result, Projection: proj}
	if err := s.comp.Publisher.Publish(ctx, proj); err != nil {
		report.Duration = time.Since(start)
		s.metrics.ObserveScan(OutcomePublishFailed, report.Duration)
		return report, fmt.Errorf("failed to publish diagnostics: %w", err)
	}

	report.Duration = time.Since(start)
	s.metrics.ObserveScan(OutcomeSuccess, report.Duration)

	if len(result.Violations) == 0 {
		s.logger.Info("No violations found.", zap.String("url", result.URL))
	} else {
		s.logger.Info("Scan complete.",
			zap.String("url", result.URL),
			zap.Int("rules", len(proj.Summary)),
			zap.Int("nodes", proj.NodeCount()),
			zap.Int("diagnostics", proj.DiagnosticCount()),
			zap.Int("unpositioned", len(proj.Unpositioned)),
			zap.Duration("duration", report.Duration))
	}
	return report, nil
}

// Handler runs a scan for every trigger the relay dispatches.
func (s *Scanner) Handler() relay.Handler {
	return relay.HandlerFunc(func(ctx context.Context, _ relay.Frame) (interface{}, error) {
		report, err := s.Scan(ctx)
		if err != nil {
			return nil, err
		}
		return report, nil
	})
}
