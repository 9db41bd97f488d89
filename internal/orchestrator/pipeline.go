package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/internal/browser"
	"github.com/xkilldash9x/a11y-bridge/internal/cdp"
	"github.com/xkilldash9x/a11y-bridge/internal/config"
	"github.com/xkilldash9x/a11y-bridge/internal/diagnostics"
	"github.com/xkilldash9x/a11y-bridge/internal/instrument"
	"github.com/xkilldash9x/a11y-bridge/internal/observability"
)

const disposeTimeout = 10 * time.Second

// Deps are the collaborators a Pipeline is built from. Zero values get
// production defaults.
type Deps struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Dialer  cdp.Dialer
	// Resolver overrides the workspace resolver built from the diagnostics section.
	Resolver diagnostics.Resolver
	// Sinks receive published diagnostics in addition to the SARIF file, if configured.
	Sinks []diagnostics.Sink
}

// Pipeline owns a browser session, the attached target and the debugger
// connection to it. Close releases all three.
type Pipeline struct {
	Session *browser.Session
	Target  *browser.Target
	Client  *cdp.Client
	Scanner *Scanner

	logger *zap.Logger
	cancel context.CancelFunc
}

// Open launches (or attaches to) the browser, picks a page target and
// connects the debugger client to it. Nothing is dialed when the launch
// fails, and everything acquired so far is released on any error.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (p *Pipeline, err error) {
	logger := deps.Logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger = logger.Named("pipeline")

	comp, err := buildComponents(cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	session, err := browser.Launch(ctx, browser.FromConfig(cfg.Browser), logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			disposeSession(session, logger)
		}
	}()

	target, err := session.AttachTarget(ctx)
	if err != nil {
		return nil, err
	}

	client, err := cdp.Dial(ctx, deps.Dialer, target.WebSocketURL,
		cdp.WithLogger(logger),
		cdp.WithMetrics(deps.Metrics),
		cdp.WithErrorHandler(func(err error) {
			logger.Warn("Debugger connection reported an error.", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target %s: %w", target.ID, err)
	}
	defer func() {
		if err != nil {
			_ = client.Close()
		}
	}()

	scanner, err := NewScanner(cfg.Scan, target, client, comp, logger, deps.Metrics)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	if err = client.WatchNavigations(watchCtx, func(url string) {
		logger.Debug("Target navigated; instrumentation must be rechecked.", zap.String("url", url))
		target.MarkNavigated(url)
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch navigations: %w", err)
	}
	go func() {
		select {
		case <-session.Done():
			_ = client.Close()
		case <-client.Done():
		case <-watchCtx.Done():
		}
	}()

	return &Pipeline{
		Session: session,
		Target:  target,
		Client:  client,
		Scanner: scanner,
		logger:  logger,
		cancel:  cancel,
	}, nil
}

// Close disconnects from the target and releases the browser session.
func (p *Pipeline) Close() error {
	p.cancel()
	err := p.Client.Close()
	disposeSession(p.Session, p.logger)
	return err
}

// RunOnce opens a pipeline, runs a single scan and releases everything on
// every exit path.
func RunOnce(ctx context.Context, cfg *config.Config, deps Deps) (*Report, error) {
	p, err := Open(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Close(); err != nil {
			p.logger.Debug("Error while closing debugger connection.", zap.Error(err))
		}
	}()
	return p.Scanner.Scan(ctx)
}

func buildComponents(cfg *config.Config, deps Deps, logger *zap.Logger) (Components, error) {
	injector, err := instrument.NewInjector(cfg.Instrument, logger, deps.Metrics)
	if err != nil {
		return Components{}, err
	}

	resolver := deps.Resolver
	if resolver == nil {
		sr, err := diagnostics.NewSourceResolver(cfg.Diagnostics.WorkspaceRoot, cfg.Diagnostics.Include, logger)
		if err != nil {
			return Components{}, err
		}
		resolver = sr
	}

	sinks := append([]diagnostics.Sink(nil), deps.Sinks...)
	if cfg.Diagnostics.SARIFOutput != "" {
		root, err := filepath.Abs(cfg.Diagnostics.WorkspaceRoot)
		if err != nil {
			return Components{}, fmt.Errorf("failed to resolve workspace root: %w", err)
		}
		sinks = append(sinks, diagnostics.NewSARIFSink(cfg.Diagnostics.SARIFOutput, root))
	}

	return Components{
		Injector:  injector,
		Projector: diagnostics.NewProjector(cfg.Diagnostics.Source, logger),
		Resolver:  resolver,
		Publisher: diagnostics.NewPublisher(logger, sinks...),
	}, nil
}

func disposeSession(s *browser.Session, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		logger.Debug("Browser session did not shut down cleanly.", zap.Error(err))
	}
}
