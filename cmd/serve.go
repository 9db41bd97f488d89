package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/internal/config"
	"github.com/xkilldash9x/a11y-bridge/internal/observability"
	"github.com/xkilldash9x/a11y-bridge/internal/orchestrator"
	"github.com/xkilldash9x/a11y-bridge/internal/relay"
)

// openPipeline is swapped out in tests.
var openPipeline = orchestrator.Open

// newServeCmd creates the `serve` command: a long-running relay that scans
// the attached page whenever a trigger arrives.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the channel relay and scans on every trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg)
		},
	}

	serveCmd.Flags().String("listen", "", "Address for the relay's websocket endpoints.")
	serveCmd.Flags().Bool("attach", false, "Attach to a browser already listening on --host/--port instead of launching one.")
	serveCmd.Flags().String("host", "127.0.0.1", "Debugging host.")
	serveCmd.Flags().Int("port", 9222, "Debugging port.")
	serveCmd.Flags().String("executable", "", "Browser executable.")
	serveCmd.Flags().String("engine", "", "Path to the scan engine script.")
	serveCmd.Flags().String("workspace", ".", "Workspace root used to locate findings in source files.")
	serveCmd.Flags().String("sarif", "", "Keep this SARIF file in sync with published diagnostics.")
	serveCmd.Flags().Duration("trigger-every", 0, "Minimum interval between handled triggers. 0 means unlimited.")
	serveCmd.Flags().Bool("metrics", true, "Serve prometheus metrics on the relay listener.")

	return serveCmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	p, err := openPipeline(ctx, cfg, orchestrator.Deps{Logger: logger, Metrics: metrics})
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Debug("Error while closing pipeline.", zap.Error(err))
		}
	}()

	factory := func() *relay.Relay {
		r := relay.New(cfg.Relay, logger, metrics)
		r.Handle(cfg.Relay.TriggerEvent, p.Scanner.Handler())
		return r
	}

	var metricsHandler http.Handler
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler()
		metricsPath = cfg.Metrics.Path
	}
	srv := relay.NewServer(factory, cfg.Relay.SubscriberBuf, metricsPath, metricsHandler, logger)

	// Stop serving when the browser goes away.
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.Session.Done():
			logger.Warn("Browser session ended; shutting down relay.")
			cancel()
		case <-serveCtx.Done():
		}
	}()

	logger.Info("Relay listening.",
		zap.String("addr", cfg.Relay.ListenAddr),
		zap.String("target_id", p.Target.ID),
		zap.String("trigger", cfg.Relay.TriggerEvent))

	err = srv.ListenAndServe(serveCtx, cfg.Relay.ListenAddr)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server failed: %w", err)
	}
	return nil
}
