package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/internal/config"
	"github.com/xkilldash9x/a11y-bridge/internal/observability"
	"github.com/xkilldash9x/a11y-bridge/internal/orchestrator"
)

// runOnce is swapped out in tests.
var runOnce = orchestrator.RunOnce

// newScanCmd creates and configures the `scan` command.
func newScanCmd() *cobra.Command {
	var asJSON bool

	scanCmd := &cobra.Command{
		Use:   "scan [url]",
		Short: "Scans one page once and publishes diagnostics for the workspace",
		Long: `Launches (or attaches to) a browser, injects the scan engine into the page,
runs it, and maps every finding back onto the workspace source that produced it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Browser.TargetURL = args[0]
			}
			return runScan(ctx, cmd.OutOrStdout(), cfg, asJSON)
		},
	}

	scanCmd.Flags().Bool("attach", false, "Attach to a browser already listening on --host/--port instead of launching one.")
	scanCmd.Flags().String("host", "127.0.0.1", "Debugging host.")
	scanCmd.Flags().Int("port", 9222, "Debugging port. 0 picks a free port when launching.")
	scanCmd.Flags().String("executable", "", "Browser executable. Defaults to the first one found on PATH.")
	scanCmd.Flags().Bool("headless", true, "Launch the browser headless.")
	scanCmd.Flags().String("profile", "", "Browser profile directory.")
	scanCmd.Flags().Duration("launch-timeout", 0, "How long to wait for the browser to respond.")
	scanCmd.Flags().String("engine", "", "Path to the scan engine script.")
	scanCmd.Flags().String("engine-url", "", "URL the page should load the scan engine from.")
	scanCmd.Flags().Bool("sentinel-wait", true, "Wait for the engine to report itself loaded after injection.")
	scanCmd.Flags().StringSlice("tags", nil, "Rule tags to run (e.g. wcag2a,wcag2aa).")
	scanCmd.Flags().Duration("timeout", 0, "Scan timeout.")
	scanCmd.Flags().String("workspace", ".", "Workspace root used to locate findings in source files.")
	scanCmd.Flags().String("sarif", "", "Write diagnostics to this SARIF file.")
	scanCmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON.")

	return scanCmd
}

func runScan(ctx context.Context, out io.Writer, cfg *config.Config, asJSON bool) error {
	logger := observability.GetLogger()
	logger.Info("Starting scan",
		zap.String("target_url", cfg.Browser.TargetURL),
		zap.Bool("attach", cfg.Browser.Attach),
		zap.Strings("tags", cfg.Scan.Tags))

	report, err := runOnce(ctx, cfg, orchestrator.Deps{Logger: logger})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	return printSummary(out, report)
}

func printSummary(out io.Writer, report *orchestrator.Report) error {
	proj := report.Projection
	if len(proj.Summary) == 0 {
		_, err := fmt.Fprintf(out, "No violations found on %s (%s).\n", proj.URL, report.Duration.Round(time.Millisecond))
		return err
	}

	fmt.Fprintf(out, "%d violations across %d rules on %s (%s)\n\n",
		proj.NodeCount(), len(proj.Summary), proj.URL, report.Duration.Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tIMPACT\tNODES\tHELP")
	for _, s := range proj.Summary {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.RuleID, s.Impact, s.Count, s.Help)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if resources := proj.Resources(); len(resources) > 0 {
		fmt.Fprintf(out, "\n%d diagnostics published to %d files\n", proj.DiagnosticCount(), len(resources))
	}
	if n := len(proj.Unpositioned); n > 0 {
		fmt.Fprintf(out, "%d nodes could not be located in the workspace\n", n)
	}
	return nil
}
