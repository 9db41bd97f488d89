// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/a11y-bridge/internal/config"
	"github.com/xkilldash9x/a11y-bridge/internal/observability"
	"github.com/xkilldash9x/a11y-bridge/internal/orchestrator"
)

// resetForTest provides the single source of truth for resetting test state.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	osExit = os.Exit
	runOnce = orchestrator.RunOnce
	openPipeline = orchestrator.Open

	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})

	rootCmd = newRootCmd()
	t.Cleanup(func() {
		runOnce = orchestrator.RunOnce
		openPipeline = orchestrator.Open
		cfgFile = ""
	})
}

// execute runs a fresh root command with args and captures its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetForTest(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func findCommand(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()
	c, _, err := root.Find([]string{name})
	if err != nil {
		t.Fatalf("command %q not found: %v", name, err)
	}
	return c
}
