// internal/diagnostics/sarif.go
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/xkilldash9x/a11y-bridge/api/schemas"
)

const (
	ToolName    = "a11y-bridge"
	ToolInfoURI = "https://github.com/xkilldash9x/a11y-bridge"
)

// SARIFSink mirrors published diagnostics into a SARIF 2.1.0 file. The file
// is rewritten on every Flush with the current state of every resource.
type SARIFSink struct {
	*MemorySink
	path string
	root string
}

// NewSARIFSink writes to path. Resources under root are recorded relative to it.
func NewSARIFSink(path, root string) *SARIFSink {
	return &SARIFSink{MemorySink: NewMemorySink(), path: path, root: root}
}

// Flush writes the SARIF log.
func (s *SARIFSink) Flush(_ context.Context) error {
	report, err := s.build()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create SARIF directory: %w", err)
		}
	}
	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create SARIF file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := report.PrettyWrite(file); err != nil {
		return fmt.Errorf("failed to write SARIF report: %w", err)
	}
	return nil
}

func (s *SARIFSink) build() (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}
	run := sarif.NewRunWithInformationURI(ToolName, ToolInfoURI)

	rules := make(map[string]bool)
	for _, resource := range s.Resources() {
		uri := s.relative(resource)
		for _, d := range s.Get(resource) {
			if !rules[d.RuleID] {
				rule := run.AddRule(d.RuleID).WithDescription(d.Message)
				if d.HelpURL != "" {
					rule.WithHelpURI(d.HelpURL)
				}
				rules[d.RuleID] = true
			}

			result := sarif.NewRuleResult(d.RuleID).
				WithMessage(sarif.NewTextMessage(d.Message)).
				WithLevel(sarifLevel(d.Severity)).
				WithLocations(locations(uri, d))
			run.AddResult(result)
		}
	}

	report.AddRun(run)
	return report, nil
}

func (s *SARIFSink) relative(resource string) string {
	if s.root == "" {
		return filepath.ToSlash(resource)
	}
	rel, err := filepath.Rel(s.root, resource)
	if err != nil || filepath.IsAbs(rel) || len(rel) >= 2 && rel[:2] == ".." {
		return filepath.ToSlash(resource)
	}
	return filepath.ToSlash(rel)
}

func locations(uri string, d schemas.Diagnostic) []*sarif.Location {
	artifact := sarif.NewArtifactLocation().WithUri(uri)
	if len(d.Related) == 0 {
		return []*sarif.Location{
			sarif.NewLocation().WithPhysicalLocation(sarif.NewPhysicalLocation().WithArtifactLocation(artifact)),
		}
	}
	out := make([]*sarif.Location, 0, len(d.Related))
	for _, r := range d.Related {
		region := sarif.NewRegion().
			WithStartLine(r.Start.Line + 1).
			WithStartColumn(r.Start.Character + 1).
			WithEndLine(r.End.Line + 1).
			WithEndColumn(r.End.Character + 1)
		out = append(out, sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(uri)).
				WithRegion(region),
		))
	}
	return out
}

func sarifLevel(s schemas.Severity) string {
	switch s {
	case schemas.SeverityError:
		return "error"
	case schemas.SeverityWarning:
		return "warning"
	case schemas.SeverityInformation:
		return "note"
	default:
		return "none"
	}
}
