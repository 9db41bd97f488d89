// internal/diagnostics/projector.go
package diagnostics

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/a11y-bridge/api/schemas"
)

// UnpositionedFinding is a node whose origin could not be resolved. It is
// still reported, just without a location.
type UnpositionedFinding struct {
	RuleID string           `json:"rule_id"`
	Impact schemas.Impact   `json:"impact"`
	Help   string           `json:"help"`
	HTML   string           `json:"html"`
	Target schemas.Selector `json:"target,omitempty"`
}

// Projection is the outcome of projecting one scan.
type Projection struct {
	URL          string                          `json:"url"`
	Diagnostics  map[string][]schemas.Diagnostic `json:"diagnostics"`
	Unpositioned []UnpositionedFinding           `json:"unpositioned,omitempty"`
	Summary      []schemas.RuleSummary           `json:"summary"`
}

// Resources returns the resources with diagnostics in sorted order.
func (p *Projection) Resources() []string {
	out := make([]string, 0, len(p.Diagnostics))
	for r := range p.Diagnostics {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// DiagnosticCount is the number of diagnostics across all resources.
func (p *Projection) DiagnosticCount() int {
	n := 0
	for _, d := range p.Diagnostics {
		n += len(d)
	}
	return n
}

// NodeCount is the total number of affected nodes, positioned or not.
func (p *Projection) NodeCount() int {
	n := 0
	for _, s := range p.Summary {
		n += s.Count
	}
	return n
}

// Projector turns scan results into diagnostics.
type Projector struct {
	source string
	logger *zap.Logger
}

// NewProjector stamps every diagnostic with source.
func NewProjector(source string, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{source: source, logger: logger.Named("projector")}
}

// Code renders the diagnostic code for a rule.
func Code(ruleID string) string {
	return fmt.Sprintf("a11y(%s)", ruleID)
}

type groupKey struct {
	resource string
	rule     string
}

// Project resolves every node of every finding and groups the results into
// one diagnostic per (resource, rule). All resolved ranges are kept in
// Related; the first one becomes the diagnostic's primary range.
func (p *Projector) Project(result *schemas.ScanResult, resolver Resolver) *Projection {
	proj := &Projection{Diagnostics: make(map[string][]schemas.Diagnostic)}
	if result == nil {
		return proj
	}
	proj.URL = result.URL

	groups := make(map[groupKey]*schemas.Diagnostic)
	var order []groupKey

	for _, f := range result.Violations {
		proj.Summary = append(proj.Summary, schemas.RuleSummary{
			RuleID: f.ID,
			Impact: f.Impact.Normalize(),
			Help:   f.Help,
			Count:  len(f.Nodes),
		})

		for _, node := range f.Nodes {
			loc, ok := resolver.Resolve(result.URL, node)
			if !ok || loc.Resource == "" {
				proj.Unpositioned = append(proj.Unpositioned, UnpositionedFinding{
					RuleID: f.ID,
					Impact: f.Impact.Normalize(),
					Help:   f.Help,
					HTML:   node.HTML,
					Target: node.Target,
				})
				continue
			}

			key := groupKey{resource: loc.Resource, rule: f.ID}
			d, seen := groups[key]
			if !seen {
				d = &schemas.Diagnostic{
					Resource: loc.Resource,
					Severity: SeverityFor(f.Impact),
					Message:  f.Help,
					Code:     Code(f.ID),
					RuleID:   f.ID,
					Source:   p.source,
					HelpURL:  f.HelpURL,
				}
				groups[key] = d
				order = append(order, key)
			}
			d.NodeCount++
			if loc.Range != nil {
				d.Related = append(d.Related, *loc.Range)
				if d.Range == nil {
					rng := *loc.Range
					d.Range = &rng
				}
			}
		}
	}

	for _, key := range order {
		proj.Diagnostics[key.resource] = append(proj.Diagnostics[key.resource], *groups[key])
	}
	for resource := range proj.Diagnostics {
		sortDiagnostics(proj.Diagnostics[resource])
	}

	if len(proj.Unpositioned) > 0 {
		p.logger.Info("Some nodes could not be located in the workspace.",
			zap.Int("unpositioned", len(proj.Unpositioned)),
			zap.String("url", result.URL))
	}
	return proj
}

func sortDiagnostics(diags []schemas.Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i].Range, diags[j].Range
		switch {
		case a == nil && b == nil:
			return diags[i].Code < diags[j].Code
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Start.Line != b.Start.Line:
			return a.Start.Line < b.Start.Line
		case a.Start.Character != b.Start.Character:
			return a.Start.Character < b.Start.Character
		}
		return diags[i].Code < diags[j].Code
	})
}
