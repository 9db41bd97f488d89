package diagnostics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/a11y-bridge/api/schemas"
)

func nodes(n int, html string) []schemas.NodeDescriptor {
	out := make([]schemas.NodeDescriptor, n)
	for i := range out {
		out[i] = schemas.NodeDescriptor{HTML: html}
	}
	return out
}

// fiveRuleResult mirrors a typical page: five rules, nineteen nodes.
func fiveRuleResult() *schemas.ScanResult {
	return &schemas.ScanResult{
		URL: "http://localhost:8080/index.html",
		Violations: []schemas.Finding{
			{ID: "frame-title", Impact: "serious", Help: "Frames must have an accessible name", Nodes: nodes(3, "<iframe>")},
			{ID: "html-has-lang", Impact: "serious", Help: "<html> element must have a lang attribute", Nodes: nodes(1, "<html>")},
			{ID: "aria-allowed-role", Impact: "minor", Help: "ARIA role should be appropriate for the element", Nodes: nodes(3, "<div>")},
			{ID: "image-alt", Impact: "critical", Help: "Images must have alternate text", Nodes: nodes(9, "<img>")},
			{ID: "label", Impact: "Critical", Help: "Form elements must have labels", Nodes: nodes(3, "<input>")},
		},
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		impact schemas.Impact
		want   schemas.Severity
	}{
		{"critical", schemas.SeverityError},
		{"serious", schemas.SeverityError},
		{" SERIOUS ", schemas.SeverityError},
		{"moderate", schemas.SeverityWarning},
		{"minor", schemas.SeverityInformation},
		{"", schemas.SeverityHint},
		{"cosmic", schemas.SeverityHint},
	}
	for _, tt := range tests {
		t.Run(string(tt.impact), func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityFor(tt.impact))
		})
	}
}

func TestProject_Summary(t *testing.T) {
	p := NewProjector("a11y-bridge", zaptest.NewLogger(t))
	proj := p.Project(fiveRuleResult(), FixedResolver("/ws/index.html"))

	want := []schemas.RuleSummary{
		{RuleID: "frame-title", Impact: "serious", Help: "Frames must have an accessible name", Count: 3},
		{RuleID: "html-has-lang", Impact: "serious", Help: "<html> element must have a lang attribute", Count: 1},
		{RuleID: "aria-allowed-role", Impact: "minor", Help: "ARIA role should be appropriate for the element", Count: 3},
		{RuleID: "image-alt", Impact: "critical", Help: "Images must have alternate text", Count: 9},
		{RuleID: "label", Impact: "critical", Help: "Form elements must have labels", Count: 3},
	}
	if diff := cmp.Diff(want, proj.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 19, proj.NodeCount())
	assert.Equal(t, 5, proj.DiagnosticCount())
	assert.Empty(t, proj.Unpositioned)
	assert.Equal(t, []string{"/ws/index.html"}, proj.Resources())

	for _, d := range proj.Diagnostics["/ws/index.html"] {
		assert.Equal(t, "a11y-bridge", d.Source)
		assert.Equal(t, Code(d.RuleID), d.Code)
		assert.Nil(t, d.Range)
	}
}

func TestProject_Unpositioned(t *testing.T) {
	p := NewProjector("a11y-bridge", zaptest.NewLogger(t))
	resolver := ResolverFunc(func(_ string, node schemas.NodeDescriptor) (Location, bool) {
		if node.HTML == "<img>" {
			return Location{}, false
		}
		return Location{Resource: "/ws/index.html"}, true
	})

	proj := p.Project(fiveRuleResult(), resolver)
	assert.Len(t, proj.Unpositioned, 9)
	assert.Equal(t, 4, proj.DiagnosticCount())
	assert.Equal(t, 19, proj.NodeCount(), "unpositioned nodes still count")
	for _, u := range proj.Unpositioned {
		assert.Equal(t, "image-alt", u.RuleID)
	}
}

func TestProject_GroupsRanges(t *testing.T) {
	line := 0
	resolver := ResolverFunc(func(string, schemas.NodeDescriptor) (Location, bool) {
		line += 2
		rng := schemas.Range{Start: schemas.Position{Line: line}, End: schemas.Position{Line: line, Character: 5}}
		return Location{Resource: "/ws/a.html", Range: &rng}, true
	})
	result := &schemas.ScanResult{Violations: []schemas.Finding{
		{ID: "image-alt", Impact: "critical", Help: "alt", Nodes: nodes(3, "<img>")},
		{ID: "label", Impact: "moderate", Help: "label", Nodes: nodes(1, "<input>")},
	}}

	proj := NewProjector("src", nil).Project(result, resolver)
	diags := proj.Diagnostics["/ws/a.html"]
	require.Len(t, diags, 2)

	img := diags[0]
	assert.Equal(t, "image-alt", img.RuleID)
	assert.Equal(t, 3, img.NodeCount)
	require.NotNil(t, img.Range)
	assert.Equal(t, 2, img.Range.Start.Line)
	assert.Len(t, img.Related, 3)
	assert.Equal(t, schemas.SeverityError, img.Severity)

	assert.Equal(t, "label", diags[1].RuleID)
	assert.Equal(t, schemas.SeverityWarning, diags[1].Severity)
}

func TestProject_NilResult(t *testing.T) {
	proj := NewProjector("src", nil).Project(nil, FixedResolver("x"))
	assert.Zero(t, proj.DiagnosticCount())
	assert.Empty(t, proj.Summary)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestSourceResolver(t *testing.T) {
	dir := t.TempDir()
	index := writeFile(t, dir, "index.html", "<html>\n<body>\n  <img src=\"a.png\">\n  <input id=\"name\" type=\"text\" class=\"x\">\n</body>\n</html>\n")
	writeFile(t, dir, "other.html", "<img src=\"a.png\">\n")
	writeFile(t, dir, "node_modules/pkg/index.html", "<img src=\"b.png\">\n")

	r, err := NewSourceResolver(dir, []string{"**/*.html"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("exact snippet prefers matching base name", func(t *testing.T) {
		loc, ok := r.Resolve("http://localhost/", schemas.NodeDescriptor{HTML: `<img src="a.png">`})
		require.True(t, ok)
		assert.Equal(t, index, loc.Resource)
		require.NotNil(t, loc.Range)
		assert.Equal(t, schemas.Position{Line: 2, Character: 2}, loc.Range.Start)
		assert.Equal(t, schemas.Position{Line: 2, Character: 19}, loc.Range.End)
	})

	t.Run("tag and id when attributes are reserialized", func(t *testing.T) {
		loc, ok := r.Resolve("http://localhost/index.html", schemas.NodeDescriptor{HTML: `<input type="text" id="name">`})
		require.True(t, ok)
		assert.Equal(t, index, loc.Resource)
		assert.Equal(t, 3, loc.Range.Start.Line)
		assert.Equal(t, 2, loc.Range.Start.Character)
	})

	t.Run("skipped directories are not searched", func(t *testing.T) {
		_, ok := r.Resolve("http://localhost/", schemas.NodeDescriptor{HTML: `<img src="b.png">`})
		assert.False(t, ok)
	})

	t.Run("unknown markup", func(t *testing.T) {
		_, ok := r.Resolve("http://localhost/", schemas.NodeDescriptor{HTML: `<video>`})
		assert.False(t, ok)
	})

	t.Run("refresh picks up edits", func(t *testing.T) {
		writeFile(t, dir, "late.html", "<video controls></video>\n")
		_, ok := r.Resolve("http://localhost/", schemas.NodeDescriptor{HTML: `<video controls></video>`})
		assert.False(t, ok, "file list is cached until refresh")

		r.Refresh()
		loc, ok := r.Resolve("http://localhost/", schemas.NodeDescriptor{HTML: `<video controls></video>`})
		require.True(t, ok)
		assert.Equal(t, "late.html", filepath.Base(loc.Resource))
	})
}

func TestNewSourceResolver_Errors(t *testing.T) {
	_, err := NewSourceResolver(filepath.Join(t.TempDir(), "missing"), []string{"*.html"}, nil)
	assert.Error(t, err)

	file := writeFile(t, t.TempDir(), "f.html", "")
	_, err = NewSourceResolver(file, []string{"*.html"}, nil)
	assert.Error(t, err)

	_, err = NewSourceResolver(t.TempDir(), []string{"[bad"}, nil)
	assert.Error(t, err)
}

func TestPosition_Runes(t *testing.T) {
	content := []byte("é\nab→<p>")
	pos := position(content, len("é\nab→"))
	assert.Equal(t, schemas.Position{Line: 1, Character: 3}, pos)
}
