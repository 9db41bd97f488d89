package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanResult_Decode(t *testing.T) {
	raw := `{
		"url": "http://localhost:8080/",
		"testEngine": {"name": "axe-core", "version": "4.10.0"},
		"violations": [{
			"id": "image-alt",
			"impact": "critical",
			"help": "Images must have alternate text",
			"helpUrl": "https://dequeuniversity.com/rules/axe/4.10/image-alt",
			"tags": ["wcag2a"],
			"nodes": [
				{"html": "<img src=\"a.png\">", "target": ["img"]},
				{"html": "<img src=\"b.png\">", "target": [["my-widget", "img.hero"]]}
			]
		}, {
			"id": "label",
			"impact": null,
			"nodes": [{"html": "<input>"}]
		}]
	}`

	var res ScanResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res))

	assert.Equal(t, "axe-core", res.TestEngine.Name)
	require.Len(t, res.Violations, 2)
	assert.Equal(t, 3, res.NodeCount())

	img := res.Violations[0]
	assert.Equal(t, ImpactCritical, img.Impact)
	assert.Equal(t, Selector{"img"}, img.Nodes[0].Target)
	assert.Equal(t, Selector{"my-widget >>> img.hero"}, img.Nodes[1].Target, "shadow paths are flattened")

	assert.Equal(t, Impact(""), res.Violations[1].Impact)
}

func TestSelector_RejectsGarbage(t *testing.T) {
	var s Selector
	assert.Error(t, json.Unmarshal([]byte(`[42]`), &s))
	assert.Error(t, json.Unmarshal([]byte(`"img"`), &s))
}

func TestImpact_Normalize(t *testing.T) {
	assert.Equal(t, ImpactSerious, Impact(" Serious ").Normalize())
	assert.Equal(t, Impact("experimental"), Impact("EXPERIMENTAL").Normalize())
}

func TestNodeCount_Nil(t *testing.T) {
	var r *ScanResult
	assert.Zero(t, r.NodeCount())
}

func TestSeverity_Text(t *testing.T) {
	for _, s := range []Severity{SeverityError, SeverityWarning, SeverityInformation, SeverityHint} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var back Severity
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	assert.Equal(t, "unknown", Severity(0).String())

	var s Severity
	assert.Error(t, s.UnmarshalText([]byte("fatal")))
}

func TestDiagnostic_JSON(t *testing.T) {
	d := Diagnostic{Resource: "index.html", Severity: SeverityWarning, Code: "a11y(label)"}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"warning"`)
	assert.NotContains(t, string(data), `"range"`)
}
