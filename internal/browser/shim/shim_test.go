// internal/browser/shim/shim_test.go
package shim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/xkilldash9x/a11y-bridge/internal/browser/shim"
)

func TestBuildScaffold(t *testing.T) {
	t.Parallel()

	mockTemplate := `(function(){ const cfg = /*{{A11Y_SCAFFOLD_CONFIG}}*/; return cfg.rootId; })();`

	t.Run("should inject the config as JSON", func(t *testing.T) {
		t.Parallel()
		script, err := BuildScaffold(mockTemplate, ScaffoldConfig{RootID: "insights-root", EngineURL: "https://cdn.test/axe.min.js"})
		require.NoError(t, err)
		assert.Equal(t,
			`(function(){ const cfg = {"rootId":"insights-root","engineUrl":"https://cdn.test/axe.min.js"}; return cfg.rootId; })();`,
			script)
	})

	t.Run("should escape markup in styles", func(t *testing.T) {
		t.Parallel()
		script, err := BuildScaffold(mockTemplate, ScaffoldConfig{RootID: "r", Styles: "</script><b>"})
		require.NoError(t, err)
		assert.NotContains(t, script, "</script>")
		assert.Contains(t, script, `\u003c/script\u003e`)
	})

	t.Run("should reject an empty template", func(t *testing.T) {
		t.Parallel()
		_, err := BuildScaffold("", ScaffoldConfig{RootID: "r"})
		assert.EqualError(t, err, "template is empty")
	})

	t.Run("should reject a template without placeholder", func(t *testing.T) {
		t.Parallel()
		_, err := BuildScaffold("(function(){})()", ScaffoldConfig{RootID: "r"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), ConfigPlaceholder)
	})

	t.Run("should reject a root id that is not a DOM id", func(t *testing.T) {
		t.Parallel()
		for _, id := range []string{"", "1abc", `x"); alert(1); ("`, "has space"} {
			_, err := BuildScaffold(mockTemplate, ScaffoldConfig{RootID: id})
			assert.Error(t, err, "root id %q", id)
		}
	})
}

func TestEmbeddedTemplate(t *testing.T) {
	t.Parallel()

	tmpl := Template()
	require.Contains(t, tmpl, ConfigPlaceholder)
	assert.Contains(t, tmpl, "attachShadow")

	script, err := BuildScaffold(tmpl, ScaffoldConfig{RootID: "insights-root"})
	require.NoError(t, err)
	assert.NotContains(t, script, ConfigPlaceholder)
	assert.Contains(t, script, `"rootId":"insights-root"`)
}
