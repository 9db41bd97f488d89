// internal/browser/shim/shim.go
package shim

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	// ConfigPlaceholder is the string replaced in the JS template with the scaffold configuration.
	ConfigPlaceholder = "/*{{A11Y_SCAFFOLD_CONFIG}}*/"
)

//go:embed scaffold.js
var scaffoldTemplate string

var rootIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ScaffoldConfig is serialized into the template.
type ScaffoldConfig struct {
	RootID    string `json:"rootId"`
	EngineURL string `json:"engineUrl,omitempty"`
	Styles    string `json:"styles,omitempty"`
}

// Template returns the embedded scaffold template.
func Template() string {
	return scaffoldTemplate
}

// BuildScaffold injects cfg into template. The resulting script creates the
// root container with an open shadow root, adds the stylesheet, and loads
// the engine from EngineURL when one is given.
func BuildScaffold(template string, cfg ScaffoldConfig) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, ConfigPlaceholder) {
		return "", fmt.Errorf("template does not contain the required placeholder: %s", ConfigPlaceholder)
	}
	if !rootIDPattern.MatchString(cfg.RootID) {
		return "", fmt.Errorf("invalid root id %q", cfg.RootID)
	}

	// encoding/json escapes <, > and & so the payload is safe inside any script context.
	payload, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode scaffold config: %w", err)
	}
	return strings.Replace(template, ConfigPlaceholder, string(payload), 1), nil
}
