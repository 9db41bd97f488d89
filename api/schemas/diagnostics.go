package schemas

import "fmt"

// -- Diagnostic Schemas --

// Severity is the editor-facing severity of a Diagnostic.
type Severity int

// The ordering follows the common editor convention where lower is more severe.
const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// MarshalText lets severities serialize by name in JSON payloads.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "error":
		*s = SeverityError
	case "warning":
		*s = SeverityWarning
	case "information":
		*s = SeverityInformation
	case "hint":
		*s = SeverityHint
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Position is a zero-based line/character location inside a resource.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic is a positioned, resource-scoped representation of a Finding.
// Exactly one Diagnostic exists per (Resource, Code) pair; every affected node
// that resolved to the resource is listed in Related.
type Diagnostic struct {
	Resource string   `json:"resource"`
	Range    *Range   `json:"range,omitempty"` // nil when no node could be located precisely.
	Related  []Range  `json:"related,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Code     string   `json:"code"`
	RuleID   string   `json:"rule_id"`
	Source   string   `json:"source"`
	HelpURL  string   `json:"help_url,omitempty"`
	// NodeCount is the number of affected nodes folded into this diagnostic.
	NodeCount int `json:"node_count"`
}
