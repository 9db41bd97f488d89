package diagnostics

import "github.com/xkilldash9x/a11y-bridge/api/schemas"

// SeverityFor maps an engine impact onto an editor severity. Every impact,
// including ones the engine may add later, maps to exactly one severity.
func SeverityFor(impact schemas.Impact) schemas.Severity {
	switch impact.Normalize() {
	case schemas.ImpactCritical, schemas.ImpactSerious:
		return schemas.SeverityError
	case schemas.ImpactModerate:
		return schemas.SeverityWarning
	case schemas.ImpactMinor:
		return schemas.SeverityInformation
	default:
		return schemas.SeverityHint
	}
}
