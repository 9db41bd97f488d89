package schemas

import (
	"encoding/json"
	"strings"
	"time"
)

// -- Scan Engine Schemas --

// Impact is the scan engine's classification of how badly a rule violation
// affects users. The engine reports lowercase strings; unknown values are kept
// verbatim so newer engine versions still round-trip.
type Impact string

// Constants for the impact levels the scan engine currently reports.
const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// Normalize lowercases and trims the impact so lookups are case-insensitive.
func (i Impact) Normalize() Impact {
	return Impact(strings.ToLower(strings.TrimSpace(string(i))))
}

// TestEngine identifies the scan engine that produced a result.
type TestEngine struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ScanResult is the resolved value of the engine's run(document, options)
// promise. Only the fields the pipeline consumes are modeled.
type ScanResult struct {
	Violations []Finding  `json:"violations"`
	URL        string     `json:"url"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
	TestEngine TestEngine `json:"testEngine"`
}

// NodeCount returns the total number of affected nodes across all findings.
func (r *ScanResult) NodeCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, v := range r.Violations {
		n += len(v.Nodes)
	}
	return n
}

// Finding is a single rule violation reported by the scan engine.
type Finding struct {
	ID          string           `json:"id"` // Rule identifier, e.g. "image-alt".
	Impact      Impact           `json:"impact"`
	Description string           `json:"description"`
	Help        string           `json:"help"` // Short human readable explanation.
	HelpURL     string           `json:"helpUrl"`
	Tags        []string         `json:"tags,omitempty"`
	Nodes       []NodeDescriptor `json:"nodes"`
}

// NodeDescriptor describes one DOM node affected by a Finding.
type NodeDescriptor struct {
	// HTML is the outer HTML snippet of the node. It is the structural signature
	// used to locate the node's origin in a source resource.
	HTML           string   `json:"html"`
	Target         Selector `json:"target,omitempty"`
	FailureSummary string   `json:"failureSummary,omitempty"`
}

// RuleSummary is one grouped rule entry: the rule and how many nodes violate it.
type RuleSummary struct {
	RuleID string `json:"rule_id"`
	Impact Impact `json:"impact"`
	Help   string `json:"help"`
	Count  int    `json:"count"`
}

// Selector is the engine's CSS selector path for a node. Nodes inside shadow
// trees come back as nested arrays; each nested path is flattened into one
// entry joined with " >>> ".
type Selector []string

func (s *Selector) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Selector, 0, len(raw))
	for _, item := range raw {
		var single string
		if err := json.Unmarshal(item, &single); err == nil {
			out = append(out, single)
			continue
		}
		var nested []string
		if err := json.Unmarshal(item, &nested); err != nil {
			return err
		}
		out = append(out, strings.Join(nested, " >>> "))
	}
	*s = out
	return nil
}
