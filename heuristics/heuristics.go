// Package heuristics holds the deterministic, reason-specific detectors the
// planner consults before memory or the reasoning service.
package heuristics

import (
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

type Detector struct {
	ID          string
	Name        string
	Description string
	Reasons     []string
	Detect      func(issue remediation.Issue, dctx remediation.DiagnosticContext) (remediation.Step, bool)
}

// AllDetectors is evaluated in order; the first detector that finds a fix wins.
var AllDetectors = []Detector{
	ImageTypoDetector,
	MissingEnvDetector,
	OOMKillDetector,
}

func (d Detector) Triggers(reason string) bool {
	for _, r := range d.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// Match runs every detector triggered by the issue's reason and returns the first fix.
func Match(issue remediation.Issue, dctx remediation.DiagnosticContext) (Detector, remediation.Step, bool) {
	for _, d := range AllDetectors {
		if !d.Triggers(issue.Reason) {
			continue
		}
		if step, ok := d.Detect(issue, dctx); ok {
			step.Confidence = remediation.ConfidenceHigh
			return d, step, true
		}
	}
	return Detector{}, remediation.Step{}, false
}
