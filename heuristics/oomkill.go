package heuristics

import (
	"fmt"
	"regexp"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/opscart/k8s-agentic-remediation/remediation"
)

// DetectorOOMKill: OOMKill → ContainerRestart → CrashLoopBackOff → increase-memory-limit
const DetectorOOMKill = "H003"

var OOMKillDetector = Detector{
	ID:          DetectorOOMKill,
	Name:        "Memory Limit Too Low",
	Description: "Container is killed by the kernel OOM killer at its configured memory limit",
	Reasons:     []string{"OOMKilled", "CrashLoopBackOff"},
	Detect:      detectOOMKill,
}

var (
	memoryLimit   = regexp.MustCompile(`Limits:(?:\n[ \t]+[a-z.\-/]+:[ \t]+\S+)*?\n[ \t]+memory:[ \t]+(\S+)`)
	lastOOMKilled = regexp.MustCompile(`Last State:\s+Terminated\s*\n\s+Reason:\s+OOMKilled`)
)

func detectOOMKill(issue remediation.Issue, dctx remediation.DiagnosticContext) (remediation.Step, bool) {
	// A crash loop only counts when the previous termination was an OOM kill.
	if issue.Reason != "OOMKilled" && !lastOOMKilled.MatchString(dctx.Description) {
		return remediation.Step{}, false
	}
	m := memoryLimit.FindStringSubmatch(dctx.Description)
	if m == nil {
		return remediation.Step{}, false
	}
	current, err := resource.ParseQuantity(m[1])
	if err != nil || current.IsZero() {
		return remediation.Step{}, false
	}
	next := DoubleQuantity(current)
	return remediation.Step{
		Action:        remediation.IncreaseMemory{NewLimit: next},
		Justification: fmt.Sprintf("Container was OOMKilled at its %s memory limit; doubling to %s", current.String(), next),
	}, true
}

// DoubleQuantity returns twice q, rendered in Mi when it is a whole number of mebibytes.
func DoubleQuantity(q resource.Quantity) string {
	v := q.Value() * 2
	if v%(1<<20) == 0 {
		return fmt.Sprintf("%dMi", v>>20)
	}
	return resource.NewQuantity(v, q.Format).String()
}
