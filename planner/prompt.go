package planner

import (
	"fmt"
	"strings"

	"github.com/opscart/k8s-agentic-remediation/remediation"
)

const (
	maxLogChars         = 800
	maxDescriptionChars = 500
	maxEventChars       = 300
	historyDepth        = 3
	maxReasoningChars   = 100
)

const SystemPrompt = `You are an expert Kubernetes SRE creating autonomous remediation plans.

Create a multi-step plan with:
1. Primary action to try first
2. Fallback actions if the primary fails
3. Clear reasoning for each step

Respond with a JSON array of steps and nothing else:
[
  {
    "action": "action_name",
    "details": {"key": "value"},
    "reasoning": "why this action",
    "confidence": "high|medium|low"
  }
]

Available actions:
- restart-workload: delete the pod so its controller recreates it (details: pod_name)
- update-environment-variables: set environment variables on the deployment (details: deployment_name, env_vars object of string values)
- increase-memory-limit: raise the container memory limit (details: deployment_name, new_limit such as "512Mi")
- fix-image-reference: replace the container image (details: deployment_name, new_image)

Only use these four actions.`

// BuildPrompt renders the issue, a bounded excerpt of its diagnostic context
// and the workload's most recent attempts.
func BuildPrompt(issue remediation.Issue, dctx remediation.DiagnosticContext, history []remediation.Attempt) string {
	var b strings.Builder
	b.WriteString("Issue Details:\n")
	fmt.Fprintf(&b, "- Pod: %s\n", issue.PodName)
	fmt.Fprintf(&b, "- Namespace: %s\n", issue.Namespace)
	if issue.ContainerName != "" {
		fmt.Fprintf(&b, "- Container: %s\n", issue.ContainerName)
	}
	fmt.Fprintf(&b, "- Status: %s\n", issue.Status)
	fmt.Fprintf(&b, "- Reason: %s\n", issue.Reason)
	fmt.Fprintf(&b, "- Message: %s\n", issue.Message)

	b.WriteString("\nContext:\n")
	fmt.Fprintf(&b, "Recent Logs:\n%s\n\n", tail(dctx.Logs, maxLogChars))
	fmt.Fprintf(&b, "Pod Description:\n%s\n\n", head(dctx.Description, maxDescriptionChars))
	fmt.Fprintf(&b, "Events:\n%s\n", tail(dctx.Events, maxEventChars))

	b.WriteString("\nPast Attempts:\n")
	b.WriteString(formatHistory(history))
	b.WriteString("\n\nCreate a remediation plan. Only use: ")
	kinds := make([]string, 0, len(remediation.ActionKinds))
	for _, k := range remediation.ActionKinds {
		kinds = append(kinds, string(k))
	}
	b.WriteString(strings.Join(kinds, ", "))
	b.WriteString("\n")
	return b.String()
}

func formatHistory(history []remediation.Attempt) string {
	if len(history) == 0 {
		return "No past attempts"
	}
	if len(history) > historyDepth {
		history = history[len(history)-historyDepth:]
	}
	lines := make([]string, 0, len(history))
	for _, a := range history {
		status := "FAILED"
		if a.Success {
			status = "SUCCESS"
		}
		lines = append(lines, fmt.Sprintf("%s: %s - %s", status, a.Action, head(a.Reasoning, maxReasoningChars)))
	}
	return strings.Join(lines, "\n")
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// tail keeps the newest part of logs and event listings.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
