package watcher

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/opscart/k8s-agentic-remediation/remediation"
)

// Filter drops issues matching a CEL expression over the `issue` map, e.g.
// `issue.reason == "Completed" || issue.pod.startsWith("job-")`.
type Filter struct {
	expr string
	prg  cel.Program
}

func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("issue", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling ignore expression: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error building ignore program: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

func (f *Filter) Ignore(issue remediation.Issue) (bool, error) {
	out, _, err := f.prg.Eval(map[string]interface{}{
		"issue": map[string]interface{}{
			"pod":       issue.PodName,
			"namespace": issue.Namespace,
			"container": issue.ContainerName,
			"status":    issue.Status,
			"reason":    issue.Reason,
			"message":   issue.Message,
		},
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating %q: %w", f.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean", f.expr)
	}
	return b, nil
}
