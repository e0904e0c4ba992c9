package heuristics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opscart/k8s-agentic-remediation/remediation"
)

// DetectorMissingEnv: CrashLoopBackOff → logs print "NAME is:" with no value → update-environment-variables
const DetectorMissingEnv = "H002"

var MissingEnvDetector = Detector{
	ID:          DetectorMissingEnv,
	Name:        "Missing Environment Variables",
	Description: "Container crashes after logging required configuration values as empty",
	Reasons:     []string{"CrashLoopBackOff"},
	Detect:      detectMissingEnv,
}

var emptyValueLine = regexp.MustCompile(`(?m)([A-Z][A-Z_]+) is:[ \t]*\r?$`)

var logLevels = map[string]bool{"ERROR": true, "WARNING": true, "INFO": true, "DEBUG": true}

func detectMissingEnv(_ remediation.Issue, dctx remediation.DiagnosticContext) (remediation.Step, bool) {
	vars := map[string]string{}
	for _, m := range emptyValueLine.FindAllStringSubmatch(dctx.Logs, -1) {
		name := m[1]
		if logLevels[name] {
			continue
		}
		vars[name] = defaultEnvValue(name)
	}
	if len(vars) == 0 {
		return remediation.Step{}, false
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return remediation.Step{
		Action:        remediation.UpdateEnv{EnvVars: vars},
		Justification: fmt.Sprintf("Pod logs indicate missing environment variables: %s", strings.Join(names, ", ")),
	}, true
}

func defaultEnvValue(name string) string {
	switch {
	case strings.Contains(name, "PASSWORD"):
		return "password123"
	case strings.Contains(name, "HOST"):
		return "localhost"
	case strings.Contains(name, "PORT"):
		return "3306"
	default:
		return "default"
	}
}
