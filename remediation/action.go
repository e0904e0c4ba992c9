package remediation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ActionKind string

const (
	ActionRestart        ActionKind = "restart-workload"
	ActionUpdateEnv      ActionKind = "update-environment-variables"
	ActionIncreaseMemory ActionKind = "increase-memory-limit"
	ActionFixImage       ActionKind = "fix-image-reference"
)

// DefaultMemoryLimit is applied when an increase-memory-limit step names no limit.
const DefaultMemoryLimit = "512Mi"

var ActionKinds = []ActionKind{ActionRestart, ActionUpdateEnv, ActionIncreaseMemory, ActionFixImage}

var (
	ErrUnknownAction = errors.New("unknown action kind")
	ErrMissingDetail = errors.New("missing required detail")
	ErrEmptyPlan     = errors.New("empty plan")
)

func (k ActionKind) Valid() bool {
	for _, v := range ActionKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Action is one variant of the closed remediation action set. Each variant
// carries its own detail fields.
type Action interface {
	Kind() ActionKind
	// Mutating reports whether the action is a declarative patch that the
	// idempotency guard may skip once it is known to have succeeded.
	Mutating() bool
	// Resolve fills in details derivable from the issue.
	Resolve(issue Issue) (Action, error)
	// Command renders the literal control-plane command for a resolved action.
	Command(namespace string) string
}

type Restart struct {
	PodName string `json:"pod_name,omitempty"`
}

func (Restart) Kind() ActionKind { return ActionRestart }
func (Restart) Mutating() bool   { return false }

// Resolve always targets the issue's pod: a restart learned for one pod must
// not replay against a pod that no longer exists.
func (a Restart) Resolve(issue Issue) (Action, error) {
	a.PodName = issue.PodName
	return a, nil
}

func (a Restart) Command(namespace string) string {
	return fmt.Sprintf("delete pod %s -n %s", a.PodName, namespace)
}

type UpdateEnv struct {
	Deployment string            `json:"deployment_name,omitempty"`
	EnvVars    map[string]string `json:"env_vars,omitempty"`
}

func (UpdateEnv) Kind() ActionKind { return ActionUpdateEnv }
func (UpdateEnv) Mutating() bool   { return true }

func (a UpdateEnv) Resolve(issue Issue) (Action, error) {
	if a.Deployment == "" {
		a.Deployment = issue.Deployment()
	}
	if len(a.EnvVars) == 0 {
		return a, fmt.Errorf("%s: env_vars: %w", a.Kind(), ErrMissingDetail)
	}
	return a, nil
}

func (a UpdateEnv) Command(namespace string) string {
	keys := make([]string, 0, len(a.EnvVars))
	for k := range a.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+a.EnvVars[k])
	}
	return fmt.Sprintf("set env deployment/%s -n %s %s", a.Deployment, namespace, strings.Join(pairs, " "))
}

type IncreaseMemory struct {
	Deployment string `json:"deployment_name,omitempty"`
	NewLimit   string `json:"new_limit,omitempty"`
}

func (IncreaseMemory) Kind() ActionKind { return ActionIncreaseMemory }
func (IncreaseMemory) Mutating() bool   { return true }

func (a IncreaseMemory) Resolve(issue Issue) (Action, error) {
	if a.Deployment == "" {
		a.Deployment = issue.Deployment()
	}
	if a.NewLimit == "" {
		a.NewLimit = DefaultMemoryLimit
	}
	return a, nil
}

func (a IncreaseMemory) Command(namespace string) string {
	return fmt.Sprintf("set resources deployment/%s -n %s --limits=memory=%s", a.Deployment, namespace, a.NewLimit)
}

type FixImage struct {
	Deployment string `json:"deployment_name,omitempty"`
	NewImage   string `json:"new_image,omitempty"`
}

func (FixImage) Kind() ActionKind { return ActionFixImage }
func (FixImage) Mutating() bool   { return true }

func (a FixImage) Resolve(issue Issue) (Action, error) {
	if a.Deployment == "" {
		a.Deployment = issue.Deployment()
	}
	if a.NewImage == "" {
		return a, fmt.Errorf("%s: new_image: %w", a.Kind(), ErrMissingDetail)
	}
	return a, nil
}

func (a FixImage) Command(namespace string) string {
	return fmt.Sprintf("set image deployment/%s *=%s -n %s", a.Deployment, a.NewImage, namespace)
}

// DecodeAction builds the variant for kind from its raw details object.
func DecodeAction(kind ActionKind, details json.RawMessage) (Action, error) {
	var a Action
	switch kind {
	case ActionRestart:
		var v Restart
		if err := decodeDetails(details, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionUpdateEnv:
		var v UpdateEnv
		if err := decodeDetails(details, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionIncreaseMemory:
		var v IncreaseMemory
		if err := decodeDetails(details, &v); err != nil {
			return nil, err
		}
		a = v
	case ActionFixImage:
		var v FixImage
		if err := decodeDetails(details, &v); err != nil {
			return nil, err
		}
		a = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	return a, nil
}

func decodeDetails(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid details: %w", err)
	}
	return nil
}
