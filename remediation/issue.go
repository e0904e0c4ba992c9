package remediation

import (
	"strings"
	"time"
)

const (
	StatusWaiting    = "Waiting"
	StatusTerminated = "Terminated"
)

// Issue is one abnormal container condition observed on a pod.
type Issue struct {
	PodName       string    `json:"pod_name"`
	Namespace     string    `json:"namespace"`
	ContainerName string    `json:"container_name,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// Signature is the pattern memory key. Pod names and messages are excluded so
// the same failure mode maps to one key across runs and replicas.
func (i Issue) Signature() string {
	return i.Status + "_" + i.Reason
}

func (i Issue) Deployment() string {
	return DeploymentFor(i.PodName)
}

// DeploymentFor strips the ReplicaSet and pod hash suffixes from a pod name.
func DeploymentFor(podName string) string {
	parts := strings.Split(podName, "-")
	if len(parts) <= 2 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-2], "-")
}

// DiagnosticContext is gathered fresh for every planning pass and never persisted.
type DiagnosticContext struct {
	Logs        string
	Description string
	Events      string
}
