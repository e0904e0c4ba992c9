package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/opscart/k8s-agentic-remediation/remediation"
)

const oomDescription = `Name:         api-5f6d7-abcde
Namespace:    demo
Containers:
  api:
    Image:          busybox:1.36
    State:          Waiting
      Reason:       CrashLoopBackOff
    Last State:     Terminated
      Reason:       OOMKilled
      Exit Code:    137
    Ready:          False
    Restart Count:  4
    Limits:
      cpu:     500m
      memory:  128Mi
    Requests:
      memory:  64Mi
`

func TestImageTypoScenario(t *testing.T) {
	issue := remediation.Issue{PodName: "web-1-a", Status: remediation.StatusWaiting, Reason: "ImagePullBackOff"}
	dctx := remediation.DiagnosticContext{Description: "Containers:\n  web:\n    Image: ngnix:1.2\n"}

	d, step, ok := Match(issue, dctx)
	require.True(t, ok)
	assert.Equal(t, DetectorImageTypo, d.ID)
	assert.Equal(t, remediation.FixImage{NewImage: "nginx:1.2"}, step.Action)
	assert.Equal(t, remediation.ConfidenceHigh, step.Confidence)
}

func TestCorrectImage(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"ngnix:1.2", "nginx:1.2", true},
		{"apline", "alpine", true},
		{"redis:lastest", "redis:latest", true},
		{"registry.local:5000/team/postgress:15", "registry.local:5000/team/postgres:15", true},
		{"nginx:1.25", "", false},
	}
	for _, tt := range tests {
		got, ok := CorrectImage(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestImageTypoNoMatch(t *testing.T) {
	issue := remediation.Issue{Reason: "ErrImagePull"}
	_, _, ok := Match(issue, remediation.DiagnosticContext{Description: "Image: nginx:1.25"})
	assert.False(t, ok)
}

func TestMissingEnv(t *testing.T) {
	issue := remediation.Issue{PodName: "web-1-a", Status: remediation.StatusWaiting, Reason: "CrashLoopBackOff"}
	logs := "Starting app\nDB_HOST is: \nDB_PASSWORD is:\nDB_PORT is:\nAPP_MODE is:\nERROR is:\nUSER is: admin\n"

	d, step, ok := Match(issue, remediation.DiagnosticContext{Logs: logs})
	require.True(t, ok)
	assert.Equal(t, DetectorMissingEnv, d.ID)
	assert.Equal(t, remediation.UpdateEnv{EnvVars: map[string]string{
		"DB_HOST":     "localhost",
		"DB_PASSWORD": "password123",
		"DB_PORT":     "3306",
		"APP_MODE":    "default",
	}}, step.Action)
	assert.Contains(t, step.Justification, "APP_MODE, DB_HOST, DB_PASSWORD, DB_PORT")
}

func TestOOMKillFromLastState(t *testing.T) {
	issue := remediation.Issue{PodName: "api-5f6d7-abcde", Status: remediation.StatusWaiting, Reason: "CrashLoopBackOff"}
	d, step, ok := Match(issue, remediation.DiagnosticContext{Description: oomDescription, Logs: "booting\n"})
	require.True(t, ok)
	assert.Equal(t, DetectorOOMKill, d.ID)
	assert.Equal(t, remediation.IncreaseMemory{NewLimit: "256Mi"}, step.Action)
}

func TestOOMKillRequiresEvidence(t *testing.T) {
	issue := remediation.Issue{Reason: "CrashLoopBackOff"}
	desc := "Limits:\n      memory:  128Mi\n"
	_, _, ok := Match(issue, remediation.DiagnosticContext{Description: desc})
	assert.False(t, ok)

	issue.Reason = "OOMKilled"
	_, step, ok := Match(issue, remediation.DiagnosticContext{Description: desc})
	require.True(t, ok)
	assert.Equal(t, remediation.IncreaseMemory{NewLimit: "256Mi"}, step.Action)
}

func TestUntriggeredReason(t *testing.T) {
	issue := remediation.Issue{Reason: "CreateContainerConfigError"}
	_, _, ok := Match(issue, remediation.DiagnosticContext{Description: "Image: ngnix", Logs: "DB_HOST is:"})
	assert.False(t, ok)
}

func TestDoubleQuantity(t *testing.T) {
	assert.Equal(t, "2048Mi", DoubleQuantity(resource.MustParse("1Gi")))
	assert.Equal(t, "2k", DoubleQuantity(resource.MustParse("1k")))
}
