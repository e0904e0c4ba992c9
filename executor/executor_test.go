package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-agentic-remediation/emitter"
	"github.com/opscart/k8s-agentic-remediation/memory"
	"github.com/opscart/k8s-agentic-remediation/planner"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

type mockApplier struct {
	mock.Mock
}

func (m *mockApplier) DeletePod(ctx context.Context, pod, namespace string) error {
	return m.Called(pod, namespace).Error(0)
}

func (m *mockApplier) PatchEnv(ctx context.Context, deployment, namespace string, vars map[string]string) error {
	return m.Called(deployment, namespace, vars).Error(0)
}

func (m *mockApplier) PatchMemoryLimit(ctx context.Context, deployment, namespace, newLimit string) error {
	return m.Called(deployment, namespace, newLimit).Error(0)
}

func (m *mockApplier) SetImage(ctx context.Context, deployment, namespace, image string) error {
	return m.Called(deployment, namespace, image).Error(0)
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.Open(memory.NewFilePersister(filepath.Join(t.TempDir(), "memory.json")))
	s.Load()
	return s
}

func imageIssue() remediation.Issue {
	return remediation.Issue{
		PodName:   "web-7c9d8f-xk2lp",
		Namespace: "demo",
		Status:    remediation.StatusWaiting,
		Reason:    "ImagePullBackOff",
	}
}

func TestFirstSuccessStops(t *testing.T) {
	applier := &mockApplier{}
	applier.On("SetImage", "web", "demo", "nginx:1.2").Return(nil).Once()
	mem := newStore(t)
	ex := New(applier, mem, nil, Options{})

	plan := remediation.Plan{
		{Action: remediation.FixImage{NewImage: "nginx:1.2"}, Confidence: remediation.ConfidenceHigh},
		{Action: remediation.Restart{}, Confidence: remediation.ConfidenceLow},
	}

	assert.True(t, ex.Execute(context.Background(), imageIssue(), plan))
	applier.AssertExpectations(t)
	applier.AssertNotCalled(t, "DeletePod", mock.Anything, mock.Anything)

	stats := mem.Statistics()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	learned, ok := mem.Recall("Waiting_ImagePullBackOff")
	require.True(t, ok)
	assert.JSONEq(t, `{"new_image":"nginx:1.2"}`, string(learned.Details))
	assert.Equal(t, "set image deployment/web *=nginx:1.2 -n demo", mem.History("web-7c9d8f-xk2lp")[0].Command)
}

func TestFailureFallsThroughToNextStep(t *testing.T) {
	applier := &mockApplier{}
	applier.On("SetImage", "web", "demo", "nginx:1.2").Return(errors.New("deployments.apps \"web\" not found"))
	applier.On("DeletePod", "web-7c9d8f-xk2lp", "demo").Return(nil)
	mem := newStore(t)
	ex := New(applier, mem, nil, Options{})

	plan := remediation.Plan{
		{Action: remediation.FixImage{NewImage: "nginx:1.2"}},
		{Action: remediation.Restart{}},
	}

	assert.True(t, ex.Execute(context.Background(), imageIssue(), plan))
	applier.AssertExpectations(t)

	history := mem.History("web-7c9d8f-xk2lp")
	require.Len(t, history, 2)
	assert.False(t, history[0].Success)
	assert.Equal(t, remediation.ActionFixImage, history[0].Action)
	assert.True(t, history[1].Success)
	assert.Equal(t, "delete pod web-7c9d8f-xk2lp -n demo", history[1].Command)
}

func TestAllStepsFail(t *testing.T) {
	applier := &mockApplier{}
	applier.On("DeletePod", mock.Anything, mock.Anything).Return(errors.New("forbidden"))
	applier.On("PatchMemoryLimit", "web", "demo", remediation.DefaultMemoryLimit).Return(errors.New("timeout"))
	mem := newStore(t)
	ex := New(applier, mem, nil, Options{})

	plan := remediation.Plan{
		{Action: remediation.IncreaseMemory{}},
		{Action: remediation.Restart{}},
	}

	assert.False(t, ex.Execute(context.Background(), imageIssue(), plan))
	assert.Equal(t, 2, mem.Statistics().Total)
	assert.Zero(t, mem.Statistics().Successful)
}

func TestIdempotencyGuard(t *testing.T) {
	applier := &mockApplier{}
	applier.On("SetImage", "web", "demo", "nginx:1.2").Return(nil).Once()
	mem := newStore(t)
	ex := New(applier, mem, nil, Options{})

	plan := remediation.Plan{{Action: remediation.FixImage{NewImage: "nginx:1.2"}}}

	assert.True(t, ex.Execute(context.Background(), imageIssue(), plan))
	assert.True(t, ex.Execute(context.Background(), imageIssue(), plan))

	applier.AssertNumberOfCalls(t, "SetImage", 1)
	assert.Equal(t, 1, mem.Statistics().Total)
}

func TestRestartIsNotGuarded(t *testing.T) {
	applier := &mockApplier{}
	applier.On("DeletePod", "web-7c9d8f-xk2lp", "demo").Return(nil)
	ex := New(applier, newStore(t), nil, Options{})

	plan := remediation.Plan{{Action: remediation.Restart{}}}

	assert.True(t, ex.Execute(context.Background(), imageIssue(), plan))
	assert.True(t, ex.Execute(context.Background(), imageIssue(), plan))
	applier.AssertNumberOfCalls(t, "DeletePod", 2)
}

func TestMissingDetailIsAFailedStep(t *testing.T) {
	applier := &mockApplier{}
	applier.On("DeletePod", "web-7c9d8f-xk2lp", "demo").Return(nil)
	mem := newStore(t)
	ex := New(applier, mem, nil, Options{})

	plan := remediation.Plan{
		{Action: remediation.FixImage{}},
		{Action: remediation.UpdateEnv{}},
		{Action: remediation.Restart{}},
	}

	assert.True(t, ex.Execute(context.Background(), imageIssue(), plan))
	applier.AssertNotCalled(t, "SetImage", mock.Anything, mock.Anything, mock.Anything)
	applier.AssertNotCalled(t, "PatchEnv", mock.Anything, mock.Anything, mock.Anything)
	history := mem.History("web-7c9d8f-xk2lp")
	require.Len(t, history, 3)
	assert.Empty(t, history[0].Command)
	assert.False(t, history[0].Success)
}

func TestInvalidPlanIsNotExecuted(t *testing.T) {
	applier := &mockApplier{}
	mem := newStore(t)
	ex := New(applier, mem, nil, Options{})

	assert.False(t, ex.Execute(context.Background(), imageIssue(), nil))
	assert.False(t, ex.Execute(context.Background(), imageIssue(), remediation.Plan{{}}))
	assert.Zero(t, mem.Statistics().Total)
	applier.AssertExpectations(t)
}

func TestExecuteEmitsAuditEvents(t *testing.T) {
	dir := t.TempDir()
	em, err := emitter.NewJSONEmitter(dir)
	require.NoError(t, err)

	applier := &mockApplier{}
	applier.On("PatchEnv", "api", "demo", map[string]string{"DB_HOST": "localhost"}).Return(nil).Once()
	ex := New(applier, newStore(t), em, Options{})

	issue := remediation.Issue{PodName: "api-5f6d7-abcde", Namespace: "demo", Status: remediation.StatusWaiting, Reason: "CrashLoopBackOff"}
	plan := remediation.Plan{{Action: remediation.UpdateEnv{EnvVars: map[string]string{"DB_HOST": "localhost"}}}}
	require.True(t, ex.Execute(context.Background(), issue, plan))
	require.True(t, ex.Execute(context.Background(), issue, plan))
	em.Close()

	f, err := os.Open(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var types []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev emitter.RemediationEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		assert.Equal(t, "Waiting_CrashLoopBackOff", ev.Signature)
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{emitter.EventStepApplied, emitter.EventStepSkipped}, types)
}

func TestLearnedRestartTargetsTheNewPod(t *testing.T) {
	applier := &mockApplier{}
	applier.On("DeletePod", "api-5f6d7-aaaaa", "demo").Return(nil).Once()
	applier.On("DeletePod", "api-5f6d7-bbbbb", "demo").Return(nil).Once()
	mem := newStore(t)
	ex := New(applier, mem, nil, Options{})
	p := planner.New(mem, nil, 0)

	first := remediation.Issue{PodName: "api-5f6d7-aaaaa", Namespace: "demo", Status: remediation.StatusWaiting, Reason: "CrashLoopBackOff"}
	plan, tier := p.CreatePlan(context.Background(), first, remediation.DiagnosticContext{})
	require.Equal(t, planner.TierDefault, tier)
	require.True(t, ex.Execute(context.Background(), first, plan))

	second := first
	second.PodName = "api-5f6d7-bbbbb"
	plan, tier = p.CreatePlan(context.Background(), second, remediation.DiagnosticContext{})
	require.Equal(t, planner.TierMemory, tier)
	require.True(t, ex.Execute(context.Background(), second, plan))

	applier.AssertExpectations(t)
	history := mem.History("api-5f6d7-bbbbb")
	require.Len(t, history, 1)
	assert.Equal(t, "delete pod api-5f6d7-bbbbb -n demo", history[0].Command)
}

func TestLearnedPatchTargetsTheNewDeployment(t *testing.T) {
	applier := &mockApplier{}
	applier.On("PatchMemoryLimit", "api", "demo", "1Gi").Return(nil).Once()
	applier.On("PatchMemoryLimit", "worker", "demo", "1Gi").Return(nil).Once()
	mem := newStore(t)
	ex := New(applier, mem, nil, Options{})
	p := planner.New(mem, nil, 0)

	api := remediation.Issue{PodName: "api-5f6d7-aaaaa", Namespace: "demo", Status: remediation.StatusTerminated, Reason: "OOMKilled"}
	require.True(t, ex.Execute(context.Background(), api, remediation.Plan{{Action: remediation.IncreaseMemory{NewLimit: "1Gi"}}}))

	worker := remediation.Issue{PodName: "worker-8c7b6-zzzzz", Namespace: "demo", Status: remediation.StatusTerminated, Reason: "OOMKilled"}
	plan, tier := p.CreatePlan(context.Background(), worker, remediation.DiagnosticContext{})
	require.Equal(t, planner.TierMemory, tier)
	require.True(t, ex.Execute(context.Background(), worker, plan))

	applier.AssertExpectations(t)
}
