package planner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-agentic-remediation/memory"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	args := m.Called(systemPrompt, userPrompt)
	return args.String(0), args.Error(1)
}

// blockingReasoner never answers before its context ends.
type blockingReasoner struct{}

func (blockingReasoner) Complete(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type fakeMemory struct {
	learned map[string]memory.LearnedStep
	history []remediation.Attempt
	recalls int
}

func (f *fakeMemory) Recall(signature string) (memory.LearnedStep, bool) {
	f.recalls++
	l, ok := f.learned[signature]
	return l, ok
}

func (f *fakeMemory) History(string) []remediation.Attempt { return f.history }

func crashIssue() remediation.Issue {
	return remediation.Issue{
		PodName:   "api-5f6d7-abcde",
		Namespace: "demo",
		Status:    remediation.StatusWaiting,
		Reason:    "CrashLoopBackOff",
		Message:   "back-off restarting failed container",
	}
}

func TestHeuristicBypassesMemoryAndReasoning(t *testing.T) {
	reasoner := &mockReasoner{}
	mem := &fakeMemory{}
	p := New(mem, reasoner, time.Second)

	issue := remediation.Issue{PodName: "web-7c9-xyz12", Namespace: "demo", Status: remediation.StatusWaiting, Reason: "ImagePullBackOff"}
	dctx := remediation.DiagnosticContext{Description: "Containers:\n  web:\n    Image:          ngnix:1.2\n"}

	plan, tier := p.CreatePlan(context.Background(), issue, dctx)

	assert.Equal(t, TierHeuristic, tier)
	require.Len(t, plan, 1)
	assert.Equal(t, remediation.ActionFixImage, plan[0].Kind())
	assert.Equal(t, remediation.FixImage{NewImage: "nginx:1.2"}, plan[0].Action)
	assert.Equal(t, remediation.ConfidenceHigh, plan[0].Confidence)
	assert.Zero(t, mem.recalls)
	reasoner.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestMemoryRecall(t *testing.T) {
	reasoner := &mockReasoner{}
	mem := &fakeMemory{learned: map[string]memory.LearnedStep{
		"Waiting_CrashLoopBackOff": {
			Action:    remediation.ActionIncreaseMemory,
			Details:   json.RawMessage(`{"deployment_name":"api","new_limit":"1Gi"}`),
			Reasoning: "raised limit",
		},
	}}
	p := New(mem, reasoner, time.Second)

	plan, tier := p.CreatePlan(context.Background(), crashIssue(), remediation.DiagnosticContext{})

	assert.Equal(t, TierMemory, tier)
	require.Len(t, plan, 1)
	assert.Equal(t, remediation.IncreaseMemory{Deployment: "api", NewLimit: "1Gi"}, plan[0].Action)
	assert.Contains(t, plan[0].Justification, "Using previously learned solution")
	reasoner.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestMemoryRecallRejectsUnknownKind(t *testing.T) {
	reasoner := &mockReasoner{}
	reasoner.On("Complete", SystemPrompt, mock.Anything).
		Return(`[{"action":"restart-workload","details":{},"confidence":"medium"}]`, nil)
	mem := &fakeMemory{learned: map[string]memory.LearnedStep{
		"Waiting_CrashLoopBackOff": {Action: "scale-to-zero", Details: json.RawMessage(`{}`)},
	}}
	p := New(mem, reasoner, time.Second)

	plan, tier := p.CreatePlan(context.Background(), crashIssue(), remediation.DiagnosticContext{})

	assert.Equal(t, TierReasoning, tier)
	require.Len(t, plan, 1)
	assert.Equal(t, remediation.ConfidenceMedium, plan[0].Confidence)
	reasoner.AssertExpectations(t)
}

func TestReasoningFiltersInvalidEntries(t *testing.T) {
	reasoner := &mockReasoner{}
	reasoner.On("Complete", SystemPrompt, mock.Anything).
		Return(`[{"action":"bogus"},{"action":"restart-workload","details":{}}]`, nil)
	p := New(&fakeMemory{}, reasoner, time.Second)

	plan, tier := p.CreatePlan(context.Background(), crashIssue(), remediation.DiagnosticContext{})

	assert.Equal(t, TierReasoning, tier)
	require.Len(t, plan, 1)
	assert.Equal(t, remediation.Restart{}, plan[0].Action)
	reasoner.AssertExpectations(t)
}

func TestReasoningPreservesOrder(t *testing.T) {
	reply := "Here is the plan:\n```json\n" + `[
  {"action":"update-environment-variables","details":{"env_vars":{"DB_HOST":"db"}},"reasoning":"missing host","confidence":"high"},
  {"action":"scale-up","details":{}},
  {"action":"increase-memory-limit","details":{"new_limit":"1Gi"},"confidence":"medium"},
  {"action":"restart-workload","details":{"pod_name":"api-5f6d7-abcde"},"confidence":"low"}
]` + "\n```\nLet me know."
	reasoner := &mockReasoner{}
	reasoner.On("Complete", SystemPrompt, mock.Anything).Return(reply, nil)
	p := New(&fakeMemory{}, reasoner, time.Second)

	plan, tier := p.CreatePlan(context.Background(), crashIssue(), remediation.DiagnosticContext{})

	assert.Equal(t, TierReasoning, tier)
	require.Len(t, plan, 3)
	assert.Equal(t, remediation.ActionUpdateEnv, plan[0].Kind())
	assert.Equal(t, "missing host", plan[0].Justification)
	assert.Equal(t, remediation.ActionIncreaseMemory, plan[1].Kind())
	assert.Equal(t, remediation.ActionRestart, plan[2].Kind())
}

func TestReasoningKeepsLooselyTypedFields(t *testing.T) {
	reply := `[
  {"action":"update-environment-variables","details":{"env_vars":{"DB_PORT":3306,"DEBUG":true,"EXTRA":null}},"confidence":null},
  {"action":"restart-workload","confidence":0.9,"reasoning":{"why":"stale"}},
  {"action":"fix-image-reference","details":{"new_image":42}},
  {"action":"increase-memory-limit","details":"1Gi","confidence":"HIGH"}
]`
	reasoner := &mockReasoner{}
	reasoner.On("Complete", SystemPrompt, mock.Anything).Return(reply, nil)
	p := New(&fakeMemory{}, reasoner, time.Second)

	plan, tier := p.CreatePlan(context.Background(), crashIssue(), remediation.DiagnosticContext{})

	assert.Equal(t, TierReasoning, tier)
	require.Len(t, plan, 4)
	assert.Equal(t, remediation.UpdateEnv{EnvVars: map[string]string{"DB_PORT": "3306", "DEBUG": "true"}}, plan[0].Action)
	assert.Equal(t, remediation.ConfidenceLow, plan[0].Confidence)
	assert.Equal(t, remediation.Restart{}, plan[1].Action)
	assert.Equal(t, remediation.ConfidenceLow, plan[1].Confidence)
	assert.Empty(t, plan[1].Justification)
	assert.Equal(t, remediation.FixImage{NewImage: "42"}, plan[2].Action)
	assert.Equal(t, remediation.IncreaseMemory{}, plan[3].Action)
	assert.Equal(t, remediation.ConfidenceHigh, plan[3].Confidence)
	reasoner.AssertExpectations(t)
}

func TestParsePlanEnvPortAndRestart(t *testing.T) {
	plan, err := ParsePlan(`[{"action":"update-environment-variables","details":{"env_vars":{"DB_PORT":3306}}},{"action":"restart-workload"}]`)

	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, remediation.UpdateEnv{EnvVars: map[string]string{"DB_PORT": "3306"}}, plan[0].Action)
	assert.Equal(t, remediation.ActionRestart, plan[1].Kind())
}

func TestReasoningFailuresFallBackToDefault(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "service error", err: errors.New("429 quota exceeded")},
		{name: "no array", reply: "I think you should restart the pod."},
		{name: "broken json", reply: `[{"action":"restart-workload"`},
		{name: "empty valid subset", reply: `[{"action":"bogus"},{"action":"delete-namespace"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasoner := &mockReasoner{}
			reasoner.On("Complete", SystemPrompt, mock.Anything).Return(tt.reply, tt.err)
			p := New(&fakeMemory{}, reasoner, time.Second)

			issue := crashIssue()
			plan, tier := p.CreatePlan(context.Background(), issue, remediation.DiagnosticContext{})

			assert.Equal(t, TierDefault, tier)
			require.Len(t, plan, 1)
			assert.Equal(t, remediation.Restart{PodName: issue.PodName}, plan[0].Action)
			assert.Equal(t, remediation.ConfidenceLow, plan[0].Confidence)
		})
	}
}

func TestReasoningTimeout(t *testing.T) {
	p := New(&fakeMemory{}, blockingReasoner{}, 20*time.Millisecond)

	start := time.Now()
	plan, tier := p.CreatePlan(context.Background(), crashIssue(), remediation.DiagnosticContext{})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, TierDefault, tier)
	require.Len(t, plan, 1)
	assert.Equal(t, remediation.ActionRestart, plan[0].Kind())
	assert.Equal(t, remediation.ConfidenceLow, plan[0].Confidence)
}

func TestNoReasonerFallsBackToDefault(t *testing.T) {
	p := New(nil, nil, 0)

	plan, tier := p.CreatePlan(context.Background(), crashIssue(), remediation.DiagnosticContext{})

	assert.Equal(t, TierDefault, tier)
	require.NoError(t, plan.Validate())
}

func TestPlansAlwaysValidate(t *testing.T) {
	replies := []string{
		`[{"action":"fix-image-reference","details":{"new_image":"nginx:1.25"}}]`,
		`[]`,
		`garbage`,
	}
	for _, reply := range replies {
		reasoner := &mockReasoner{}
		reasoner.On("Complete", SystemPrompt, mock.Anything).Return(reply, nil)
		p := New(&fakeMemory{}, reasoner, time.Second)

		plan, _ := p.CreatePlan(context.Background(), crashIssue(), remediation.DiagnosticContext{})
		assert.NoError(t, plan.Validate(), reply)
	}
}

func TestBuildPromptTruncatesContext(t *testing.T) {
	logs := strings.Repeat("a", 1000) + "LAST-LOG-LINE"
	desc := "FIRST-DESC-LINE" + strings.Repeat("d", 1000)
	events := strings.Repeat("e", 1000) + "LATEST-EVENT"

	prompt := BuildPrompt(crashIssue(), remediation.DiagnosticContext{Logs: logs, Description: desc, Events: events}, nil)

	assert.Contains(t, prompt, "LAST-LOG-LINE")
	assert.Contains(t, prompt, "FIRST-DESC-LINE")
	assert.Contains(t, prompt, "LATEST-EVENT")
	assert.NotContains(t, prompt, strings.Repeat("a", maxLogChars+1))
	assert.NotContains(t, prompt, strings.Repeat("d", maxDescriptionChars))
	assert.NotContains(t, prompt, strings.Repeat("e", maxEventChars))
	assert.Contains(t, prompt, "No past attempts")
	assert.Contains(t, prompt, "- Reason: CrashLoopBackOff")
}

func TestBuildPromptHistoryTail(t *testing.T) {
	issue := crashIssue()
	var history []remediation.Attempt
	for i, kind := range []remediation.ActionKind{
		remediation.ActionFixImage, remediation.ActionRestart, remediation.ActionUpdateEnv, remediation.ActionIncreaseMemory,
	} {
		history = append(history, remediation.Attempt{
			Issue:     issue,
			Action:    kind,
			Success:   i == 3,
			Reasoning: strings.Repeat("r", 150),
		})
	}

	prompt := BuildPrompt(issue, remediation.DiagnosticContext{}, history)

	assert.NotContains(t, prompt, "FAILED: fix-image-reference")
	assert.Contains(t, prompt, "FAILED: restart-workload - "+strings.Repeat("r", maxReasoningChars)+"\n")
	assert.Contains(t, prompt, "FAILED: update-environment-variables")
	assert.Contains(t, prompt, "SUCCESS: increase-memory-limit")
	assert.NotContains(t, prompt, strings.Repeat("r", maxReasoningChars+1))
}
