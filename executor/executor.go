// Package executor applies a plan step by step until one step succeeds,
// recording every applied step in pattern memory.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opscart/k8s-agentic-remediation/emitter"
	"github.com/opscart/k8s-agentic-remediation/log"
	"github.com/opscart/k8s-agentic-remediation/metrics"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

const (
	DefaultSettleDelay    = 5 * time.Second
	DefaultRequestTimeout = 15 * time.Second
)

const (
	outcomeApplied = "applied"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Applier is the mutating half of the control-plane client.
type Applier interface {
	DeletePod(ctx context.Context, pod, namespace string) error
	PatchEnv(ctx context.Context, deployment, namespace string, vars map[string]string) error
	PatchMemoryLimit(ctx context.Context, deployment, namespace, newLimit string) error
	SetImage(ctx context.Context, deployment, namespace, image string) error
}

type Memory interface {
	StoreAttempt(a remediation.Attempt) error
	Succeeded(command string) bool
}

type Options struct {
	SettleDelay    time.Duration
	RequestTimeout time.Duration
}

type Executor struct {
	applier Applier
	mem     Memory
	emitter *emitter.JSONEmitter
	opts    Options
	now     func() time.Time
}

// New builds an executor. A zero RequestTimeout uses DefaultRequestTimeout;
// a zero SettleDelay disables the settle pause.
func New(applier Applier, mem Memory, em *emitter.JSONEmitter, opts Options) *Executor {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &Executor{
		applier: applier,
		mem:     mem,
		emitter: em,
		opts:    opts,
		now:     time.Now,
	}
}

// Execute tries each step in order and reports whether any of them succeeded.
func (e *Executor) Execute(ctx context.Context, issue remediation.Issue, plan remediation.Plan) bool {
	logger := log.WithIssue("executor", issue.PodName, issue.Reason)

	if err := plan.Validate(); err != nil {
		logger.Error().Err(err).Msg("refusing to execute invalid plan")
		return false
	}

	for i, step := range plan {
		slog := logger.With().Int("step", i+1).Int("steps", len(plan)).Str("action", string(step.Kind())).Logger()
		slog.Info().Str("confidence", string(step.Confidence)).Str("reasoning", step.Justification).Msg("executing step")

		if e.executeStep(ctx, issue, step, slog) {
			return true
		}
		if i < len(plan)-1 {
			slog.Info().Msg("step failed, trying next step")
		}
	}
	logger.Warn().Msg("all plan steps failed")
	return false
}

func (e *Executor) executeStep(ctx context.Context, issue remediation.Issue, step remediation.Step, logger zerolog.Logger) bool {
	// Memory records step unresolved; the guard compares the resolved command.
	resolved, err := step.Action.Resolve(issue)
	if err != nil {
		logger.Warn().Err(err).Msg("step cannot be applied")
		e.record(issue, step, "", false, err, logger)
		return false
	}

	command := resolved.Command(issue.Namespace)
	logger = logger.With().Str("command", command).Logger()

	if resolved.Mutating() && e.mem != nil && e.mem.Succeeded(command) {
		logger.Info().Msg("command already applied successfully, skipping")
		metrics.StepsTotal.WithLabelValues(string(step.Kind()), outcomeSkipped).Inc()
		e.emitter.Emit(emitter.ForIssue(emitter.EventStepSkipped, issue, map[string]interface{}{
			"action":  string(step.Kind()),
			"command": command,
		}))
		return true
	}

	err = e.apply(ctx, issue.Namespace, resolved)
	e.record(issue, step, command, err == nil, err, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("control-plane call failed")
		return false
	}

	logger.Info().Msg("step applied")
	e.settle(ctx)
	return true
}

func (e *Executor) apply(ctx context.Context, namespace string, action remediation.Action) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	switch a := action.(type) {
	case remediation.Restart:
		return e.applier.DeletePod(ctx, a.PodName, namespace)
	case remediation.UpdateEnv:
		return e.applier.PatchEnv(ctx, a.Deployment, namespace, a.EnvVars)
	case remediation.IncreaseMemory:
		return e.applier.PatchMemoryLimit(ctx, a.Deployment, namespace, a.NewLimit)
	case remediation.FixImage:
		return e.applier.SetImage(ctx, a.Deployment, namespace, a.NewImage)
	default:
		return fmt.Errorf("%w: %T", remediation.ErrUnknownAction, action)
	}
}

func (e *Executor) record(issue remediation.Issue, step remediation.Step, command string, success bool, cause error, logger zerolog.Logger) {
	outcome, event := outcomeFailed, emitter.EventStepFailed
	if success {
		outcome, event = outcomeApplied, emitter.EventStepApplied
	}
	metrics.StepsTotal.WithLabelValues(string(step.Kind()), outcome).Inc()

	payload := map[string]interface{}{
		"action":     string(step.Kind()),
		"details":    step.Details(),
		"command":    command,
		"confidence": string(step.Confidence),
	}
	if cause != nil {
		payload["error"] = cause.Error()
		if errors.Is(cause, remediation.ErrMissingDetail) {
			payload["missing_detail"] = true
		}
	}
	e.emitter.Emit(emitter.ForIssue(event, issue, payload))

	if e.mem == nil {
		return
	}
	if err := e.mem.StoreAttempt(remediation.NewAttempt(issue, step, command, success, e.now())); err != nil {
		logger.Error().Err(err).Msg("failed to persist attempt")
	}
}

func (e *Executor) settle(ctx context.Context) {
	if e.opts.SettleDelay <= 0 {
		return
	}
	t := time.NewTimer(e.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
