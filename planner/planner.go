// Package planner turns an issue and its diagnostic context into an ordered
// remediation plan. Tiers are consulted cheapest first: heuristic detectors,
// learned patterns, the reasoning service, then a safe default restart.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opscart/k8s-agentic-remediation/heuristics"
	"github.com/opscart/k8s-agentic-remediation/log"
	"github.com/opscart/k8s-agentic-remediation/memory"
	"github.com/opscart/k8s-agentic-remediation/metrics"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

type Tier string

const (
	TierHeuristic Tier = "heuristic"
	TierMemory    Tier = "memory"
	TierReasoning Tier = "reasoning"
	TierDefault   Tier = "default"
)

const DefaultReasoningTimeout = 60 * time.Second

type Reasoner interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Memory interface {
	Recall(signature string) (memory.LearnedStep, bool)
	History(podName string) []remediation.Attempt
}

var errNoReasoner = errors.New("no reasoning service configured")

type Planner struct {
	mem      Memory
	reasoner Reasoner
	timeout  time.Duration
	logger   zerolog.Logger
}

func New(mem Memory, reasoner Reasoner, timeout time.Duration) *Planner {
	if timeout <= 0 {
		timeout = DefaultReasoningTimeout
	}
	return &Planner{
		mem:      mem,
		reasoner: reasoner,
		timeout:  timeout,
		logger:   log.WithComponent("planner"),
	}
}

// CreatePlan always returns a non-empty plan along with the tier that produced it.
func (p *Planner) CreatePlan(ctx context.Context, issue remediation.Issue, dctx remediation.DiagnosticContext) (remediation.Plan, Tier) {
	plan, tier := p.decide(ctx, issue, dctx)
	metrics.PlansCreated.WithLabelValues(string(tier)).Inc()
	return plan, tier
}

func (p *Planner) decide(ctx context.Context, issue remediation.Issue, dctx remediation.DiagnosticContext) (remediation.Plan, Tier) {
	logger := p.logger.With().Str("pod", issue.PodName).Str("signature", issue.Signature()).Logger()

	if d, step, ok := heuristics.Match(issue, dctx); ok {
		logger.Info().Str("detector", d.ID).Str("action", string(step.Kind())).Msg(d.Name + " detected")
		return remediation.Plan{step}, TierHeuristic
	}

	if step, ok := p.recall(issue, logger); ok {
		logger.Info().Str("action", string(step.Kind())).Msg("found learned solution in memory")
		return remediation.Plan{step}, TierMemory
	}

	logger.Info().Msg("new issue type, consulting reasoning service")
	plan, err := p.consult(ctx, issue, dctx)
	if err == nil {
		return plan, TierReasoning
	}
	cause := "error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		cause = "timeout"
	case errors.Is(err, errNoValidSteps), errors.Is(err, errNoJSONArray):
		cause = "malformed"
	case errors.Is(err, errNoReasoner):
		cause = "disabled"
	}
	metrics.ReasoningFailures.WithLabelValues(cause).Inc()
	logger.Warn().Err(err).Str("cause", cause).Msg("reasoning service plan unavailable, using safe default")
	return DefaultPlan(issue, fmt.Sprintf("Fallback restart: reasoning service %s", cause)), TierDefault
}

func (p *Planner) recall(issue remediation.Issue, logger zerolog.Logger) (remediation.Step, bool) {
	if p.mem == nil {
		return remediation.Step{}, false
	}
	learned, ok := p.mem.Recall(issue.Signature())
	if !ok {
		return remediation.Step{}, false
	}
	step, err := learned.Step()
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring learned solution with an action that is no longer supported")
		return remediation.Step{}, false
	}
	step.Justification = fmt.Sprintf("Using previously learned solution: %s", step.Kind())
	step.Confidence = remediation.ConfidenceHigh
	return step, true
}

func (p *Planner) consult(ctx context.Context, issue remediation.Issue, dctx remediation.DiagnosticContext) (remediation.Plan, error) {
	if p.reasoner == nil {
		return nil, errNoReasoner
	}
	var history []remediation.Attempt
	if p.mem != nil {
		history = p.mem.History(issue.PodName)
	}
	prompt := BuildPrompt(issue, dctx, history)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		text, err := p.reasoner.Complete(ctx, SystemPrompt, prompt)
		ch <- reply{text, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("reasoning service: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("reasoning service: %w", r.err)
		}
		return ParsePlan(r.text)
	}
}

// DefaultPlan is the tier of last resort: restart the failing pod.
func DefaultPlan(issue remediation.Issue, justification string) remediation.Plan {
	return remediation.Plan{{
		Action:        remediation.Restart{PodName: issue.PodName},
		Justification: justification,
		Confidence:    remediation.ConfidenceLow,
	}}
}
