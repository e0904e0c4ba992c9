// Package loop drives the observe, plan, act and learn cycle.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opscart/k8s-agentic-remediation/emitter"
	"github.com/opscart/k8s-agentic-remediation/log"
	"github.com/opscart/k8s-agentic-remediation/memory"
	"github.com/opscart/k8s-agentic-remediation/metrics"
	"github.com/opscart/k8s-agentic-remediation/planner"
	"github.com/opscart/k8s-agentic-remediation/remediation"
	"github.com/opscart/k8s-agentic-remediation/watcher"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateObserving State = "observing"
	StatePlanning  State = "planning"
	StateActing    State = "acting"
	StateLearning  State = "learning"
	StateStopped   State = "stopped"
)

type Observer interface {
	Observe(ctx context.Context) ([]remediation.Issue, error)
}

type Gatherer interface {
	Gather(ctx context.Context, issue remediation.Issue) remediation.DiagnosticContext
}

type Planner interface {
	CreatePlan(ctx context.Context, issue remediation.Issue, dctx remediation.DiagnosticContext) (remediation.Plan, planner.Tier)
}

type Executor interface {
	Execute(ctx context.Context, issue remediation.Issue, plan remediation.Plan) bool
}

type Memory interface {
	Statistics() memory.Stats
}

type Config struct {
	Interval      time.Duration
	AutoRemediate bool
}

// CycleResult summarizes one pass over the observed issues.
type CycleResult struct {
	Issues      int
	Remediated  int
	Failed      int
	Unreachable bool
}

type Controller struct {
	cfg      Config
	observer Observer
	gatherer Gatherer
	planner  Planner
	executor Executor
	mem      Memory
	emitter  *emitter.JSONEmitter
	logger   zerolog.Logger

	mu    sync.RWMutex
	state State
	cycle int
}

func New(cfg Config, observer Observer, gatherer Gatherer, p Planner, ex Executor, mem Memory, em *emitter.JSONEmitter) *Controller {
	return &Controller{
		cfg:      cfg,
		observer: observer,
		gatherer: gatherer,
		planner:  p,
		executor: ex,
		mem:      mem,
		emitter:  em,
		logger:   log.WithComponent("loop"),
		state:    StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run cycles until ctx is cancelled and returns the session summary.
// Cancellation is honoured before a cycle starts and while waiting between
// cycles; a cycle in progress always runs to completion.
func (c *Controller) Run(ctx context.Context) memory.Stats {
	c.logger.Info().
		Dur("interval", c.cfg.Interval).
		Bool("auto_remediate", c.cfg.AutoRemediate).
		Msg("starting autonomous monitoring")

	for {
		if ctx.Err() != nil {
			break
		}
		c.setState(StateRunning)
		c.RunCycle(context.WithoutCancel(ctx))
		c.setState(StateRunning)

		c.logger.Debug().Dur("interval", c.cfg.Interval).Msg("waiting until next check")
		if !sleep(ctx, c.cfg.Interval) {
			break
		}
	}

	c.setState(StateStopped)
	summary := c.mem.Statistics()
	c.logger.Info().
		Int("total_attempts", summary.Total).
		Int("successful_attempts", summary.Successful).
		Float64("success_rate", summary.SuccessRate).
		Int("patterns_learned", summary.Patterns).
		Msg("monitoring stopped, session summary")
	return summary
}

// RunCycle performs one observe, plan, act and learn pass.
func (c *Controller) RunCycle(ctx context.Context) CycleResult {
	c.mu.Lock()
	c.cycle++
	iteration := c.cycle
	c.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CycleDuration)
	metrics.CyclesTotal.Inc()

	logger := c.logger.With().Int("iteration", iteration).Logger()
	var result CycleResult

	c.setState(StateObserving)
	issues, err := c.observer.Observe(ctx)
	if err != nil {
		result.Unreachable = errors.Is(err, watcher.ErrClusterUnreachable)
		if result.Unreachable {
			metrics.ClusterUnreachableTotal.Inc()
		}
		logger.Warn().Err(err).Msg("could not observe pod status")
	}
	result.Issues = len(issues)
	if len(issues) == 0 && err == nil {
		logger.Info().Msg("no issues detected, all pods healthy")
	} else if len(issues) > 0 {
		logger.Info().Int("issues", len(issues)).Msg("issues detected")
	}

	for idx, issue := range issues {
		if c.handleIssue(ctx, logger, idx+1, len(issues), issue) {
			result.Remediated++
		} else if c.cfg.AutoRemediate {
			result.Failed++
		}
	}

	c.emitter.Emit(emitter.RemediationEvent{
		EventType: emitter.EventCycleCompleted,
		Payload: map[string]interface{}{
			"iteration":   iteration,
			"issues":      result.Issues,
			"remediated":  result.Remediated,
			"failed":      result.Failed,
			"unreachable": result.Unreachable,
			"duration_ms": timer.Duration().Milliseconds(),
		},
	})
	return result
}

func (c *Controller) handleIssue(ctx context.Context, logger zerolog.Logger, idx, total int, issue remediation.Issue) bool {
	logger = logger.With().
		Str("pod", issue.PodName).
		Str("status", issue.Status).
		Str("reason", issue.Reason).
		Logger()
	logger.Info().Int("issue", idx).Int("of", total).Str("message", truncate(issue.Message, 100)).Msg("handling issue")

	metrics.IssuesObserved.WithLabelValues(issue.Status, issue.Reason).Inc()
	c.emitter.Emit(emitter.ForIssue(emitter.EventIssueObserved, issue, map[string]interface{}{
		"message": issue.Message,
	}))

	c.setState(StatePlanning)
	dctx := c.gatherer.Gather(ctx, issue)
	plan, tier := c.planner.CreatePlan(ctx, issue, dctx)

	steps := make([]string, 0, len(plan))
	for i, step := range plan {
		steps = append(steps, string(step.Kind()))
		logger.Info().
			Int("step", i+1).
			Str("action", string(step.Kind())).
			Str("confidence", string(step.Confidence)).
			Str("reasoning", truncate(step.Justification, 200)).
			Msg("plan step")
	}
	c.emitter.Emit(emitter.ForIssue(emitter.EventPlanCreated, issue, map[string]interface{}{
		"tier":  string(tier),
		"steps": steps,
	}))

	if !c.cfg.AutoRemediate {
		logger.Info().Msg("auto-remediation disabled, skipping act")
		return false
	}

	c.setState(StateActing)
	success := c.executor.Execute(ctx, issue, plan)

	c.setState(StateLearning)
	stats := c.mem.Statistics()
	metrics.PatternsLearned.Set(float64(stats.Patterns))
	logger.Info().
		Bool("success", success).
		Int("patterns_learned", stats.Patterns).
		Msg("remediation outcome stored")
	return success
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
