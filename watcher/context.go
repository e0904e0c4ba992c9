package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/opscart/k8s-agentic-remediation/remediation"
)

const DefaultLogTail = 50

type Inspector interface {
	Logs(ctx context.Context, pod, namespace string, tailLines int64) (string, error)
	Describe(ctx context.Context, pod, namespace string) (string, error)
	Events(ctx context.Context, pod, namespace string) (string, error)
}

// Gatherer collects the diagnostic context for one issue. Failures become
// part of the evidence text rather than errors.
type Gatherer struct {
	client  Inspector
	tail    int64
	timeout time.Duration
}

func NewGatherer(client Inspector, tailLines int64, timeout time.Duration) *Gatherer {
	if tailLines <= 0 {
		tailLines = DefaultLogTail
	}
	return &Gatherer{client: client, tail: tailLines, timeout: timeout}
}

func (g *Gatherer) Gather(ctx context.Context, issue remediation.Issue) remediation.DiagnosticContext {
	var dctx remediation.DiagnosticContext
	dctx.Logs = g.call(ctx, "getting logs", func(ctx context.Context) (string, error) {
		return g.client.Logs(ctx, issue.PodName, issue.Namespace, g.tail)
	})
	dctx.Description = g.call(ctx, "describing pod", func(ctx context.Context) (string, error) {
		return g.client.Describe(ctx, issue.PodName, issue.Namespace)
	})
	dctx.Events = g.call(ctx, "getting events", func(ctx context.Context) (string, error) {
		return g.client.Events(ctx, issue.PodName, issue.Namespace)
	})
	return dctx
}

func (g *Gatherer) call(ctx context.Context, what string, fn func(context.Context) (string, error)) string {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	if err != nil {
		return fmt.Sprintf("Error %s: %v", what, err)
	}
	return out
}
