package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	corev1 "k8s.io/api/core/v1"

	"github.com/opscart/k8s-agentic-remediation/log"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

// ErrClusterUnreachable signals that pod statuses could not be listed, as
// opposed to a healthy namespace with no issues.
var ErrClusterUnreachable = errors.New("cluster unreachable")

type PodLister interface {
	ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error)
}

type PodObserver struct {
	client    PodLister
	namespace string
	filter    *Filter
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPodObserver bounds each listing by timeout; zero means no bound.
func NewPodObserver(client PodLister, namespace string, filter *Filter, timeout time.Duration) *PodObserver {
	return &PodObserver{
		client:    client,
		namespace: namespace,
		filter:    filter,
		timeout:   timeout,
		logger:    log.WithComponent("pod_watcher"),
		now:       time.Now,
	}
}

// Observe lists the namespace's pods and returns one issue per not-ready
// container that is waiting or terminated.
func (o *PodObserver) Observe(ctx context.Context) ([]remediation.Issue, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	pods, err := o.client.ListPods(ctx, o.namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClusterUnreachable, err)
	}
	issues := IssuesFromPods(pods, o.namespace, o.now())
	if o.filter == nil {
		return issues, nil
	}
	kept := issues[:0]
	for _, issue := range issues {
		ignore, err := o.filter.Ignore(issue)
		if err != nil {
			o.logger.Warn().Err(err).Str("pod", issue.PodName).Msg("ignore filter failed, keeping issue")
		}
		if ignore {
			o.logger.Debug().Str("pod", issue.PodName).Str("reason", issue.Reason).Msg("issue ignored by filter")
			continue
		}
		kept = append(kept, issue)
	}
	return kept, nil
}

// IssuesFromPods is the pure status-to-issue transform behind Observe.
func IssuesFromPods(pods []corev1.Pod, namespace string, now time.Time) []remediation.Issue {
	var issues []remediation.Issue
	for i := range pods {
		pod := &pods[i]
		ns := pod.Namespace
		if ns == "" {
			ns = namespace
		}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Ready {
				continue
			}
			if issue, ok := inspectContainerStatus(pod.Name, ns, cs, now); ok {
				issues = append(issues, issue)
			}
		}
	}
	return issues
}

func inspectContainerStatus(podName, namespace string, cs corev1.ContainerStatus, now time.Time) (remediation.Issue, bool) {
	issue := remediation.Issue{
		PodName:       podName,
		Namespace:     namespace,
		ContainerName: cs.Name,
		Timestamp:     now,
	}
	switch {
	case cs.State.Waiting != nil:
		issue.Status = remediation.StatusWaiting
		issue.Reason = reasonOrUnknown(cs.State.Waiting.Reason)
		issue.Message = cs.State.Waiting.Message
	case cs.State.Terminated != nil:
		term := cs.State.Terminated
		issue.Status = remediation.StatusTerminated
		issue.Reason = reasonOrUnknown(term.Reason)
		issue.Message = fmt.Sprintf("Exit code: %d. %s", term.ExitCode, term.Message)
	default:
		return issue, false
	}
	return issue, true
}

func reasonOrUnknown(reason string) string {
	if reason == "" {
		return "Unknown"
	}
	return reason
}
