package emitter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opscart/k8s-agentic-remediation/log"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

const (
	EventIssueObserved  = "IssueObserved"
	EventPlanCreated    = "PlanCreated"
	EventStepApplied    = "StepApplied"
	EventStepSkipped    = "StepSkipped"
	EventStepFailed     = "StepFailed"
	EventCycleCompleted = "CycleCompleted"
)

type RemediationEvent struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Signature string                 `json:"signature,omitempty"`
	PodName   string                 `json:"pod_name,omitempty"`
	Namespace string                 `json:"namespace,omitempty"`
	Container string                 `json:"container,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// ForIssue pre-fills the issue identity fields of an event.
func ForIssue(eventType string, issue remediation.Issue, payload map[string]interface{}) RemediationEvent {
	return RemediationEvent{
		EventType: eventType,
		Signature: issue.Signature(),
		PodName:   issue.PodName,
		Namespace: issue.Namespace,
		Container: issue.ContainerName,
		Payload:   payload,
	}
}

// JSONEmitter appends remediation events to events.jsonl. A nil emitter
// discards events.
type JSONEmitter struct {
	mu         sync.Mutex
	eventsFile *os.File
	logger     zerolog.Logger
}

func NewJSONEmitter(outputDir string) (*JSONEmitter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(outputDir, "events.jsonl")
	eventsFile, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	logger := log.WithComponent("emitter")
	logger.Info().Str("path", path).Msg("audit events enabled")
	return &JSONEmitter{eventsFile: eventsFile, logger: logger}, nil
}

func (e *JSONEmitter) Emit(event RemediationEvent) {
	if e == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", event.EventType).Msg("failed to encode event")
		return
	}
	if _, err := e.eventsFile.Write(append(data, '\n')); err != nil {
		e.logger.Error().Err(err).Str("event_type", event.EventType).Msg("failed to write event")
		return
	}
	e.logger.Debug().Str("event_type", event.EventType).Str("pod", event.PodName).Msg("event emitted")
}

func (e *JSONEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventsFile.Sync()
	e.eventsFile.Close()
}
