package remediation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps anything outside the known labels to low.
func ParseConfidence(s string) Confidence {
	switch c := Confidence(strings.ToLower(strings.TrimSpace(s))); c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return c
	}
	return ConfidenceLow
}

// Step is one candidate remediation.
type Step struct {
	Action        Action
	Justification string
	Confidence    Confidence
}

type stepJSON struct {
	Action     ActionKind      `json:"action"`
	Details    json.RawMessage `json:"details"`
	Reasoning  string          `json:"reasoning,omitempty"`
	Confidence Confidence      `json:"confidence,omitempty"`
}

func (s Step) Kind() ActionKind {
	if s.Action == nil {
		return ""
	}
	return s.Action.Kind()
}

// Details returns the JSON object of the action's detail fields.
func (s Step) Details() json.RawMessage {
	if s.Action == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(s.Action)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepJSON{
		Action:     s.Kind(),
		Details:    s.Details(),
		Reasoning:  s.Justification,
		Confidence: s.Confidence,
	})
}

func (s *Step) UnmarshalJSON(b []byte) error {
	var raw stepJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a, err := DecodeAction(raw.Action, raw.Details)
	if err != nil {
		return err
	}
	s.Action = a
	s.Justification = raw.Reasoning
	s.Confidence = ParseConfidence(string(raw.Confidence))
	return nil
}

// Plan is tried in order until one step succeeds.
type Plan []Step

func (p Plan) Validate() error {
	if len(p) == 0 {
		return ErrEmptyPlan
	}
	for i, s := range p {
		if s.Action == nil || !s.Kind().Valid() {
			return fmt.Errorf("step %d: %w: %q", i+1, ErrUnknownAction, s.Kind())
		}
	}
	return nil
}

// Attempt is an immutable record of one executed step.
type Attempt struct {
	ID        string          `json:"id,omitempty"`
	Issue     Issue           `json:"issue"`
	Action    ActionKind      `json:"action"`
	Details   json.RawMessage `json:"action_details"`
	Command   string          `json:"command,omitempty"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
	Reasoning string          `json:"reasoning"`
}

func NewAttempt(issue Issue, step Step, command string, success bool, at time.Time) Attempt {
	return Attempt{
		ID:        uuid.NewString(),
		Issue:     issue,
		Action:    step.Kind(),
		Details:   step.Details(),
		Command:   command,
		Success:   success,
		Timestamp: at,
		Reasoning: step.Justification,
	}
}
