package memory

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opscart/k8s-agentic-remediation/log"
	"github.com/opscart/k8s-agentic-remediation/remediation"
)

// Pattern aggregates the successful remediations seen for one signature.
type Pattern struct {
	SuccessCount int          `json:"success_count"`
	TotalCount   int          `json:"total_count"`
	LastSuccess  *LearnedStep `json:"last_success,omitempty"`
}

func (p Pattern) SuccessRate() float64 {
	if p.TotalCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.TotalCount)
}

// LearnedStep is kept raw so a kind dropped in a later version can still be
// loaded and then rejected by the planner.
type LearnedStep struct {
	Action    remediation.ActionKind `json:"action"`
	Details   json.RawMessage        `json:"details"`
	Reasoning string                 `json:"reasoning"`
}

func (l LearnedStep) Step() (remediation.Step, error) {
	a, err := remediation.DecodeAction(l.Action, l.Details)
	if err != nil {
		return remediation.Step{}, err
	}
	return remediation.Step{Action: a, Justification: l.Reasoning, Confidence: remediation.ConfidenceHigh}, nil
}

type Stats struct {
	Total       int     `json:"total_attempts"`
	Successful  int     `json:"successful_attempts"`
	SuccessRate float64 `json:"success_rate"`
	Patterns    int     `json:"patterns_learned"`
}

type document struct {
	Attempts []remediation.Attempt `json:"attempts"`
	Patterns map[string]*Pattern   `json:"patterns"`
}

func emptyDocument() document {
	return document{Attempts: []remediation.Attempt{}, Patterns: map[string]*Pattern{}}
}

// Store is the single writer of the attempt log and pattern table. Every
// mutation is persisted before StoreAttempt returns.
type Store struct {
	mu     sync.Mutex
	p      Persister
	doc    document
	logger zerolog.Logger
}

// Open loads the persisted state; missing or corrupt documents yield an empty store.
func Open(p Persister) *Store {
	s := &Store{p: p, logger: log.WithComponent("memory")}
	s.Load()
	return s
}

// Load replaces the in-memory state with the persisted one. It never fails:
// unreadable state is discarded with a warning.
func (s *Store) Load() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc = emptyDocument()
	data, err := s.p.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not read memory, starting fresh")
		return s.statsLocked()
	}
	if len(data) == 0 {
		return s.statsLocked()
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Msg("could not parse memory, starting fresh")
		return s.statsLocked()
	}
	if doc.Attempts == nil {
		doc.Attempts = []remediation.Attempt{}
	}
	if doc.Patterns == nil {
		doc.Patterns = map[string]*Pattern{}
	}
	for sig, p := range doc.Patterns {
		if p == nil {
			s.logger.Warn().Str("signature", sig).Msg("dropping empty pattern entry")
			delete(doc.Patterns, sig)
		}
	}
	s.doc = doc
	return s.statsLocked()
}

// StoreAttempt appends to the log and, on success, reinforces the pattern
// for the issue's signature. The read-modify-write runs under the store lock.
func (s *Store) StoreAttempt(a remediation.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Attempts = append(s.doc.Attempts, a)
	if a.Success {
		sig := a.Issue.Signature()
		p, ok := s.doc.Patterns[sig]
		if !ok {
			p = &Pattern{}
			s.doc.Patterns[sig] = p
		}
		p.SuccessCount++
		p.TotalCount++
		p.LastSuccess = &LearnedStep{Action: a.Action, Details: a.Details, Reasoning: a.Reasoning}
	}
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode memory: %w", err)
	}
	if err := s.p.Save(data); err != nil {
		return fmt.Errorf("failed to persist memory: %w", err)
	}
	return nil
}

// Recall returns the most recent successful step for a signature.
func (s *Store) Recall(signature string) (LearnedStep, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.doc.Patterns[signature]
	if !ok || p.SuccessCount == 0 || p.LastSuccess == nil {
		return LearnedStep{}, false
	}
	return *p.LastSuccess, true
}

// History returns the attempts against one pod in recorded order.
func (s *Store) History(podName string) []remediation.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []remediation.Attempt
	for _, a := range s.doc.Attempts {
		if a.Issue.PodName == podName {
			out = append(out, a)
		}
	}
	return out
}

// Succeeded reports whether the literal command has a recorded success.
func (s *Store) Succeeded(command string) bool {
	if command == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.doc.Attempts {
		if a.Success && a.Command == command {
			return true
		}
	}
	return false
}

func (s *Store) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	st := Stats{Total: len(s.doc.Attempts), Patterns: len(s.doc.Patterns)}
	for _, a := range s.doc.Attempts {
		if a.Success {
			st.Successful++
		}
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.Total)
	}
	return st
}

// Patterns returns a copy of the pattern table.
func (s *Store) Patterns() map[string]Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Pattern, len(s.doc.Patterns))
	for k, p := range s.doc.Patterns {
		out[k] = *p
	}
	return out
}

func (s *Store) Close() error {
	return s.p.Close()
}
