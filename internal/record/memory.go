package record

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in memory. It backs tests and stations that run
// without a database.
type MemoryStore struct {
	mu           sync.Mutex
	sequences    map[string]*SequenceRun
	cases        map[string]*CaseRun
	measurements map[string][]Measurement
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sequences:    make(map[string]*SequenceRun),
		cases:        make(map[string]*CaseRun),
		measurements: make(map[string][]Measurement),
	}
}

func (s *MemoryStore) StartSequenceRun(serial, model, stage, station string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sequences[id] = &SequenceRun{
		ID:           id,
		SerialNumber: serial,
		Model:        model,
		Stage:        stage,
		Station:      station,
		StartedAt:    time.Now(),
	}
	return id, nil
}

func (s *MemoryStore) CompleteSequenceRun(id string, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.sequences[id]
	if !ok {
		return fmt.Errorf("sequence run %s not found", id)
	}
	run.CompletedAt = time.Now()
	run.Passed = passed
	run.Completed = true
	return nil
}

func (s *MemoryStore) StartCaseRun(sequenceID, testCase, temperature, band string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sequences[sequenceID]; !ok {
		return "", fmt.Errorf("sequence run %s not found", sequenceID)
	}
	id := uuid.NewString()
	s.cases[id] = &CaseRun{
		ID:          id,
		SequenceID:  sequenceID,
		TestCase:    testCase,
		Temperature: temperature,
		Band:        band,
		StartedAt:   time.Now(),
	}
	return id, nil
}

func (s *MemoryStore) CompleteCaseRun(id string, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.cases[id]
	if !ok {
		return fmt.Errorf("case run %s not found", id)
	}
	run.CompletedAt = time.Now()
	run.Passed = passed
	run.Completed = true
	return nil
}

func (s *MemoryStore) AddMeasurement(caseRunID string, m Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[caseRunID]; !ok {
		return fmt.Errorf("case run %s not found", caseRunID)
	}
	s.measurements[caseRunID] = append(s.measurements[caseRunID], m)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// SequenceRuns returns a copy of all sequence-run records, for inspection
// in tests.
func (s *MemoryStore) SequenceRuns() []SequenceRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SequenceRun, 0, len(s.sequences))
	for _, r := range s.sequences {
		out = append(out, *r)
	}
	return out
}

// CaseRuns returns a copy of all case-run records, for inspection in tests.
func (s *MemoryStore) CaseRuns() []CaseRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CaseRun, 0, len(s.cases))
	for _, r := range s.cases {
		out = append(out, *r)
	}
	return out
}

// Measurements returns the measurements recorded for a case run.
func (s *MemoryStore) Measurements(caseRunID string) []Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Measurement, len(s.measurements[caseRunID]))
	copy(out, s.measurements[caseRunID])
	return out
}
