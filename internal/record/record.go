// Package record persists test-run bookkeeping: one sequence-run row per
// start command, one case-run row per executed test case, and measurement
// results with their limits. Plugins talk to the Store interface only; the
// daemon chooses the SQLite or in-memory implementation at startup.
package record

import "time"

// Measurement is one measured value checked against hi/lo limits.
type Measurement struct {
	Name    string
	Value   float64
	HiLimit float64
	LoLimit float64
	Passed  bool
}

// CheckGELE applies the GELE comparison (lo <= value <= hi) and fills
// Passed.
func (m *Measurement) CheckGELE() bool {
	m.Passed = m.LoLimit <= m.Value && m.Value <= m.HiLimit
	return m.Passed
}

// SequenceRun is the persisted view of one whole test sequence.
type SequenceRun struct {
	ID           string
	SerialNumber string
	Model        string
	Stage        string
	Station      string
	StartedAt    time.Time
	CompletedAt  time.Time
	Passed       bool
	Completed    bool
}

// CaseRun is the persisted view of one executed test case.
type CaseRun struct {
	ID          string
	SequenceID  string
	TestCase    string
	Temperature string
	Band        string
	StartedAt   time.Time
	CompletedAt time.Time
	Passed      bool
	Completed   bool
}

// Store records run lifecycle and results. Implementations must be safe
// for concurrent use; the engine worker and HTTP handlers may overlap.
type Store interface {
	// StartSequenceRun creates a sequence-run record and returns its ID.
	StartSequenceRun(serial, model, stage, station string) (string, error)
	// CompleteSequenceRun closes a sequence-run record with its outcome.
	CompleteSequenceRun(id string, passed bool) error
	// StartCaseRun creates a case-run record under a sequence run.
	StartCaseRun(sequenceID, testCase, temperature, band string) (string, error)
	// CompleteCaseRun closes a case-run record with its outcome.
	CompleteCaseRun(id string, passed bool) error
	// AddMeasurement attaches a measurement result to a case run.
	AddMeasurement(caseRunID string, m Measurement) error
	// Close releases any underlying resources.
	Close() error
}
