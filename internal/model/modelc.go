package model

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"benchd/internal/instrument"
	"benchd/internal/record"
	"benchd/pkg/types"
)

// ModelC is the lifecycle reference plugin. The engine calls Setup once,
// RunTests per loadlist item, and Cleanup once; every test case goes
// through the CaseRunner and is persisted in the record store.
type ModelC struct {
	cfg     types.TestConfig
	status  Status
	cont    func() bool
	records record.Store
	bench   *instrument.Bench
	log     zerolog.Logger

	runner     *CaseRunner
	sequenceID string
	anyFailed  bool
}

// NewModelC constructs the plugin. It performs no I/O; bring-up happens in
// Setup.
func NewModelC(d Deps) (Plugin, error) {
	if d.Records == nil || d.Bench == nil {
		return nil, fmt.Errorf("ModelC requires a record store and a bench")
	}
	return &ModelC{
		cfg:     d.Config,
		status:  d.Status,
		cont:    d.ShouldContinue,
		records: d.Records,
		bench:   d.Bench,
		log:     d.Log.With().Str("plugin", "ModelC").Logger(),
	}, nil
}

func (m *ModelC) Setup() error {
	m.status(fmt.Sprintf("[ModelC] Initializing test sequence for SN: %s", m.cfg.SerialNumber), types.StatusRunning)

	station, err := os.Hostname()
	if err != nil {
		station = "unknown-station"
	}
	m.status(fmt.Sprintf("[ModelC] Station: %s", station), types.StatusRunning)

	seqID, err := m.records.StartSequenceRun(m.cfg.SerialNumber, m.cfg.Model, m.cfg.Stage, station)
	if err != nil {
		return fmt.Errorf("creating sequence run record: %w", err)
	}
	m.sequenceID = seqID
	m.status(fmt.Sprintf("[ModelC] Created test sequence run record %s", seqID), types.StatusRunning)

	if err := m.bench.PowerOn(func(line string) {
		m.status("[ModelC] "+line, types.StatusRunning)
	}); err != nil {
		return fmt.Errorf("bench power-on: %w", err)
	}

	m.runner = NewCaseRunner(m.status, m.cont, m.records)
	m.status("[ModelC] Setup completed successfully. Ready to execute loadlist.", types.StatusRunning)
	return nil
}

func (m *ModelC) RunTests(item types.LoadlistItem) (bool, error) {
	// Defensive: the session validated the config, but items flow through
	// untyped JSON and may still be hollow.
	if !item.Valid() {
		m.anyFailed = true
		return false, fmt.Errorf("invalid loadlist item: temperature=%q band=%q test_cases=%d",
			item.Temperature, item.Band, len(item.TestCases))
	}

	if err := m.bench.SetTemperature(item.Temperature); err != nil {
		m.anyFailed = true
		return false, err
	}
	m.status(fmt.Sprintf("[ModelC] Waiting for temperature to stabilize at %s...", item.Temperature), types.StatusRunning)
	if !m.bench.StabilizeTemperature(m.cont) {
		m.status("[ModelC] Test stopped by user.", types.StatusStopped)
		return false, nil
	}
	m.status(fmt.Sprintf("[ModelC] Temperature stabilized at %s.", item.Temperature), types.StatusRunning)

	plan, err := m.bench.ConfigureBand(item.Band)
	if err != nil {
		m.anyFailed = true
		return false, err
	}
	m.status(fmt.Sprintf("[ModelC] Configuring for Band: %s", item.Band), types.StatusRunning)

	allPassed := true
	total := len(item.TestCases)
	for i, tc := range item.TestCases {
		if !m.cont() {
			m.status("[ModelC] Test stopped by user.", types.StatusStopped)
			return false, nil
		}
		progress := float64(i+1) / float64(total) * 100
		m.status(fmt.Sprintf("[ModelC] Running %d/%d (%.0f%%): %s", i+1, total, progress, tc), types.StatusRunning)

		res := m.runner.Run(tc, CaseContext{
			Model:       m.cfg.Model,
			Stage:       m.cfg.Stage,
			Temperature: item.Temperature,
			Band:        item.Band,
			SequenceID:  m.sequenceID,
			Plan:        plan,
		})
		if res.Passed {
			m.status(fmt.Sprintf("[ModelC] ✓ %s PASSED - %s", tc, res.Message), types.StatusRunning)
		} else {
			m.status(fmt.Sprintf("[ModelC] ✗ %s FAILED - %s", tc, res.Message), types.StatusError)
			allPassed = false
			m.anyFailed = true
			// Keep going: one failed case does not stop the item.
		}
	}
	return allPassed, nil
}

func (m *ModelC) Cleanup() error {
	m.status("[ModelC] Test sequence finished. Performing cleanup.", types.StatusRunning)
	m.bench.Shutdown()
	if m.sequenceID != "" {
		if err := m.records.CompleteSequenceRun(m.sequenceID, !m.anyFailed); err != nil {
			return fmt.Errorf("completing sequence run record: %w", err)
		}
		m.status(fmt.Sprintf("[ModelC] Completed test sequence run record %s", m.sequenceID), types.StatusRunning)
	}
	return nil
}
