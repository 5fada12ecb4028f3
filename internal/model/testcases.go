package model

import (
	"fmt"
	"strings"

	"benchd/internal/instrument"
	"benchd/internal/record"
	"benchd/pkg/types"
)

// CaseContext carries the execution context for one test case.
type CaseContext struct {
	Model       string
	Stage       string
	Temperature string
	Band        string
	SequenceID  string
	Plan        instrument.BandPlan
}

// CaseResult is the outcome of one test case.
type CaseResult struct {
	Passed  bool
	Message string
}

type caseFunc func(ctx CaseContext) CaseResult

// CaseRunner dispatches test-case names to implementations. Unimplemented
// names yield a failed result rather than an error.
type CaseRunner struct {
	status  Status
	cont    func() bool
	records record.Store
	cases   map[string]caseFunc
}

// NewCaseRunner builds a runner with the built-in measurement set.
func NewCaseRunner(status Status, cont func() bool, records record.Store) *CaseRunner {
	r := &CaseRunner{status: status, cont: cont, records: records}
	r.cases = map[string]caseFunc{
		"gain_flatness": r.gainFlatness,
		"power_sweep":   r.powerSweep,
		"am_pm":         r.amPM,
		"ampm":          r.amPM,
		"spur":          r.spur,
		"phase_noise":   r.phaseNoise,
	}
	return r
}

// NormalizeCaseName maps a display name to its dispatch key: lowercase,
// spaces and slashes to underscores. "Gain Flatness" -> "gain_flatness",
// "AM/PM" -> "am_pm".
func NormalizeCaseName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

// Run executes one named test case. A stop request observed before
// execution fails the case without running it.
func (r *CaseRunner) Run(name string, ctx CaseContext) CaseResult {
	if r.cont != nil && !r.cont() {
		return CaseResult{Passed: false, Message: "stopped before execution"}
	}
	fn, ok := r.cases[NormalizeCaseName(name)]
	if !ok {
		msg := fmt.Sprintf("Test case '%s' is not implemented", name)
		r.status(msg, types.StatusError)
		return CaseResult{Passed: false, Message: msg}
	}
	return r.runGuarded(name, fn, ctx)
}

// runGuarded converts a panicking test case into a failed result so one
// broken case cannot take down the sequence.
func (r *CaseRunner) runGuarded(name string, fn caseFunc, ctx CaseContext) (res CaseResult) {
	defer func() {
		if p := recover(); p != nil {
			res = CaseResult{Passed: false, Message: fmt.Sprintf("execution error in '%s': %v", name, p)}
			r.status(res.Message, types.StatusError)
		}
	}()
	return fn(ctx)
}

// measure runs the shared record bookkeeping around a single measurement:
// case-run record, GELE limit check, result row, completion.
func (r *CaseRunner) measure(ctx CaseContext, caseName string, m record.Measurement, unit string) CaseResult {
	caseID, err := r.records.StartCaseRun(ctx.SequenceID, caseName, ctx.Temperature, ctx.Band)
	if err != nil {
		return CaseResult{Passed: false, Message: fmt.Sprintf("record error: %v", err)}
	}
	m.CheckGELE()
	if err := r.records.AddMeasurement(caseID, m); err != nil {
		r.status(fmt.Sprintf("failed to record measurement %s: %v", m.Name, err), types.StatusError)
	}
	if err := r.records.CompleteCaseRun(caseID, m.Passed); err != nil {
		r.status(fmt.Sprintf("failed to complete case run %s: %v", caseID, err), types.StatusError)
	}
	return CaseResult{
		Passed:  m.Passed,
		Message: fmt.Sprintf("%s: %.2f %s (limits %.2f..%.2f)", m.Name, m.Value, unit, m.LoLimit, m.HiLimit),
	}
}

// The simulated measurements derive their values from the band plan so
// different bands produce different (but repeatable) readings.

func (r *CaseRunner) gainFlatness(ctx CaseContext) CaseResult {
	value := 0.1 + float64(ctx.Plan.StartMHz)/20000.0
	return r.measure(ctx, "Gain Flatness", record.Measurement{
		Name: "full_gain_flatness", Value: value, HiLimit: 0.5, LoLimit: -0.5,
	}, "dB")
}

func (r *CaseRunner) powerSweep(ctx CaseContext) CaseResult {
	value := 0.15 + float64(ctx.Plan.PowerDBm)/100.0
	return r.measure(ctx, "Power Sweep", record.Measurement{
		Name: "power_accuracy", Value: value, HiLimit: 0.3, LoLimit: -0.3,
	}, "dB")
}

func (r *CaseRunner) amPM(ctx CaseContext) CaseResult {
	value := 1.6 + float64(ctx.Plan.StopMHz)/20000.0
	return r.measure(ctx, "AM/PM", record.Measurement{
		Name: "am_pm_distortion", Value: value, HiLimit: 2.5, LoLimit: 0,
	}, "deg/dB")
}

func (r *CaseRunner) spur(ctx CaseContext) CaseResult {
	value := -70.0 + float64(ctx.Plan.PowerDBm)/2.0
	return r.measure(ctx, "Spur", record.Measurement{
		Name: "spur_level", Value: value, HiLimit: -60, LoLimit: -120,
	}, "dBc")
}

func (r *CaseRunner) phaseNoise(ctx CaseContext) CaseResult {
	value := -108.0 + float64(ctx.Plan.StartMHz)/1000.0
	return r.measure(ctx, "Phase Noise", record.Measurement{
		Name: "phase_noise_10khz", Value: value, HiLimit: -100, LoLimit: -140,
	}, "dBc/Hz")
}
