// Package instrument simulates the station equipment a model plugin drives:
// signal generator, spectrum analyzer, power supply and temperature chamber.
// Real stations swap this for VISA-backed drivers; the simulation keeps the
// same pacing behavior, including stabilization waits broken into short
// increments so a stop request is observed quickly.
package instrument

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Temperature chamber limits in degrees C.
const (
	minTempC = -20
	maxTempC = 150
)

// pollInterval is the cancellation checkpoint granularity inside waits.
const pollInterval = 100 * time.Millisecond

// BandPlan is the frequency/power configuration applied for one band.
type BandPlan struct {
	StartMHz int
	StopMHz  int
	PowerDBm int
}

var bandPlans = map[string]BandPlan{
	"Band1": {StartMHz: 1000, StopMHz: 2000, PowerDBm: -10},
	"Band2": {StartMHz: 2000, StopMHz: 3000, PowerDBm: -5},
	"Band3": {StartMHz: 3000, StopMHz: 4000, PowerDBm: 0},
}

// Bench is a handle to the simulated station equipment.
type Bench struct {
	log zerolog.Logger

	// SettleTime is the simulated temperature stabilization duration.
	// Tests shrink it; the default mirrors the real chamber pacing.
	SettleTime time.Duration
	// StepTime is the simulated duration of discrete instrument actions.
	StepTime time.Duration

	poweredOn bool
}

// NewBench returns a simulated bench with production pacing.
func NewBench(log zerolog.Logger) *Bench {
	return &Bench{
		log:        log.With().Str("component", "bench").Logger(),
		SettleTime: 2 * time.Second,
		StepTime:   50 * time.Millisecond,
	}
}

// PowerOn brings up every instrument. report receives one line per
// instrument for operator visibility.
func (b *Bench) PowerOn(report func(string)) error {
	for _, name := range []string{
		"signal generator",
		"spectrum analyzer",
		"power supply",
		"temperature chamber",
	} {
		if report != nil {
			report("Initializing " + name + "...")
		}
		b.log.Debug().Str("instrument", name).Msg("initializing")
		time.Sleep(b.StepTime)
	}
	b.poweredOn = true
	return nil
}

// Shutdown powers the bench down. Safe to call on a bench that never
// powered on.
func (b *Bench) Shutdown() {
	if !b.poweredOn {
		return
	}
	b.poweredOn = false
	b.log.Debug().Msg("bench shut down")
	time.Sleep(b.StepTime)
}

// SetTemperature commands the chamber to a target like "25C" or "-10C".
func (b *Bench) SetTemperature(temperature string) error {
	v, err := parseTempC(temperature)
	if err != nil {
		return err
	}
	if v < minTempC || v > maxTempC {
		return fmt.Errorf("temperature %s out of range [%d, %d]", temperature, minTempC, maxTempC)
	}
	b.log.Debug().Str("temperature", temperature).Msg("chamber set")
	time.Sleep(b.StepTime)
	return nil
}

// StabilizeTemperature waits SettleTime for the chamber to settle,
// re-checking cont at sub-second increments. It returns false when cont
// went false before the wait finished.
func (b *Bench) StabilizeTemperature(cont func() bool) bool {
	deadline := time.Now().Add(b.SettleTime)
	for time.Now().Before(deadline) {
		if cont != nil && !cont() {
			return false
		}
		step := pollInterval
		if rem := time.Until(deadline); rem < step {
			step = rem
		}
		time.Sleep(step)
	}
	return cont == nil || cont()
}

// ConfigureBand applies the frequency plan for a band.
func (b *Bench) ConfigureBand(band string) (BandPlan, error) {
	plan, ok := bandPlans[band]
	if !ok {
		return BandPlan{}, fmt.Errorf("unknown band: %s", band)
	}
	b.log.Debug().Str("band", band).Int("start_mhz", plan.StartMHz).Int("stop_mhz", plan.StopMHz).Msg("band configured")
	time.Sleep(b.StepTime)
	return plan, nil
}

func parseTempC(s string) (int, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(s), "C")
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid temperature %q", s)
	}
	return v, nil
}
