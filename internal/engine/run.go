package engine

import (
	"fmt"
	"time"

	"benchd/internal/model"
	"benchd/pkg/types"
)

// run is the worker goroutine for one test run. It drives the plugin,
// decides the terminal event and returns the engine to idle.
func (e *Engine) run(entry model.Entry, plugin model.Plugin, cfg types.TestConfig) {
	start := time.Now()
	overall, aborted := e.executeRun(entry, plugin, cfg)

	// A cleared flag at this point means the operator stopped the run;
	// every other outcome leaves it set until we reset below.
	stopped := !e.running.Load()

	switch {
	case stopped:
		// The stop announcement already went out; no terminal event.
		e.statsStopped.Add(1)
		runsStopped.Inc()
	case aborted:
		// The abort path already broadcast its error.
		e.statsFailed.Add(1)
		runsFailed.Inc()
	case overall:
		e.statsCompleted.Add(1)
		runsCompleted.Inc()
		e.broadcast(types.Event{
			Message: fmt.Sprintf("Test completed successfully for SN: %s", cfg.SerialNumber),
			Status:  types.StatusCompleted,
		})
	default:
		e.statsFailed.Add(1)
		runsFailed.Inc()
		e.broadcast(types.Event{
			Message: fmt.Sprintf("Test finished with errors for SN: %s", cfg.SerialNumber),
			Status:  types.StatusError,
		})
	}

	runDuration.Observe(time.Since(start).Seconds())
	e.log.Info().
		Str("serial_number", cfg.SerialNumber).
		Bool("passed", overall && !stopped && !aborted).
		Dur("duration", time.Since(start)).
		Msg("run finished")

	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()
}

// executeRun performs the whole sequence. overall reports whether every
// item passed; aborted is set when the run died on a setup failure or
// panic, in which case the error event has already been broadcast.
func (e *Engine) executeRun(entry model.Entry, plugin model.Plugin, cfg types.TestConfig) (overall, aborted bool) {
	if entry.RunLegacy != nil {
		return e.runLegacy(entry.RunLegacy, cfg)
	}

	defer func() {
		if p := recover(); p != nil {
			e.log.Error().Interface("panic", p).Msg("run panicked")
			e.broadcast(types.Event{
				Message: fmt.Sprintf("Test execution error: %v", p),
				Status:  types.StatusError,
			})
			e.safeCleanup(plugin)
			overall, aborted = false, true
		}
	}()

	if err := plugin.Setup(); err != nil {
		e.broadcast(types.Event{
			Message: fmt.Sprintf("Setup failed for %s: %v", cfg.Model, err),
			Status:  types.StatusError,
		})
		e.safeCleanup(plugin)
		return false, true
	}

	overall = true
	total := len(cfg.Loadlist)
	for i, item := range cfg.Loadlist {
		if !e.running.Load() {
			e.broadcast(types.Event{Message: "Test execution was stopped.", Status: types.StatusStopped})
			break
		}
		e.broadcast(types.Event{
			Message: fmt.Sprintf("--- Running loadlist item %d/%d: Temp=%s, Band=%s ---", i+1, total, item.Temperature, item.Band),
			Status:  types.StatusRunning,
		})

		ok, err := e.runItem(plugin, item)
		if err != nil {
			e.broadcast(types.Event{
				Message: fmt.Sprintf("Failed item: Temp=%s, Band=%s: %v", item.Temperature, item.Band, err),
				Status:  types.StatusError,
			})
			overall = false
			continue
		}
		if !ok && e.running.Load() {
			e.broadcast(types.Event{
				Message: fmt.Sprintf("Failed item: Temp=%s, Band=%s", item.Temperature, item.Band),
				Status:  types.StatusError,
			})
			overall = false
		}
	}

	if !e.safeCleanup(plugin) {
		overall = false
	}
	return overall, false
}

// runItem isolates one loadlist item so a panicking plugin fails the item
// instead of the process.
func (e *Engine) runItem(plugin model.Plugin, item types.LoadlistItem) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error().Interface("panic", p).Str("band", item.Band).Msg("loadlist item panicked")
			ok, err = false, fmt.Errorf("execution error: %v", p)
		}
	}()
	return plugin.RunTests(item)
}

// runLegacy drives a single-call plugin, which owns its own iteration and
// cleanup.
func (e *Engine) runLegacy(run model.LegacyRunFunc, cfg types.TestConfig) (overall, aborted bool) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error().Interface("panic", p).Msg("legacy run panicked")
			e.broadcast(types.Event{
				Message: fmt.Sprintf("Test execution error: %v", p),
				Status:  types.StatusError,
			})
			overall, aborted = false, true
		}
	}()
	return run(cfg, e.pluginStatus, e.ShouldContinue), false
}

// safeCleanup runs plugin cleanup with panic isolation. It reports false
// when cleanup failed.
func (e *Engine) safeCleanup(plugin model.Plugin) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error().Interface("panic", p).Msg("cleanup panicked")
			e.broadcast(types.Event{
				Message: fmt.Sprintf("Cleanup failed: %v", p),
				Status:  types.StatusError,
			})
			ok = false
		}
	}()
	if err := plugin.Cleanup(); err != nil {
		e.broadcast(types.Event{
			Message: fmt.Sprintf("Cleanup failed: %v", err),
			Status:  types.StatusError,
		})
		return false
	}
	return true
}
