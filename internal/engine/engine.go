// Package engine owns the test-run state machine: one run at a time,
// started by a control command, driven through the model plugin lifecycle
// by a worker goroutine, and stoppable at any point through a cooperative
// cancellation flag the plugins poll.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"benchd/internal/instrument"
	"benchd/internal/model"
	"benchd/internal/record"
	"benchd/pkg/types"
)

// ErrAlreadyRunning is returned by BeginRun while a test is in progress.
var ErrAlreadyRunning = errors.New("a test is already running")

// ErrModelNotFound is returned by BeginRun when no plugin is registered
// for the requested model.
var ErrModelNotFound = errors.New("no plugin registered for model")

// Config carries the engine's collaborators.
type Config struct {
	Registry *model.Registry
	Records  record.Store
	Bench    *instrument.Bench
	Log      zerolog.Logger
}

// Engine executes test runs. All mutation of the current-run state happens
// under mu; the running flag is additionally an atomic so plugins can poll
// it without locking.
type Engine struct {
	mu      sync.Mutex
	running atomic.Bool
	current *types.TestConfig

	registry *model.Registry
	records  record.Store
	bench    *instrument.Bench
	sink     EventSink
	log      zerolog.Logger

	startedAt time.Time

	statsTotal     atomic.Uint64
	statsCompleted atomic.Uint64
	statsStopped   atomic.Uint64
	statsFailed    atomic.Uint64
}

// New returns an idle engine. Events go nowhere until SetSink is called.
func New(cfg Config) *Engine {
	return &Engine{
		registry:  cfg.Registry,
		records:   cfg.Records,
		bench:     cfg.Bench,
		sink:      noopSink{},
		log:       cfg.Log.With().Str("component", "engine").Logger(),
		startedAt: time.Now(),
	}
}

// SetSink attaches the event sink. Call before the first run.
func (e *Engine) SetSink(s EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

// Running reports whether a test is currently executing.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// ShouldContinue is the cancellation predicate handed to plugins: true
// until the run is stopped.
func (e *Engine) ShouldContinue() bool {
	return e.running.Load()
}

// BeginRun validates the model, flips the engine to running and launches
// the worker goroutine. The config must already have passed field
// validation.
func (e *Engine) BeginRun(cfg types.TestConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.current = &cfg

	e.broadcast(types.Event{
		Message: fmt.Sprintf("Starting test for SN: %s", cfg.SerialNumber),
		Status:  types.StatusRunning,
	})

	entry, ok := e.registry.Lookup(cfg.Model)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrModelNotFound, cfg.Model)
		e.broadcast(types.Event{Message: err.Error(), Status: types.StatusError})
		e.resetLocked()
		return err
	}

	var plugin model.Plugin
	if entry.New != nil {
		p, err := entry.New(model.Deps{
			Config:         cfg,
			Status:         e.pluginStatus,
			ShouldContinue: e.ShouldContinue,
			Records:        e.records,
			Bench:          e.bench,
			Log:            e.log,
		})
		if err != nil {
			err = fmt.Errorf("initializing plugin for %s: %w", cfg.Model, err)
			e.broadcast(types.Event{Message: err.Error(), Status: types.StatusError})
			e.resetLocked()
			return err
		}
		plugin = p
	}

	e.statsTotal.Add(1)
	runsStarted.Inc()
	testRunning.Set(1)
	e.log.Info().Str("serial_number", cfg.SerialNumber).Str("model", cfg.Model).Msg("run started")

	go e.run(entry, plugin, cfg)
	return nil
}

// RequestStop flips the running flag off and announces the stop. It
// returns false when no test was running. The worker goroutine observes
// the flag at its next checkpoint and winds the run down.
func (e *Engine) RequestStop() bool {
	if !e.running.CompareAndSwap(true, false) {
		return false
	}
	e.log.Info().Msg("stop requested")
	e.broadcast(types.Event{Message: "Test stopped by user request", Status: types.StatusStopped})
	return true
}

// StatusLine renders the one-line status reply for the control socket.
func (e *Engine) StatusLine() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.running.Load() {
		return fmt.Sprintf("Server status: Running | Current test: %s", e.current.SerialNumber)
	}
	return "Server status: Idle"
}

// Snapshot reports the engine state for the HTTP status endpoint. The
// caller fills in ConnectedClients.
func (e *Engine) Snapshot() types.StatusResponse {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp := types.StatusResponse{
		State:          types.StatusIdle,
		RunsTotal:      e.statsTotal.Load(),
		RunsCompleted:  e.statsCompleted.Load(),
		RunsStopped:    e.statsStopped.Load(),
		RunsFailed:     e.statsFailed.Load(),
		UptimeSeconds:  int64(time.Since(e.startedAt).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if e.current != nil && e.running.Load() {
		resp.State = types.StatusRunning
		resp.TestRunning = true
		resp.SerialNumber = e.current.SerialNumber
		resp.Model = e.current.Model
	}
	return resp
}

// pluginStatus is the Status callback plugins report through. Messages
// arriving after a stop are dropped so a winding-down plugin cannot talk
// over the stop announcement.
func (e *Engine) pluginStatus(message, status string) {
	if !e.running.Load() {
		return
	}
	if status == "" {
		status = types.StatusRunning
	}
	e.broadcast(types.Event{Message: message, Status: status})
}

func (e *Engine) broadcast(ev types.Event) {
	eventsBroadcast.WithLabelValues(ev.Status).Inc()
	e.log.Debug().Str("status", ev.Status).Str("message", ev.Message).Msg("event")
	e.sink.Broadcast(ev)
}

// resetLocked returns the engine to idle. Callers hold mu.
func (e *Engine) resetLocked() {
	e.running.Store(false)
	e.current = nil
	testRunning.Set(0)
}
