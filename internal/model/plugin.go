// Package model defines the plugin contract the engine drives through a
// test sequence, the registry that resolves plugin names, and the reference
// plugins for the supported product models.
package model

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"benchd/internal/instrument"
	"benchd/internal/record"
	"benchd/pkg/types"
)

// Status reports progress to the operator. status is one of the
// types.Status* constants; an empty status means "running". Plugins never
// see the transport behind it.
type Status func(message, status string)

// Deps is everything a plugin receives at construction. ShouldContinue is
// the cooperative cancellation predicate; plugins must poll it between
// steps and inside long waits.
type Deps struct {
	Config         types.TestConfig
	Status         Status
	ShouldContinue func() bool
	Records        record.Store
	Bench          *instrument.Bench
	Log            zerolog.Logger
}

// Plugin is the lifecycle shape: constructed once per run, Setup is called
// once, RunTests once per loadlist item in order, Cleanup once at the end.
// Cleanup must be safe to call even when Setup never completed.
//
// RunTests returns ok=false when any test case in the item failed; a
// non-nil error marks the whole item failed without aborting the run.
// Either way the engine proceeds to the next item.
type Plugin interface {
	Setup() error
	RunTests(item types.LoadlistItem) (ok bool, err error)
	Cleanup() error
}

// Factory constructs a lifecycle plugin for one run.
type Factory func(Deps) (Plugin, error)

// LegacyRunFunc is the legacy single-call shape: it owns the whole
// sequence internally (setup, iteration, cleanup) and returns the overall
// result. It must honor the same cancellation predicate and
// continue-on-failure policy as the lifecycle shape.
type LegacyRunFunc func(cfg types.TestConfig, status Status, shouldContinue func() bool) bool

// Entry is a resolved registration. Exactly one of the two fields is set.
type Entry struct {
	New       Factory
	RunLegacy LegacyRunFunc
}

// Registry maps model names to plugin implementations. Registration is
// explicit at startup; there is no reflective loading, so an unknown name
// is an ordinary lookup miss.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register installs a lifecycle plugin factory under name, replacing any
// previous registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{New: f}
}

// RegisterLegacy installs a legacy single-call plugin under name.
func (r *Registry) RegisterLegacy(name string, f LegacyRunFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{RunLegacy: f}
}

// Lookup resolves a model name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
