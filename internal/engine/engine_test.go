package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"benchd/internal/instrument"
	"benchd/internal/model"
	"benchd/internal/record"
	"benchd/pkg/types"
)

// fakePlugin is a scriptable lifecycle plugin for engine tests.
type fakePlugin struct {
	mu       sync.Mutex
	setupErr error
	runFn    func(item types.LoadlistItem) (bool, error)
	items    []string
	cleanups int
}

func (f *fakePlugin) Setup() error { return f.setupErr }

func (f *fakePlugin) RunTests(item types.LoadlistItem) (bool, error) {
	f.mu.Lock()
	f.items = append(f.items, item.Band)
	f.mu.Unlock()
	if f.runFn != nil {
		return f.runFn(item)
	}
	return true, nil
}

func (f *fakePlugin) Cleanup() error {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
	return nil
}

func (f *fakePlugin) ranBands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.items))
	copy(out, f.items)
	return out
}

func (f *fakePlugin) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

func testConfig() types.TestConfig {
	return types.TestConfig{
		SerialNumber: "SN-42",
		Model:        "Fake",
		Stage:        "Final",
		Loadlist: []types.LoadlistItem{
			{Temperature: "25C", Band: "Band1", TestCases: []string{"Spur"}},
			{Temperature: "75C", Band: "Band2", TestCases: []string{"Spur"}},
			{Temperature: "-10C", Band: "Band3", TestCases: []string{"Spur"}},
		},
	}
}

func newTestEngine(t *testing.T, plugin *fakePlugin) (*Engine, *MemorySink) {
	t.Helper()
	reg := model.NewRegistry()
	if plugin != nil {
		reg.Register("Fake", func(model.Deps) (model.Plugin, error) { return plugin, nil })
	}
	eng := New(Config{
		Registry: reg,
		Records:  record.NewMemoryStore(),
		Bench:    instrument.NewBench(zerolog.Nop()),
		Log:      zerolog.Nop(),
	})
	sink := NewMemorySink()
	eng.SetSink(sink)
	return eng, sink
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !e.Running() {
			// Give the worker a beat to finish its terminal broadcast.
			time.Sleep(20 * time.Millisecond)
			if !e.Running() {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine did not return to idle")
}

func eventWith(events []types.Event, substr, status string) bool {
	for _, ev := range events {
		if strings.Contains(ev.Message, substr) && (status == "" || ev.Status == status) {
			return true
		}
	}
	return false
}

func TestRunCompletesSuccessfully(t *testing.T) {
	plugin := &fakePlugin{}
	eng, sink := newTestEngine(t, plugin)

	if err := eng.BeginRun(testConfig()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	waitIdle(t, eng)

	events := sink.Events()
	if len(events) == 0 {
		t.Fatal("no events broadcast")
	}
	if !strings.Contains(events[0].Message, "Starting test for SN: SN-42") {
		t.Fatalf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Status != types.StatusCompleted || !strings.Contains(last.Message, "completed successfully") {
		t.Fatalf("terminal event = %+v", last)
	}
	if got := plugin.ranBands(); len(got) != 3 || got[0] != "Band1" || got[2] != "Band3" {
		t.Fatalf("items ran out of order: %v", got)
	}
	if plugin.cleanupCount() != 1 {
		t.Fatalf("cleanup ran %d times", plugin.cleanupCount())
	}
	snap := eng.Snapshot()
	if snap.RunsTotal != 1 || snap.RunsCompleted != 1 || snap.TestRunning {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRunContinuesPastFailedItem(t *testing.T) {
	plugin := &fakePlugin{
		runFn: func(item types.LoadlistItem) (bool, error) {
			if item.Band == "Band2" {
				return false, errors.New("chamber fault")
			}
			return true, nil
		},
	}
	eng, sink := newTestEngine(t, plugin)

	if err := eng.BeginRun(testConfig()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	waitIdle(t, eng)

	if got := plugin.ranBands(); len(got) != 3 {
		t.Fatalf("all items must run despite the failure, got %v", got)
	}
	events := sink.Events()
	if !eventWith(events, "Failed item: Temp=75C, Band=Band2", types.StatusError) {
		t.Fatalf("missing failed-item event in %+v", events)
	}
	last := events[len(events)-1]
	if last.Status != types.StatusError || !strings.Contains(last.Message, "finished with errors") {
		t.Fatalf("terminal event = %+v", last)
	}
	if snap := eng.Snapshot(); snap.RunsFailed != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStopMidRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	plugin := &fakePlugin{
		runFn: func(types.LoadlistItem) (bool, error) {
			once.Do(func() { close(started) })
			<-release
			return false, nil
		},
	}
	eng, sink := newTestEngine(t, plugin)

	if err := eng.BeginRun(testConfig()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	<-started
	if !eng.RequestStop() {
		t.Fatal("RequestStop while running must return true")
	}
	close(release)
	waitIdle(t, eng)

	events := sink.Events()
	if !eventWith(events, "Test stopped by user request", types.StatusStopped) {
		t.Fatalf("missing stop event in %+v", events)
	}
	for _, ev := range events {
		if ev.Status == types.StatusCompleted {
			t.Fatalf("no terminal completion after stop: %+v", ev)
		}
		if strings.Contains(ev.Message, "finished with errors") {
			t.Fatalf("no terminal error after stop: %+v", ev)
		}
	}
	if got := plugin.ranBands(); len(got) != 1 {
		t.Fatalf("stop must end iteration, ran %v", got)
	}
	if plugin.cleanupCount() != 1 {
		t.Fatal("cleanup must still run after stop")
	}
	if snap := eng.Snapshot(); snap.RunsStopped != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestBeginRunWhileRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	plugin := &fakePlugin{
		runFn: func(types.LoadlistItem) (bool, error) {
			once.Do(func() { close(started) })
			<-release
			return true, nil
		},
	}
	eng, _ := newTestEngine(t, plugin)

	if err := eng.BeginRun(testConfig()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	<-started
	if err := eng.BeginRun(testConfig()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second BeginRun: %v", err)
	}
	close(release)
	waitIdle(t, eng)
}

func TestRequestStopWhenIdle(t *testing.T) {
	eng, sink := newTestEngine(t, &fakePlugin{})
	if eng.RequestStop() {
		t.Fatal("RequestStop on idle engine must return false")
	}
	if len(sink.Events()) != 0 {
		t.Fatal("idle stop must not broadcast")
	}
}

func TestBeginRunUnknownModel(t *testing.T) {
	eng, sink := newTestEngine(t, nil)
	cfg := testConfig()
	cfg.Model = "ModelZ"

	if err := eng.BeginRun(cfg); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("BeginRun: %v", err)
	}
	if eng.Running() {
		t.Fatal("engine must be idle after rejected run")
	}
	if !eventWith(sink.Events(), "no plugin registered for model: ModelZ", types.StatusError) {
		t.Fatalf("missing error event in %+v", sink.Events())
	}
	// A rejected run must not block the next one.
	if err := eng.BeginRun(cfg); errors.Is(err, ErrAlreadyRunning) {
		t.Fatal("rejected run left the engine running")
	}
}

func TestSetupFailureAbortsRun(t *testing.T) {
	plugin := &fakePlugin{setupErr: errors.New("no chamber")}
	eng, sink := newTestEngine(t, plugin)

	if err := eng.BeginRun(testConfig()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	waitIdle(t, eng)

	events := sink.Events()
	if !eventWith(events, "Setup failed for Fake: no chamber", types.StatusError) {
		t.Fatalf("missing setup failure event in %+v", events)
	}
	if eventWith(events, "finished with errors", "") {
		t.Fatal("aborted run must not emit a second terminal error")
	}
	if got := plugin.ranBands(); len(got) != 0 {
		t.Fatalf("no items may run after setup failure: %v", got)
	}
	if plugin.cleanupCount() != 1 {
		t.Fatal("cleanup must run after setup failure")
	}
	if snap := eng.Snapshot(); snap.RunsFailed != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestItemPanicFailsItemOnly(t *testing.T) {
	plugin := &fakePlugin{
		runFn: func(item types.LoadlistItem) (bool, error) {
			if item.Band == "Band1" {
				panic("driver crashed")
			}
			return true, nil
		},
	}
	eng, sink := newTestEngine(t, plugin)

	if err := eng.BeginRun(testConfig()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	waitIdle(t, eng)

	if got := plugin.ranBands(); len(got) != 3 {
		t.Fatalf("panic must not end the run, got %v", got)
	}
	events := sink.Events()
	if !eventWith(events, "driver crashed", types.StatusError) {
		t.Fatalf("missing panic event in %+v", events)
	}
	last := events[len(events)-1]
	if last.Status != types.StatusError || !strings.Contains(last.Message, "finished with errors") {
		t.Fatalf("terminal event = %+v", last)
	}
}

func TestLegacyRunCompletes(t *testing.T) {
	reg := model.NewRegistry()
	reg.RegisterLegacy("Fake", func(cfg types.TestConfig, status model.Status, cont func() bool) bool {
		for i, item := range cfg.Loadlist {
			if !cont() {
				return false
			}
			status(fmt.Sprintf("item %d: %s", i+1, item.Band), types.StatusRunning)
		}
		return true
	})
	eng := New(Config{
		Registry: reg,
		Records:  record.NewMemoryStore(),
		Bench:    instrument.NewBench(zerolog.Nop()),
		Log:      zerolog.Nop(),
	})
	sink := NewMemorySink()
	eng.SetSink(sink)

	if err := eng.BeginRun(testConfig()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	waitIdle(t, eng)

	events := sink.Events()
	last := events[len(events)-1]
	if last.Status != types.StatusCompleted {
		t.Fatalf("terminal event = %+v", last)
	}
	if !eventWith(events, "item 3: Band3", types.StatusRunning) {
		t.Fatalf("legacy status not relayed: %+v", events)
	}
}

func TestStatusLine(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	plugin := &fakePlugin{
		runFn: func(types.LoadlistItem) (bool, error) {
			once.Do(func() { close(started) })
			<-release
			return true, nil
		},
	}
	eng, _ := newTestEngine(t, plugin)

	if got := eng.StatusLine(); got != "Server status: Idle" {
		t.Fatalf("idle status line = %q", got)
	}
	if err := eng.BeginRun(testConfig()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	<-started
	if got := eng.StatusLine(); got != "Server status: Running | Current test: SN-42" {
		t.Fatalf("running status line = %q", got)
	}
	close(release)
	waitIdle(t, eng)
}
