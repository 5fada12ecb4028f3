package types

// Command names accepted over the control socket.
const (
	CommandStart  = "start"
	CommandStop   = "stop"
	CommandStatus = "status"
)

// Event status values. These are wire-visible strings shared with the
// control-panel client; StatusFailed keeps the client's historical
// capitalization.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusError     = "error"
	StatusFailed    = "Failed"
)

// Command is one inbound control message. TestConfig is only present for
// "start".
type Command struct {
	// Command verb: start, stop or status.
	// example: start
	Command string `json:"command"`
	// Test configuration; required for start, ignored otherwise.
	TestConfig *TestConfig `json:"test_config,omitempty"`
}

// Event is one outbound notification. Events are broadcast to every
// connected session except for validation/status replies, which go to the
// sender only.
type Event struct {
	// Human-readable progress or result text.
	// example: Starting test for SN: SN1
	Message string `json:"message"`
	// One of the Status* constants.
	// example: running
	Status string `json:"status"`
}
