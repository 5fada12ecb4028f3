package types

// NamedRef is an (id, name) pair returned by catalog queries.
type NamedRef struct {
	// Stable numeric identifier.
	// example: 3
	ID int64 `json:"id"`
	// Display name.
	// example: Band1
	Name string `json:"name"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Engine state: idle or running.
	// example: idle
	State string `json:"state"`
	// True while a test sequence is executing.
	TestRunning bool `json:"test_running"`
	// Serial number of the active run, when running.
	SerialNumber string `json:"serial_number,omitempty"`
	// Model plugin of the active run, when running.
	Model string `json:"model,omitempty"`
	// Connected control-panel sessions.
	ConnectedClients int `json:"connected_clients"`
	// Runs accepted since process start.
	RunsTotal uint64 `json:"runs_total"`
	// Runs that finished with every loadlist item passing.
	RunsCompleted uint64 `json:"runs_completed"`
	// Runs stopped by operator request.
	RunsStopped uint64 `json:"runs_stopped"`
	// Runs that finished with failures or aborted on error.
	RunsFailed uint64 `json:"runs_failed"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}

// ModelsResponse wraps the registered plugin names for GET /models.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: catalog not configured
	Error string `json:"error"`
	// HTTP status code.
	// example: 404
	Code int `json:"code"`
}
