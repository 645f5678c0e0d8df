package types

// StatusResponse describes the session for GET /status.
type StatusResponse struct {
	// Session identifier.
	// example: 6f1c1d9e-2f4b-4d55-9a53-9b8f2a0f6f11
	SessionID string `json:"session_id" example:"6f1c1d9e-2f4b-4d55-9a53-9b8f2a0f6f11"`
	// One of unloaded, loading, ready, generating, benchmarking, error.
	// example: ready
	State string `json:"state" example:"ready"`
	// Human readable state including its payload.
	// example: generating(4)
	Detail string `json:"detail,omitempty" example:"generating(4)"`
	// Failure message when State is error.
	Error string `json:"error,omitempty"`
	// Path of the loaded model, if any.
	ModelPath string `json:"model_path,omitempty"`
	// Number of transcript turns.
	// example: 5
	Turns int `json:"turns" example:"5"`
	// Model source currently configured.
	Source string `json:"source,omitempty"`
}

// Event is one line of the GET /events NDJSON stream.
type Event struct {
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields,omitempty"`
}
