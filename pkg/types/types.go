// Package types holds the wire types shared between the engine and the
// HTTP control-plane API consumed by the desktop UI.
package types

// GenerateRequest is the payload for POST /generate.
type GenerateRequest struct {
	// Prompt is the rendered user message. Required.
	Prompt string `json:"prompt"`
	// Stream requests incremental NDJSON token lines. When false the
	// response carries a single final line.
	Stream bool `json:"stream,omitempty"`
	// UseContext includes the session conversation buffer in the prompt
	// sent to the model. Defaults to true on the engine side unless the
	// buffer is disabled by configuration.
	UseContext *bool `json:"use_context,omitempty"`
}

// IterateRequest is the payload for POST /iterate (A/B test runs).
type IterateRequest struct {
	Prompt     string `json:"prompt"`
	Iterations int    `json:"iterations"`
}

// CompareRequest is the payload for POST /compare (multi-model comparison).
type CompareRequest struct {
	Prompt     string   `json:"prompt"`
	ModelPaths []string `json:"model_paths"`
}

// StartRequest is the payload for POST /server/start.
type StartRequest struct {
	// ModelPath overrides the configured model for this start. Optional.
	ModelPath string `json:"model_path,omitempty"`
}

// Terminal outcomes of a generation.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// GenerationResult is the terminal payload of one generation.
type GenerationResult struct {
	Output          string  `json:"output"`
	LatencySeconds  float64 `json:"latency_seconds"`
	OutputTokensEst int     `json:"output_tokens_est"`
	// Outcome is one of "completed", "failed", "cancelled".
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// IterationResult is one entry of an A/B test run, index-stable.
type IterationResult struct {
	Iteration int `json:"iteration"`
	GenerationResult
	PromptTokensEst int `json:"prompt_tokens_est"`
}

// CompareResult is one entry of a multi-model comparison run.
type CompareResult struct {
	ModelName string `json:"model_name"`
	ModelPath string `json:"model_path"`
	GenerationResult
	PromptTokensEst int `json:"prompt_tokens_est"`
}

// ProgressEvent is emitted after each completed iteration.
type ProgressEvent struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ModelInfo describes a model file discovered under the models directory.
type ModelInfo struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	SizeGB float64 `json:"size_gb"`
}

// ModelsResponse wraps the list returned by GET /models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// ServerState is the inference-server lifecycle state
	// (not_started, starting, healthy, degraded, stopped, crashed).
	ServerState string `json:"server_state"`
	ModelPath   string `json:"model_path,omitempty"`
	ModelName   string `json:"model_name,omitempty"`
	Port        int    `json:"port,omitempty"`
	PID         int    `json:"pid,omitempty"`
	// TurnCount is the number of completed conversation pairs in the buffer.
	TurnCount int `json:"turn_count"`
	// QueueLen and Inflight describe generation admission.
	QueueLen      int    `json:"queue_len"`
	Inflight      int    `json:"inflight"`
	MaxQueueDepth int    `json:"max_queue_depth"`
	LastError     string `json:"last_error,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
