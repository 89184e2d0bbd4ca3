package workflow

import "encoding/json"

// SubmitResult is the outcome of one submission call. Failures are data,
// not errors: callers branch on OK.
type SubmitResult struct {
	OK         bool   `json:"ok"`
	HTTPStatus int    `json:"http_status"`
	LatencyMs  int64  `json:"latency_ms"`
	JobID      string `json:"job_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PollResult is the outcome of a full polling loop for one job.
type PollResult struct {
	Success  bool      `json:"success"`
	Status   JobStatus `json:"job_status"`
	Attempts int       `json:"attempts"`
	TotalMs  int64     `json:"total_ms"`
	JobID    string    `json:"job_id,omitempty"`
	IsFinal  bool      `json:"is_final"`
	Error    string    `json:"error,omitempty"`
}

// DetailResult is the outcome of the optional detail fetch. Data is the
// raw response payload, passed through opaquely to reporting.
type DetailResult struct {
	Success    bool            `json:"success"`
	HTTPStatus int             `json:"http_status"`
	LatencyMs  int64           `json:"latency_ms"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// TaskResult is the immutable per-job outcome a batch collects. Written
// once by the task that produced it, owned by its batch afterwards.
type TaskResult struct {
	Index        int       `json:"index"`
	JobID        string    `json:"job_id,omitempty"`
	SubmitTimeMs int64     `json:"submit_time_ms"`
	PollTimeMs   int64     `json:"poll_time_ms"`
	PollAttempts int       `json:"poll_attempts"`
	TotalTimeMs  int64     `json:"total_time_ms"`
	FinalStatus  JobStatus `json:"final_job_status"`
	IsFinal      bool      `json:"is_final"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// RunOptions parameterizes one full workflow execution.
type RunOptions struct {
	// Identifier to use. Empty means AcquireID is called first.
	ID string

	// Payload for the submission body. Nil means the client's payload
	// source decides.
	Payload map[string]any

	// Index of this task within its batch, fed to the payload template
	// so each task can render a distinct body.
	Index int

	MaxAttempts int
	Interval    int64 // polling interval, milliseconds

	// Observe, when set, receives every status the poll loop parses.
	// Used by the concurrency monitor; must not block.
	Observe func(JobStatus)
}

// RunResult combines the per-step outcomes of one full workflow.
type RunResult struct {
	Success bool          `json:"success"`
	ID      string        `json:"uuid,omitempty"`
	JobID   string        `json:"job_id,omitempty"`
	Submit  *SubmitResult `json:"submit_result,omitempty"`
	Poll    *PollResult   `json:"poll_result,omitempty"`
	Detail  *DetailResult `json:"detail_result,omitempty"`
	TotalMs int64         `json:"total_time_ms"`
	Error   string        `json:"error,omitempty"`
}
