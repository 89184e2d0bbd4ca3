package ramp

import (
	"time"

	"rampq/internal/config"
	"rampq/internal/monitor"
	"rampq/internal/stats"
	"rampq/internal/workflow"
)

// BatchResult is the outcome of one concurrency level. Append-only:
// written by the batch that produced it, read-only afterwards.
type BatchResult struct {
	Concurrency int       `json:"concurrency"`
	Timestamp   time.Time `json:"timestamp"`
	BatchTimeMs int64     `json:"batch_time"`

	TotalTests      int     `json:"total_tests"`
	SuccessfulTests int     `json:"successful_tests"`
	FailedTests     int     `json:"failed_tests"`
	SuccessRate     float64 `json:"success_rate"`
	FailureRate     float64 `json:"failure_rate"`

	// Latency aggregates over the successful subset only; nil when the
	// batch had no successes.
	Metrics *stats.PhaseMetrics `json:"performance_metrics,omitempty"`

	// Per-task outcomes, ordered by task index. Owned by this batch.
	Tasks []workflow.TaskResult `json:"task_time_details"`

	// Identifier acquisitions that failed before a workflow could start.
	AcquireFailures int `json:"acquire_failures,omitempty"`

	ConcurrencyStats monitor.Snapshot `json:"concurrency_stats"`
}

// Summary holds the run-wide counts. Partial failure is never concealed:
// successes and failures are always both reported.
type Summary struct {
	TotalBatches         int     `json:"total_batches"`
	TotalTests           int     `json:"total_tests"`
	TotalSuccessfulTests int     `json:"total_successful_tests"`
	TotalFailedTests     int     `json:"total_failed_tests"`
	MaxConcurrencyTested int     `json:"max_concurrency_tested"`
	AverageSuccessRate   float64 `json:"average_success_rate"`
	AverageFailureRate   float64 `json:"average_failure_rate"`
}

// Report is the top-level aggregate of a ramp run, assembled strictly
// after the last batch finishes or the ramp stops early.
type Report struct {
	Timestamp     time.Time       `json:"timestamp"`
	Strategy      config.Strategy `json:"strategy"`
	OverallTimeMs int64           `json:"overall_time"`
	Batches       []BatchResult   `json:"batches"`
	Summary       Summary         `json:"summary"`

	// Aborted is set when a fatal condition cut the run short; the
	// report then covers only the completed batches.
	Aborted string `json:"aborted,omitempty"`
}

func buildSummary(batches []BatchResult) Summary {
	s := Summary{TotalBatches: len(batches)}
	if len(batches) == 0 {
		return s
	}

	var sumSuccessRate, sumFailureRate float64
	for _, b := range batches {
		s.TotalTests += b.TotalTests
		s.TotalSuccessfulTests += b.SuccessfulTests
		s.TotalFailedTests += b.FailedTests
		if b.Concurrency > s.MaxConcurrencyTested {
			s.MaxConcurrencyTested = b.Concurrency
		}
		sumSuccessRate += b.SuccessRate
		sumFailureRate += b.FailureRate
	}
	s.AverageSuccessRate = sumSuccessRate / float64(len(batches))
	s.AverageFailureRate = sumFailureRate / float64(len(batches))
	return s
}

// Snapshot is sent over the updates channel while a ramp runs.
type Snapshot struct {
	Level       int `json:"level"`
	LevelIndex  int `json:"level_index"`
	TotalLevels int `json:"total_levels"`

	Completed int `json:"completed"`
	Total     int `json:"total"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`

	Active int `json:"active"`
	Peak   int `json:"peak"`

	Done bool `json:"done"`
}

// UpdateChan is the channel type
type UpdateChan chan Snapshot
