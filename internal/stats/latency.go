package stats

import (
	"rampq/internal/workflow"
)

// LatencySummary aggregates one latency phase in milliseconds.
type LatencySummary struct {
	MinMs int64 `json:"min"`
	AvgMs int64 `json:"avg"`
	MaxMs int64 `json:"max"`
	P95Ms int64 `json:"p95"`
	Count int64 `json:"-"`
}

func summarize(h *SafeHistogram) LatencySummary {
	count := h.TotalCount()
	if count == 0 {
		return LatencySummary{}
	}
	return LatencySummary{
		MinMs: h.Min(),
		AvgMs: int64(h.Mean()),
		MaxMs: h.Max(),
		P95Ms: h.ValueAtQuantile(95),
		Count: count,
	}
}

// PhaseMetrics holds per-phase latency aggregates for one batch,
// computed over the successful tasks only.
type PhaseMetrics struct {
	Submit LatencySummary `json:"save"`
	Poll   LatencySummary `json:"poll"`
	Total  LatencySummary `json:"total"`

	AvgAttempts float64 `json:"avg_attempts"`
}

// Collector accumulates task latencies for one batch. Safe for
// concurrent Record calls.
type Collector struct {
	submit *SafeHistogram
	poll   *SafeHistogram
	total  *SafeHistogram

	attempts *SafeHistogram
}

func NewCollector() *Collector {
	return &Collector{
		submit:   NewSafeHistogram(),
		poll:     NewSafeHistogram(),
		total:    NewSafeHistogram(),
		attempts: NewSafeHistogram(),
	}
}

// Record adds one successful task's timings.
func (c *Collector) Record(r workflow.TaskResult) {
	c.submit.RecordValue(clampMs(r.SubmitTimeMs))
	c.poll.RecordValue(clampMs(r.PollTimeMs))
	c.total.RecordValue(clampMs(r.TotalTimeMs))
	c.attempts.RecordValue(int64(r.PollAttempts))
}

// Metrics summarizes everything recorded so far. Returns nil when no
// task was recorded, matching the "no metrics without successes" rule.
func (c *Collector) Metrics() *PhaseMetrics {
	if c.total.TotalCount() == 0 {
		return nil
	}
	return &PhaseMetrics{
		Submit:      summarize(c.submit),
		Poll:        summarize(c.poll),
		Total:       summarize(c.total),
		AvgAttempts: c.attempts.Mean(),
	}
}

// Aggregate is the one-shot form used after a batch barrier.
func Aggregate(successes []workflow.TaskResult) *PhaseMetrics {
	c := NewCollector()
	for _, r := range successes {
		c.Record(r)
	}
	return c.Metrics()
}

// clampMs keeps sub-millisecond timings recordable: the histogram's
// lowest trackable value is 1.
func clampMs(v int64) int64 {
	if v < 1 {
		return 1
	}
	return v
}
