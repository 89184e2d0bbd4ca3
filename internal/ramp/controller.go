package ramp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"rampq/internal/config"
	"rampq/internal/monitor"
	"rampq/internal/stats"
	"rampq/internal/workflow"
)

// ErrNoIdentifiers means a batch could not acquire a single identifier.
// Fatal for the whole ramp: there is nothing left to test.
var ErrNoIdentifiers = errors.New("no identifiers acquired")

// Controller walks successive batches at increasing concurrency levels
// until the remote service stops meeting its success/failure contract.
// Batches run strictly sequentially; tasks within a batch run in
// parallel and share one concurrency monitor.
type Controller struct {
	client   *workflow.Client
	strategy config.Strategy
	mon      *monitor.Monitor
	log      logrus.FieldLogger

	// Updates receives live snapshots; sends never block.
	Updates UpdateChan

	// Per-batch progress counters, reset at batch start.
	completed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewController wires a controller. A nil monitor gets one from the
// strategy's alert threshold, a nil updates channel is replaced to
// avoid nil sends, a nil logger discards logs.
func NewController(client *workflow.Client, strategy config.Strategy, mon *monitor.Monitor, log logrus.FieldLogger, updates UpdateChan) *Controller {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if mon == nil {
		mon = monitor.New(strategy.AlertThreshold, log)
	}
	if updates == nil {
		updates = make(UpdateChan, 10)
	}
	return &Controller{
		client:   client,
		strategy: strategy,
		mon:      mon,
		log:      log,
		Updates:  updates,
	}
}

// Monitor exposes the shared concurrency monitor.
func (c *Controller) Monitor() *monitor.Monitor { return c.mon }

// Run executes the full ramp. The returned report is never nil: a fatal
// mid-run condition yields a partial report covering the completed
// batches alongside the error. Cancellation is honored between batches
// only; an in-flight batch always finishes its barrier.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	overall := time.Now()
	levels := c.strategy.Levels()

	report := &Report{
		Timestamp: overall,
		Strategy:  c.strategy,
	}

	c.log.WithFields(logrus.Fields{
		"strategy": c.strategy.Name,
		"levels":   levels,
	}).Info("ramp started")

	var runErr error

	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		batch, err := c.runBatch(ctx, i, len(levels), level)
		if err != nil {
			runErr = fmt.Errorf("batch at concurrency %d: %w", level, err)
			break
		}

		report.Batches = append(report.Batches, *batch)

		if stop, reason := c.shouldStop(batch); stop {
			c.log.WithField("concurrency", level).Warn(reason)
			break
		}

		// Let the remote queue drain before the next level.
		if i < len(levels)-1 {
			select {
			case <-time.After(c.strategy.BatchDelay()):
			case <-ctx.Done():
			}
		}
	}

	report.OverallTimeMs = time.Since(overall).Milliseconds()
	report.Summary = buildSummary(report.Batches)
	if runErr != nil {
		report.Aborted = runErr.Error()
	}

	c.sendFinal(Snapshot{
		TotalLevels: len(levels),
		Done:        true,
	})

	c.log.WithFields(logrus.Fields{
		"batches":   report.Summary.TotalBatches,
		"tests":     report.Summary.TotalTests,
		"successes": report.Summary.TotalSuccessfulTests,
		"failures":  report.Summary.TotalFailedTests,
		"ms":        report.OverallTimeMs,
	}).Info("ramp finished")

	return report, runErr
}

// shouldStop applies the stopping rule after a batch barrier.
func (c *Controller) shouldStop(b *BatchResult) (bool, string) {
	if b.SuccessRate < c.strategy.SuccessRateThreshold {
		return true, fmt.Sprintf("success rate %.1f%% below threshold %.1f%%, stopping ramp",
			b.SuccessRate*100, c.strategy.SuccessRateThreshold*100)
	}
	if b.FailureRate > c.strategy.MaxFailureRate {
		return true, fmt.Sprintf("failure rate %.1f%% above threshold %.1f%%, stopping ramp",
			b.FailureRate*100, c.strategy.MaxFailureRate*100)
	}
	return false, ""
}

// runBatch runs one concurrency level to its barrier.
func (c *Controller) runBatch(ctx context.Context, levelIdx, totalLevels, concurrency int) (*BatchResult, error) {
	c.mon.Reset()
	c.completed.Store(0)
	c.succeeded.Store(0)
	c.failed.Store(0)

	batchStart := time.Now()
	log := c.log.WithField("concurrency", concurrency)
	log.Info("batch started")

	// The batch must finish even if the run is cancelled mid-flight,
	// so tasks get a detached context.
	taskCtx := context.WithoutCancel(ctx)

	// 1. Acquire identifiers in parallel.
	ids, acquireFailures := c.acquireIdentifiers(taskCtx, concurrency)
	log.WithFields(logrus.Fields{
		"ok":     len(ids),
		"failed": acquireFailures,
	}).Info("identifiers acquired")

	if len(ids) == 0 {
		return nil, ErrNoIdentifiers
	}

	// 2. One workflow per identifier, barrier on all of them.
	results := make([]workflow.TaskResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(index int, id string) {
			defer wg.Done()
			res := c.runTask(taskCtx, index, id)
			results[index] = res

			c.completed.Add(1)
			if res.Success {
				c.succeeded.Add(1)
			} else {
				c.failed.Add(1)
			}
			snap := c.mon.Snapshot()
			c.send(Snapshot{
				Level:       concurrency,
				LevelIndex:  levelIdx,
				TotalLevels: totalLevels,
				Completed:   int(c.completed.Load()),
				Total:       len(ids),
				Successes:   int(c.succeeded.Load()),
				Failures:    int(c.failed.Load()),
				Active:      snap.Active,
				Peak:        snap.Peak,
			})
		}(i, id)
	}
	wg.Wait()

	// 3. Classify and aggregate. Metrics cover the successful subset.
	var successes []workflow.TaskResult
	failures := 0
	for _, r := range results {
		if r.Success {
			successes = append(successes, r)
		} else {
			failures++
		}
	}

	total := len(results)
	batch := &BatchResult{
		Concurrency:      concurrency,
		Timestamp:        batchStart,
		BatchTimeMs:      time.Since(batchStart).Milliseconds(),
		TotalTests:       total,
		SuccessfulTests:  len(successes),
		FailedTests:      failures,
		SuccessRate:      float64(len(successes)) / float64(total),
		FailureRate:      float64(failures) / float64(total),
		Metrics:          stats.Aggregate(successes),
		Tasks:            results,
		AcquireFailures:  acquireFailures,
		ConcurrencyStats: c.mon.Snapshot(),
	}

	log.WithFields(logrus.Fields{
		"success_rate": fmt.Sprintf("%.2f", batch.SuccessRate),
		"failure_rate": fmt.Sprintf("%.2f", batch.FailureRate),
		"peak":         batch.ConcurrencyStats.Peak,
		"ms":           batch.BatchTimeMs,
	}).Info("batch finished")

	return batch, nil
}

// acquireIdentifiers fans out n acquisition calls and partitions the
// outcomes. Failures are counted, not fatal; zero successes is the
// caller's fatal condition.
func (c *Controller) acquireIdentifiers(ctx context.Context, n int) ([]string, int) {
	type acquired struct {
		id  string
		err error
	}

	out := make([]acquired, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.client.AcquireID(ctx)
			out[i] = acquired{id: id, err: err}
		}(i)
	}
	wg.Wait()

	var ids []string
	failed := 0
	for _, a := range out {
		if a.err != nil {
			failed++
			c.log.Warnf("acquire failed: %v", a.err)
			continue
		}
		ids = append(ids, a.id)
	}
	return ids, failed
}

// runTask executes one full workflow and converts its outcome to a
// TaskResult. A panic inside the workflow becomes a failed result; it
// never crosses the fan-out boundary.
func (c *Controller) runTask(ctx context.Context, index int, id string) (res workflow.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			c.mon.TaskCompleted(index)
			res = workflow.TaskResult{
				Index:       index,
				FinalStatus: workflow.StatusError,
				IsFinal:     true,
				Error:       fmt.Sprintf("workflow panic: %v", r),
			}
		}
	}()

	c.mon.TaskStarted(index)

	out := c.client.Run(ctx, workflow.RunOptions{
		ID:          id,
		Index:       index,
		MaxAttempts: c.strategy.MaxPollingAttempts,
		Interval:    int64(c.strategy.PollingIntervalMs),
		Observe: func(s workflow.JobStatus) {
			c.mon.UpdateStatus(index, s)
		},
	})

	c.mon.TaskCompleted(index)
	return toTaskResult(index, out)
}

// toTaskResult flattens a workflow outcome into the batch-owned record.
func toTaskResult(index int, out workflow.RunResult) workflow.TaskResult {
	res := workflow.TaskResult{
		Index:   index,
		JobID:   out.JobID,
		Success: out.Success,
		IsFinal: true,
		Error:   out.Error,
	}

	if out.Submit != nil {
		res.SubmitTimeMs = out.Submit.LatencyMs
	}

	if out.Submit != nil && !out.Submit.OK {
		// Submission failed: the poll loop never ran.
		res.FinalStatus = workflow.StatusSaveFailed
		res.TotalTimeMs = res.SubmitTimeMs
		return res
	}

	if out.Poll != nil {
		res.PollTimeMs = out.Poll.TotalMs
		res.PollAttempts = out.Poll.Attempts
		res.FinalStatus = out.Poll.Status
		res.IsFinal = out.Poll.IsFinal
	} else {
		res.FinalStatus = workflow.StatusUnknown
	}

	res.TotalTimeMs = res.SubmitTimeMs + res.PollTimeMs
	return res
}

// send pushes a snapshot without ever blocking a worker.
func (c *Controller) send(s Snapshot) {
	select {
	case c.Updates <- s:
	default:
		// Drop update if channel full, consumer acts as backpressure
	}
}

// sendFinal delivers the terminal snapshot even if the consumer has a
// backlog. Consumers wait for Done, so it must not be dropped. All
// batches have finished here, the controller is the only producer, and
// evicting one stale snapshot always makes room on a buffered channel.
func (c *Controller) sendFinal(s Snapshot) {
	select {
	case c.Updates <- s:
		return
	default:
	}

	select {
	case <-c.Updates:
	default:
	}

	select {
	case c.Updates <- s:
	default:
	}
}
