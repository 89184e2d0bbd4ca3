package ramp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rampq/internal/config"
	"rampq/internal/workflow"
)

// rampAPI scripts a job service: the Nth submission overall can be made
// to fail, and every job reports EXECUTING once before its verdict.
type rampAPI struct {
	saves atomic.Int64

	mu       sync.Mutex
	verdicts map[string]string // taskId -> SUCCESS / FAILED
	attempts map[string]int

	failSave func(seq int64) bool
	failJob  func(seq int64) bool
}

func newRampAPI() *rampAPI {
	return &rampAPI{
		verdicts: make(map[string]string),
		attempts: make(map[string]int),
		failSave: func(int64) bool { return false },
		failJob:  func(int64) bool { return false },
	}
}

func (a *rampAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/uuid", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"result": uuid.New().String()})
	})
	mux.HandleFunc("/api/brief/save", func(w http.ResponseWriter, r *http.Request) {
		seq := a.saves.Add(1)
		if a.failSave(seq) {
			http.Error(w, "rejected", http.StatusInternalServerError)
			return
		}

		var body struct {
			BasicInfo struct {
				TaskID string `json:"taskId"`
			} `json:"basicInfo"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		verdict := "SUCCESS"
		if a.failJob(seq) {
			verdict = "FAILED"
		}
		a.mu.Lock()
		a.verdicts[body.BasicInfo.TaskID] = verdict
		a.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]string{"result": "job-" + body.BasicInfo.TaskID[:8]})
	})
	mux.HandleFunc("/api/brief/query/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/brief/query/")

		a.mu.Lock()
		a.attempts[id]++
		status := "EXECUTING"
		if a.attempts[id] > 1 {
			status = a.verdicts[id]
		}
		a.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"jobStatus": status, "jobId": "job-" + id[:8]},
		})
	})
	return mux
}

func testStrategy() config.Strategy {
	return config.Strategy{
		Name:                 "test",
		StartConcurrency:     2,
		MaxConcurrency:       6,
		StepSize:             2,
		BatchDelayMs:         0,
		SuccessRateThreshold: 0.8,
		MaxFailureRate:       0.5,
		MaxPollingAttempts:   20,
		PollingIntervalMs:    1,
	}
}

func newTestController(t *testing.T, srv *httptest.Server, strategy config.Strategy) *Controller {
	t.Helper()
	client := workflow.NewClient(config.Endpoints{
		UUIDURL:           srv.URL + "/api/uuid",
		SubmitURL:         srv.URL + "/api/brief/save",
		StatusURLTemplate: srv.URL + "/api/brief/query/{job_id}",
		TimeoutSec:        5,
	}, nil, nil)
	return NewController(client, strategy, nil, nil, make(UpdateChan, 256))
}

func TestRampCompletesAllLevels(t *testing.T) {
	api := newRampAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	ctrl := newTestController(t, srv, testStrategy())
	report, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	require.Len(t, report.Batches, 3)
	assert.Equal(t, []int{2, 4, 6},
		[]int{report.Batches[0].Concurrency, report.Batches[1].Concurrency, report.Batches[2].Concurrency})

	s := report.Summary
	assert.Equal(t, 3, s.TotalBatches)
	assert.Equal(t, 12, s.TotalTests)
	assert.Equal(t, 12, s.TotalSuccessfulTests)
	assert.Equal(t, 0, s.TotalFailedTests)
	assert.Equal(t, 6, s.MaxConcurrencyTested)
	assert.InDelta(t, 1.0, s.AverageSuccessRate, 1e-9)
	assert.Empty(t, report.Aborted)

	for _, b := range report.Batches {
		assert.Equal(t, b.TotalTests, b.SuccessfulTests+b.FailedTests)
		require.NotNil(t, b.Metrics)
		assert.InDelta(t, 2.0, b.Metrics.AvgAttempts, 1e-9, "every job polls EXECUTING once then its verdict")
		assert.GreaterOrEqual(t, b.ConcurrencyStats.Peak, 1, "EXECUTING observations drive the monitor")
	}
}

func TestRampStopsWhenSuccessRateDrops(t *testing.T) {
	api := newRampAPI()
	// Batch 1 is saves 1-2, batch 2 is saves 3-6. Failing saves 4 and 6
	// drops batch 2 to 50% success, below the 80% threshold.
	api.failJob = func(seq int64) bool { return seq > 2 && seq%2 == 0 }
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	ctrl := newTestController(t, srv, testStrategy())
	report, err := ctrl.Run(context.Background())
	require.NoError(t, err, "a stopped ramp is a finding, not an error")
	require.NotNil(t, report)

	require.Len(t, report.Batches, 2, "level 6 never runs")

	s := report.Summary
	assert.Equal(t, 6, s.TotalTests)
	assert.Equal(t, 4, s.TotalSuccessfulTests)
	assert.Equal(t, 2, s.TotalFailedTests)
	assert.Equal(t, 4, s.MaxConcurrencyTested)
	assert.InDelta(t, 0.75, s.AverageSuccessRate, 1e-9)
	assert.InDelta(t, 0.25, s.AverageFailureRate, 1e-9)
	assert.Empty(t, report.Aborted)

	// The failed tasks carry their terminal status.
	failed := 0
	for _, task := range report.Batches[1].Tasks {
		if !task.Success {
			failed++
			assert.Equal(t, workflow.StatusFailed, task.FinalStatus)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestRampCountsSaveFailures(t *testing.T) {
	api := newRampAPI()
	api.failSave = func(seq int64) bool { return seq == 1 }
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	strategy := testStrategy()
	strategy.MaxConcurrency = 2 // single batch
	strategy.SuccessRateThreshold = 0.0

	ctrl := newTestController(t, srv, strategy)
	report, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Batches, 1)
	b := report.Batches[0]
	assert.Equal(t, 2, b.TotalTests)
	assert.Equal(t, 1, b.FailedTests)

	var saveFailed *workflow.TaskResult
	for i := range b.Tasks {
		if b.Tasks[i].FinalStatus == workflow.StatusSaveFailed {
			saveFailed = &b.Tasks[i]
		}
	}
	require.NotNil(t, saveFailed, "a rejected submission is marked SAVE_FAILED")
	assert.Zero(t, saveFailed.PollAttempts, "no polling after a failed save")
	assert.Equal(t, saveFailed.SubmitTimeMs, saveFailed.TotalTimeMs)
}

func TestRampAbortsWithoutIdentifiers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctrl := newTestController(t, srv, testStrategy())
	report, err := ctrl.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoIdentifiers)
	require.NotNil(t, report, "the partial report survives a fatal abort")
	assert.Empty(t, report.Batches)
	assert.Contains(t, report.Aborted, "no identifiers")
}

func TestRampHonorsCancellationBetweenBatches(t *testing.T) {
	api := newRampAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := newTestController(t, srv, testStrategy())
	report, err := ctrl.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Batches)
	assert.NotEmpty(t, report.Aborted)
}

func TestRampEmitsSnapshots(t *testing.T) {
	api := newRampAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	strategy := testStrategy()
	strategy.MaxConcurrency = 2

	ctrl := newTestController(t, srv, strategy)
	_, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	var snaps []Snapshot
drain:
	for {
		select {
		case s := <-ctrl.Updates:
			snaps = append(snaps, s)
		default:
			break drain
		}
	}

	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.True(t, last.Done, "the final snapshot is the completion signal")

	for _, s := range snaps[:len(snaps)-1] {
		assert.Equal(t, 2, s.Total)
		assert.LessOrEqual(t, s.Completed, s.Total)
		assert.Equal(t, s.Completed, s.Successes+s.Failures)
	}
}

func TestRampDeliversDoneOnBackloggedChannel(t *testing.T) {
	api := newRampAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	client := workflow.NewClient(config.Endpoints{
		UUIDURL:           srv.URL + "/api/uuid",
		SubmitURL:         srv.URL + "/api/brief/save",
		StatusURLTemplate: srv.URL + "/api/brief/query/{job_id}",
		TimeoutSec:        5,
	}, nil, nil)

	strategy := testStrategy()
	strategy.MaxConcurrency = 2

	// Nobody reads during the run, so the single slot is occupied by a
	// stale progress snapshot when the ramp finishes. The completion
	// signal must still come through.
	ctrl := NewController(client, strategy, nil, nil, make(UpdateChan, 1))
	_, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	sawDone := false
drain:
	for {
		select {
		case s := <-ctrl.Updates:
			if s.Done {
				sawDone = true
			}
		default:
			break drain
		}
	}
	require.True(t, sawDone, "completion snapshot must survive a full updates buffer")
}

func TestRampRendersDistinctTaskIndexes(t *testing.T) {
	var mu sync.Mutex
	labels := map[string]bool{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/uuid", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"result": uuid.New().String()})
	})
	mux.HandleFunc("/api/brief/save", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		labels[body["label"].(string)] = true
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	})
	mux.HandleFunc("/api/brief/query/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"jobStatus": "SUCCESS"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"basicInfo": {}, "label": "task-{{index}}"}`), 0644))
	src, err := workflow.LoadPayloadFile(path)
	require.NoError(t, err)

	client := workflow.NewClient(config.Endpoints{
		UUIDURL:           srv.URL + "/api/uuid",
		SubmitURL:         srv.URL + "/api/brief/save",
		StatusURLTemplate: srv.URL + "/api/brief/query/{job_id}",
		TimeoutSec:        5,
	}, src, nil)

	strategy := testStrategy()
	strategy.MaxConcurrency = 2

	ctrl := NewController(client, strategy, nil, nil, make(UpdateChan, 256))
	report, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Summary.TotalSuccessfulTests)

	assert.Equal(t, map[string]bool{"task-0": true, "task-1": true}, labels,
		"each task in a batch submits a payload rendered with its own index")
}

func TestShouldStop(t *testing.T) {
	ctrl := &Controller{strategy: testStrategy()}

	stop, _ := ctrl.shouldStop(&BatchResult{SuccessRate: 0.9, FailureRate: 0.1})
	assert.False(t, stop)

	stop, reason := ctrl.shouldStop(&BatchResult{SuccessRate: 0.5, FailureRate: 0.5})
	assert.True(t, stop)
	assert.Contains(t, reason, "success rate")

	// Failure rate can trip the rule on its own.
	ctrl.strategy.SuccessRateThreshold = 0.0
	stop, reason = ctrl.shouldStop(&BatchResult{SuccessRate: 0.4, FailureRate: 0.6})
	assert.True(t, stop)
	assert.Contains(t, reason, "failure rate")
}

func TestToTaskResultSubmitFailure(t *testing.T) {
	out := workflow.RunResult{
		ID: "uuid-1",
		Submit: &workflow.SubmitResult{
			OK:        false,
			LatencyMs: 42,
			Error:     "submit failed: HTTP 500",
		},
		Error: "submit failed: HTTP 500",
	}

	res := toTaskResult(3, out)
	assert.Equal(t, 3, res.Index)
	assert.False(t, res.Success)
	assert.Equal(t, workflow.StatusSaveFailed, res.FinalStatus)
	assert.Equal(t, int64(42), res.SubmitTimeMs)
	assert.Equal(t, int64(42), res.TotalTimeMs)
	assert.Zero(t, res.PollAttempts)
	assert.True(t, res.IsFinal)
}

func TestBuildSummaryEmpty(t *testing.T) {
	s := buildSummary(nil)
	assert.Equal(t, 0, s.TotalBatches)
	assert.Zero(t, s.AverageSuccessRate)
}
