package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rampq/internal/config"
)

func newTestClient(t *testing.T, srv *httptest.Server, detail bool) *Client {
	t.Helper()
	ep := config.Endpoints{
		UUIDURL:           srv.URL + "/api/uuid",
		SubmitURL:         srv.URL + "/api/brief/save",
		StatusURLTemplate: srv.URL + "/api/brief/query/{job_id}",
		TimeoutSec:        5,
	}
	if detail {
		ep.DetailURLTemplate = srv.URL + "/api/brief/detail/{job_id}"
	}
	return NewClient(ep, nil, nil)
}

func TestAcquireID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(map[string]string{"result": "uuid-123"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	id, err := c.AcquireID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "uuid-123", id)
}

func TestAcquireIDHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	_, err := c.AcquireID(context.Background())
	require.Error(t, err)

	var aerr *AcquisitionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusServiceUnavailable, aerr.HTTPStatus)
}

func TestAcquireIDMissingResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"data": "nope"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	_, err := c.AcquireID(context.Background())

	var aerr *AcquisitionError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Reason, "result")
}

func TestSubmitInjectsIdentifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"result": "job-42"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	res := c.Submit(context.Background(), "uuid-7", map[string]any{
		"basicInfo": map[string]any{"region": "eu"},
		"name":      "demo",
	}, 0)

	require.True(t, res.OK)
	assert.Equal(t, "job-42", res.JobID)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)

	basic, ok := got["basicInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "uuid-7", basic["taskId"])
	assert.Equal(t, "eu", basic["region"], "existing basicInfo keys survive")
	assert.Equal(t, "demo", got["name"])
}

func TestSubmitHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	res := c.Submit(context.Background(), "uuid-7", nil, 0)

	assert.False(t, res.OK)
	assert.Equal(t, http.StatusInternalServerError, res.HTTPStatus)
	assert.Contains(t, res.Error, "HTTP 500")
}

func TestPollStatusStopsAtTerminal(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		status := "EXECUTING"
		if n >= 3 {
			status = "SUCCESS"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"jobStatus": status, "jobId": "job-1"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)

	var seen []JobStatus
	res := c.PollStatus(context.Background(), "uuid-1", 10, 1, func(s JobStatus) {
		seen = append(seen, s)
	})

	assert.True(t, res.Success)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, res.IsFinal)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, int32(3), polls.Load(), "no polls after the terminal status")
	assert.Equal(t, []JobStatus{StatusExecuting, StatusExecuting, StatusSuccess}, seen)
}

func TestPollStatusFailedJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"jobStatus": "FAILED"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	res := c.PollStatus(context.Background(), "uuid-1", 5, 1, nil)

	assert.False(t, res.Success)
	assert.Equal(t, StatusFailed, res.Status, "top-level jobStatus is honored")
	assert.True(t, res.IsFinal)
	assert.Contains(t, res.Error, "FAILED")
}

func TestPollStatusTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"jobStatus": "PENDING"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	res := c.PollStatus(context.Background(), "uuid-1", 3, 1, nil)

	assert.False(t, res.Success)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, res.IsFinal)
	assert.Contains(t, res.Error, "timeout after 3 attempts")
}

func TestPollStatusTransientFailureConsumesAttempt(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"jobStatus": "SUCCESS"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	res := c.PollStatus(context.Background(), "uuid-1", 5, 1, nil)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts, "the failed attempt is spent")
}

func TestPollStatusNoIdentifier(t *testing.T) {
	c := NewClient(config.Endpoints{
		UUIDURL:           "http://unused",
		SubmitURL:         "http://unused",
		StatusURLTemplate: "http://unused/{job_id}",
	}, nil, nil)

	res := c.PollStatus(context.Background(), "", 5, 1, nil)
	assert.Equal(t, StatusError, res.Status)
	assert.True(t, res.IsFinal)
}

func TestFetchDetailUnconfigured(t *testing.T) {
	c := NewClient(config.Endpoints{
		UUIDURL:           "http://unused",
		SubmitURL:         "http://unused",
		StatusURLTemplate: "http://unused/{job_id}",
	}, nil, nil)

	res := c.FetchDetail(context.Background(), "uuid-1")
	assert.False(t, res.Success)
	assert.Equal(t, ErrDetailUnconfigured.Error(), res.Error)
}

func TestRunSubmitFailureShortCircuits(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/brief/save", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusInternalServerError)
	})
	mux.HandleFunc("/api/brief/query/", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"jobStatus": "SUCCESS"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, false)
	res := c.Run(context.Background(), RunOptions{ID: "uuid-9", MaxAttempts: 5, Interval: 1})

	assert.False(t, res.Success)
	require.NotNil(t, res.Submit)
	assert.False(t, res.Submit.OK)
	assert.Nil(t, res.Poll, "polling never starts after a failed submission")
	assert.Equal(t, int32(0), polls.Load())
}

func TestRunFullLifecycle(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/uuid", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"result": "uuid-55"})
	})
	mux.HandleFunc("/api/brief/save", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"result": "job-55"})
	})
	mux.HandleFunc("/api/brief/query/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/brief/query/uuid-55", r.URL.Path, "polls are keyed by the acquired identifier")
		status := "EXECUTING"
		if polls.Add(1) >= 2 {
			status = "SUCCESS"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"jobStatus": status, "jobId": "job-55"},
		})
	})
	mux.HandleFunc("/api/brief/detail/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/brief/detail/uuid-55", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"rows": 12}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, true)
	res := c.Run(context.Background(), RunOptions{MaxAttempts: 10, Interval: 1})

	assert.True(t, res.Success)
	assert.Equal(t, "uuid-55", res.ID)
	assert.Equal(t, "job-55", res.JobID)
	require.NotNil(t, res.Poll)
	assert.Equal(t, 2, res.Poll.Attempts)
	require.NotNil(t, res.Detail)
	assert.True(t, res.Detail.Success)
}

func TestRunRendersIndexIntoPayload(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/brief/save", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		seen[body["label"].(string)] = true
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"result": "job-1"})
	})
	mux.HandleFunc("/api/brief/query/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"jobStatus": "SUCCESS"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := newPayloadSource(`{"basicInfo": {}, "label": "task-{{index}}"}`)
	require.NoError(t, err)

	c := NewClient(config.Endpoints{
		UUIDURL:           srv.URL + "/api/uuid",
		SubmitURL:         srv.URL + "/api/brief/save",
		StatusURLTemplate: srv.URL + "/api/brief/query/{job_id}",
		TimeoutSec:        5,
	}, src, nil)

	for _, idx := range []int{3, 7} {
		res := c.Run(context.Background(), RunOptions{
			ID: "uuid-9", Index: idx, MaxAttempts: 5, Interval: 1,
		})
		require.True(t, res.Success)
	}

	assert.Equal(t, map[string]bool{"task-3": true, "task-7": true}, seen,
		"each task renders its own index into the payload template")
}

func TestRunDetailFailureFailsWorkflow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/brief/save", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"result": "job-1"})
	})
	mux.HandleFunc("/api/brief/query/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"jobStatus": "SUCCESS"})
	})
	mux.HandleFunc("/api/brief/detail/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not ready", http.StatusConflict)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, true)
	res := c.Run(context.Background(), RunOptions{ID: "uuid-1", MaxAttempts: 3, Interval: 1})

	assert.False(t, res.Success, "detail failure demotes an otherwise successful workflow")
	require.NotNil(t, res.Poll)
	assert.True(t, res.Poll.Success)
	require.NotNil(t, res.Detail)
	assert.False(t, res.Detail.Success)
}
