package workflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"rampq/internal/config"
)

// Client drives one job through its remote lifecycle:
// acquire identifier -> submit -> poll until terminal -> fetch detail.
// Every step reports an explicit outcome; nothing is swallowed.
type Client struct {
	endpoints config.Endpoints
	terminal  TerminalSet
	payload   *PayloadSource
	httpc     *http.Client
	log       logrus.FieldLogger
}

// NewClient builds a client against the given endpoints. A nil payload
// source falls back to the built-in minimal payload; a nil logger
// discards logs.
func NewClient(ep config.Endpoints, payload *PayloadSource, log logrus.FieldLogger) *Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	if ep.InsecureTLS {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if payload == nil {
		payload = NewPayloadSource()
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Client{
		endpoints: ep,
		terminal:  NewTerminalSet(ep.TerminalStatuses),
		payload:   payload,
		httpc: &http.Client{
			Timeout:   ep.Timeout(),
			Transport: t,
		},
		log: log,
	}
}

// post issues one POST with the configured headers.
func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rdr)
	if err != nil {
		return nil, err
	}
	for k, v := range c.endpoints.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpc.Do(req)
}

// resultEnvelope is the wire shape of acquire and submit responses: the
// identifier lives in a top-level "result" string.
type resultEnvelope struct {
	Result string `json:"result"`
}

// statusEnvelope is the wire shape of poll responses. Servers expose the
// status either under "result" or at the top level.
type statusEnvelope struct {
	Result struct {
		JobStatus string `json:"jobStatus"`
		JobID     string `json:"jobId"`
	} `json:"result"`
	JobStatus string `json:"jobStatus"`
}

func (s statusEnvelope) status() JobStatus {
	if s.Result.JobStatus != "" {
		return JobStatus(s.Result.JobStatus)
	}
	if s.JobStatus != "" {
		return JobStatus(s.JobStatus)
	}
	return ""
}

// AcquireID fetches one identifier. There is no retry at this layer;
// retries, if any, are the caller's responsibility.
func (c *Client) AcquireID(ctx context.Context) (string, error) {
	start := time.Now()

	resp, err := c.post(ctx, c.endpoints.UUIDURL, nil)
	if err != nil {
		return "", &AcquisitionError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", &AcquisitionError{
			HTTPStatus: resp.StatusCode,
			Reason:     snippet(raw, 200),
		}
	}

	var env resultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Result == "" {
		return "", &AcquisitionError{
			HTTPStatus: resp.StatusCode,
			Reason:     fmt.Sprintf("response lacks result field: %s", snippet(raw, 200)),
		}
	}

	c.log.WithFields(logrus.Fields{
		"uuid": env.Result,
		"ms":   time.Since(start).Milliseconds(),
	}).Debug("identifier acquired")

	return env.Result, nil
}

// Submit posts the job payload with the identifier injected into
// basicInfo.taskId. A nil payload is rendered from the client's payload
// source using the task index. Transport errors, timeouts and HTTP >= 400
// all yield OK=false; nothing escapes past this boundary.
func (c *Client) Submit(ctx context.Context, id string, payload map[string]any, index int) SubmitResult {
	start := time.Now()

	if payload == nil {
		built, err := c.payload.Build(id, index)
		if err != nil {
			return SubmitResult{
				LatencyMs: time.Since(start).Milliseconds(),
				Error:     fmt.Sprintf("build payload: %v", err),
			}
		}
		payload = built
	}

	body, err := json.Marshal(injectIdentifier(payload, id))
	if err != nil {
		return SubmitResult{
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     fmt.Sprintf("encode payload: %v", err),
		}
	}

	resp, err := c.post(ctx, c.endpoints.SubmitURL, body)
	if err != nil {
		res := SubmitResult{
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     fmt.Sprintf("submit: %v", err),
		}
		c.log.WithField("uuid", id).WithField("ms", res.LatencyMs).Error(res.Error)
		return res
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode >= 400 {
		res := SubmitResult{
			HTTPStatus: resp.StatusCode,
			LatencyMs:  latency,
			Error:      fmt.Sprintf("submit failed: HTTP %d - %s", resp.StatusCode, snippet(raw, 200)),
		}
		c.log.WithField("uuid", id).WithField("ms", latency).Error(res.Error)
		return res
	}

	// The job identifier may legitimately be absent from the response.
	var env resultEnvelope
	json.Unmarshal(raw, &env)

	c.log.WithFields(logrus.Fields{
		"uuid":  id,
		"jobId": env.Result,
		"ms":    latency,
	}).Debug("submitted")

	return SubmitResult{
		OK:         true,
		HTTPStatus: resp.StatusCode,
		LatencyMs:  latency,
		JobID:      env.Result,
	}
}

// PollStatus polls the status endpoint until a terminal status or until
// maxAttempts attempts are used up. A failed attempt consumes its attempt
// and the loop keeps going; exhaustion yields the TIMEOUT status. Observe,
// when set, sees every parsed status.
func (c *Client) PollStatus(ctx context.Context, id string, maxAttempts int, intervalMs int64, observe func(JobStatus)) PollResult {
	if id == "" {
		return PollResult{
			Status:  StatusError,
			IsFinal: true,
			Error:   "no identifier provided",
		}
	}

	url := c.endpoints.StatusURL(id)
	interval := time.Duration(intervalMs) * time.Millisecond
	start := time.Now()
	jobID := ""

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		env, err := c.pollOnce(ctx, url)
		if err != nil {
			// Transient: the attempt is spent, the loop is not.
			c.log.WithFields(logrus.Fields{
				"uuid":    id,
				"attempt": attempt,
			}).Warnf("poll attempt failed: %v", err)
			if attempt < maxAttempts {
				time.Sleep(interval)
			}
			continue
		}

		status := env.status()
		if env.Result.JobID != "" {
			jobID = env.Result.JobID
		}
		if status != "" && observe != nil {
			observe(status)
		}

		terminal := c.terminal.Contains(status)
		if attempt%10 == 0 || terminal {
			c.log.WithFields(logrus.Fields{
				"uuid":    id,
				"attempt": attempt,
				"status":  status,
			}).Info("poll")
		}

		if terminal {
			res := PollResult{
				Success:  status == StatusSuccess,
				Status:   status,
				Attempts: attempt,
				TotalMs:  time.Since(start).Milliseconds(),
				JobID:    jobID,
				IsFinal:  true,
			}
			if !res.Success {
				res.Error = fmt.Sprintf("job failed with status: %s", status)
			}
			return res
		}

		if attempt < maxAttempts {
			time.Sleep(interval)
		}
	}

	return PollResult{
		Status:   StatusTimeout,
		Attempts: maxAttempts,
		TotalMs:  time.Since(start).Milliseconds(),
		JobID:    jobID,
		IsFinal:  true,
		Error:    fmt.Sprintf("timeout after %d attempts", maxAttempts),
	}
}

func (c *Client) pollOnce(ctx context.Context, url string) (statusEnvelope, error) {
	var env statusEnvelope

	resp, err := c.post(ctx, url, nil)
	if err != nil {
		return env, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return env, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(raw, 200))
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("parse status response: %w", err)
	}
	return env, nil
}

// FetchDetail retrieves the opaque detail payload for a finished job.
// Fails fast when no detail endpoint is configured.
func (c *Client) FetchDetail(ctx context.Context, id string) DetailResult {
	if !c.endpoints.HasDetail() {
		return DetailResult{Error: ErrDetailUnconfigured.Error()}
	}

	start := time.Now()
	resp, err := c.post(ctx, c.endpoints.DetailURL(id), nil)
	if err != nil {
		return DetailResult{
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     fmt.Sprintf("detail fetch: %v", err),
		}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode >= 400 {
		return DetailResult{
			HTTPStatus: resp.StatusCode,
			LatencyMs:  latency,
			Error:      fmt.Sprintf("detail fetch failed: HTTP %d - %s", resp.StatusCode, snippet(raw, 200)),
		}
	}

	return DetailResult{
		Success:    true,
		HTTPStatus: resp.StatusCode,
		LatencyMs:  latency,
		Data:       json.RawMessage(raw),
	}
}

// Run executes the full lifecycle. Submission failure short-circuits the
// workflow; poll success triggers the detail fetch when an endpoint is
// configured, and overall success then requires both.
func (c *Client) Run(ctx context.Context, opts RunOptions) RunResult {
	start := time.Now()

	id := opts.ID
	if id == "" {
		acquired, err := c.AcquireID(ctx)
		if err != nil {
			return RunResult{
				TotalMs: time.Since(start).Milliseconds(),
				Error:   err.Error(),
			}
		}
		id = acquired
	}

	submit := c.Submit(ctx, id, opts.Payload, opts.Index)
	if !submit.OK {
		return RunResult{
			ID:      id,
			Submit:  &submit,
			TotalMs: time.Since(start).Milliseconds(),
			Error:   submit.Error,
		}
	}

	poll := c.PollStatus(ctx, id, opts.MaxAttempts, opts.Interval, opts.Observe)

	res := RunResult{
		ID:      id,
		JobID:   poll.JobID,
		Submit:  &submit,
		Poll:    &poll,
		Success: poll.Success,
		Error:   poll.Error,
	}
	if res.JobID == "" {
		res.JobID = submit.JobID
	}

	if poll.Success && c.endpoints.HasDetail() {
		detail := c.FetchDetail(ctx, id)
		res.Detail = &detail
		if !detail.Success {
			res.Success = false
			res.Error = detail.Error
		}
	}

	res.TotalMs = time.Since(start).Milliseconds()
	return res
}

// TerminalStatuses exposes the client's terminal set for callers that
// classify results.
func (c *Client) TerminalStatuses() TerminalSet { return c.terminal }

func snippet(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}
