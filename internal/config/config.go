package config

import (
	"fmt"
	"strings"
	"time"
)

// JobIDPlaceholder is substituted with the acquired identifier when
// building poll and detail URLs from their templates.
const JobIDPlaceholder = "{job_id}"

// Endpoints describes the remote job API. Built once at startup and
// read-only afterwards.
type Endpoints struct {
	UUIDURL           string            `mapstructure:"uuid_url" json:"uuid_url"`
	SubmitURL         string            `mapstructure:"submit_url" json:"submit_url"`
	StatusURLTemplate string            `mapstructure:"status_url_template" json:"status_url_template"`
	DetailURLTemplate string            `mapstructure:"detail_url_template" json:"detail_url_template,omitempty"`
	Headers           map[string]string `mapstructure:"headers" json:"headers,omitempty"`

	TimeoutSec int `mapstructure:"timeout_sec" json:"timeout_sec"`

	// Statuses treated as terminal in addition to the built-in minimum
	// of SUCCESS and FAILED. Empty means the default set.
	TerminalStatuses []string `mapstructure:"terminal_statuses" json:"terminal_statuses,omitempty"`

	InsecureTLS bool `mapstructure:"insecure_tls" json:"insecure_tls,omitempty"`
}

// StatusURL builds the poll URL for an identifier.
func (e Endpoints) StatusURL(id string) string {
	return strings.ReplaceAll(e.StatusURLTemplate, JobIDPlaceholder, id)
}

// DetailURL builds the detail-fetch URL for an identifier.
func (e Endpoints) DetailURL(id string) string {
	return strings.ReplaceAll(e.DetailURLTemplate, JobIDPlaceholder, id)
}

// HasDetail reports whether a detail endpoint is configured.
func (e Endpoints) HasDetail() bool { return e.DetailURLTemplate != "" }

func (e Endpoints) Timeout() time.Duration {
	if e.TimeoutSec <= 0 {
		return 300 * time.Second
	}
	return time.Duration(e.TimeoutSec) * time.Second
}

func (e Endpoints) Validate() error {
	if e.UUIDURL == "" {
		return fmt.Errorf("endpoints: uuid_url is required")
	}
	if e.SubmitURL == "" {
		return fmt.Errorf("endpoints: submit_url is required")
	}
	if e.StatusURLTemplate == "" {
		return fmt.Errorf("endpoints: status_url_template is required")
	}
	if !strings.Contains(e.StatusURLTemplate, JobIDPlaceholder) {
		return fmt.Errorf("endpoints: status_url_template must contain %s", JobIDPlaceholder)
	}
	if e.DetailURLTemplate != "" && !strings.Contains(e.DetailURLTemplate, JobIDPlaceholder) {
		return fmt.Errorf("endpoints: detail_url_template must contain %s", JobIDPlaceholder)
	}
	return nil
}

// Strategy holds the ramp parameters. Immutable for the lifetime of a run.
type Strategy struct {
	Name string `mapstructure:"name" json:"name"`

	StartConcurrency int `mapstructure:"start_concurrency" json:"start_concurrency"`
	MaxConcurrency   int `mapstructure:"max_concurrency" json:"max_concurrency"`
	StepSize         int `mapstructure:"step_size" json:"step_size"`
	BatchDelayMs     int `mapstructure:"batch_delay_ms" json:"batch_delay_ms"`

	SuccessRateThreshold float64 `mapstructure:"success_rate_threshold" json:"success_rate_threshold"`
	MaxFailureRate       float64 `mapstructure:"max_failure_rate" json:"max_failure_rate"`

	MaxPollingAttempts int `mapstructure:"max_polling_attempts" json:"max_polling_attempts"`
	PollingIntervalMs  int `mapstructure:"polling_interval_ms" json:"polling_interval_ms"`

	// Advisory alert threshold for the concurrency monitor.
	AlertThreshold int `mapstructure:"alert_threshold" json:"alert_threshold"`
}

// DefaultStrategy mirrors the conservative preset: step from 2 to 16
// doubling the load gently, two-second polls, stop below 80% success.
func DefaultStrategy() Strategy {
	return Strategy{
		Name:                 "default",
		StartConcurrency:     2,
		MaxConcurrency:       16,
		StepSize:             2,
		BatchDelayMs:         5000,
		SuccessRateThreshold: 0.8,
		MaxFailureRate:       0.5,
		MaxPollingAttempts:   100,
		PollingIntervalMs:    2000,
		AlertThreshold:       16,
	}
}

func (s Strategy) Validate() error {
	if s.StartConcurrency < 1 {
		return fmt.Errorf("strategy: start_concurrency must be >= 1, got %d", s.StartConcurrency)
	}
	if s.MaxConcurrency < s.StartConcurrency {
		return fmt.Errorf("strategy: max_concurrency (%d) must be >= start_concurrency (%d)",
			s.MaxConcurrency, s.StartConcurrency)
	}
	if s.StepSize < 1 {
		return fmt.Errorf("strategy: step_size must be >= 1, got %d", s.StepSize)
	}
	if s.SuccessRateThreshold < 0 || s.SuccessRateThreshold > 1 {
		return fmt.Errorf("strategy: success_rate_threshold must be in [0,1], got %v", s.SuccessRateThreshold)
	}
	if s.MaxFailureRate < 0 || s.MaxFailureRate > 1 {
		return fmt.Errorf("strategy: max_failure_rate must be in [0,1], got %v", s.MaxFailureRate)
	}
	if s.MaxPollingAttempts < 1 {
		return fmt.Errorf("strategy: max_polling_attempts must be >= 1, got %d", s.MaxPollingAttempts)
	}
	if s.PollingIntervalMs < 0 {
		return fmt.Errorf("strategy: polling_interval_ms must be >= 0, got %d", s.PollingIntervalMs)
	}
	return nil
}

func (s Strategy) PollingInterval() time.Duration {
	return time.Duration(s.PollingIntervalMs) * time.Millisecond
}

func (s Strategy) BatchDelay() time.Duration {
	return time.Duration(s.BatchDelayMs) * time.Millisecond
}

// Levels returns the concurrency levels the ramp will walk through.
func (s Strategy) Levels() []int {
	var levels []int
	for c := s.StartConcurrency; c <= s.MaxConcurrency; c += s.StepSize {
		levels = append(levels, c)
	}
	return levels
}

// File is the on-disk configuration shape read by viper.
type File struct {
	Endpoints Endpoints `mapstructure:"endpoints" json:"endpoints"`
	Strategy  Strategy  `mapstructure:"strategy" json:"strategy"`

	// Path to a JSON file holding the submission payload. Empty means
	// the built-in minimal payload.
	PayloadPath string `mapstructure:"payload_path" json:"payload_path,omitempty"`

	// Output filename prefix for auto-reporting.
	OutPrefix string `mapstructure:"out_prefix" json:"out_prefix,omitempty"`
}

func (f File) Validate() error {
	if err := f.Endpoints.Validate(); err != nil {
		return err
	}
	return f.Strategy.Validate()
}
