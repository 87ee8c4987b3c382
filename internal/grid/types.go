// Package grid defines core types shared across subsystems.
package grid

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Priority orders targets within the job queue.
type Priority string

// Priority values accepted on scan targets.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRanks = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the numeric ordering weight; higher dispatches first.
func (p Priority) Rank() int {
	return priorityRanks[p]
}

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// ScanFrequency is the requested cadence for a target.
type ScanFrequency string

// Scan frequency values accepted on scan targets.
const (
	FrequencyDaily   ScanFrequency = "daily"
	FrequencyWeekly  ScanFrequency = "weekly"
	FrequencyMonthly ScanFrequency = "monthly"
)

var frequencyRanks = map[ScanFrequency]int{
	FrequencyMonthly: 0,
	FrequencyWeekly:  1,
	FrequencyDaily:   2,
}

// Rank returns the numeric ordering weight; higher dispatches first.
func (f ScanFrequency) Rank() int {
	return frequencyRanks[f]
}

// Valid reports whether f is a recognized frequency.
func (f ScanFrequency) Valid() bool {
	_, ok := frequencyRanks[f]
	return ok
}

// JobStatus represents the lifecycle state of a scan job.
type JobStatus string

// Job status values.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions occur from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ScanTarget is the immutable input describing one site to scan.
type ScanTarget struct {
	Domain        string        `json:"domain"`
	URL           string        `json:"url"`
	Priority      Priority      `json:"priority"`
	Industry      string        `json:"industry,omitempty"`
	Frequency     ScanFrequency `json:"scan_frequency"`
	LastScannedAt *time.Time    `json:"last_scanned_at,omitempty"`
}

// Validate checks the target fields before admission to the queue.
func (t ScanTarget) Validate() error {
	if t.Domain == "" {
		return fmt.Errorf("target domain is required")
	}
	if t.URL == "" {
		return fmt.Errorf("target url is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target url %q must be http or https", t.URL)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", t.Priority)
	}
	if !t.Frequency.Valid() {
		return fmt.Errorf("unknown scan frequency %q", t.Frequency)
	}
	return nil
}

// NormalizedDomain lowercases the domain for use as a rate-limiter key.
func (t ScanTarget) NormalizedDomain() string {
	return strings.ToLower(t.Domain)
}

// Result holds what a worker collected from a successful navigation.
type Result struct {
	StatusCode int            `json:"status_code"`
	FinalURL   string         `json:"final_url,omitempty"`
	Content    []byte         `json:"-"`
	Signals    map[string]any `json:"signals,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Job is the mutable unit of work wrapping a ScanTarget.
type Job struct {
	ID               string     `json:"id"`
	Target           ScanTarget `json:"target"`
	Status           JobStatus  `json:"status"`
	AssignedWorkerID string     `json:"assigned_worker_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Result           *Result    `json:"result,omitempty"`
	Err              *ScanError `json:"error,omitempty"`
	RetryCount       int        `json:"retry_count"`
}

// Outcome is the terminal per-job record reported to callers.
type Outcome struct {
	JobID      string     `json:"job_id"`
	Domain     string     `json:"domain"`
	Status     JobStatus  `json:"status"`
	Result     *Result    `json:"result,omitempty"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	ErrorText  string     `json:"error_text,omitempty"`
	RetryCount int        `json:"retry_count"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// OutcomeFromJob builds the reportable record for a terminal job.
func OutcomeFromJob(job *Job) Outcome {
	o := Outcome{
		JobID:      job.ID,
		Domain:     job.Target.Domain,
		Status:     job.Status,
		Result:     job.Result,
		RetryCount: job.RetryCount,
		StartedAt:  job.StartedAt,
		EndedAt:    job.EndedAt,
	}
	if job.Err != nil {
		o.ErrorKind = job.Err.Kind
		o.ErrorText = job.Err.Error()
	}
	return o
}

// ClusterStats is a derived read-only view over job history.
type ClusterStats struct {
	QueueLength       int     `json:"queue_length"`
	RunningCount      int     `json:"running_count"`
	CompletedCount    int     `json:"completed_count"`
	FailedCount       int     `json:"failed_count"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// ProxyConfig describes one egress proxy endpoint. Read-only once registered.
type ProxyConfig struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Address renders the proxy as scheme://host:port for browser flags.
func (p ProxyConfig) Address() string {
	scheme := p.Type
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, p.Host, p.Port)
}

// NavigateRequest captures everything needed for one page navigation.
type NavigateRequest struct {
	URL       string
	UserAgent string
	Proxy     *ProxyConfig
	Timeout   time.Duration
}

// PageResult is returned by a Navigator implementation.
type PageResult struct {
	StatusCode int
	FinalURL   string
	Content    []byte
	Signals    map[string]any
	Duration   time.Duration
}
