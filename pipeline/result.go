package pipeline

import (
	"time"
)

// Status is the lifecycle state of a run
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s is a final state
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// RunResult is the report of one run.
// ProcessedCount + FailedCount never exceeds the number of fetched items.
type RunResult struct {
	PipelineID     string                 `json:"pipeline_id"`
	Pipeline       string                 `json:"pipeline"`
	Status         Status                 `json:"status"`
	ProcessedCount int                    `json:"processed_count"`
	FailedCount    int                    `json:"failed_count"`
	ExecutionTime  time.Duration          `json:"execution_time_ns"`
	Errors         []string               `json:"errors"`
	Warnings       []string               `json:"warnings"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// Throughput is processed items per second. ok is false when no time elapsed.
func (r *RunResult) Throughput() (rate float64, ok bool) {
	if r == nil || r.ExecutionTime <= 0 {
		return 0, false
	}
	return float64(r.ProcessedCount) / r.ExecutionTime.Seconds(), true
}

// Succeeded reports whether the run ended in SUCCESS
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// FirstError returns the first error entry, or ""
func (r *RunResult) FirstError() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}
