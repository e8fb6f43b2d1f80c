package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/teranos/bfhtw/pipeline"
)

// Execution is one entry of the append-only run history.
//
// An Execution is created RUNNING when the manager accepts a run and is
// finalized exactly once: EndTime, Status and either Result or Error are
// set together. EndTime is never before StartTime.
type Execution struct {
	ID            string              `json:"id"`
	PipelineName  string              `json:"pipeline_name"`
	Status        pipeline.Status     `json:"status"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       *time.Time          `json:"end_time,omitempty"`
	Result        *pipeline.RunResult `json:"result,omitempty"`
	Error         string              `json:"error,omitempty"`
	TriggerSource string              `json:"trigger_source"`
}

// Trigger sources
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// NewExecution starts a RUNNING execution for name at start
func NewExecution(name, trigger string, start time.Time) *Execution {
	if trigger == "" {
		trigger = TriggerManual
	}
	return &Execution{
		ID:            uuid.New().String(),
		PipelineName:  name,
		Status:        pipeline.StatusRunning,
		StartTime:     start,
		TriggerSource: trigger,
	}
}

// Finish finalizes e with the run's result, or with errMsg when the run
// produced none. end is clamped so it never precedes StartTime.
func (e *Execution) Finish(end time.Time, result *pipeline.RunResult, errMsg string) {
	if end.Before(e.StartTime) {
		end = e.StartTime
	}
	e.EndTime = &end
	e.Result = result
	e.Error = errMsg
	switch {
	case result != nil && result.Status.Terminal():
		e.Status = result.Status
		if e.Error == "" && result.Status != pipeline.StatusSuccess {
			e.Error = result.FirstError()
		}
	default:
		e.Status = pipeline.StatusFailed
	}
}

// Duration returns the elapsed time, or zero while running
func (e *Execution) Duration() time.Duration {
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// Running reports whether the execution has not been finalized
func (e *Execution) Running() bool {
	return e.EndTime == nil
}
