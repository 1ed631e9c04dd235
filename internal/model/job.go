package model

import (
	"encoding/json"
	"time"
)

// JobKind represents the trigger type of a job
type JobKind string

const (
	JobKindCron     JobKind = "cron"
	JobKindDate     JobKind = "date"
	JobKindInterval JobKind = "interval"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusMissed    JobStatus = "missed"
)

// Job describes a unit of scheduled work. The Handler field names a handler
// registered on the scheduler, and Payload carries its bound arguments, so a
// pending job can be listed and serialized without inspecting closures.
type Job struct {
	ID       string          `json:"id"`
	Kind     JobKind         `json:"kind"`
	CronExpr string          `json:"cron_expr,omitempty"`
	RunAt    time.Time       `json:"run_at,omitempty"`
	Every    time.Duration   `json:"every,omitempty"`
	Handler  string          `json:"handler"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// AlertOnResult controls whether the execution wrapper publishes
	// success/failure notifications for this job.
	AlertOnResult bool `json:"alert_on_result"`

	Status    JobStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
}
