package scheduler

import "errors"

var (
	// ErrEmptyJobID is returned when a job is submitted without an id
	ErrEmptyJobID = errors.New("job id is empty")

	// ErrUnknownHandler is returned when a job names an unregistered handler
	ErrUnknownHandler = errors.New("unknown job handler")

	// ErrUnknownJobKind is returned when a job has an unsupported trigger kind
	ErrUnknownJobKind = errors.New("unknown job kind")

	// ErrInvalidCronExpr is returned when a cron expression fails to parse
	ErrInvalidCronExpr = errors.New("invalid cron expression")

	// ErrInvalidInterval is returned when an interval job has no positive period
	ErrInvalidInterval = errors.New("invalid interval period")
)
