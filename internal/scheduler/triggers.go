package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// onceSchedule fires exactly once at a fixed instant. After the fire time
// has passed Next returns the zero time and the engine never activates the
// entry again; the run wrapper removes the entry afterwards.
type onceSchedule struct {
	at time.Time
}

// Next implements cron.Schedule.
func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

var _ cron.Schedule = onceSchedule{}
var _ cron.Logger = (*cronLogger)(nil)
