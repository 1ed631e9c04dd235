package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/storage"
)

// jobRunner is the execution wrapper around a single registered job. It
// enforces the per-id instance cap and the misfire grace, recovers panics,
// records run history, and reports the outcome through the notifier so a
// handler failure never takes the engine down.
type jobRunner struct {
	s   *Scheduler
	ent *entry
}

// Run implements cron.Job.
func (r *jobRunner) Run() {
	s := r.s
	job := r.ent.job
	now := s.nowFunc().In(s.location)

	s.mu.RLock()
	next := job.NextRun
	s.mu.RUnlock()
	if next != nil {
		if delay := now.Sub(*next); delay > s.misfireGrace {
			s.logger.Warn("Job fire missed beyond the grace period",
				zap.String("job_id", job.ID),
				zap.Duration("late", delay))
			s.recordMiss(job, now)
			r.finish(model.JobStatusMissed)
			return
		}
	}

	if atomic.AddInt32(&r.ent.running, 1) > s.maxInstances {
		atomic.AddInt32(&r.ent.running, -1)
		s.logger.Warn("Skipping fire: max concurrent instances reached",
			zap.String("job_id", job.ID),
			zap.Int32("max_instances", s.maxInstances))
		return
	}
	defer atomic.AddInt32(&r.ent.running, -1)

	handler, ok := s.handler(job.Handler)
	if !ok {
		s.logger.Error("Job handler disappeared from registry",
			zap.String("job_id", job.ID),
			zap.String("handler", job.Handler))
		r.finish(model.JobStatusFailed)
		return
	}

	started := s.nowFunc()
	s.mu.Lock()
	job.Status = model.JobStatusRunning
	job.LastRun = &started
	s.mu.Unlock()

	run := &storage.JobRun{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Status:    model.JobStatusRunning,
		StartedAt: started,
	}
	r.record(run)

	err := r.execute(handler, job)
	completed := s.nowFunc()

	run.CompletedAt = &completed
	run.Duration = completed.Sub(started)

	if err != nil {
		run.Status = model.JobStatusFailed
		run.Error = err.Error()
		s.logger.Error("Job failed",
			zap.String("job_id", job.ID),
			zap.Duration("duration", run.Duration),
			zap.Error(err))
		r.report(model.AlertSeverityError, fmt.Sprintf("%s failed: %v", job.ID, err))
		r.update(run)
		r.finish(model.JobStatusFailed)
		return
	}

	run.Status = model.JobStatusCompleted
	s.logger.Info("Job completed",
		zap.String("job_id", job.ID),
		zap.Duration("duration", run.Duration))
	r.report(model.AlertSeverityInfo, fmt.Sprintf("%s completed successfully", job.ID))
	r.update(run)
	r.finish(model.JobStatusCompleted)
}

// execute invokes the handler, converting panics into errors.
func (r *jobRunner) execute(handler Handler, job *model.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return handler.Execute(r.s.baseContext(), job)
}

// finish settles the job after a fire. Date jobs are terminal: the entry is
// dropped from the live set. Recurring jobs loop back to scheduled with a
// refreshed next-run time.
func (r *jobRunner) finish(status model.JobStatus) {
	s := r.s
	job := r.ent.job

	if job.Kind == model.JobKindDate {
		s.mu.Lock()
		job.Status = status
		job.NextRun = nil
		// Only drop the registry slot if it still belongs to this entry;
		// the job may have been replaced while running.
		if current, ok := s.jobs[job.ID]; ok && current == r.ent {
			s.cron.Remove(r.ent.entryID)
			delete(s.jobs, job.ID)
		}
		s.mu.Unlock()
		return
	}

	next := s.cron.Entry(r.ent.entryID).Next
	s.mu.Lock()
	job.Status = model.JobStatusScheduled
	if !next.IsZero() {
		job.NextRun = &next
	}
	s.mu.Unlock()
}

// report publishes a job outcome alert on the dev channel when enabled.
func (r *jobRunner) report(severity model.AlertSeverity, message string) {
	s := r.s
	job := r.ent.job
	if s.notifier == nil || !job.AlertOnResult {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alert := &model.Alert{
		Severity: severity,
		Title:    "Scheduler Alert",
		Message:  message,
		Data:     map[string]interface{}{"job_id": job.ID},
	}
	if err := s.notifier.Notify(ctx, s.devChannel, alert); err != nil {
		s.logger.Error("Failed to send job result alert",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

func (r *jobRunner) record(run *storage.JobRun) {
	if r.s.history == nil {
		return
	}
	if err := r.s.history.Record(context.Background(), run); err != nil {
		r.s.logger.Error("Failed to record job run",
			zap.String("job_id", run.JobID),
			zap.Error(err))
	}
}

func (r *jobRunner) update(run *storage.JobRun) {
	if r.s.history == nil {
		return
	}
	if err := r.s.history.Update(context.Background(), run); err != nil {
		r.s.logger.Error("Failed to update job run",
			zap.String("job_id", run.JobID),
			zap.Error(err))
	}
}

// recordMiss writes a missed-fire record for a job.
func (s *Scheduler) recordMiss(job *model.Job, at time.Time) {
	if s.history == nil {
		return
	}
	run := &storage.JobRun{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Status:    model.JobStatusMissed,
		StartedAt: at,
	}
	if err := s.history.Record(context.Background(), run); err != nil {
		s.logger.Error("Failed to record missed fire",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}
