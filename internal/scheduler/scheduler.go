package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/notify"
	"github.com/tickerwatch/scheduler/internal/storage"
)

const (
	defaultMaxInstances = 3
	defaultMisfireGrace = 180 * time.Second

	// lateFireDelay is how far into the future a date job already past its
	// trigger (but inside the grace period) is rescheduled.
	lateFireDelay = 100 * time.Millisecond
)

// Handler executes the work bound to a job. The job carries the handler's
// arguments in its payload.
type Handler interface {
	Execute(ctx context.Context, job *model.Job) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, job *model.Job) error {
	return f(ctx, job)
}

// Options configures a Scheduler.
type Options struct {
	// Location is the timezone all triggers are evaluated in.
	Location *time.Location

	// MaxInstances caps concurrent executions per job id (default 3).
	MaxInstances int

	// MisfireGrace is how late a fire may be and still run (default 180s).
	// Beyond it the fire is skipped and recorded as a miss.
	MisfireGrace time.Duration

	// Notifier receives job success/failure alerts on DevChannel. Optional.
	Notifier   notify.Notifier
	DevChannel string

	// History records every run when set.
	History storage.RunHistory
}

// entry pairs a live job with its cron engine entry.
type entry struct {
	job     *model.Job
	entryID cron.EntryID
	running int32
}

// Scheduler executes cron, one-shot date, and fixed-interval jobs through a
// single cron engine. Job ids are unique in the live set: submitting an id
// that already exists replaces the previous definition.
type Scheduler struct {
	logger       *zap.Logger
	cron         *cron.Cron
	location     *time.Location
	maxInstances int32
	misfireGrace time.Duration
	notifier     notify.Notifier
	devChannel   string
	history      storage.RunHistory
	nowFunc      func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	jobs     map[string]*entry

	baseCtx context.Context
}

// New creates a stopped scheduler. Call Start to begin firing jobs.
func New(logger *zap.Logger, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = defaultMaxInstances
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = defaultMisfireGrace
	}

	cronLog := &cronLogger{logger: logger.Named("cron")}
	engine := cron.New(
		cron.WithLocation(opts.Location),
		cron.WithChain(cron.Recover(cronLog)),
	)

	return &Scheduler{
		logger:       logger.Named("scheduler"),
		cron:         engine,
		location:     opts.Location,
		maxInstances: int32(opts.MaxInstances),
		misfireGrace: opts.MisfireGrace,
		notifier:     opts.Notifier,
		devChannel:   opts.DevChannel,
		history:      opts.History,
		nowFunc:      time.Now,
		handlers:     make(map[string]Handler),
		jobs:         make(map[string]*entry),
		baseCtx:      context.Background(),
	}
}

// Location returns the timezone triggers are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Now returns the current time in the scheduler's timezone.
func (s *Scheduler) Now() time.Time {
	return s.nowFunc().In(s.location)
}

// RegisterHandler registers a named job handler. Jobs reference handlers by
// name so pending work stays serializable.
func (s *Scheduler) RegisterHandler(name string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

// Start starts the engine. Handlers run with ctx as their base context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", zap.String("timezone", s.location.String()))
}

// Stop stops the engine and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Upsert registers a job, replacing any live job with the same id. It is the
// single idempotent submission path: callers never need existence checks.
// A date job whose trigger is already past fires near-immediately when the
// delay is inside the misfire grace, and is recorded as missed otherwise.
func (s *Scheduler) Upsert(job *model.Job) error {
	if job.ID == "" {
		return ErrEmptyJobID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[job.Handler]; !ok {
		s.logger.Error("Failed to add job: handler not registered",
			zap.String("job_id", job.ID),
			zap.String("handler", job.Handler))
		return fmt.Errorf("%w: %s", ErrUnknownHandler, job.Handler)
	}

	now := s.nowFunc().In(s.location)

	var schedule cron.Schedule
	switch job.Kind {
	case model.JobKindCron:
		parsed, err := cron.ParseStandard(job.CronExpr)
		if err != nil {
			s.logger.Error("Failed to add cron job",
				zap.String("job_id", job.ID),
				zap.String("expression", job.CronExpr),
				zap.Error(err))
			return fmt.Errorf("%w: %q: %v", ErrInvalidCronExpr, job.CronExpr, err)
		}
		schedule = parsed

	case model.JobKindInterval:
		if job.Every <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidInterval, job.Every)
		}
		schedule = cron.Every(job.Every)

	case model.JobKindDate:
		at := job.RunAt.In(s.location)
		if !at.After(now) {
			late := now.Sub(at)
			if late > s.misfireGrace {
				// Accepted but never fired: the trigger is too stale.
				s.logger.Warn("Date job missed its trigger beyond the grace period",
					zap.String("job_id", job.ID),
					zap.Time("run_at", at),
					zap.Duration("late", late))
				job.Status = model.JobStatusMissed
				if old, ok := s.jobs[job.ID]; ok {
					s.cron.Remove(old.entryID)
					delete(s.jobs, job.ID)
				}
				s.recordMiss(job, now)
				return nil
			}
			s.logger.Warn("Date job trigger already passed, firing late",
				zap.String("job_id", job.ID),
				zap.Time("run_at", at),
				zap.Duration("late", late))
			at = now.Add(lateFireDelay)
		}
		schedule = onceSchedule{at: at}

	default:
		return fmt.Errorf("%w: %s", ErrUnknownJobKind, job.Kind)
	}

	// Replace semantics: drop any previous definition first.
	replaced := false
	if old, ok := s.jobs[job.ID]; ok {
		s.cron.Remove(old.entryID)
		delete(s.jobs, job.ID)
		replaced = true
	}

	job.Status = model.JobStatusScheduled
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}

	ent := &entry{job: job}
	ent.entryID = s.cron.Schedule(schedule, &jobRunner{s: s, ent: ent})
	next := schedule.Next(now)
	job.NextRun = &next
	s.jobs[job.ID] = ent

	s.logger.Info("Job scheduled",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Bool("replaced", replaced),
		zap.Time("next_run", next))

	return nil
}

// AddCronJob registers a recurring job on a 5-field cron expression.
func (s *Scheduler) AddCronJob(id, handler, expr string, payload json.RawMessage) error {
	return s.Upsert(&model.Job{
		ID:            id,
		Kind:          model.JobKindCron,
		CronExpr:      expr,
		Handler:       handler,
		Payload:       payload,
		AlertOnResult: true,
	})
}

// AddDateJob registers a one-shot job for an absolute timestamp.
func (s *Scheduler) AddDateJob(id, handler string, runAt time.Time, payload json.RawMessage) error {
	return s.Upsert(&model.Job{
		ID:            id,
		Kind:          model.JobKindDate,
		RunAt:         runAt,
		Handler:       handler,
		Payload:       payload,
		AlertOnResult: true,
	})
}

// AddIntervalJob registers a fixed-period recurring job.
func (s *Scheduler) AddIntervalJob(id, handler string, every time.Duration, payload json.RawMessage) error {
	return s.Upsert(&model.Job{
		ID:      id,
		Kind:    model.JobKindInterval,
		Every:   every,
		Handler: handler,
		Payload: payload,
	})
}

// RemoveJob cancels a not-yet-fired job. It has no effect on an execution
// already in flight.
func (s *Scheduler) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.jobs[id]
	if !ok {
		return false
	}

	s.cron.Remove(ent.entryID)
	delete(s.jobs, id)
	s.logger.Info("Removed job", zap.String("job_id", id))
	return true
}

// GetJob returns a snapshot of the live job with the given id.
func (s *Scheduler) GetJob(id string) (*model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(ent.job), true
}

// ListJobs returns snapshots of all live jobs sorted by id.
func (s *Scheduler) ListJobs() []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*model.Job, 0, len(s.jobs))
	for _, ent := range s.jobs {
		jobs = append(jobs, cloneJob(ent.job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// cloneJob returns a shallow copy. The run wrapper replaces the pointer
// fields wholesale, never writes through them, so sharing the pointed-to
// values is safe.
func cloneJob(job *model.Job) *model.Job {
	c := *job
	return &c
}

// Summary renders a human-readable table of the live job set for the
// startup notification.
func (s *Scheduler) Summary() string {
	jobs := s.ListJobs()

	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled jobs (%d):\n", len(jobs))
	for _, job := range jobs {
		var trigger string
		switch job.Kind {
		case model.JobKindCron:
			trigger = job.CronExpr
		case model.JobKindDate:
			trigger = job.RunAt.In(s.location).Format("2006-01-02 15:04:05")
		case model.JobKindInterval:
			trigger = "every " + job.Every.String()
		}
		next := "-"
		if job.NextRun != nil {
			next = job.NextRun.In(s.location).Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "  %s [%s] trigger=%s next=%s\n", job.ID, job.Kind, trigger, next)
	}
	return b.String()
}

// handler looks up a registered handler by name.
func (s *Scheduler) handler(name string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[name]
	return h, ok
}

// baseContext returns the context handlers run under.
func (s *Scheduler) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}
