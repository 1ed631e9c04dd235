package economic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/market"
	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/notify"
	"github.com/tickerwatch/scheduler/internal/scheduler"
)

// Handler names registered on the scheduler. The warning and update jobs
// carry their event group in the job payload.
const (
	RefreshHandlerName = "economic_refresh"
	WarningHandlerName = "economic_warning"
	UpdateHandlerName  = "economic_update"
)

// jobIDPrefix marks the per-group one-off jobs swept before rescheduling.
const jobIDPrefix = "economic_"

// CalendarSource is the economic-calendar collaborator. Implementations
// return an empty slice when the upstream has nothing (or is down); they do
// not panic.
type CalendarSource interface {
	FetchEvents(ctx context.Context, date string) ([]model.EconomicEvent, error)
}

// Options configures an Orchestrator.
type Options struct {
	// WarningLead is how long before the nominal event time the warning
	// fires (default 5m).
	WarningLead time.Duration

	// PostEventDelay is the pause after the nominal event time before the
	// update job fires, giving the source time to begin publishing.
	PostEventDelay time.Duration

	// PollInterval and MaxWait bound the publication polling loop.
	PollInterval time.Duration
	MaxWait      time.Duration

	// AlertChannel receives summaries, warnings, and updates.
	AlertChannel string

	// RefreshTime is the daily refresh clock time "HH:MM", used for the
	// startup catch-up decision.
	RefreshTime string

	// RefreshJobID is the daily refresh job's id, excluded from the sweep
	// of stale per-group jobs.
	RefreshJobID string
}

// Orchestrator fetches the day's economic events, groups them by nominal
// publication time, and manages the warning/update job pair per group.
type Orchestrator struct {
	logger   *zap.Logger
	sched    *scheduler.Scheduler
	source   CalendarSource
	notifier notify.Notifier
	opts     Options
	nowFunc  func() time.Time
}

// New creates an orchestrator with injected collaborators.
func New(logger *zap.Logger, sched *scheduler.Scheduler, source CalendarSource, notifier notify.Notifier, opts Options) *Orchestrator {
	if opts.WarningLead <= 0 {
		opts.WarningLead = 5 * time.Minute
	}
	if opts.PostEventDelay <= 0 {
		opts.PostEventDelay = 3 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 60 * time.Second
	}

	return &Orchestrator{
		logger:   logger.Named("economic"),
		sched:    sched,
		source:   source,
		notifier: notifier,
		opts:     opts,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.nowFunc != nil {
		return o.nowFunc()
	}
	return o.sched.Now()
}

func (o *Orchestrator) today() string {
	return o.now().Format(market.DateFormat)
}

// Register registers the orchestrator's handlers on the scheduler.
func (o *Orchestrator) Register() {
	o.sched.RegisterHandler(RefreshHandlerName, scheduler.HandlerFunc(
		func(ctx context.Context, _ *model.Job) error {
			return o.Refresh(ctx)
		}))
	o.sched.RegisterHandler(WarningHandlerName, scheduler.HandlerFunc(o.runWarning))
	o.sched.RegisterHandler(UpdateHandlerName, scheduler.HandlerFunc(o.runUpdate))
}

// CatchUp runs one refresh pass at startup when the daily refresh time has
// already passed, so a mid-day restart still schedules today's alerts.
func (o *Orchestrator) CatchUp(ctx context.Context) error {
	refresh, err := time.Parse(market.ClockFormat, o.opts.RefreshTime)
	if err != nil {
		return fmt.Errorf("invalid refresh time %q: %w", o.opts.RefreshTime, err)
	}

	now := o.now()
	nowMinutes := now.Hour()*60 + now.Minute()
	refreshMinutes := refresh.Hour()*60 + refresh.Minute()

	if nowMinutes < refreshMinutes {
		o.logger.Info("Startup before daily refresh time, waiting for cron",
			zap.String("refresh_time", o.opts.RefreshTime))
		return nil
	}

	o.logger.Info("Startup after daily refresh time, running catch-up refresh")
	return o.Refresh(ctx)
}

// Refresh is the daily pass: fetch today's events, announce them, and
// (re)schedule the warning/update pair for every distinct event time.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	events, err := o.source.FetchEvents(ctx, o.today())
	if err != nil {
		// Recovered locally: a dead source today must not fail the job chain.
		o.logger.Error("Failed to fetch economic calendar", zap.Error(err))
		return nil
	}
	if len(events) == 0 {
		o.logger.Warn("No economic calendar data received")
		return nil
	}

	o.sendSummary(ctx, events)

	groups := model.GroupEventsByTime(events)
	o.logger.Info("Economic calendar fetched",
		zap.Int("events", len(events)),
		zap.Int("time_groups", len(groups)))

	o.removeStaleJobs()

	now := o.now()
	for _, group := range groups {
		if err := o.scheduleGroup(now, group); err != nil {
			// One group's failure must not abort the others.
			o.logger.Error("Failed to schedule event group",
				zap.String("time", group.Time),
				zap.Error(err))
		}
	}
	return nil
}

// removeStaleJobs drops previously scheduled per-group jobs so a second
// refresh in one day cannot produce duplicate alerts.
func (o *Orchestrator) removeStaleJobs() {
	for _, job := range o.sched.ListJobs() {
		if !strings.HasPrefix(job.ID, jobIDPrefix) || job.ID == o.opts.RefreshJobID {
			continue
		}
		o.sched.RemoveJob(job.ID)
	}
}

// scheduleGroup submits the warning/update pair for one event time. Either
// job is skipped when its own trigger is already in the past; the two
// decisions are independent.
func (o *Orchestrator) scheduleGroup(now time.Time, group model.EventTimeGroup) error {
	eventTime, err := market.CombineClock(now, group.Time)
	if err != nil {
		return fmt.Errorf("invalid event time %q: %w", group.Time, err)
	}

	payload, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("failed to marshal event group: %w", err)
	}

	warningAt := eventTime.Add(-o.opts.WarningLead)
	if warningAt.After(now) {
		if err := o.sched.Upsert(&model.Job{
			ID:            WarningJobID(group.Time),
			Kind:          model.JobKindDate,
			RunAt:         warningAt,
			Handler:       WarningHandlerName,
			Payload:       payload,
			AlertOnResult: true,
		}); err != nil {
			return err
		}
	}

	updateAt := eventTime.Add(o.opts.PostEventDelay)
	if updateAt.After(now) {
		if err := o.sched.Upsert(&model.Job{
			ID:            UpdateJobID(group.Time),
			Kind:          model.JobKindDate,
			RunAt:         updateAt,
			Handler:       UpdateHandlerName,
			Payload:       payload,
			AlertOnResult: true,
		}); err != nil {
			return err
		}
	}

	return nil
}

// runWarning sends the "coming up" notification for a group.
func (o *Orchestrator) runWarning(ctx context.Context, job *model.Job) error {
	var group model.EventTimeGroup
	if err := json.Unmarshal(job.Payload, &group); err != nil {
		return fmt.Errorf("failed to unmarshal event group: %w", err)
	}
	if len(group.Events) == 0 {
		o.logger.Info("No events in warning group", zap.String("time", group.Time))
		return nil
	}

	message := fmt.Sprintf("Events coming up at %s: %s",
		group.Time, strings.Join(group.Descriptions(), ", "))

	return o.send(ctx, &model.Alert{
		Severity: model.AlertSeverityWarning,
		Title:    "Economic Events Warning",
		Message:  message,
		Data:     map[string]interface{}{"time": group.Time},
	})
}

// runUpdate polls the source until the group's indicators publish (or the
// wait budget runs out), then sends the update notification.
func (o *Orchestrator) runUpdate(ctx context.Context, job *model.Job) error {
	var group model.EventTimeGroup
	if err := json.Unmarshal(job.Payload, &group); err != nil {
		return fmt.Errorf("failed to unmarshal event group: %w", err)
	}

	final, ok := o.awaitPublication(ctx, group)
	if !ok {
		o.logger.Info("No update data for event group", zap.String("time", group.Time))
		return nil
	}

	message := fmt.Sprintf("Economic events update for %s:\n%s",
		final.Time, FormatEvents(final.Events))

	return o.send(ctx, &model.Alert{
		Severity: model.AlertSeverityInfo,
		Title:    "Economic Events Update",
		Message:  message,
		Data:     map[string]interface{}{"time": final.Time},
	})
}

// awaitPublication re-fetches the calendar every poll interval until no
// event in the group still lacks its actual value after having a previous
// one. The loop proceeds with partial data on timeout; it never blocks
// indefinitely.
func (o *Orchestrator) awaitPublication(ctx context.Context, group model.EventTimeGroup) (model.EventTimeGroup, bool) {
	deadline := o.now().Add(o.opts.MaxWait)
	current := group

	for {
		events, err := o.source.FetchEvents(ctx, o.today())
		if err != nil {
			o.logger.Warn("Calendar fetch failed during update poll",
				zap.String("time", group.Time),
				zap.Error(err))
		} else if len(events) == 0 {
			o.logger.Warn("No economic calendar data for update",
				zap.String("time", group.Time))
			return current, false
		} else {
			current = filterGroup(events, group.Time)
			if len(current.Pending()) == 0 {
				o.logger.Info("Event group settled",
					zap.String("time", group.Time))
				return current, len(current.Events) > 0
			}
		}

		if !o.now().Before(deadline) {
			o.logger.Warn("Timeout waiting for event data, proceeding with partial data",
				zap.String("time", group.Time),
				zap.Duration("max_wait", o.opts.MaxWait))
			return current, len(current.Events) > 0
		}

		select {
		case <-ctx.Done():
			return current, len(current.Events) > 0
		case <-time.After(o.opts.PollInterval):
		}
	}
}

// sendSummary announces the whole day's calendar on the alert channel.
func (o *Orchestrator) sendSummary(ctx context.Context, events []model.EconomicEvent) {
	alert := &model.Alert{
		Severity: model.AlertSeverityInfo,
		Title:    "Economic Events For Today",
		Message:  FormatEvents(events),
		Data:     map[string]interface{}{"count": len(events)},
	}
	if err := o.send(ctx, alert); err != nil {
		o.logger.Error("Failed to send daily summary", zap.Error(err))
	}
}

func (o *Orchestrator) send(ctx context.Context, alert *model.Alert) error {
	if o.notifier == nil {
		return nil
	}
	return o.notifier.Notify(ctx, o.opts.AlertChannel, alert)
}

// filterGroup rebuilds a group from a fresh event list.
func filterGroup(events []model.EconomicEvent, timeStr string) model.EventTimeGroup {
	group := model.EventTimeGroup{Time: timeStr}
	for _, e := range events {
		if e.Time == timeStr {
			group.Events = append(group.Events, e)
		}
	}
	return group
}

// WarningJobID returns the warning job id for a "HH:MM" group time.
func WarningJobID(timeStr string) string {
	return jobIDPrefix + "warning_" + sanitizeTime(timeStr)
}

// UpdateJobID returns the update job id for a "HH:MM" group time.
func UpdateJobID(timeStr string) string {
	return jobIDPrefix + "update_" + sanitizeTime(timeStr)
}

func sanitizeTime(timeStr string) string {
	return strings.ReplaceAll(timeStr, ":", "_")
}
