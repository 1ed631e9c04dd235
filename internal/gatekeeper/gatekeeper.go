package gatekeeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/market"
	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/notify"
	"github.com/tickerwatch/scheduler/internal/scheduler"
)

// Job and handler names. The one-off ids are deliberately date-independent:
// a gatekeeper re-run before they fire replaces them instead of stacking
// duplicates for the same day.
const (
	JobID = "daily_gatekeeper"

	MorningReportJobID   = "morning_report_today"
	EveningReportJobID   = "evening_report_today"
	EconomicRefreshJobID = "economic_refresh_today"

	HandlerName              = "daily_gatekeeper"
	MorningReportHandlerName = "morning_report"
	EveningReportHandlerName = "evening_report"
)

const (
	preMarketLead   = 30 * time.Minute
	postMarketDelay = time.Minute
)

// ReportRunner is the report-pipeline collaborator invoked by the morning
// and evening one-off jobs.
type ReportRunner interface {
	MorningReport(ctx context.Context) error
	EveningReport(ctx context.Context) error
}

// Options configures a Gatekeeper.
type Options struct {
	// SetupTime is the daily gatekeeper fire time, "HH:MM".
	SetupTime string

	// EconomicRefreshTime is the fixed daily economic refresh time, "HH:MM".
	EconomicRefreshTime string

	// EconomicRefreshHandler is the handler name the refresh job is bound to.
	EconomicRefreshHandler string

	// AlertChannel receives holiday notices.
	AlertChannel string
}

// Gatekeeper is the daily control job: it decides whether today is a
// trading day and idempotently schedules the day's one-off jobs.
type Gatekeeper struct {
	logger   *zap.Logger
	sched    *scheduler.Scheduler
	calc     *market.Calculator
	notifier notify.Notifier
	reports  ReportRunner
	opts     Options
	nowFunc  func() time.Time
}

// New creates a gatekeeper. All collaborators are injected; the gatekeeper
// holds no global state.
func New(logger *zap.Logger, sched *scheduler.Scheduler, calc *market.Calculator, notifier notify.Notifier, reports ReportRunner, opts Options) *Gatekeeper {
	return &Gatekeeper{
		logger:   logger.Named("gatekeeper"),
		sched:    sched,
		calc:     calc,
		notifier: notifier,
		reports:  reports,
		opts:     opts,
	}
}

// now resolves the current time in the scheduler's timezone.
func (g *Gatekeeper) now() time.Time {
	if g.nowFunc != nil {
		return g.nowFunc()
	}
	return g.sched.Now()
}

// Register registers the gatekeeper's handlers and its daily cron job.
func (g *Gatekeeper) Register() error {
	g.sched.RegisterHandler(HandlerName, scheduler.HandlerFunc(
		func(ctx context.Context, _ *model.Job) error {
			return g.Run(ctx)
		}))
	g.sched.RegisterHandler(MorningReportHandlerName, scheduler.HandlerFunc(
		func(ctx context.Context, _ *model.Job) error {
			return g.reports.MorningReport(ctx)
		}))
	g.sched.RegisterHandler(EveningReportHandlerName, scheduler.HandlerFunc(
		func(ctx context.Context, _ *model.Job) error {
			return g.reports.EveningReport(ctx)
		}))

	expr, err := cronExprForClock(g.opts.SetupTime)
	if err != nil {
		return fmt.Errorf("invalid daily setup time: %w", err)
	}
	return g.sched.AddCronJob(JobID, HandlerName, expr, nil)
}

// CatchUp runs one gatekeeper pass at startup when the daily setup time has
// already passed, so a mid-day restart still sets up today's jobs.
func (g *Gatekeeper) CatchUp(ctx context.Context) error {
	setup, err := time.Parse(market.ClockFormat, g.opts.SetupTime)
	if err != nil {
		return fmt.Errorf("invalid daily setup time %q: %w", g.opts.SetupTime, err)
	}

	now := g.now()
	nowMinutes := now.Hour()*60 + now.Minute()
	setupMinutes := setup.Hour()*60 + setup.Minute()

	if nowMinutes < setupMinutes {
		g.logger.Info("Startup before daily setup time, waiting for cron",
			zap.String("setup_time", g.opts.SetupTime))
		return nil
	}

	g.logger.Info("Startup after daily setup time, running catch-up pass")
	return g.Run(ctx)
}

// Run executes one gatekeeper pass for "today".
func (g *Gatekeeper) Run(ctx context.Context) error {
	g.logger.Info("Daily gatekeeper starting")

	days, err := g.calc.ForNextQuarter(ctx)
	if err != nil {
		return fmt.Errorf("failed to load market schedule: %w", err)
	}

	now := g.now()
	today := now.Format(market.DateFormat)

	day, ok := market.FindDay(days, today)
	if !ok {
		// Not an error: the schedule simply does not list today.
		g.logger.Info("Today is not a market day, skipping task setup",
			zap.String("date", today))
		return nil
	}

	if day.Holiday != "" {
		g.logger.Info("Holiday detected",
			zap.String("date", today),
			zap.String("holiday", day.Holiday))

		if !day.IsTradingDay() {
			return g.fullHoliday(ctx, day)
		}
		g.notifyHoliday(ctx, day, "Market closes early today")
	}

	// Weekends keep their row in the schedule table with no session bounds.
	if !day.IsTradingDay() {
		g.logger.Info("Today is not a market day, skipping task setup",
			zap.String("date", today),
			zap.Bool("weekend", day.IsWeekend))
		return nil
	}

	return g.scheduleTradingDay(ctx, now, day)
}

// fullHoliday handles a day where the market never opens. The notice is
// always sent; a silent no-op would leave subscribers guessing why no
// alerts arrived.
func (g *Gatekeeper) fullHoliday(ctx context.Context, day *model.MarketDay) error {
	g.notifyHoliday(ctx, day, "Market is closed today")
	g.logger.Info("Full holiday, no tasks scheduled", zap.String("holiday", day.Holiday))
	return nil
}

func (g *Gatekeeper) notifyHoliday(ctx context.Context, day *model.MarketDay, message string) {
	if g.notifier == nil {
		return
	}
	alert := &model.Alert{
		Severity: model.AlertSeverityInfo,
		Title:    "Market Holiday",
		Message:  fmt.Sprintf("%s: %s", message, day.Holiday),
		Data:     map[string]interface{}{"date": day.Date},
	}
	if err := g.notifier.Notify(ctx, g.opts.AlertChannel, alert); err != nil {
		g.logger.Error("Failed to send holiday notice", zap.Error(err))
	}
}

// scheduleTradingDay submits the day's three one-off jobs.
func (g *Gatekeeper) scheduleTradingDay(ctx context.Context, now time.Time, day *model.MarketDay) error {
	open, err := market.CombineClock(now, *day.OpenTime)
	if err != nil {
		return fmt.Errorf("invalid open time %q: %w", *day.OpenTime, err)
	}
	if day.CloseTime == nil {
		return fmt.Errorf("market day %s has open time but no close time", day.Date)
	}
	close, err := market.CombineClock(now, *day.CloseTime)
	if err != nil {
		return fmt.Errorf("invalid close time %q: %w", *day.CloseTime, err)
	}
	refresh, err := market.CombineClock(now, g.opts.EconomicRefreshTime)
	if err != nil {
		return fmt.Errorf("invalid economic refresh time: %w", err)
	}

	preMarket := open.Add(-preMarketLead)
	postMarket := close.Add(postMarketDelay)

	g.logger.Info("Scheduling trading day tasks",
		zap.String("date", day.Date),
		zap.Time("morning_report", preMarket),
		zap.Time("evening_report", postMarket),
		zap.Time("economic_refresh", refresh))

	if err := g.sched.AddDateJob(MorningReportJobID, MorningReportHandlerName, preMarket, nil); err != nil {
		g.logger.Error("Failed to schedule morning report", zap.Error(err))
	}
	if err := g.sched.AddDateJob(EveningReportJobID, EveningReportHandlerName, postMarket, nil); err != nil {
		g.logger.Error("Failed to schedule evening report", zap.Error(err))
	}
	if err := g.sched.AddDateJob(EconomicRefreshJobID, g.opts.EconomicRefreshHandler, refresh, nil); err != nil {
		g.logger.Error("Failed to schedule economic refresh", zap.Error(err))
	}

	return nil
}

// cronExprForClock converts "HH:MM" into a once-a-day cron expression.
func cronExprForClock(clock string) (string, error) {
	t, err := time.Parse(market.ClockFormat, clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
