package market

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/storage"
)

// DateFormat is the wire format for calendar dates.
const DateFormat = "2006-01-02"

// ClockFormat is the wire format for session times.
const ClockFormat = "15:04"

var clockPattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// CombineClock anchors a "HH:MM" clock string to the date of ref, in ref's
// location.
func CombineClock(ref time.Time, clock string) (time.Time, error) {
	t, err := time.Parse(ClockFormat, clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, ref.Location()), nil
}

// HolidaySource is the external holiday-calendar collaborator. It returns an
// empty slice on upstream failure rather than propagating transport errors.
type HolidaySource interface {
	FetchHolidays(ctx context.Context, from, to string) ([]model.HolidayEvent, error)
}

// Options configures a Calculator.
type Options struct {
	// Target is the application timezone the schedule is expressed in.
	Target *time.Location

	// Source is the exchange timezone the default session is defined in.
	Source *time.Location

	// OpenTime and CloseTime are the default session bounds in source-local
	// clock time ("09:30", "16:00").
	OpenTime  string
	CloseTime string

	// HorizonDays is the length of a computed schedule (default 90).
	HorizonDays int

	// RefreshDays triggers a recompute when the cached horizon's tail is
	// within this many days of now (default 30).
	RefreshDays int
}

// Calculator derives per-day trading-session bounds across timezones,
// weekends, and holiday exceptions, caching the result table.
type Calculator struct {
	logger   *zap.Logger
	store    *storage.ScheduleStore
	holidays HolidaySource
	opts     Options
	nowFunc  func() time.Time
}

// NewCalculator creates a calculator. The store is owned exclusively by the
// calculator; no other component writes the schedule table.
func NewCalculator(logger *zap.Logger, store *storage.ScheduleStore, holidays HolidaySource, opts Options) *Calculator {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 90
	}
	if opts.RefreshDays <= 0 {
		opts.RefreshDays = 30
	}
	if opts.OpenTime == "" {
		opts.OpenTime = "09:30"
	}
	if opts.CloseTime == "" {
		opts.CloseTime = "16:00"
	}

	return &Calculator{
		logger:   logger.Named("market"),
		store:    store,
		holidays: holidays,
		opts:     opts,
		nowFunc:  time.Now,
	}
}

// Compute produces one MarketDay per calendar date from start through end
// inclusive, in the target timezone.
func (c *Calculator) Compute(ctx context.Context, start, end time.Time) ([]model.MarketDay, error) {
	from := start.In(c.opts.Target).Format(DateFormat)
	to := end.In(c.opts.Target).Format(DateFormat)

	holidays, err := c.holidays.FetchHolidays(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch holiday calendar: %w", err)
	}
	holidayByDate := make(map[string]model.HolidayEvent, len(holidays))
	for _, h := range holidays {
		holidayByDate[h.Date] = h
	}

	var days []model.MarketDay
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, c.computeDay(d, holidayByDate))
	}
	return days, nil
}

// computeDay applies the per-date offset, the weekend rule, and the holiday
// overlay for a single date.
func (c *Calculator) computeDay(date time.Time, holidays map[string]model.HolidayEvent) model.MarketDay {
	day := model.MarketDay{Date: date.Format(DateFormat)}

	// The offset between the two timezones is taken on this specific date:
	// DST transitions shift each zone independently and on different days.
	delta := c.offsetDelta(date)

	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		day.IsWeekend = true
		return day
	}

	open := shiftClock(c.opts.OpenTime, delta)
	close := shiftClock(c.opts.CloseTime, delta)
	day.OpenTime = &open
	day.CloseTime = &close

	holiday, ok := holidays[day.Date]
	if !ok {
		return day
	}

	day.Holiday = holiday.Name
	switch {
	case holiday.TimeSpec == model.HolidayTimeAllDay:
		day.OpenTime = nil
		day.CloseTime = nil
	case clockPattern.MatchString(holiday.TimeSpec):
		early := shiftClock(holiday.TimeSpec, delta)
		day.CloseTime = &early
	default:
		c.logger.Error("Holiday with unparseable close time, keeping default session",
			zap.String("date", day.Date),
			zap.String("holiday", holiday.Name),
			zap.String("time", holiday.TimeSpec))
	}

	return day
}

// offsetDelta returns target-minus-source UTC offset measured at noon of the
// given date.
func (c *Calculator) offsetDelta(date time.Time) time.Duration {
	y, m, d := date.Date()

	_, targetOffset := time.Date(y, m, d, 12, 0, 0, 0, c.opts.Target).Zone()
	_, sourceOffset := time.Date(y, m, d, 12, 0, 0, 0, c.opts.Source).Zone()

	return time.Duration(targetOffset-sourceOffset) * time.Second
}

// shiftClock adds a delta to a "HH:MM" clock string, wrapping at midnight.
func shiftClock(clock string, delta time.Duration) string {
	t, err := time.Parse(ClockFormat, clock)
	if err != nil {
		return clock
	}
	return t.Add(delta).Format(ClockFormat)
}

// ForNextQuarter returns the schedule for the configured horizon starting
// today, reusing the cached table unless its tail is inside the refresh
// window.
func (c *Calculator) ForNextQuarter(ctx context.Context) ([]model.MarketDay, error) {
	lastDate, err := c.store.LastDate(ctx)
	if err != nil {
		return nil, err
	}

	now := c.nowFunc().In(c.opts.Target)
	refreshEdge := now.AddDate(0, 0, c.opts.RefreshDays).Format(DateFormat)

	if lastDate != "" && refreshEdge < lastDate {
		c.logger.Info("Using cached market schedule", zap.String("last_date", lastDate))
		return c.store.Load(ctx)
	}

	c.logger.Info("Computing market schedule",
		zap.Int("horizon_days", c.opts.HorizonDays))

	days, err := c.Compute(ctx, now, now.AddDate(0, 0, c.opts.HorizonDays))
	if err != nil {
		return nil, err
	}

	if err := c.store.Replace(ctx, days); err != nil {
		return nil, err
	}
	return days, nil
}

// FindDay returns the MarketDay for the given date string, if present.
func FindDay(days []model.MarketDay, date string) (*model.MarketDay, bool) {
	for i := range days {
		if days[i].Date == date {
			return &days[i], true
		}
	}
	return nil, false
}
