package gatekeeper

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/market"
	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/scheduler"
	"github.com/tickerwatch/scheduler/internal/storage"
)

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (f *fakeNotifier) Notify(ctx context.Context, channel string, alert *model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) find(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if strings.Contains(a.Message, substr) {
			return true
		}
	}
	return false
}

type fakeReports struct{}

func (fakeReports) MorningReport(ctx context.Context) error { return nil }
func (fakeReports) EveningReport(ctx context.Context) error { return nil }

type fakeHolidaySource struct {
	holidays []model.HolidayEvent
	calls    int
}

func (f *fakeHolidaySource) FetchHolidays(ctx context.Context, from, to string) ([]model.HolidayEvent, error) {
	f.calls++
	return f.holidays, nil
}

// nextTradingBase returns a weekday at the given clock time, at least two
// days in the future so every derived trigger stays ahead of the wall clock.
func nextTradingBase(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	d := time.Now().AddDate(0, 0, 2)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, hour, minute, 0, 0, time.Local)
}

// sessionDelta is the target-minus-source offset the calculator applies on
// the base date.
func sessionDelta(t *testing.T, base time.Time) time.Duration {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	y, m, d := base.Date()
	_, targetOff := time.Date(y, m, d, 12, 0, 0, 0, time.Local).Zone()
	_, sourceOff := time.Date(y, m, d, 12, 0, 0, 0, ny).Zone()
	return time.Duration(targetOff-sourceOff) * time.Second
}

type fixture struct {
	sched    *scheduler.Scheduler
	keeper   *Gatekeeper
	notifier *fakeNotifier
	source   *fakeHolidaySource
}

func newFixture(t *testing.T, holidays []model.HolidayEvent, now time.Time) *fixture {
	t.Helper()
	logger := zap.NewNop()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewScheduleStore(db, logger)
	require.NoError(t, err)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	source := &fakeHolidaySource{holidays: holidays}
	calc := market.NewCalculator(logger, store, source, market.Options{
		Target: time.Local,
		Source: ny,
	})

	sched := scheduler.New(logger, scheduler.Options{Location: time.Local})
	sched.RegisterHandler("economic_refresh", scheduler.HandlerFunc(
		func(ctx context.Context, _ *model.Job) error { return nil }))

	notifier := &fakeNotifier{}
	keeper := New(logger, sched, calc, notifier, fakeReports{}, Options{
		SetupTime:              "07:58",
		EconomicRefreshTime:    "08:00",
		EconomicRefreshHandler: "economic_refresh",
		AlertChannel:           "events",
	})
	keeper.nowFunc = func() time.Time { return now }
	require.NoError(t, keeper.Register())

	return &fixture{sched: sched, keeper: keeper, notifier: notifier, source: source}
}

func TestGatekeeperRun(t *testing.T) {
	t.Run("Trading Day Schedules Three Jobs", func(t *testing.T) {
		base := nextTradingBase(t, 7, 58)
		f := newFixture(t, nil, base)

		require.NoError(t, f.keeper.Run(context.Background()))

		delta := sessionDelta(t, base)
		y, m, d := base.Date()
		open := time.Date(y, m, d, 9, 30, 0, 0, time.Local).Add(delta)
		close := time.Date(y, m, d, 16, 0, 0, 0, time.Local).Add(delta)

		morning, ok := f.sched.GetJob(MorningReportJobID)
		require.True(t, ok)
		assert.True(t, morning.RunAt.Equal(open.Add(-preMarketLead)),
			"morning report fires thirty minutes before open")

		evening, ok := f.sched.GetJob(EveningReportJobID)
		require.True(t, ok)
		assert.True(t, evening.RunAt.Equal(close.Add(postMarketDelay)),
			"evening report fires one minute after close")

		refresh, ok := f.sched.GetJob(EconomicRefreshJobID)
		require.True(t, ok)
		assert.Equal(t, time.Date(y, m, d, 8, 0, 0, 0, time.Local).Unix(), refresh.RunAt.Unix())
	})

	t.Run("Rerun Replaces Instead Of Duplicating", func(t *testing.T) {
		base := nextTradingBase(t, 7, 58)
		f := newFixture(t, nil, base)

		require.NoError(t, f.keeper.Run(context.Background()))
		before := len(f.sched.ListJobs())

		require.NoError(t, f.keeper.Run(context.Background()))
		assert.Equal(t, before, len(f.sched.ListJobs()))
	})

	t.Run("Weekend Skips Without Failing", func(t *testing.T) {
		base := nextTradingBase(t, 7, 58)
		for base.Weekday() != time.Saturday {
			base = base.AddDate(0, 0, 1)
		}
		f := newFixture(t, nil, base)

		require.NotPanics(t, func() {
			require.NoError(t, f.keeper.Run(context.Background()))
		})

		_, ok := f.sched.GetJob(MorningReportJobID)
		assert.False(t, ok)
		_, ok = f.sched.GetJob(EveningReportJobID)
		assert.False(t, ok)
		_, ok = f.sched.GetJob(EconomicRefreshJobID)
		assert.False(t, ok)
		f.notifier.mu.Lock()
		assert.Empty(t, f.notifier.alerts)
		f.notifier.mu.Unlock()
	})

	t.Run("Beyond Horizon Skips Quietly", func(t *testing.T) {
		base := nextTradingBase(t, 7, 58).AddDate(0, 0, 200)
		f := newFixture(t, nil, base)

		require.NoError(t, f.keeper.Run(context.Background()))

		_, ok := f.sched.GetJob(MorningReportJobID)
		assert.False(t, ok)
		f.notifier.mu.Lock()
		assert.Empty(t, f.notifier.alerts)
		f.notifier.mu.Unlock()
	})

	t.Run("Full Holiday Notifies And Schedules Nothing", func(t *testing.T) {
		base := nextTradingBase(t, 7, 58)
		f := newFixture(t, []model.HolidayEvent{
			{Date: base.Format(market.DateFormat), Name: "Exchange Holiday", TimeSpec: model.HolidayTimeAllDay},
		}, base)

		require.NoError(t, f.keeper.Run(context.Background()))

		_, ok := f.sched.GetJob(MorningReportJobID)
		assert.False(t, ok)
		_, ok = f.sched.GetJob(EveningReportJobID)
		assert.False(t, ok)
		assert.True(t, f.notifier.find("Market is closed today"),
			"a full holiday must still produce a notice")
	})

	t.Run("Early Close Holiday Shifts Evening Report", func(t *testing.T) {
		base := nextTradingBase(t, 7, 58)
		f := newFixture(t, []model.HolidayEvent{
			{Date: base.Format(market.DateFormat), Name: "Half Day", TimeSpec: "13:00"},
		}, base)

		require.NoError(t, f.keeper.Run(context.Background()))

		assert.True(t, f.notifier.find("Market closes early today"))

		delta := sessionDelta(t, base)
		y, m, d := base.Date()
		earlyClose := time.Date(y, m, d, 13, 0, 0, 0, time.Local).Add(delta)

		evening, ok := f.sched.GetJob(EveningReportJobID)
		require.True(t, ok)
		assert.True(t, evening.RunAt.Equal(earlyClose.Add(postMarketDelay)))
	})
}

func TestGatekeeperCatchUp(t *testing.T) {
	t.Run("Before Setup Time Waits For Cron", func(t *testing.T) {
		base := nextTradingBase(t, 7, 0)
		f := newFixture(t, nil, base)

		require.NoError(t, f.keeper.CatchUp(context.Background()))
		assert.Zero(t, f.source.calls, "no schedule fetch before the setup window")
	})

	t.Run("After Setup Time Runs Immediately", func(t *testing.T) {
		base := nextTradingBase(t, 9, 0)
		f := newFixture(t, nil, base)

		require.NoError(t, f.keeper.CatchUp(context.Background()))

		_, ok := f.sched.GetJob(MorningReportJobID)
		assert.True(t, ok)
	})
}
