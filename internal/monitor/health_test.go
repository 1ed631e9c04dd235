package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/scheduler"
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

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := make([]string, 0, len(f.alerts))
	for _, a := range f.alerts {
		msgs = append(msgs, a.Message)
	}
	return msgs
}

func TestHealthMonitor(t *testing.T) {
	logger := zap.NewNop()
	sched := scheduler.New(logger, scheduler.Options{})

	t.Run("Within Thresholds Stays Quiet", func(t *testing.T) {
		notifier := &fakeNotifier{}
		m := New(logger, sched, notifier, Options{
			DevChannel: "dev",
			MaxCPU:     1000,
			MaxMemory:  1000,
		})

		require.NoError(t, m.Check(context.Background()))
		assert.Empty(t, notifier.messages())
	})

	t.Run("Exceeded Threshold Alerts", func(t *testing.T) {
		notifier := &fakeNotifier{}
		m := New(logger, sched, notifier, Options{
			DevChannel: "dev",
			MaxCPU:     -1, // any sample exceeds it
			MaxMemory:  1000,
		})

		require.NoError(t, m.Check(context.Background()))

		msgs := notifier.messages()
		require.NotEmpty(t, msgs)
		assert.True(t, strings.Contains(msgs[0], "CPU usage"))
	})

	t.Run("Register Adds Interval Job", func(t *testing.T) {
		m := New(logger, sched, &fakeNotifier{}, Options{DevChannel: "dev", MaxCPU: 1000, MaxMemory: 1000})
		require.NoError(t, m.Register(time.Minute))

		job, ok := sched.GetJob(JobID)
		require.True(t, ok)
		assert.Equal(t, model.JobKindInterval, job.Kind)
		assert.Equal(t, time.Minute, job.Every)
	})
}
