package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/testutil"
)

func TestNATSNotifier(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	logger := zap.NewNop()
	notifier, err := NewNATSNotifier(js, logger)
	require.NoError(t, err)

	t.Run("Creates Alert Stream", func(t *testing.T) {
		stream, err := js.StreamInfo("ALERTS")
		require.NoError(t, err)
		assert.Equal(t, []string{"alerts.*"}, stream.Config.Subjects)
	})

	t.Run("Second Notifier Reuses Stream", func(t *testing.T) {
		_, err := NewNATSNotifier(js, logger)
		assert.NoError(t, err)
	})

	t.Run("Publishes To Channel Subject", func(t *testing.T) {
		alert := &model.Alert{
			Severity: model.AlertSeverityWarning,
			Title:    "Economic Events Warning",
			Message:  "Events coming up at 15:30: CPI",
		}

		err := notifier.Notify(context.Background(), "events", alert)
		require.NoError(t, err)

		// Notify fills in the identity fields.
		assert.NotEmpty(t, alert.ID)
		assert.False(t, alert.CreatedAt.IsZero())

		messages, err := testutil.ConsumeMessages(js, "alerts.events", 2*time.Second)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		var received model.Alert
		require.NoError(t, json.Unmarshal(messages[0], &received))
		assert.Equal(t, alert.ID, received.ID)
		assert.Equal(t, model.AlertSeverityWarning, received.Severity)
		assert.Equal(t, "Events coming up at 15:30: CPI", received.Message)
	})

	t.Run("Channels Are Isolated", func(t *testing.T) {
		err := notifier.Notify(context.Background(), "dev", &model.Alert{
			Severity: model.AlertSeverityInfo,
			Title:    "Scheduler Alert",
			Message:  "daily_gatekeeper completed successfully",
		})
		require.NoError(t, err)

		messages, err := testutil.ConsumeMessages(js, "alerts.dev", 2*time.Second)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		var received model.Alert
		require.NoError(t, json.Unmarshal(messages[0], &received))
		assert.Equal(t, "daily_gatekeeper completed successfully", received.Message)
	})
}
