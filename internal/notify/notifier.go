package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
)

const (
	alertStreamName   = "ALERTS"
	alertSubjectRoot  = "alerts"
	alertStreamMaxAge = 24 * time.Hour
)

// Notifier delivers alerts to a named channel for downstream consumers.
// Implementations must be best-effort: a delivery failure is reported as an
// error but callers are expected to log and continue.
type Notifier interface {
	Notify(ctx context.Context, channel string, alert *model.Alert) error
}

// NATSNotifier publishes alerts as JSON to the alerts.<channel> subjects.
// The bot process consuming the stream renders them into user messages.
type NATSNotifier struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSNotifier creates the alert stream if needed and returns a notifier.
func NewNATSNotifier(js nats.JetStreamContext, logger *zap.Logger) (*NATSNotifier, error) {
	_, err := js.StreamInfo(alertStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = js.AddStream(&nats.StreamConfig{
			Name:     alertStreamName,
			Subjects: []string{alertSubjectRoot + ".*"},
			Storage:  nats.FileStorage,
			MaxAge:   alertStreamMaxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create alert stream: %w", err)
		}
		logger.Info("Created alert stream", zap.String("name", alertStreamName))
	}

	return &NATSNotifier{
		logger: logger.Named("notifier"),
		js:     js,
	}, nil
}

// Notify publishes an alert to alerts.<channel>.
func (n *NATSNotifier) Notify(ctx context.Context, channel string, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", alertSubjectRoot, channel)
	if _, err := n.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	n.logger.Debug("Alert published",
		zap.String("channel", channel),
		zap.String("severity", string(alert.Severity)),
		zap.String("title", alert.Title))

	return nil
}
