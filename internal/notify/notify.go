// Package notify delivers alert notifications. Delivery is best-effort: a
// failed channel is logged and retried by the collaborator on its own
// schedule; it never rolls back the alert record.
package notify

import (
	"context"
	"log/slog"

	"camguard/internal/config"
	"camguard/internal/model"
)

type Notifier interface {
	Send(ctx context.Context, req model.NotificationRequest) error
}

// Multi fans a request out to every enabled channel and reports the last
// failure; partial delivery is acceptable by contract.
type Multi struct {
	channels []Notifier
	logger   *slog.Logger
}

func NewMulti(logger *slog.Logger, channels ...Notifier) *Multi {
	return &Multi{channels: channels, logger: logger}
}

func (m *Multi) Send(ctx context.Context, req model.NotificationRequest) error {
	var last error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, req); err != nil {
			last = err
			if m.logger != nil {
				m.logger.Warn("notification delivery failed",
					"camera_id", req.CameraID,
					"severity", req.Severity,
					"err", err,
				)
			}
		}
	}
	return last
}

// NewFromConfig assembles the enabled channels.
func NewFromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Multi {
	var channels []Notifier
	if cfg.Email.Enabled {
		channels = append(channels, NewEmailNotifier(cfg.Email, logger))
	}
	if cfg.Webhook.Enabled {
		channels = append(channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Kafka.Enabled {
		channels = append(channels, NewKafkaNotifier(cfg.Kafka))
	}
	if cfg.MQTT.Enabled {
		channels = append(channels, NewMQTTNotifier(cfg.MQTT, logger))
	}
	if logger != nil {
		logger.Info("notification channels configured",
			"email", cfg.Email.Enabled,
			"webhook", cfg.Webhook.Enabled,
			"kafka", cfg.Kafka.Enabled,
			"mqtt", cfg.MQTT.Enabled,
		)
	}
	return NewMulti(logger, channels...)
}
