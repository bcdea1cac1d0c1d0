package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"camguard/internal/config"
	"camguard/internal/model"
)

// KafkaNotifier publishes notification events keyed by camera id, for
// downstream consumers (SIEM, ticketing) that subscribe to the alert topic.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(cfg config.KafkaConfig) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (n *KafkaNotifier) Send(ctx context.Context, req model.NotificationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.CameraID),
		Value: payload,
		Time:  req.Timestamp,
	})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
