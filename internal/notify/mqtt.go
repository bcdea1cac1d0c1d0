package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"camguard/internal/config"
	"camguard/internal/model"
)

// MQTTNotifier publishes alerts to a broker topic, the usual path for
// on-site control rooms already listening on an MQTT bus. The connection is
// established lazily on first send and reused.
type MQTTNotifier struct {
	cfg    config.MQTTConfig
	logger *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTTNotifier(cfg config.MQTTConfig, logger *slog.Logger) *MQTTNotifier {
	return &MQTTNotifier{cfg: cfg, logger: logger}
}

func (n *MQTTNotifier) connect() (mqtt.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil && n.client.IsConnected() {
		return n.client, nil
	}
	clientID := n.cfg.ClientID
	if clientID == "" {
		clientID = "camguard-notify"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(n.cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if n.cfg.Username != "" {
		opts.SetUsername(n.cfg.Username)
		opts.SetPassword(os.Getenv("MQTT_PASSWORD"))
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	n.client = client
	return client, nil
}

func (n *MQTTNotifier) Send(ctx context.Context, req model.NotificationRequest) error {
	client, err := n.connect()
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s", n.cfg.Topic, req.CameraID)
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt publish timeout")
	}
	return token.Error()
}

func (n *MQTTNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(250)
	}
}
