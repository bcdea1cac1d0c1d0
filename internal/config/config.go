package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Inspection InspectionConfig `json:"inspection" yaml:"inspection"`
	Fleet      FleetConfig      `json:"fleet" yaml:"fleet"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Baseline   BaselineConfig   `json:"baseline" yaml:"baseline"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

// InspectionConfig is snapshotted at run start and passed by value through
// the run; edits take effect on the next run, never mid-run.
type InspectionConfig struct {
	Interval             time.Duration `json:"interval" yaml:"interval"`
	ProbeTimeout         time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	FrameBurst           int           `json:"frame_burst" yaml:"frame_burst"`
	PoolSize             int           `json:"pool_size" yaml:"pool_size"`
	OfflineThreshold     time.Duration `json:"offline_threshold" yaml:"offline_threshold"`
	FPSDropThresholdPct  float64       `json:"fps_drop_threshold_pct" yaml:"fps_drop_threshold_pct"`
	LatencyThreshold     time.Duration `json:"latency_threshold" yaml:"latency_threshold"`
	ViewChangeThreshold  float64       `json:"view_change_threshold" yaml:"view_change_threshold"`
	KeypointMatchCutoff  float64       `json:"keypoint_match_cutoff" yaml:"keypoint_match_cutoff"`
	MinBaselineKeypoints int           `json:"min_baseline_keypoints" yaml:"min_baseline_keypoints"`
	RetentionWindow      time.Duration `json:"retention_window" yaml:"retention_window"`
}

type FleetConfig struct {
	Source  string         `json:"source" yaml:"source"`
	Cameras []CameraConfig `json:"cameras" yaml:"cameras"`
}

type CameraConfig struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	StreamURL   string  `json:"stream_url" yaml:"stream_url"`
	HubID       string  `json:"hub_id" yaml:"hub_id"`
	ExpectedFPS float64 `json:"expected_fps" yaml:"expected_fps"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type BaselineConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

type NotifyConfig struct {
	Recipients []string      `json:"recipients" yaml:"recipients"`
	Email      EmailConfig   `json:"email" yaml:"email"`
	Webhook    WebhookConfig `json:"webhook" yaml:"webhook"`
	Kafka      KafkaConfig   `json:"kafka" yaml:"kafka"`
	MQTT       MQTTConfig    `json:"mqtt" yaml:"mqtt"`
}

type EmailConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	From     string `json:"from" yaml:"from"`
	FromName string `json:"from_name" yaml:"from_name"`
}

type WebhookConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URL     string        `json:"url" yaml:"url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Topic    string `json:"topic" yaml:"topic"`
	Username string `json:"username" yaml:"username"`
}

type AlertsConfig struct {
	StoreLimit        int                      `json:"store_limit" yaml:"store_limit"`
	DefaultCooldown   time.Duration            `json:"default_cooldown" yaml:"default_cooldown"`
	Cooldowns         map[string]time.Duration `json:"cooldowns" yaml:"cooldowns"`
	SeverityOverrides map[string]string        `json:"severity_overrides" yaml:"severity_overrides"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Inspection: InspectionConfig{
			Interval:             60 * time.Minute,
			ProbeTimeout:         10 * time.Second,
			FrameBurst:           30,
			PoolSize:             4,
			OfflineThreshold:     5 * time.Minute,
			FPSDropThresholdPct:  0.5,
			LatencyThreshold:     2 * time.Second,
			ViewChangeThreshold:  0.7,
			KeypointMatchCutoff:  0.3,
			MinBaselineKeypoints: 12,
			RetentionWindow:      7 * 24 * time.Hour,
		},
		Fleet:    FleetConfig{Source: "static"},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Storage:  StorageConfig{Driver: "sqlite", DSN: "file:camguard.db?_pragma=busy_timeout(5000)"},
		Baseline: BaselineConfig{Dir: "baselines"},
		Notify: NotifyConfig{
			Webhook: WebhookConfig{Timeout: 5 * time.Second},
		},
		Alerts: AlertsConfig{
			StoreLimit:      1000,
			DefaultCooldown: 30 * time.Minute,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Inspection.Interval <= 0 {
		cfg.Inspection.Interval = def.Inspection.Interval
	}
	if cfg.Inspection.ProbeTimeout <= 0 {
		cfg.Inspection.ProbeTimeout = def.Inspection.ProbeTimeout
	}
	if cfg.Inspection.FrameBurst <= 0 {
		cfg.Inspection.FrameBurst = def.Inspection.FrameBurst
	}
	if cfg.Inspection.PoolSize <= 0 {
		cfg.Inspection.PoolSize = def.Inspection.PoolSize
	}
	if cfg.Inspection.OfflineThreshold <= 0 {
		cfg.Inspection.OfflineThreshold = def.Inspection.OfflineThreshold
	}
	if cfg.Inspection.FPSDropThresholdPct <= 0 {
		cfg.Inspection.FPSDropThresholdPct = def.Inspection.FPSDropThresholdPct
	}
	if cfg.Inspection.LatencyThreshold <= 0 {
		cfg.Inspection.LatencyThreshold = def.Inspection.LatencyThreshold
	}
	if cfg.Inspection.ViewChangeThreshold <= 0 {
		cfg.Inspection.ViewChangeThreshold = def.Inspection.ViewChangeThreshold
	}
	if cfg.Inspection.KeypointMatchCutoff <= 0 {
		cfg.Inspection.KeypointMatchCutoff = def.Inspection.KeypointMatchCutoff
	}
	if cfg.Inspection.MinBaselineKeypoints <= 0 {
		cfg.Inspection.MinBaselineKeypoints = def.Inspection.MinBaselineKeypoints
	}
	if cfg.Inspection.RetentionWindow <= 0 {
		cfg.Inspection.RetentionWindow = def.Inspection.RetentionWindow
	}
	if cfg.Fleet.Source == "" {
		cfg.Fleet.Source = "static"
	}
	if cfg.Baseline.Dir == "" {
		cfg.Baseline.Dir = def.Baseline.Dir
	}
	if cfg.Notify.Webhook.Timeout <= 0 {
		cfg.Notify.Webhook.Timeout = def.Notify.Webhook.Timeout
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Alerts.DefaultCooldown <= 0 {
		cfg.Alerts.DefaultCooldown = def.Alerts.DefaultCooldown
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Inspection.FPSDropThresholdPct <= 0 || cfg.Inspection.FPSDropThresholdPct > 1 {
		return errors.New("inspection.fps_drop_threshold_pct must be in (0,1]")
	}
	if cfg.Inspection.ViewChangeThreshold <= 0 || cfg.Inspection.ViewChangeThreshold > 1 {
		return errors.New("inspection.view_change_threshold must be in (0,1]")
	}
	if cfg.Inspection.KeypointMatchCutoff <= 0 || cfg.Inspection.KeypointMatchCutoff > 1 {
		return errors.New("inspection.keypoint_match_cutoff must be in (0,1]")
	}
	switch strings.ToLower(cfg.Fleet.Source) {
	case "static":
		seen := make(map[string]struct{}, len(cfg.Fleet.Cameras))
		for _, cam := range cfg.Fleet.Cameras {
			if cam.ID == "" || cam.StreamURL == "" {
				return errors.New("fleet.cameras entries require id and stream_url")
			}
			if _, dup := seen[cam.ID]; dup {
				return fmt.Errorf("fleet.cameras contains duplicate id: %s", cam.ID)
			}
			seen[cam.ID] = struct{}{}
		}
	case "sql":
		if cfg.Storage.DSN == "" {
			return errors.New("fleet.source sql requires storage.dsn")
		}
	default:
		return fmt.Errorf("unsupported fleet.source: %s", cfg.Fleet.Source)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported storage.driver: %s", cfg.Storage.Driver)
	}
	if cfg.Notify.Email.Enabled && cfg.Notify.Email.From == "" {
		return errors.New("notify.email.from required when notify.email.enabled is true")
	}
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL == "" {
		return errors.New("notify.webhook.url required when notify.webhook.enabled is true")
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers and topic")
		}
	}
	if cfg.Notify.MQTT.Enabled {
		if cfg.Notify.MQTT.Broker == "" || cfg.Notify.MQTT.Topic == "" {
			return errors.New("notify.mqtt requires broker and topic")
		}
	}
	for name := range cfg.Alerts.Cooldowns {
		if !knownAlertType(name) {
			return fmt.Errorf("alerts.cooldowns contains unknown alert type: %s", name)
		}
	}
	for name, sev := range cfg.Alerts.SeverityOverrides {
		if !knownAlertType(name) {
			return fmt.Errorf("alerts.severity_overrides contains unknown alert type: %s", name)
		}
		switch strings.ToLower(sev) {
		case "info", "warning", "critical":
		default:
			return fmt.Errorf("alerts.severity_overrides[%s] has unknown severity: %s", name, sev)
		}
	}
	return nil
}

func knownAlertType(name string) bool {
	switch name {
	case "offline", "fps_drop", "view_change", "quality_degradation", "network_issue":
		return true
	}
	return false
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
