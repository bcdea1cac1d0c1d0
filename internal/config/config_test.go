package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "camguard.yaml", `
log_level: debug
inspection:
  interval: 15m
fleet:
  source: static
  cameras:
    - id: cam-01
      name: Lobby
      stream_url: rtsp://10.0.0.8/live
      expected_fps: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level %q", cfg.LogLevel)
	}
	if cfg.Inspection.Interval != 15*time.Minute {
		t.Fatalf("interval %v", cfg.Inspection.Interval)
	}
	// Untouched knobs keep their defaults.
	if cfg.Inspection.ProbeTimeout != 10*time.Second || cfg.Inspection.PoolSize != 4 {
		t.Fatalf("defaults not applied: %+v", cfg.Inspection)
	}
	if cfg.Alerts.DefaultCooldown != 30*time.Minute || cfg.Alerts.StoreLimit != 1000 {
		t.Fatalf("alert defaults not applied: %+v", cfg.Alerts)
	}
	if len(cfg.Fleet.Cameras) != 1 || cfg.Fleet.Cameras[0].ID != "cam-01" {
		t.Fatalf("fleet not decoded: %+v", cfg.Fleet)
	}
}

func TestLoadJSONByContent(t *testing.T) {
	path := writeConfig(t, "camguard.conf", `{"log_level":"warn","inspection":{"view_change_threshold":0.8}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Inspection.ViewChangeThreshold != 0.8 {
		t.Fatalf("json not decoded: %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad_threshold": "inspection:\n  fps_drop_threshold_pct: 1.5\n",
		"bad_driver":    "storage:\n  driver: oracle\n",
		"bad_source":    "fleet:\n  source: ldap\n",
		"dup_camera": `fleet:
  source: static
  cameras:
    - {id: cam-01, stream_url: "rtsp://a/1"}
    - {id: cam-01, stream_url: "rtsp://a/2"}
`,
		"bad_cooldown_type": "alerts:\n  cooldowns:\n    lens_flare: 5m\n",
		"bad_severity":      "alerts:\n  severity_overrides:\n    offline: fatal\n",
		"kafka_no_brokers":  "notify:\n  kafka:\n    enabled: true\n",
	}
	for name, content := range cases {
		path := writeConfig(t, name+".yaml", content)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "error"
	cfg.Inspection.Interval = 5 * time.Minute
	cfg.Alerts.Cooldowns = map[string]time.Duration{"offline": time.Hour}

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.LogLevel != "error" || got.Inspection.Interval != 5*time.Minute {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Alerts.Cooldowns["offline"] != time.Hour {
		t.Fatalf("cooldowns lost: %+v", got.Alerts.Cooldowns)
	}
}

func TestManagerReloadOnChange(t *testing.T) {
	path := writeConfig(t, "camguard.yaml", "log_level: info\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().LogLevel != "info" {
		t.Fatalf("initial config: %+v", m.Get())
	}

	needs, err := m.NeedsReload()
	if err != nil || needs {
		t.Fatalf("unexpected reload need: %v %v", needs, err)
	}

	// Backdate the recorded mtime instead of sleeping for a tick.
	m.modTime = m.modTime.Add(-time.Hour)
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	needs, err = m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("expected reload need: %v %v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "debug" || m.Get().LogLevel != "debug" {
		t.Fatalf("reload not applied: %+v", cfg)
	}
}

func TestStaticManagerHasNoBackingFile(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Get() == nil {
		t.Fatalf("expected default config")
	}
	if needs, err := m.NeedsReload(); err != nil || needs {
		t.Fatalf("static manager should never need reload: %v %v", needs, err)
	}
}
