package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"storage": {"path": "/tmp/crewcall.db", "busy_timeout": "5s"},
		"trigger": {"enabled": true, "timezone": "UTC", "cadences": {"every5m": "@every 5m"}},
		"notify": {"rate_per_sec": 20},
		"reminder": {"max_per_day": 2, "retention_days": 14}
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Trigger.Cadences["every5m"] != "@every 5m" {
		t.Fatalf("cadences = %v", cfg.Trigger.Cadences)
	}
	if cfg.Reminder.MaxPerDay != 2 || cfg.Reminder.RetentionDays != 14 {
		t.Fatalf("reminder = %+v", cfg.Reminder)
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
storage:
  path: /tmp/crewcall.db
trigger:
  enabled: true
  timezone: Europe/Berlin
  cadences:
    every1m: "@every 1m"
notify:
  rate_per_sec: 5
reminder:
  default_channels: [push, email]
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Trigger.Timezone != "Europe/Berlin" {
		t.Fatalf("timezone = %q", cfg.Trigger.Timezone)
	}
	if len(cfg.Reminder.DefaultChannels) != 2 {
		t.Fatalf("default channels = %v", cfg.Reminder.DefaultChannels)
	}
}

func TestParseRejectsUnknownfield(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}, "remnider": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for misspelled section")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}}{"extra": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	path := writeConfig(t, "config.json", `{"trigger": {"enabled": true}}`)
	m := NewManager(path)
	if m.Get() != nil {
		t.Fatal("Get before Load must be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)

	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("publish did not deliver")
	}

	// Full buffer: publish drops the oldest instead of blocking.
	m.publish(&Config{})
	m.publish(&Config{Notify: NotifyConfig{RatePerSec: 99}})
	got := <-ch
	if got.Notify.RatePerSec != 99 {
		t.Fatalf("expected newest config, got %+v", got.Notify)
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after Unsubscribe")
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", "1500ms")
	if err != nil || d != 1500*time.Millisecond {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("expected error for junk duration")
	}
	d, err = ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("default d=%v err=%v", d, err)
	}
}
