package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
enabled: true
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: /tmp/ccbell.db
  compact_schedule: "@hourly"
quiet_hours:
  enabled: true
  timezone: UTC
  default: {start: "22:00", end: "07:00"}
events:
  stop:
    sound: /tmp/stop.wav
    cooldown: 30s
    filter:
      token_count: {min: 500}
      pattern: {regex: "error|failed", invert: true}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	stop, ok := cfg.Events["stop"]
	if !ok {
		t.Fatal("missing stop event")
	}
	if stop.Filter == nil || stop.Filter.TokenCount == nil || stop.Filter.TokenCount.Min == nil || *stop.Filter.TokenCount.Min != 500 {
		t.Fatalf("token_count.min not decoded: %+v", stop.Filter)
	}
	if stop.Filter.TokenCount.Max != nil {
		t.Fatal("token_count.max should stay absent")
	}
	if !stop.Filter.Pattern.Invert {
		t.Fatal("pattern.invert not decoded")
	}
	if cfg.Storage.Driver != "sqlite" || cfg.QuietHours.Default.Start != "22:00" {
		t.Fatalf("unexpected sections: %+v %+v", cfg.Storage, cfg.QuietHours)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.yaml", []byte("events:\n  stop:\n    coldown: 5s\n"))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
	if !IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestDecodeRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	if _, err := Decode("config.json", []byte(`{"events":{}} {"events":{}}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateReportsConfigPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		path string
	}{
		{name: "storage driver", body: "storage: {driver: redis, path: x}\n", path: "storage.driver"},
		{name: "storage path", body: "storage: {driver: file}\n", path: "storage.path"},
		{name: "negative min", body: "events:\n  stop:\n    filter: {token_count: {min: -1}}\n", path: "events.stop.filter.token_count.min"},
		{name: "missing regex", body: "events:\n  stop:\n    filter: {pattern: {invert: true}}\n", path: "events.stop.filter.pattern.regex"},
		{name: "volume", body: "player: {volume: 2}\n", path: "player.volume"},
		{name: "cron", body: "storage: {driver: file, path: x, compact_schedule: \"every tuesday\"}\n", path: "storage.compact_schedule"},
		{name: "log level", body: "logging: {level: loud}\n", path: "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("c.yaml", []byte(tt.body))
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Path != tt.path {
				t.Fatalf("Path = %q, want %q (err: %v)", ce.Path, tt.path, err)
			}
		})
	}
}

func TestEmptyYAMLIsEmptyConfig(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte("\n"))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if !cfg.IsEnabled() || len(cfg.Events) != 0 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, usedDefault, err := m.LoadOrDefault()
	if err != nil {
		t.Fatalf("LoadOrDefault error: %v", err)
	}
	if !usedDefault || cfg == nil || m.Get() != cfg {
		t.Fatalf("expected committed default config, got %+v (default=%v)", cfg, usedDefault)
	}
	if _, ok := cfg.Events["stop"]; !ok {
		t.Fatal("default config should configure stop")
	}
}

func TestLoadRunsValidator(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "c.yaml", sampleYAML)
	m := NewConfigManager(p)
	boom := errors.New("boom")
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return boom })
	if _, err := m.Load(); !errors.Is(err, boom) {
		t.Fatalf("Load err = %v, want validator error", err)
	}
	if m.Get() != nil {
		t.Fatal("rejected config must not be committed")
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "c.yaml", sampleYAML)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg, err := m.Reload(context.Background())
	if err != nil || cfg != nil {
		t.Fatalf("unchanged reload = %v, %v; want nil, nil", cfg, err)
	}

	updated := strings.Replace(sampleYAML, "cooldown: 30s", "cooldown: 45s", 1)
	if err := os.WriteFile(p, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	cfg, err = m.Reload(context.Background())
	if err != nil || cfg == nil {
		t.Fatalf("changed reload = %v, %v", cfg, err)
	}
	select {
	case got := <-ch:
		if got.Events["stop"].Cooldown != "45s" {
			t.Fatalf("published cooldown = %q", got.Events["stop"].Cooldown)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a published config")
	}

	// A broken edit is rejected and the previous config stays.
	if err := os.WriteFile(p, []byte("events: [\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
	if m.Get().Events["stop"].Cooldown != "45s" {
		t.Fatal("previous config should remain active")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	newCfg, err := Decode("c.yaml", []byte(sampleYAML+"  tool_use: {cooldown: 1s}\n"))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	newCfg.Logging.Level = "info"

	sections, _, events := SummarizeConfigChange(oldCfg, newCfg)
	if want := []string{"events", "logging"}; !reflect.DeepEqual(sections, want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if want := []string{"tool_use"}; !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestParseOptionalDuration(t *testing.T) {
	t.Parallel()
	v, err := ParseOptionalDuration("x", "")
	if err != nil || v.Present() {
		t.Fatalf("empty should be absent, got %v %v", v, err)
	}
	v, err = ParseOptionalDuration("x", "0s")
	if err != nil {
		t.Fatalf("ParseOptionalDuration error: %v", err)
	}
	if d, ok := v.Get(); !ok || d != 0 {
		t.Fatal("0s should be present and zero")
	}
	if _, err := ParseOptionalDuration("events.stop.cooldown", "-1s"); !IsConfigError(err) {
		t.Fatalf("expected ConfigError for negative duration, got %v", err)
	}
}
