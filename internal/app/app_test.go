package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ccbell/internal/config"
	"ccbell/internal/engine"
	"ccbell/internal/event"
	"ccbell/internal/storage"
)

type recordingPlayer struct {
	mu     sync.Mutex
	sounds []string
}

func (p *recordingPlayer) Play(_ context.Context, sound string, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sounds = append(p.sounds, sound)
	return nil
}

func (p *recordingPlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sounds...)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func baseConfig(dir, driver string) string {
	return `
logging: {level: error}
storage: {driver: ` + driver + `, path: ` + filepath.Join(dir, "state.db") + `, audit_decisions: true}
events:
  stop:
    sound: /sounds/stop.wav
    cooldown: 1m
    filter: {token_count: {min: 500}}
  permission_prompt: {sound: /sounds/bell.wav}
`
}

func clockAt(ts *time.Time) func() time.Time { return func() time.Time { return *ts } }

func TestHookCooldownSurvivesProcesses(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			path := writeConfig(t, dir, baseConfig(dir, driver))
			now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
			ctx := context.Background()

			hook := func(body string) engine.Verdict {
				t.Helper()
				p := &recordingPlayer{}
				a, err := New(ctx, path, ModeHook, WithPlayer(p), WithClock(clockAt(&now)))
				if err != nil {
					t.Fatalf("New: %v", err)
				}
				defer a.Close()
				var out bytes.Buffer
				v, err := a.HandleHook(ctx, "", strings.NewReader(body), &out)
				if err != nil {
					t.Fatalf("HandleHook: %v", err)
				}
				var printed engine.Verdict
				if err := json.Unmarshal(out.Bytes(), &printed); err != nil {
					t.Fatalf("verdict output is not JSON: %q", out.String())
				}
				if printed.Reason != v.Reason {
					t.Fatalf("printed reason %q, returned %q", printed.Reason, v.Reason)
				}
				if v.Allow && len(p.played()) != 1 {
					t.Fatalf("allowed event should play once, played %v", p.played())
				}
				if !v.Allow && len(p.played()) != 0 {
					t.Fatalf("suppressed event played %v", p.played())
				}
				return v
			}

			if v := hook(`{"hook_event_name":"Stop","token_count":400}`); v.Reason != engine.ReasonFilteredOut {
				t.Fatalf("400 tokens: %+v", v)
			}
			if v := hook(`{"hook_event_name":"Stop","token_count":600}`); !v.Allow || v.Sound != "/sounds/stop.wav" {
				t.Fatalf("600 tokens: %+v", v)
			}
			now = now.Add(10 * time.Second)
			// A fresh process still sees the cooldown.
			if v := hook(`{"hook_event_name":"Stop","token_count":600}`); v.Reason != engine.ReasonCooldown {
				t.Fatalf("second process: %+v", v)
			}
			now = now.Add(time.Minute)
			if v := hook(`{"hook_event_name":"Stop","token_count":600}`); !v.Allow {
				t.Fatalf("after cooldown: %+v", v)
			}

			a, err := New(ctx, path, ModeStatus, WithClock(clockAt(&now)))
			if err != nil {
				t.Fatalf("New status: %v", err)
			}
			defer a.Close()
			audit, err := a.Audit(ctx, 10)
			if err != nil {
				t.Fatalf("Audit: %v", err)
			}
			if len(audit) != 4 {
				t.Fatalf("audit has %d entries, want 4", len(audit))
			}
			st := a.Status(now)
			if len(st.Cooldowns) == 0 || st.Cooldowns[0].LastAllowed.IsZero() {
				t.Fatalf("status should show the persisted cooldown: %+v", st.Cooldowns)
			}
		})
	}
}

func TestHookTypeOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir, "none"))
	p := &recordingPlayer{}
	a, err := New(context.Background(), path, ModeHook, WithPlayer(p))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	v, err := a.HandleHook(context.Background(), "permission-prompt", strings.NewReader(""), nil)
	if err != nil {
		t.Fatalf("HandleHook: %v", err)
	}
	if !v.Allow || v.EventType != event.PermissionPrompt {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if got := p.played(); len(got) != 1 || got[0] != "/sounds/bell.wav" {
		t.Fatalf("played %v", got)
	}
	if _, err := a.Audit(context.Background(), 1); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("Audit without storage: got %v", err)
	}
}

func TestHookRejectsBadPayload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir, "none"))
	a, err := New(context.Background(), path, ModeHook, WithPlayer(&recordingPlayer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	for _, body := range []string{`{"token_count":`, `{}`, `{"hook_event_name":"Stop","token_count":-1}`} {
		if _, err := a.HandleHook(context.Background(), "", strings.NewReader(body), nil); !errors.Is(err, event.ErrInvalidPayload) {
			t.Fatalf("body %q: got %v, want ErrInvalidPayload", body, err)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, "events:\n  stop: {filter: {pattern: {regex: \"([\"}}}\n")
	_, err := New(context.Background(), path, ModeHook)
	var ce *config.ConfigError
	if !errors.As(err, &ce) || ce.Path != "events.stop.filter.pattern.regex" {
		t.Fatalf("got %v, want ConfigError at events.stop.filter.pattern.regex", err)
	}
}

func TestMissingConfigUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	a, err := New(context.Background(), filepath.Join(home, "nope.yaml"), ModeHook, WithPlayer(&recordingPlayer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if !a.UsedDefaults() {
		t.Fatal("expected defaults")
	}
	if a.Health().Config != "defaults" {
		t.Fatalf("health config = %q", a.Health().Config)
	}
	v, err := a.HandleEvent(context.Background(), event.Stop, event.HookPayload{})
	if err != nil || !v.Allow {
		t.Fatalf("default stop event: %+v %v", v, err)
	}
}

func TestApplyConfigSwapsPolicy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(dir, "none"))
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	a, err := New(context.Background(), path, ModeServe, WithPlayer(&recordingPlayer{}), WithClock(clockAt(&now)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	old := a.Config()
	next, err := config.Decode(path, []byte(`
logging: {level: error}
events:
  stop: {enabled: false}
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a.applyConfig(context.Background(), old, next)

	v, err := a.HandleEvent(context.Background(), event.Stop, event.HookPayload{TokenCount: 900})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if v.Reason != engine.ReasonDisabled {
		t.Fatalf("reload not applied: %+v", v)
	}
	if a.Config() != next {
		t.Fatal("Config() should return the applied config")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		wantErr string
	}{
		{name: "nil", sc: nil},
		{name: "none", sc: &config.StorageConfig{Driver: "none"}},
		{name: "file", sc: &config.StorageConfig{Driver: "file", Path: "/tmp/x"}, enabled: true},
		{name: "sqlite3 alias", sc: &config.StorageConfig{Driver: "sqlite3", Path: "/tmp/x.db", BusyTimeout: "3s"}, enabled: true},
		{name: "no path", sc: &config.StorageConfig{Driver: "file"}, wantErr: "storage.path"},
		{name: "bad busy", sc: &config.StorageConfig{Driver: "sqlite", Path: "x", BusyTimeout: "soon"}, wantErr: "storage.busy_timeout"},
	}
	for _, tt := range tests {
		sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.sc})
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("%s: got %v, want error mentioning %s", tt.name, err, tt.wantErr)
			}
			continue
		}
		if err != nil || enabled != tt.enabled {
			t.Fatalf("%s: enabled=%v err=%v", tt.name, enabled, err)
		}
		if tt.name == "sqlite3 alias" && (sc.Driver != "sqlite" || sc.BusyTimeout != 3*time.Second) {
			t.Fatalf("%s: %+v", tt.name, sc)
		}
	}
}

func TestMapNotifierConfigKeepsZeroVolume(t *testing.T) {
	t.Parallel()
	zero := 0.0
	nc, err := mapNotifierConfig(&config.Config{Player: &config.PlayerConfig{Volume: &zero}})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if v, ok := nc.Volume.Get(); !ok || v != 0 {
		t.Fatalf("volume = %v (set=%v), want explicit 0", v, ok)
	}

	nc, err = mapNotifierConfig(&config.Config{Player: &config.PlayerConfig{}})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if nc.Volume.Present() {
		t.Fatal("unset volume should stay absent")
	}
}
