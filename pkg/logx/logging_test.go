package logx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "engine"))

	log.Info("hidden")
	log.Warn("shown", Int("n", 3), Err(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info logged at warn level: %q", out)
	}
	for _, want := range []string{"shown", "comp=", "engine", "n=", "boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if log.Enabled(LevelDebug) || !log.Enabled(LevelError) {
		t.Fatal("Enabled does not follow the configured level")
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	zero.Error("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop is a real logger")
	}
}

func TestServiceApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ccbell.log")
	svc, log := New(Config{Level: "info"})
	defer svc.Close()

	log.Info("dropped")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("kept", String("event_type", "stop"))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(b), "dropped") || !strings.Contains(string(b), `"event_type":"stop"`) {
		t.Fatalf("unexpected log file: %s", b)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if got := ExpandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Fatalf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Fatalf("ExpandHome(/abs) = %q", got)
	}
}
