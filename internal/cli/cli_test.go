package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ccbell/internal/config"
	"ccbell/internal/engine"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const cliConfig = `
logging: {level: error}
player: {enabled: false}
storage: {driver: none}
events:
  stop:
    cooldown: 1m
    filter: {token_count: {min: 500}}
`

func TestHookPrintsVerdict(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := writeFile(t, t.TempDir(), "config.yaml", cliConfig)

	out, err := run(t, `{"hook_event_name":"Stop","token_count":100}`, "--config", cfg, "hook")
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	var v engine.Verdict
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output %q is not a verdict: %v", out, err)
	}
	if v.Allow || v.Reason != engine.ReasonFilteredOut {
		t.Fatalf("unexpected verdict %+v", v)
	}

	out, err = run(t, `{"token_count":900}`, "--config", cfg, "hook", "stop", "--quiet")
	if err != nil {
		t.Fatalf("hook --quiet: %v", err)
	}
	if out != "" {
		t.Fatalf("--quiet printed %q", out)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", cliConfig)
	bad := writeFile(t, dir, "bad.yaml", "events:\n  stop: {cooldown: soon}\n")

	out, err := run(t, "", "--config", good, "validate")
	if err != nil || !strings.Contains(out, "config OK") {
		t.Fatalf("validate good: %q %v", out, err)
	}
	out, err = run(t, "", "--config", good, "validate", "--print")
	if err != nil || !strings.Contains(out, "token_count") {
		t.Fatalf("validate --print: %q %v", out, err)
	}

	_, err = run(t, "", "--config", bad, "validate")
	if !config.IsConfigError(err) || !strings.Contains(err.Error(), "events.stop.cooldown") {
		t.Fatalf("validate bad: got %v", err)
	}
}

func TestStatusJSON(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := writeFile(t, t.TempDir(), "config.yaml", cliConfig)

	out, err := run(t, "", "--config", cfg, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st engine.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status output %q: %v", out, err)
	}
	if !st.Enabled || len(st.Cooldowns) != 1 {
		t.Fatalf("unexpected status %+v", st)
	}

	out, err = run(t, "", "--config", cfg, "status")
	if err != nil || !strings.Contains(out, "quiet hours:  off") || !strings.Contains(out, "EVENT") {
		t.Fatalf("status text: %q %v", out, err)
	}
}

func TestEnvFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(config.EnvConfigPath, "")
	// godotenv never overrides a variable that is already set.
	os.Unsetenv(config.EnvConfigPath)
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", cliConfig)
	env := writeFile(t, dir, "ccbell.env", config.EnvConfigPath+"="+cfg+"\n")

	out, err := run(t, "", "--env-file", env, "validate")
	if err != nil || !strings.Contains(out, cfg) {
		t.Fatalf("env-file config: %q %v", out, err)
	}

	if _, err := run(t, "", "--env-file", filepath.Join(dir, "missing.env"), "validate"); err == nil {
		t.Fatal("explicit missing env file should fail")
	}
}
