package event

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTypeFromHook(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		hook    string
		message string
		want    Type
	}{
		{name: "stop", hook: "Stop", want: Stop},
		{name: "subagent", hook: "SubagentStop", want: SubagentStop},
		{name: "permission", hook: "Notification", message: "Claude needs your permission to use Bash", want: PermissionPrompt},
		{name: "idle", hook: "Notification", message: "Claude is waiting for your input", want: IdlePrompt},
		{name: "pre tool", hook: "PreToolUse", want: ToolUse},
		{name: "custom", hook: "Session-Start", want: Type("session_start")},
		{name: "empty", hook: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TypeFromHook(tt.hook, tt.message); got != tt.want {
				t.Fatalf("TypeFromHook(%q) = %q, want %q", tt.hook, got, tt.want)
			}
		})
	}
}

func TestDecodeHookToData(t *testing.T) {
	t.Parallel()
	body := `{"hook_event_name":"Stop","session_id":"s1","message":"build failed","token_count":600,"duration_ms":1500,"timestamp":"2026-10-17T10:00:00Z"}`
	p, err := DecodeHook(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeHook error: %v", err)
	}
	d, err := p.ToData("", time.Now())
	if err != nil {
		t.Fatalf("ToData error: %v", err)
	}
	if d.Type != Stop {
		t.Fatalf("Type = %q, want stop", d.Type)
	}
	if d.TokenCount != 600 || d.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected counters: tokens=%d duration=%v", d.TokenCount, d.Duration)
	}
	if !d.At.Equal(time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("At = %v", d.At)
	}
	if d.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestDecodeHookEmptyBodyUsesOverride(t *testing.T) {
	t.Parallel()
	p, err := DecodeHook(strings.NewReader("  \n"))
	if err != nil {
		t.Fatalf("DecodeHook error: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := p.ToData(PermissionPrompt, now)
	if err != nil {
		t.Fatalf("ToData error: %v", err)
	}
	if d.Type != PermissionPrompt || !d.At.Equal(now) {
		t.Fatalf("unexpected data: %+v", d)
	}
}

func TestToDataRejectsBadInput(t *testing.T) {
	t.Parallel()
	cases := []HookPayload{
		{},
		{HookEventName: "Stop", TokenCount: -1},
		{HookEventName: "Stop", DurationMS: -5},
		{HookEventName: "Stop", Timestamp: "yesterday"},
	}
	for i, p := range cases {
		if _, err := p.ToData("", time.Now()); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("case %d: err = %v, want ErrInvalidPayload", i, err)
		}
	}
	if _, err := DecodeHook(strings.NewReader("{not json")); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for malformed json, got %v", err)
	}
}

func TestToolNameImpliesToolCalls(t *testing.T) {
	t.Parallel()
	d, err := HookPayload{HookEventName: "PostToolUse", ToolName: "Bash"}.ToData("", time.Now())
	if err != nil {
		t.Fatalf("ToData error: %v", err)
	}
	if !d.HasToolCalls || d.Type != ToolUse {
		t.Fatalf("unexpected data: %+v", d)
	}
}
