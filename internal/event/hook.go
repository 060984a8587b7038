package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidPayload = errors.New("invalid hook payload")

// HookPayload is the JSON document a hook dispatcher writes to ccbell.
//
// Only hook_event_name is needed to derive the event type; the numeric fields
// are optional and default to zero.
type HookPayload struct {
	ID             string `json:"id,omitempty"`
	HookEventName  string `json:"hook_event_name,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	Message        string `json:"message,omitempty"`
	ToolName       string `json:"tool_name,omitempty"`

	TokenCount      int64  `json:"token_count,omitempty"`
	DurationMS      int64  `json:"duration_ms,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	HasToolCalls    bool   `json:"has_tool_calls,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
}

// DecodeHook reads a single payload from r. An empty body decodes to the zero
// payload so `ccbell hook stop < /dev/null` works.
func DecodeHook(r io.Reader) (HookPayload, error) {
	var p HookPayload
	b, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return p, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// TypeFromHook maps a hook event name to an event type. Notification events are
// split into permission and idle prompts by their message text.
func TypeFromHook(name, message string) Type {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stop":
		return Stop
	case "subagentstop", "subagent_stop":
		return SubagentStop
	case "notification":
		if strings.Contains(strings.ToLower(message), "permission") {
			return PermissionPrompt
		}
		return IdlePrompt
	case "pretooluse", "posttooluse", "tool_use":
		return ToolUse
	case "":
		return ""
	default:
		return ParseType(name)
	}
}

// ToData converts the payload into Data. override (when non-empty) wins over
// the type derived from the payload. now stamps events that carry no timestamp.
func (p HookPayload) ToData(override Type, now time.Time) (Data, error) {
	t := override
	if t == "" && strings.TrimSpace(p.EventType) != "" {
		t = ParseType(p.EventType)
	}
	if t == "" {
		t = TypeFromHook(p.HookEventName, p.Message)
	}
	if t == "" {
		return Data{}, fmt.Errorf("%w: event type is required", ErrInvalidPayload)
	}
	if p.TokenCount < 0 {
		return Data{}, fmt.Errorf("%w: token_count must be >= 0", ErrInvalidPayload)
	}
	if p.DurationMS < 0 || p.DurationSeconds < 0 {
		return Data{}, fmt.Errorf("%w: duration must be >= 0", ErrInvalidPayload)
	}

	at := now
	if ts := strings.TrimSpace(p.Timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Data{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidPayload, err)
		}
		at = parsed
	}

	d := time.Duration(p.DurationMS) * time.Millisecond
	if d == 0 {
		d = time.Duration(p.DurationSeconds) * time.Second
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = uuid.NewString()
	}

	return Data{
		ID:           id,
		Type:         t,
		Message:      p.Message,
		TokenCount:   p.TokenCount,
		Duration:     d,
		HasToolCalls: p.HasToolCalls || strings.TrimSpace(p.ToolName) != "",
		At:           at,
		SessionID:    p.SessionID,
		Cwd:          p.Cwd,
	}, nil
}
