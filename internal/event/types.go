package event

import (
	"strings"
	"time"
)

// Type identifies the kind of assistant occurrence.
type Type string

const (
	Stop             Type = "stop"
	SubagentStop     Type = "subagent_stop"
	PermissionPrompt Type = "permission_prompt"
	IdlePrompt       Type = "idle_prompt"
	ToolUse          Type = "tool_use"
)

// Known lists the event types ccbell ships defaults for.
var Known = []Type{Stop, SubagentStop, PermissionPrompt, IdlePrompt, ToolUse}

// ParseType normalizes a user supplied event tag ("Permission-Prompt" -> permission_prompt).
func ParseType(s string) Type {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return Type(s)
}

func (t Type) String() string { return string(t) }

// Data is an immutable snapshot of one notification-worthy occurrence.
type Data struct {
	ID           string
	Type         Type
	Message      string
	TokenCount   int64
	Duration     time.Duration
	HasToolCalls bool
	At           time.Time

	SessionID string
	Cwd       string
}
