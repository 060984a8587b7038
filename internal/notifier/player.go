package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"ccbell/internal/event"
)

var ErrNoCommand = errors.New("no player command for this platform")

// Player produces a sound. volume is within [0, 1].
type Player interface {
	Play(ctx context.Context, sound string, volume float64) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, sound string, volume float64) error

func (f PlayerFunc) Play(ctx context.Context, sound string, volume float64) error {
	return f(ctx, sound, volume)
}

// CommandPlayer runs an external command per sound. Argv placeholders:
//
//	{sound}       sound file path
//	{volume}      volume as a 0-1 decimal
//	{volume_pct}  volume as a 0-100 integer
//
// Without a {sound} placeholder the path is appended as the last argument.
type CommandPlayer struct {
	Argv []string
}

// NewCommandPlayer uses argv, or the platform default when argv is empty.
func NewCommandPlayer(argv []string) *CommandPlayer {
	if len(argv) == 0 {
		argv = DefaultCommand(runtime.GOOS)
	}
	return &CommandPlayer{Argv: append([]string(nil), argv...)}
}

func (p *CommandPlayer) Play(ctx context.Context, sound string, volume float64) error {
	args := p.expand(sound, volume)
	if len(args) == 0 {
		return ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

func (p *CommandPlayer) expand(sound string, volume float64) []string {
	if len(p.Argv) == 0 {
		return nil
	}
	vol := strconv.FormatFloat(clamp01(volume), 'f', 2, 64)
	pct := strconv.Itoa(int(clamp01(volume)*100 + 0.5))
	r := strings.NewReplacer("{sound}", sound, "{volume}", vol, "{volume_pct}", pct)

	out := make([]string, 0, len(p.Argv)+1)
	hasSound := false
	for _, a := range p.Argv {
		if strings.Contains(a, "{sound}") {
			hasSound = true
		}
		out = append(out, r.Replace(a))
	}
	if !hasSound {
		out = append(out, sound)
	}
	return out
}

// DefaultCommand returns the stock audio command for goos, or nil.
func DefaultCommand(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"afplay", "-v", "{volume}", "{sound}"}
	case "linux", "freebsd", "openbsd", "netbsd":
		return []string{"paplay", "{sound}"}
	default:
		return nil
	}
}

// DefaultSound returns a system sound for t on goos, or "".
func DefaultSound(goos string, t event.Type) string {
	switch goos {
	case "darwin":
		switch t {
		case event.PermissionPrompt:
			return "/System/Library/Sounds/Ping.aiff"
		case event.IdlePrompt:
			return "/System/Library/Sounds/Tink.aiff"
		case event.SubagentStop:
			return "/System/Library/Sounds/Pop.aiff"
		default:
			return "/System/Library/Sounds/Glass.aiff"
		}
	case "linux", "freebsd", "openbsd", "netbsd":
		const dir = "/usr/share/sounds/freedesktop/stereo/"
		switch t {
		case event.PermissionPrompt:
			return dir + "dialog-warning.oga"
		case event.IdlePrompt:
			return dir + "bell.oga"
		case event.SubagentStop:
			return dir + "message.oga"
		default:
			return dir + "complete.oga"
		}
	default:
		return ""
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
