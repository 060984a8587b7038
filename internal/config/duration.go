package config

import (
	"strings"
	"time"

	"ccbell/pkg/opt"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, Errorf(path, "invalid duration %q", raw)
	}
	if d < 0 {
		return 0, Errorf(path, "duration must be >= 0")
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseOptionalDuration keeps "unset" apart from "0s": an empty string is
// absent, anything else must parse.
func ParseOptionalDuration(path, raw string) (opt.Value[time.Duration], error) {
	if strings.TrimSpace(raw) == "" {
		return opt.None[time.Duration](), nil
	}
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return opt.None[time.Duration](), err
	}
	return opt.Some(d), nil
}
