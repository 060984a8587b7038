package config

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid configuration value. Path is the dotted
// config key, e.g. "events.stop.filter.pattern.regex".
//
// Configuration errors are only ever produced while loading; a running engine
// keeps its previous configuration when a reload fails.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "invalid config: " + e.Err.Error()
	}
	return fmt.Sprintf("invalid config: %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Errorf builds a ConfigError for path.
func Errorf(path, format string, args ...any) error {
	return &ConfigError{Path: path, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches path to err. A nil err stays nil.
func Wrap(path string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Path: path, Err: err}
}

// IsConfigError reports whether err (or anything it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
