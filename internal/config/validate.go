package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		// Report json names so errors point at config keys, not Go fields.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate = v
	})
	return validate
}

var reMapKey = regexp.MustCompile(`\[([^\]]+)\]`)

// fieldPath turns "Config.events[stop].filter.pattern.regex" into
// "events.stop.filter.pattern.regex".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return reMapKey.ReplaceAllString(ns, ".$1")
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "hostname_port":
		return "must be host:port"
	case "startswith":
		return "must start with " + fe.Param()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// Validate runs structural checks (types, enums, ranges, cron specs). Field
// semantics that need the engine's types (regexes, windows, cooldowns) are
// checked by engine.Compile.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Err: errors.New("config is nil")}
	}
	if err := structValidator().Struct(cfg); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			fe := ves[0]
			return &ConfigError{Path: fieldPath(fe.Namespace()), Err: errors.New(describeTag(fe))}
		}
		return &ConfigError{Err: err}
	}

	for name := range cfg.Events {
		if strings.TrimSpace(name) == "" {
			return Errorf("events", "event type name must not be empty")
		}
	}

	if st := cfg.Storage; st != nil {
		driver := strings.ToLower(strings.TrimSpace(st.Driver))
		if driver != "" && driver != "none" && strings.TrimSpace(st.Path) == "" {
			return Errorf("storage.path", "is required for driver %q", driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("storage.audit_retention", st.AuditRetention); err != nil {
			return err
		}
		if spec := strings.TrimSpace(st.CompactSchedule); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				return Errorf("storage.compact_schedule", "invalid cron spec %q: %v", spec, err)
			}
		}
	}
	if p := cfg.Player; p != nil {
		if _, err := ParseDurationField("player.timeout", p.Timeout); err != nil {
			return err
		}
	}
	if s := cfg.Server; s != nil {
		if _, err := ParseDurationField("server.read_timeout", s.ReadTimeout); err != nil {
			return err
		}
	}
	return nil
}
