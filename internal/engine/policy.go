package engine

import (
	"fmt"
	"strings"
	"time"

	"ccbell/internal/config"
	"ccbell/internal/event"
	"ccbell/internal/filter"
	"ccbell/internal/quiet"
	"ccbell/pkg/opt"
)

// Rule is the compiled configuration of one event type.
type Rule struct {
	Enabled  bool
	Sound    string
	Volume   opt.Value[float64]
	Cooldown time.Duration
	Filter   filter.Spec
	// Quiet overrides the policy-wide schedule when present.
	Quiet opt.Value[quiet.Schedule]
}

// Policy is an immutable, fully validated engine configuration.
type Policy struct {
	Enabled bool
	Quiet   quiet.Schedule
	Rules   map[event.Type]Rule
}

// Rule returns the rule for t. Unconfigured types are enabled with no
// filter and no cooldown.
func (p Policy) Rule(t event.Type) (Rule, bool) {
	r, ok := p.Rules[t]
	if !ok {
		return Rule{Enabled: true}, false
	}
	return r, true
}

// Schedule returns the quiet-hours schedule that applies to t.
func (p Policy) Schedule(t event.Type) quiet.Schedule {
	if r, ok := p.Rules[t]; ok {
		if s, ok := r.Quiet.Get(); ok {
			return s
		}
	}
	return p.Quiet
}

// Intervals returns the configured cooldown per event type.
func (p Policy) Intervals() map[event.Type]time.Duration {
	out := make(map[event.Type]time.Duration, len(p.Rules))
	for t, r := range p.Rules {
		if r.Cooldown > 0 {
			out[t] = r.Cooldown
		}
	}
	return out
}

// Compile validates cfg and turns it into a Policy. Any error is a
// *config.ConfigError naming the offending key; nothing is partially applied.
func Compile(cfg *config.Config) (Policy, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	p := Policy{
		Enabled: cfg.IsEnabled(),
		Rules:   make(map[event.Type]Rule, len(cfg.Events)),
	}

	sched, err := compileSchedule("quiet_hours", cfg.QuietHours)
	if err != nil {
		return Policy{}, err
	}
	p.Quiet = sched

	for name, ec := range cfg.Events {
		t := event.ParseType(name)
		if t == "" {
			return Policy{}, config.Errorf("events", "event type name must not be empty")
		}
		if _, dup := p.Rules[t]; dup {
			return Policy{}, config.Errorf("events."+name, "duplicates event type %q", t)
		}
		r, err := compileRule("events."+name, ec)
		if err != nil {
			return Policy{}, err
		}
		p.Rules[t] = r
	}
	return p, nil
}

func compileRule(path string, ec config.EventConfig) (Rule, error) {
	r := Rule{
		Enabled: ec.IsEnabled(),
		Sound:   strings.TrimSpace(ec.Sound),
		Volume:  opt.FromPtr(ec.Volume),
	}
	if v, ok := r.Volume.Get(); ok && (v < 0 || v > 1) {
		return Rule{}, config.Errorf(path+".volume", "must be within [0, 1]")
	}

	cd, err := config.ParseDurationField(path+".cooldown", ec.Cooldown)
	if err != nil {
		return Rule{}, err
	}
	r.Cooldown = cd

	spec, err := compileFilter(path+".filter", ec.Filter)
	if err != nil {
		return Rule{}, err
	}
	r.Filter = spec

	if ec.QuietHours != nil {
		s, err := compileSchedule(path+".quiet_hours", ec.QuietHours)
		if err != nil {
			return Rule{}, err
		}
		r.Quiet = opt.Some(s)
	}
	return r, nil
}

func compileFilter(path string, fc *config.FilterConfig) (filter.Spec, error) {
	var spec filter.Spec
	if fc == nil {
		return spec, nil
	}

	if tc := fc.TokenCount; tc != nil {
		b, err := filter.NewBound(opt.FromPtr(tc.Min), opt.FromPtr(tc.Max))
		if err != nil {
			return spec, config.Wrap(path+".token_count", err)
		}
		spec.TokenCount = opt.Some(b)
	}

	if dc := fc.Duration; dc != nil {
		lo, err := config.ParseOptionalDuration(path+".duration.min", dc.Min)
		if err != nil {
			return spec, err
		}
		hi, err := config.ParseOptionalDuration(path+".duration.max", dc.Max)
		if err != nil {
			return spec, err
		}
		b, err := filter.NewBound(lo, hi)
		if err != nil {
			return spec, config.Wrap(path+".duration", err)
		}
		spec.Duration = opt.Some(b)
	}

	if pc := fc.Pattern; pc != nil {
		p, err := filter.CompilePattern(pc.Regex, pc.Invert)
		if err != nil {
			return spec, config.Wrap(path+".pattern.regex", err)
		}
		spec.Pattern = opt.Some(p)
	}

	spec.ToolCalls = opt.FromPtr(fc.ToolCalls)
	return spec, nil
}

func compileSchedule(path string, qc *config.QuietHoursConfig) (quiet.Schedule, error) {
	var s quiet.Schedule
	if qc == nil {
		return s, nil
	}
	s.Enabled = qc.Enabled

	if tz := strings.TrimSpace(qc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return s, config.Errorf(path+".timezone", "unknown time zone %q", tz)
		}
		s.Location = loc
	}

	if qc.Default == nil {
		if qc.Enabled {
			return s, config.Errorf(path+".default", "is required when quiet hours are enabled")
		}
	} else {
		w, err := compileWindow(path+".default", qc.Default)
		if err != nil {
			return s, err
		}
		s.Default = w
	}
	if qc.Weekday != nil {
		w, err := compileWindow(path+".weekday", qc.Weekday)
		if err != nil {
			return s, err
		}
		s.Weekday = opt.Some(w)
	}
	if qc.Weekend != nil {
		w, err := compileWindow(path+".weekend", qc.Weekend)
		if err != nil {
			return s, err
		}
		s.Weekend = opt.Some(w)
	}
	return s, nil
}

func compileWindow(path string, wc *config.WindowConfig) (quiet.Window, error) {
	start, err := quiet.ParseTimeOfDay(wc.Start)
	if err != nil {
		return quiet.Window{}, config.Wrap(path+".start", err)
	}
	end, err := quiet.ParseTimeOfDay(wc.End)
	if err != nil {
		return quiet.Window{}, config.Wrap(path+".end", err)
	}
	w, err := quiet.NewWindow(start, end)
	if err != nil {
		return quiet.Window{}, config.Wrap(path, fmt.Errorf("%s-%s: %w", wc.Start, wc.End, err))
	}
	return w, nil
}
