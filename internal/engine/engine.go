// Package engine decides, for each incoming event, whether a sound should
// play. It combines quiet hours, per-type cooldowns and filters, and records
// the cooldown when it allows a notification.
package engine

import (
	"fmt"
	"sync"
	"time"

	"ccbell/internal/cooldown"
	"ccbell/internal/event"
	"ccbell/internal/eventbus"
	"ccbell/internal/filter"
	"ccbell/internal/metrics"
	"ccbell/internal/quiet"
	logx "ccbell/pkg/logx"
)

// Bus topics published by the engine.
const (
	TopicDecision         = "decision.made"
	TopicCooldownRecorded = "cooldown.recorded"
)

type Reason string

const (
	ReasonAllowed     Reason = "allowed"
	ReasonQuietHours  Reason = "quiet_hours"
	ReasonCooldown    Reason = "cooldown"
	ReasonFilteredOut Reason = "filtered_out"
	ReasonDisabled    Reason = "disabled"
)

// Verdict is the outcome of one decision.
type Verdict struct {
	Allow     bool          `json:"allow"`
	Reason    Reason        `json:"reason"`
	EventType event.Type    `json:"event_type"`
	EventID   string        `json:"event_id,omitempty"`
	At        time.Time     `json:"at"`
	Remaining time.Duration `json:"remaining_ns,omitempty"`
	// Filter names the failing sub-filter for ReasonFilteredOut.
	Filter string `json:"filter,omitempty"`
	// Sound and Volume tell the player what to play on allow.
	Sound  string   `json:"sound,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
}

// CooldownRecorded is published on TopicCooldownRecorded after an allow so a
// persistence layer can store it. The engine never waits for that write.
type CooldownRecorded struct {
	EventType event.Type `json:"event_type"`
	At        time.Time  `json:"at"`
}

type Engine struct {
	mu     sync.RWMutex
	policy Policy

	tracker *cooldown.Tracker
	bus     eventbus.Bus
	log     logx.Logger
}

type Option func(*engineOptions)

type engineOptions struct {
	bus  eventbus.Bus
	log  logx.Logger
	seed map[event.Type]time.Time
}

// WithBus publishes decisions and cooldown updates on bus.
func WithBus(bus eventbus.Bus) Option { return func(o *engineOptions) { o.bus = bus } }

func WithLogger(log logx.Logger) Option { return func(o *engineOptions) { o.log = log } }

// WithSeed restores last-allowed timestamps loaded from storage.
func WithSeed(seed map[event.Type]time.Time) Option {
	return func(o *engineOptions) { o.seed = seed }
}

// New builds an engine around a compiled policy.
func New(policy Policy, opts ...Option) (*Engine, error) {
	var o engineOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	tr, err := cooldown.NewTracker(policy.Intervals(), o.seed)
	if err != nil {
		return nil, err
	}
	return &Engine{policy: policy, tracker: tr, bus: o.bus, log: o.log}, nil
}

// Reload swaps in a new policy. Cooldown timestamps survive; intervals change.
func (e *Engine) Reload(policy Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.tracker.SetIntervals(policy.Intervals()); err != nil {
		metrics.RecordReload(false)
		return err
	}
	e.policy = policy
	metrics.RecordReload(true)
	return nil
}

func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

func (e *Engine) Tracker() *cooldown.Tracker { return e.tracker }

// Decide returns the verdict for one event. It never fails: configuration
// problems are rejected by Compile before an engine exists.
//
// Order: disabled, quiet hours, cooldown, filter. Cheap global checks come
// before pattern matching. The final cooldown check and the record happen
// atomically, so concurrent events of one type yield at most one allow per
// interval.
func (e *Engine) Decide(t event.Type, d event.Data, now time.Time) Verdict {
	if e == nil || e.tracker == nil {
		panic("engine: Decide on an engine not built with New")
	}
	start := time.Now()

	e.mu.RLock()
	policy := e.policy
	e.mu.RUnlock()
	rule, configured := policy.Rule(t)

	v := e.decide(policy, rule, t, d, now)

	label := string(t)
	if !configured && !isKnown(t) {
		label = "other"
	}
	metrics.RecordDecision(label, string(v.Reason), time.Since(start))

	e.log.Debug("decision",
		logx.String("event_type", string(t)),
		logx.String("event_id", d.ID),
		logx.String("reason", string(v.Reason)),
		logx.Bool("allow", v.Allow),
		logx.Duration("remaining", v.Remaining),
		logx.String("filter", v.Filter),
	)
	e.publish(TopicDecision, now, v)
	if v.Allow {
		e.publish(TopicCooldownRecorded, now, CooldownRecorded{EventType: t, At: now})
	}
	return v
}

func (e *Engine) decide(policy Policy, rule Rule, t event.Type, d event.Data, now time.Time) Verdict {
	v := Verdict{EventType: t, EventID: d.ID, At: now}

	if !policy.Enabled || !rule.Enabled {
		v.Reason = ReasonDisabled
		return v
	}
	if quiet.IsQuiet(policy.Schedule(t), now) {
		v.Reason = ReasonQuietHours
		return v
	}
	if rem := e.tracker.RemainingCooldown(t, now); rem > 0 {
		v.Reason = ReasonCooldown
		v.Remaining = rem
		return v
	}
	if failed := filter.Explain(rule.Filter, d); failed != "" {
		v.Reason = ReasonFilteredOut
		v.Filter = failed
		return v
	}
	// Another event of the same type may have been allowed since the check
	// above; TryRecord settles the race.
	if ok, rem := e.tracker.TryRecord(t, now); !ok {
		v.Reason = ReasonCooldown
		v.Remaining = rem
		return v
	}

	v.Allow = true
	v.Reason = ReasonAllowed
	v.Sound = rule.Sound
	v.Volume = rule.Volume.Ptr()
	return v
}

func (e *Engine) publish(topic string, at time.Time, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: topic, Time: at, Data: data})
}

func isKnown(t event.Type) bool {
	for _, k := range event.Known {
		if k == t {
			return true
		}
	}
	return false
}

// Status summarizes engine state for status output and the HTTP API.
type Status struct {
	Enabled   bool             `json:"enabled"`
	Quiet     bool             `json:"quiet"`
	QuietNext *time.Time       `json:"quiet_next_change,omitempty"`
	Window    string           `json:"quiet_window,omitempty"`
	Cooldowns []cooldown.Entry `json:"cooldowns"`
}

func (e *Engine) Status(now time.Time) Status {
	p := e.Policy()
	st := Status{
		Enabled:   p.Enabled,
		Quiet:     quiet.IsQuiet(p.Quiet, now),
		Cooldowns: e.tracker.Snapshot(now),
	}
	if p.Quiet.Enabled {
		st.Window = quiet.ActiveWindow(p.Quiet, now).String()
		if at, ok := quiet.NextChange(p.Quiet, now); ok {
			st.QuietNext = &at
		}
	}
	return st
}

func (r Reason) String() string { return string(r) }

// Describe renders a verdict for humans.
func (v Verdict) Describe() string {
	switch v.Reason {
	case ReasonCooldown:
		return fmt.Sprintf("%s: suppressed (cooldown, %s left)", v.EventType, v.Remaining.Round(time.Second))
	case ReasonFilteredOut:
		return fmt.Sprintf("%s: suppressed (filtered out by %s)", v.EventType, v.Filter)
	case ReasonAllowed:
		return fmt.Sprintf("%s: allowed", v.EventType)
	default:
		return fmt.Sprintf("%s: suppressed (%s)", v.EventType, v.Reason)
	}
}
