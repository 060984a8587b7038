package config

// Config is the on-disk configuration (YAML or JSON).
//
// Optional sections are pointers so "omitted" can fall back to defaults while
// an explicit value (even a zero one) is honored.
type Config struct {
	// Enabled is the global kill switch. Omitted means enabled.
	Enabled *bool `json:"enabled,omitempty"`

	Logging    LoggingConfig          `json:"logging"`
	Storage    *StorageConfig         `json:"storage,omitempty" validate:"omitempty"`
	Player     *PlayerConfig          `json:"player,omitempty" validate:"omitempty"`
	Server     *ServerConfig          `json:"server,omitempty" validate:"omitempty"`
	QuietHours *QuietHoursConfig      `json:"quiet_hours,omitempty" validate:"omitempty"`
	Events     map[string]EventConfig `json:"events" validate:"dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// StorageConfig controls cooldown persistence.
//
// Example:
//
//	storage: { driver: sqlite, path: ~/.ccbell/state.db, compact_schedule: "@hourly" }
type StorageConfig struct {
	Driver string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// CompactSchedule is a cron spec used by `ccbell serve` to prune old
	// audit entries and fold the cooldown journal. Empty means "@hourly".
	CompactSchedule string `json:"compact_schedule,omitempty"`
	// AuditDecisions appends every verdict to the store's audit log.
	AuditDecisions bool `json:"audit_decisions,omitempty"`
	// AuditRetention is how long audit entries survive compaction. Empty
	// keeps them for a week.
	AuditRetention string `json:"audit_retention,omitempty"`
}

// PlayerConfig controls the sound player pipeline.
//
// Command is an argv template; "{sound}" and "{volume}" are substituted.
// Empty Command picks a platform default.
type PlayerConfig struct {
	Enabled     *bool    `json:"enabled,omitempty"`
	Command     []string `json:"command,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	RatePerSec  int      `json:"rate_per_sec,omitempty" validate:"gte=0"`
	QueueSize   int      `json:"queue_size,omitempty" validate:"gte=0"`
	HistorySize int      `json:"history_size,omitempty" validate:"gte=0"`
	Volume      *float64 `json:"volume,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ServerConfig controls the local HTTP API used by `ccbell serve`.
type ServerConfig struct {
	Addr        string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	MetricsPath string `json:"metrics_path,omitempty" validate:"omitempty,startswith=/"`
	// ReadTimeout is a Go duration string.
	ReadTimeout string `json:"read_timeout,omitempty"`
	// Pprof mounts the runtime profiler under /debug. Keep the listener on
	// loopback when enabling it.
	Pprof bool `json:"pprof,omitempty"`
}

// QuietHoursConfig is a weekday/weekend aware suppression schedule.
// Times are "HH:MM" (or "HH:MM:SS") wall-clock in Timezone.
type QuietHoursConfig struct {
	Enabled  bool          `json:"enabled"`
	Timezone string        `json:"timezone,omitempty"`
	Default  *WindowConfig `json:"default,omitempty" validate:"omitempty"`
	Weekday  *WindowConfig `json:"weekday,omitempty" validate:"omitempty"`
	Weekend  *WindowConfig `json:"weekend,omitempty" validate:"omitempty"`
}

type WindowConfig struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

// EventConfig configures one event type.
type EventConfig struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Sound   string   `json:"sound,omitempty"`
	Volume  *float64 `json:"volume,omitempty" validate:"omitempty,gte=0,lte=1"`
	// Cooldown is a Go duration string; empty or "0s" disables it.
	Cooldown string        `json:"cooldown,omitempty"`
	Filter   *FilterConfig `json:"filter,omitempty" validate:"omitempty"`
	// QuietHours overrides the global schedule for this event type.
	QuietHours *QuietHoursConfig `json:"quiet_hours,omitempty" validate:"omitempty"`
}

// FilterConfig is the declarative per-event filter. Every sub-filter is
// optional; present ones combine with AND.
type FilterConfig struct {
	TokenCount *IntBound      `json:"token_count,omitempty" validate:"omitempty"`
	Duration   *DurationBound `json:"duration,omitempty" validate:"omitempty"`
	Pattern    *PatternConfig `json:"pattern,omitempty" validate:"omitempty"`
	ToolCalls  *bool          `json:"tool_calls,omitempty"`
}

type IntBound struct {
	Min *int64 `json:"min,omitempty" validate:"omitempty,gte=0"`
	Max *int64 `json:"max,omitempty" validate:"omitempty,gte=0"`
}

// DurationBound holds Go duration strings; empty means unbounded.
type DurationBound struct {
	Min string `json:"min,omitempty"`
	Max string `json:"max,omitempty"`
}

type PatternConfig struct {
	Regex  string `json:"regex" validate:"required"`
	Invert bool   `json:"invert,omitempty"`
}

// IsEnabled reports the effective global switch.
func (c *Config) IsEnabled() bool {
	if c == nil || c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// IsEnabled reports the effective per-event switch.
func (e EventConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// IsEnabled reports the effective player switch (nil section means enabled).
func (p *PlayerConfig) IsEnabled() bool {
	return p == nil || p.Enabled == nil || *p.Enabled
}
