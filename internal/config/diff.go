package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "ccbell/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging and (3) the event types whose
// configuration changed (added, removed or modified).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.IsEnabled() != newCfg.IsEnabled() {
		changed = append(changed, "enabled")
		attrs = append(attrs, logx.Bool("enabled", newCfg.IsEnabled()))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !sameJSON(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if !sameJSON(oldCfg.Player, newCfg.Player) {
		changed = append(changed, "player")
		attrs = append(attrs, logx.Bool("player.enabled", newCfg.Player.IsEnabled()))
	}

	if !sameJSON(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
	}

	if !sameJSON(oldCfg.QuietHours, newCfg.QuietHours) {
		changed = append(changed, "quiet_hours")
		enabled := newCfg.QuietHours != nil && newCfg.QuietHours.Enabled
		attrs = append(attrs, logx.Bool("quiet_hours.enabled", enabled))
	}

	events := diffEvents(oldCfg.Events, newCfg.Events)
	if len(events) > 0 {
		changed = append(changed, "events")
		attrs = append(attrs,
			logx.Int("events.changed_count", len(events)),
			logx.String("events.changed", strings.Join(events, ",")),
		)
	}

	sort.Strings(changed)
	return changed, attrs, events
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ja) == string(jb)
}

func diffEvents(oldM, newM map[string]EventConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || !sameJSON(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
