package app

import (
	"fmt"
	"strings"
	"time"

	"ccbell/internal/config"
	"ccbell/internal/notifier"
	"ccbell/internal/server"
	"ccbell/internal/storage"
	logx "ccbell/pkg/logx"
	"ccbell/pkg/opt"
)

const (
	defaultCompactSchedule = "@hourly"
	defaultAuditRetention  = 7 * 24 * time.Hour
	defaultServerAddr      = "127.0.0.1:7789"
)

// mapLogConfig keeps stdout free in hook mode; the daemon always logs to the
// console so journald picks it up.
func mapLogConfig(cfg *config.Config, mode Mode) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	switch mode {
	case ModeServe:
		lc.Console = true
	default:
		lc.Stderr = true
	}
	return lc
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, config.Errorf("storage.path", "is required when storage.driver=%s", driver)
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 2*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, config.Errorf("storage.driver", "unknown driver %q", sc.Driver)
	}
}

func compactSchedule(cfg *config.Config) string {
	if cfg.Storage != nil {
		if s := strings.TrimSpace(cfg.Storage.CompactSchedule); s != "" {
			return s
		}
	}
	return defaultCompactSchedule
}

func auditRetention(cfg *config.Config) time.Duration {
	if cfg.Storage == nil {
		return defaultAuditRetention
	}
	d, err := config.ParseDurationOrDefault("storage.audit_retention", cfg.Storage.AuditRetention, defaultAuditRetention)
	if err != nil {
		return defaultAuditRetention
	}
	return d
}

func auditEnabled(cfg *config.Config) bool {
	return cfg.Storage != nil && cfg.Storage.AuditDecisions
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	pc := cfg.Player
	nc := notifier.Config{Enabled: pc.IsEnabled()}
	if pc == nil {
		return nc, nil
	}
	timeout, err := config.ParseDurationOrDefault("player.timeout", pc.Timeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	nc.Command = append([]string(nil), pc.Command...)
	nc.Timeout = timeout
	nc.RatePerSec = pc.RatePerSec
	nc.QueueSize = pc.QueueSize
	nc.HistorySize = pc.HistorySize
	nc.Volume = opt.FromPtr(pc.Volume)
	return nc, nil
}

func mapServerOptions(cfg *config.Config, log logx.Logger) (server.Options, error) {
	opts := server.Options{Addr: defaultServerAddr, Log: log}
	sc := cfg.Server
	if sc == nil {
		return opts, nil
	}
	if a := strings.TrimSpace(sc.Addr); a != "" {
		opts.Addr = a
	}
	opts.MetricsPath = strings.TrimSpace(sc.MetricsPath)
	rt, err := config.ParseDurationField("server.read_timeout", sc.ReadTimeout)
	if err != nil {
		return server.Options{}, err
	}
	opts.ReadTimeout = rt
	opts.Pprof = sc.Pprof
	return opts, nil
}

func describeStorage(sc storage.Config) string {
	return fmt.Sprintf("%s:%s", sc.Driver, sc.Path)
}
