package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvConfigPath = "CCBELL_CONFIG"
	EnvLogLevel   = "CCBELL_LOG_LEVEL"
	EnvDisabled   = "CCBELL_DISABLED"
)

// Dir returns the per-user state directory (~/.ccbell).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".ccbell"
	}
	return filepath.Join(home, ".ccbell")
}

// DefaultPath resolves the config path: $CCBELL_CONFIG, else ~/.ccbell/config.yaml.
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Default is the configuration used when no config file exists: every known
// event enabled, a short cooldown on stop, no quiet hours, file persistence.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: &StorageConfig{
			Driver: "file",
			Path:   filepath.Join(Dir(), "state"),
		},
		Events: map[string]EventConfig{
			"stop":              {Cooldown: "5s"},
			"subagent_stop":     {Cooldown: "5s"},
			"permission_prompt": {},
			"idle_prompt":       {Cooldown: "30s"},
		},
	}
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		cfg.Logging.Level = strings.ToLower(lvl)
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvDisabled))) {
	case "1", "true", "yes":
		off := false
		cfg.Enabled = &off
	}
}
