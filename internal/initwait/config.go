package initwait

import (
	"time"
	"workloadlauncher/internal/config"
	"workloadlauncher/internal/transfer"
)

// Config holds configuration for the init container.
type Config struct {
	ConfigDir    string        // Directory the launcher copies files into
	Timeout      time.Duration // How long to wait for the marker
	PollInterval time.Duration
	FilesJSON    string // When set, files to write instead of waiting for them
}

// LoadConfigFromEnv loads init container configuration from environment variables.
func LoadConfigFromEnv() *Config {
	return &Config{
		ConfigDir:    config.GetEnv("CONFIG_DIR", transfer.ConfigDir),
		Timeout:      config.GetDurationEnv("INIT_TIMEOUT", 15*time.Minute),
		PollInterval: config.GetDurationEnv("INIT_POLL_INTERVAL", 100*time.Millisecond),
		FilesJSON:    config.GetEnv("INIT_FILES", ""),
	}
}
