package docker

import (
	"time"
	"workloadlauncher/internal/config"
	"workloadlauncher/internal/observability"
	"workloadlauncher/internal/orchestrator"

	"github.com/spf13/afero"
)

// Config holds configuration for the local container driver.
type Config struct {
	ConfigRoot   string        // Host directory holding one subdirectory per pod
	Network      string        // Docker network to attach containers to (optional)
	ExtraHosts   []string      // Extra hosts for containers (e.g., ["db.local:host-gateway"])
	PollInterval time.Duration // Interval of status polling (default 500ms)
	Retry        orchestrator.RetryConfig
	Metrics      *observability.Metrics // Metrics recorder (optional)
	Fs           afero.Fs               // Filesystem for config files (default OS)
}

// ConfigFrom derives driver configuration from launcher configuration.
func ConfigFrom(cfg *config.LauncherConfig, metrics *observability.Metrics) Config {
	return Config{
		ConfigRoot:   cfg.DockerConfigRoot,
		Network:      cfg.DockerNetwork,
		ExtraHosts:   cfg.DockerExtraHosts,
		PollInterval: cfg.DockerPollInterval,
		Retry: orchestrator.RetryConfig{
			Attempts: cfg.RetryAttempts,
			Initial:  cfg.RetryInitial,
			Max:      cfg.RetryMax,
			Jitter:   cfg.RetryJitter,
		},
		Metrics: metrics,
	}
}
