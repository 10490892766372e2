package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"workloadlauncher/internal/config"
	"workloadlauncher/internal/featureflag"
	"workloadlauncher/internal/observability"
	"workloadlauncher/internal/orchestrator"
	"workloadlauncher/internal/orchestrator/docker"
	"workloadlauncher/internal/orchestrator/kube"
	"workloadlauncher/internal/pod"
	"workloadlauncher/internal/pod/naming"
	"workloadlauncher/internal/pod/nodeselect"
	"workloadlauncher/internal/pod/resource"
	"workloadlauncher/internal/workload"
)

// New builds the orchestrator for the backend selected in cfg. The backend is
// fixed for the lifetime of the returned orchestrator.
func New(ctx context.Context, cfg *config.LauncherConfig, flags featureflag.Client, metrics *observability.Metrics) (workload.Orchestrator, error) {
	podCfg, err := pod.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Factory: pod.NewFactory(podCfg, flags, naming.NewGenerator(), resource.NewConverter(metrics),
			nodeselect.NewResolver(flags, cfg.NodeSelectors, cfg.IsolatedNodeSelectors)),
		Flags:    flags,
		Timeouts: TimeoutsFrom(cfg),
		Metrics:  metrics,
	}

	var o workload.Orchestrator
	switch cfg.Backend {
	case config.BackendKube:
		client, restConfig, err := kube.NewClient(cfg.Kubeconfig)
		if err != nil {
			return nil, err
		}
		driver := kube.New(client, kube.Config{
			Namespace:       cfg.Namespace,
			DeletionTimeout: cfg.DeletionTimeout,
			Retry:           retryConfig(cfg),
			Metrics:         metrics,
		})
		o = NewCluster(driver, driver.Copier(restConfig), deps)

	case config.BackendDocker:
		driver, err := docker.New(docker.ConfigFrom(cfg, metrics))
		if err != nil {
			return nil, err
		}
		o = NewLocal(driver, driver.Copier(), deps)

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if err := o.Ready(ctx); err != nil {
		slog.Warn("Backend not ready yet", "backend", cfg.Backend, "error", err)
	} else {
		slog.Info("Connected to backend", "backend", cfg.Backend)
	}
	return o, nil
}

// TimeoutsFrom extracts launch timeouts from cfg.
func TimeoutsFrom(cfg *config.LauncherConfig) Timeouts {
	return Timeouts{
		Init:                cfg.PodInitTimeout,
		OrchestratorStartup: cfg.OrchestratorStartupTimeout,
		ConnectorStartup:    cfg.ConnectorStartupTimeout,
		Deletion:            cfg.DeletionTimeout,
	}
}

func retryConfig(cfg *config.LauncherConfig) orchestrator.RetryConfig {
	return orchestrator.RetryConfig{
		Attempts: cfg.RetryAttempts,
		Initial:  cfg.RetryInitial,
		Max:      cfg.RetryMax,
		Jitter:   cfg.RetryJitter,
	}
}
