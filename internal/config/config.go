// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// Backend identifies the execution backend pods are launched on.
type Backend string

const (
	BackendKube   Backend = "kube"
	BackendDocker Backend = "docker"
)

// LauncherConfig holds configuration for the workload launcher.
type LauncherConfig struct {
	Backend    Backend
	Kubeconfig string // Empty means in-cluster config

	// Pod shape
	Namespace             string
	ServiceAccount        string
	ImagePullSecrets      []string
	ImagePullPolicy       string
	NodeSelectors         map[string]string
	IsolatedNodeSelectors map[string]string
	Tolerations           string // "key=k,value=v,effect=NoSchedule;..."
	SchedulerName         string
	Annotations           map[string]string
	ExtraLabels           map[string]string

	// Images
	InitImage              string
	SidecarImage           string
	OrchestratorImage      string
	ConnectorImageRegistry string // Prefix for connector images without a registry

	// Timeouts
	PodInitTimeout             time.Duration
	OrchestratorStartupTimeout time.Duration
	ConnectorStartupTimeout    time.Duration
	DeletionTimeout            time.Duration

	// Transient platform error handling
	RetryAttempts int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	RetryJitter   float64 // Fraction of each retry delay randomized away

	// Local backend
	DockerConfigRoot   string
	DockerNetwork      string
	DockerExtraHosts   []string // Extra /etc/hosts entries, e.g. "db.local:host-gateway"
	DockerPollInterval time.Duration

	FeatureFlagPath string
}

// LoadLauncherConfig loads launcher configuration from environment variables.
func LoadLauncherConfig() *LauncherConfig {
	return &LauncherConfig{
		Backend:    DetectBackend(),
		Kubeconfig: GetEnv("KUBECONFIG", ""),

		Namespace:             GetEnv("JOB_KUBE_NAMESPACE", "default"),
		ServiceAccount:        GetEnv("JOB_KUBE_SERVICEACCOUNT", "airbyte-admin"),
		ImagePullSecrets:      GetListEnv("JOB_KUBE_MAIN_CONTAINER_IMAGE_PULL_SECRET"),
		ImagePullPolicy:       GetEnv("JOB_KUBE_MAIN_CONTAINER_IMAGE_PULL_POLICY", "IfNotPresent"),
		NodeSelectors:         GetMapEnv("JOB_KUBE_NODE_SELECTORS"),
		IsolatedNodeSelectors: GetMapEnv("JOB_ISOLATED_KUBE_NODE_SELECTORS"),
		Tolerations:           GetEnv("JOB_KUBE_TOLERATIONS", ""),
		SchedulerName:         GetEnv("JOB_KUBE_SCHEDULER_NAME", ""),
		Annotations:           GetMapEnv("JOB_KUBE_ANNOTATIONS"),
		ExtraLabels:           GetMapEnv("JOB_KUBE_LABELS"),

		InitImage:              GetEnv("INIT_IMAGE", "workload-init:latest"),
		SidecarImage:           GetEnv("SIDECAR_IMAGE", "connector-sidecar:latest"),
		OrchestratorImage:      GetEnv("ORCHESTRATOR_IMAGE", "container-orchestrator:latest"),
		ConnectorImageRegistry: GetEnv("CONNECTOR_IMAGE_REGISTRY", ""),

		PodInitTimeout:             GetDurationEnv("POD_INIT_TIMEOUT", 15*time.Minute),
		OrchestratorStartupTimeout: GetDurationEnv("ORCHESTRATOR_STARTUP_TIMEOUT", 5*time.Minute),
		ConnectorStartupTimeout:    GetDurationEnv("CONNECTOR_STARTUP_TIMEOUT", 30*time.Minute),
		DeletionTimeout:            GetDurationEnv("POD_DELETION_TIMEOUT", 1*time.Minute),

		RetryAttempts: GetIntEnv("PLATFORM_RETRY_ATTEMPTS", 3),
		RetryInitial:  GetDurationEnv("PLATFORM_RETRY_INITIAL", 200*time.Millisecond),
		RetryMax:      GetDurationEnv("PLATFORM_RETRY_MAX", 5*time.Second),
		RetryJitter:   float64(min(max(GetIntEnv("PLATFORM_RETRY_JITTER_PERCENT", 20), 0), 100)) / 100,

		DockerConfigRoot:   GetEnv("DOCKER_CONFIG_ROOT", "/tmp/workload-launcher"),
		DockerNetwork:      GetEnv("DOCKER_NETWORK", ""),
		DockerExtraHosts:   GetListEnv("EXTRA_HOSTS"),
		DockerPollInterval: GetDurationEnv("DOCKER_POLL_INTERVAL", 500*time.Millisecond),

		FeatureFlagPath: GetEnv("FEATURE_FLAG_PATH", ""),
	}
}

// DetectBackend picks the backend once at process start.
// LAUNCHER_BACKEND wins; otherwise running inside a cluster selects kube.
func DetectBackend() Backend {
	switch Backend(GetEnv("LAUNCHER_BACKEND", "")) {
	case BackendKube:
		return BackendKube
	case BackendDocker:
		return BackendDocker
	}
	if GetEnv("KUBERNETES_SERVICE_HOST", "") != "" {
		return BackendKube
	}
	return BackendDocker
}
