package pod

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"time"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/config"
	"workloadlauncher/internal/featureflag"
	"workloadlauncher/internal/pod/labels"
	"workloadlauncher/internal/pod/naming"
	"workloadlauncher/internal/pod/nodeselect"
	"workloadlauncher/internal/pod/resource"
	"workloadlauncher/internal/transfer"
	"workloadlauncher/internal/workload"

	corev1 "k8s.io/api/core/v1"
)

// Config file names
const (
	EnvMapFile            = "envMap.json"
	JobRunConfigFile      = "jobRunConfig.json"
	InputFile             = "input.json"
	ConnectionConfigFile  = "connectionConfiguration.json"
	LauncherConfigFile    = "launcherConfig.json"
	SourceConfigFile      = "sourceConfig.json"
	DestinationConfigFile = "destinationConfig.json"
)

// Environment variables understood by the init container
const (
	EnvConfigDir   = "CONFIG_DIR"
	EnvInitTimeout = "INIT_TIMEOUT"
	EnvInitFiles   = "INIT_FILES"
)

// Config is the static pod shape shared by every pod the factory builds.
type Config struct {
	Namespace              string
	ServiceAccount         string
	ImagePullSecrets       []string
	ImagePullPolicy        string
	Annotations            map[string]string
	ExtraLabels            map[string]string
	Tolerations            []corev1.Toleration
	SchedulerName          string
	InitImage              string
	SidecarImage           string
	OrchestratorImage      string
	ConnectorImageRegistry string
	InitTimeout            time.Duration
}

// ConfigFrom derives the pod shape from launcher configuration.
func ConfigFrom(cfg *config.LauncherConfig) (Config, error) {
	tolerations, err := ParseTolerations(cfg.Tolerations)
	if err != nil {
		return Config{}, apperrors.Validation("JOB_KUBE_TOLERATIONS", err.Error())
	}
	return Config{
		Namespace:              cfg.Namespace,
		ServiceAccount:         cfg.ServiceAccount,
		ImagePullSecrets:       cfg.ImagePullSecrets,
		ImagePullPolicy:        cfg.ImagePullPolicy,
		Annotations:            cfg.Annotations,
		ExtraLabels:            cfg.ExtraLabels,
		Tolerations:            tolerations,
		SchedulerName:          cfg.SchedulerName,
		InitImage:              cfg.InitImage,
		SidecarImage:           cfg.SidecarImage,
		OrchestratorImage:      cfg.OrchestratorImage,
		ConnectorImageRegistry: cfg.ConnectorImageRegistry,
		InitTimeout:            cfg.PodInitTimeout,
	}, nil
}

// Options control how a pod receives its input.
type Options struct {
	// InitFetchesInput makes the init container write the config files itself
	// instead of waiting for a transfer.
	InitFetchesInput bool
}

// Build is a pod spec together with the config files it expects.
type Build struct {
	Spec  *Spec
	Files transfer.FileMap
}

// replicationInput is the content of input.json for replication pods.
type replicationInput struct {
	WorkloadID        string             `json:"workloadId"`
	Input             *workload.JobInput `json:"input"`
	SourceLabels      map[string]string  `json:"sourceLabels"`
	DestinationLabels map[string]string  `json:"destinationLabels"`
}

// launcherConfig is the content of launcherConfig.json for connector pods.
type launcherConfig struct {
	WorkloadID   string                 `json:"workloadId"`
	Kind         workload.Kind          `json:"kind"`
	Connector    *workload.LaunchConfig `json:"connector"`
	ConnectionID string                 `json:"connectionId,omitempty"`
	WorkspaceID  string                 `json:"workspaceId,omitempty"`
}

// Factory builds pod specs from job inputs.
type Factory struct {
	cfg       Config
	flags     featureflag.Client
	names     *naming.Generator
	resources *resource.Converter
	nodes     *nodeselect.Resolver
}

// NewFactory creates a factory. flags may be nil, meaning no overrides.
func NewFactory(cfg Config, flags featureflag.Client, names *naming.Generator, resources *resource.Converter, nodes *nodeselect.Resolver) *Factory {
	return &Factory{cfg: cfg, flags: flags, names: names, resources: resources, nodes: nodes}
}

// RoleLabels returns the labels pods of role carry for this workload.
func RoleLabels(input *workload.JobInput, workloadID string, role workload.Role) map[string]string {
	return labels.Merge(labels.Shared(workloadID, input.MutexKey, input.Labels), labels.Role(role))
}

// Orchestrator builds the replication orchestrator pod. The orchestrator
// launches source and destination itself using the labels in input.json.
func (f *Factory) Orchestrator(ctx context.Context, input *workload.JobInput, workloadID string, opts Options) (*Build, error) {
	name := naming.Orchestrator(input.JobRun.JobID, input.JobRun.AttemptID)

	files, err := replicationFiles(input, workloadID)
	if err != nil {
		return nil, apperrors.SpecBuild(name, "input", err)
	}

	req, err := f.resources.ToPlatform(ctx, name, input.Resources[workload.RoleOrchestrator])
	if err != nil {
		return nil, err
	}
	main := Container{
		Name:      string(workload.RoleOrchestrator),
		Kind:      KindMain,
		Role:      workload.RoleOrchestrator,
		Image:     f.cfg.OrchestratorImage,
		Env:       runtimeEnv(input, workloadID, workload.KindReplication, nil),
		Resources: req,
	}

	podLabels := labels.Merge(
		f.cfg.ExtraLabels,
		labels.Images(f.cfg.OrchestratorImage, input.Source.Image, input.Destination.Image),
		labels.Job(workload.KindReplication, input.JobRun.JobID, input.JobRun.AttemptID),
		RoleLabels(input, workloadID, workload.RoleOrchestrator),
	)
	spec, err := f.spec(name, podLabels, input, input.UsesCustomConnector, files, opts, main)
	if err != nil {
		return nil, err
	}
	return &Build{Spec: spec, Files: files}, nil
}

// MonoPod builds a replication pod running orchestrator, source and
// destination as main containers of one pod.
func (f *Factory) MonoPod(ctx context.Context, input *workload.JobInput, workloadID string, opts Options) (*Build, error) {
	name := naming.Replication(input.JobRun.JobID, input.JobRun.AttemptID)

	files, err := replicationFiles(input, workloadID)
	if err != nil {
		return nil, apperrors.SpecBuild(name, "input", err)
	}
	if len(input.SourceConfig) > 0 {
		files.Add(SourceConfigFile, input.SourceConfig)
	}
	if len(input.DestinationConfig) > 0 {
		files.Add(DestinationConfigFile, input.DestinationConfig)
	}

	var footprint workload.ResourceRequirements
	containers := make([]Container, 0, len(workload.Roles))
	for _, role := range workload.Roles {
		req, err := f.resources.ToPlatform(ctx, name+"/"+string(role), input.Resources[role])
		if err != nil {
			return nil, err
		}
		if footprint, err = resource.Sum(footprint, input.Resources[role]); err != nil {
			return nil, err
		}
		c := Container{
			Name:      string(role),
			Kind:      KindMain,
			Role:      role,
			Resources: req,
		}
		switch role {
		case workload.RoleOrchestrator:
			c.Image = f.cfg.OrchestratorImage
			c.Env = runtimeEnv(input, workloadID, workload.KindReplication, nil)
		case workload.RoleSource:
			c.Image = naming.WithRegistry(input.Source.Image, f.cfg.ConnectorImageRegistry)
			c.Args = []string{"read", "--config", transfer.ConfigDir + "/" + SourceConfigFile}
			c.Env = runtimeEnv(input, workloadID, workload.KindReplication, input.Source.Env)
		case workload.RoleDestination:
			c.Image = naming.WithRegistry(input.Destination.Image, f.cfg.ConnectorImageRegistry)
			c.Args = []string{"write", "--config", transfer.ConfigDir + "/" + DestinationConfigFile}
			c.Env = runtimeEnv(input, workloadID, workload.KindReplication, input.Destination.Env)
		}
		containers = append(containers, c)
	}

	podLabels := labels.Merge(
		f.cfg.ExtraLabels,
		labels.Images(f.cfg.OrchestratorImage, input.Source.Image, input.Destination.Image),
		labels.Job(workload.KindReplication, input.JobRun.JobID, input.JobRun.AttemptID),
		labels.Shared(workloadID, input.MutexKey, input.Labels),
	)
	spec, err := f.spec(name, podLabels, input, input.UsesCustomConnector, files, opts, containers...)
	if err != nil {
		return nil, err
	}

	// The init container reserves the summed footprint of all three roles.
	initReq, err := f.resources.ToPlatform(ctx, name+"/"+InitContainerName, footprint)
	if err != nil {
		return nil, err
	}
	for i := range spec.Containers {
		if spec.Containers[i].Kind == KindInit {
			spec.Containers[i].Resources = initReq
		}
	}
	return &Build{Spec: spec, Files: files}, nil
}

// Connector builds a check, discover or spec pod: init, the connector as
// main, and the sidecar that reports its output.
func (f *Factory) Connector(ctx context.Context, kind workload.Kind, input *workload.JobInput, workloadID string, opts Options) (*Build, error) {
	lc := input.Connector
	image := naming.WithRegistry(lc.Image, f.cfg.ConnectorImageRegistry)
	name := f.names.Name(image, kind, lc.JobID, lc.AttemptID)

	files, err := connectorFiles(kind, input, workloadID)
	if err != nil {
		return nil, apperrors.SpecBuild(name, "input", err)
	}

	req, err := f.resources.ToPlatform(ctx, name, input.ConnectorResources)
	if err != nil {
		return nil, err
	}
	main := Container{
		Name:      MainContainerName,
		Kind:      KindMain,
		Image:     image,
		Args:      connectorArgs(kind),
		Env:       runtimeEnv(input, workloadID, kind, lc.Env),
		Resources: req,
	}
	sidecar := Container{
		Name:  SidecarContainerName,
		Kind:  KindSidecar,
		Image: f.cfg.SidecarImage,
		Env:   runtimeEnv(input, workloadID, kind, nil),
	}

	podLabels := labels.Merge(
		f.cfg.ExtraLabels,
		labels.Job(kind, lc.JobID, lc.AttemptID),
		labels.Shared(workloadID, input.MutexKey, input.Labels),
	)
	custom := input.UsesCustomConnector || lc.IsCustomConnector
	spec, err := f.spec(name, podLabels, input, custom, files, opts, main, sidecar)
	if err != nil {
		return nil, err
	}
	return &Build{Spec: spec, Files: files}, nil
}

// spec assembles the pod around its app containers: the init container, the
// shared config volume and the scheduling fields.
func (f *Factory) spec(name string, podLabels map[string]string, input *workload.JobInput, usesCustom bool, files transfer.FileMap, opts Options, app ...Container) (*Spec, error) {
	flagCtx := featureflag.Context{ConnectionID: input.ConnectionID, WorkspaceID: input.WorkspaceID}

	nodeSelector, err := f.nodes.For(flagCtx, usesCustom)
	if err != nil {
		return nil, apperrors.SpecBuild(name, "nodeSelector", err)
	}

	scheduler := f.cfg.SchedulerName
	if f.flags != nil {
		if override := f.flags.String(featureflag.SchedulerNameOverride, flagCtx); override != "" {
			scheduler = override
		}
	}

	initContainer, err := f.initContainer(files, opts)
	if err != nil {
		return nil, apperrors.SpecBuild(name, "init", err)
	}

	mount := VolumeMount{Name: ConfigVolumeName, MountPath: transfer.ConfigDir}
	containers := make([]Container, 0, len(app)+1)
	containers = append(containers, initContainer)
	for _, c := range app {
		c.VolumeMounts = append(c.VolumeMounts, mount)
		containers = append(containers, c)
	}

	return &Spec{
		Name:             name,
		Namespace:        f.cfg.Namespace,
		Labels:           podLabels,
		Annotations:      maps.Clone(f.cfg.Annotations),
		Containers:       containers,
		Volumes:          []Volume{{Name: ConfigVolumeName}},
		NodeSelector:     nodeSelector,
		Tolerations:      slices.Clone(f.cfg.Tolerations),
		SchedulerName:    scheduler,
		ServiceAccount:   f.cfg.ServiceAccount,
		ImagePullSecrets: slices.Clone(f.cfg.ImagePullSecrets),
		ImagePullPolicy:  f.cfg.ImagePullPolicy,
	}, nil
}

func (f *Factory) initContainer(files transfer.FileMap, opts Options) (Container, error) {
	env := []EnvVar{
		{Name: EnvConfigDir, Value: transfer.ConfigDir},
		{Name: EnvInitTimeout, Value: f.cfg.InitTimeout.String()},
	}
	if opts.InitFetchesInput {
		payload := make(map[string]string, len(files))
		for _, file := range files {
			payload[file.Name] = string(file.Content)
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return Container{}, err
		}
		env = append(env, EnvVar{Name: EnvInitFiles, Value: string(data)})
	}
	return Container{
		Name:         InitContainerName,
		Kind:         KindInit,
		Image:        f.cfg.InitImage,
		Env:          env,
		VolumeMounts: []VolumeMount{{Name: ConfigVolumeName, MountPath: transfer.ConfigDir}},
	}, nil
}

func replicationFiles(input *workload.JobInput, workloadID string) (transfer.FileMap, error) {
	var files transfer.FileMap

	envMap, err := json.Marshal(EnvMap(runtimeEnv(input, workloadID, workload.KindReplication, nil)))
	if err != nil {
		return nil, err
	}
	files.Add(EnvMapFile, envMap)

	jobRun, err := json.Marshal(input.JobRun)
	if err != nil {
		return nil, err
	}
	files.Add(JobRunConfigFile, jobRun)

	in, err := json.Marshal(replicationInput{
		WorkloadID:        workloadID,
		Input:             input,
		SourceLabels:      RoleLabels(input, workloadID, workload.RoleSource),
		DestinationLabels: RoleLabels(input, workloadID, workload.RoleDestination),
	})
	if err != nil {
		return nil, err
	}
	files.Add(InputFile, in)
	return files, nil
}

func connectorFiles(kind workload.Kind, input *workload.JobInput, workloadID string) (transfer.FileMap, error) {
	var files transfer.FileMap
	if kind == workload.KindSpec {
		return files, nil
	}

	files.Add(ConnectionConfigFile, input.ConnectorConfig)

	jobRun, err := json.Marshal(workload.JobRunConfig{JobID: input.Connector.JobID, AttemptID: input.Connector.AttemptID})
	if err != nil {
		return nil, err
	}
	files.Add(JobRunConfigFile, jobRun)

	lc, err := json.Marshal(launcherConfig{
		WorkloadID:   workloadID,
		Kind:         kind,
		Connector:    input.Connector,
		ConnectionID: input.ConnectionID,
		WorkspaceID:  input.WorkspaceID,
	})
	if err != nil {
		return nil, err
	}
	files.Add(LauncherConfigFile, lc)
	return files, nil
}

func connectorArgs(kind workload.Kind) []string {
	if kind == workload.KindSpec {
		return []string{"spec"}
	}
	return []string{string(kind), "--config", transfer.ConfigDir + "/" + ConnectionConfigFile}
}

// runtimeEnv returns input env, then extra, then launcher-owned variables,
// sorted by name. Later sources win.
func runtimeEnv(input *workload.JobInput, workloadID string, kind workload.Kind, extra map[string]string) []EnvVar {
	merged := map[string]string{}
	maps.Copy(merged, input.Env)
	maps.Copy(merged, extra)
	maps.Copy(merged, map[string]string{
		"WORKLOAD_ID":    workloadID,
		"JOB_ID":         input.JobRun.JobID,
		"ATTEMPT_ID":     strconv.FormatInt(input.JobRun.AttemptID, 10),
		"CONNECTION_ID":  input.ConnectionID,
		"WORKSPACE_ID":   input.WorkspaceID,
		"OPERATION_TYPE": string(kind),
		EnvConfigDir:     transfer.ConfigDir,
	})

	env := make([]EnvVar, 0, len(merged))
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		env = append(env, EnvVar{Name: k, Value: merged[k]})
	}
	return env
}

// EnvMap converts env vars to a map.
func EnvMap(env []EnvVar) map[string]string {
	out := make(map[string]string, len(env))
	for _, e := range env {
		out[e.Name] = e.Value
	}
	return out
}
