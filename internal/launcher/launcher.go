// Package launcher runs the workload startup protocol on the selected backend.
package launcher

import (
	"cmp"
	"context"
	"log/slog"
	"time"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/featureflag"
	"workloadlauncher/internal/observability"
	"workloadlauncher/internal/orchestrator"
	"workloadlauncher/internal/pod"
	"workloadlauncher/internal/pod/labels"
	"workloadlauncher/internal/transfer"
	"workloadlauncher/internal/workload"
)

// Timeouts bound each wait of the startup protocol.
type Timeouts struct {
	Init                time.Duration // Init container running (or completed when it fetches its input)
	OrchestratorStartup time.Duration // Replication orchestrator ready or terminal
	ConnectorStartup    time.Duration // Connector pods ready or terminal
	Deletion            time.Duration // Mutex pods gone
}

// Deps are the collaborators shared by both backends.
type Deps struct {
	Factory  *pod.Factory
	Flags    featureflag.Client
	Timeouts Timeouts
	Metrics  *observability.Metrics
}

// transferMode is when config files reach the pod.
type transferMode int

const (
	// transferAfterInit copies files into the running init container.
	transferAfterInit transferMode = iota
	// transferBeforeSubmit writes files into the pod volume before any container starts.
	transferBeforeSubmit
)

// launcher implements workload.Orchestrator over a Driver.
type launcher struct {
	backend  string
	driver   orchestrator.Driver
	channel  *transfer.Channel
	factory  *pod.Factory
	flags    featureflag.Client
	timeouts Timeouts
	metrics  *observability.Metrics
	mode     transferMode
}

// ClusterOrchestrator launches workloads as cluster pods. Config files are
// streamed into the init container once it runs.
type ClusterOrchestrator struct {
	*launcher
}

// NewCluster creates the cluster façade.
func NewCluster(driver orchestrator.Driver, copier transfer.Copier, deps Deps) *ClusterOrchestrator {
	return &ClusterOrchestrator{launcher: newLauncher("kube", driver, copier, deps, transferAfterInit)}
}

// LocalOrchestrator launches workloads as groups of local containers. Config
// files are written to the shared volume before the containers start, so
// init containers never run.
type LocalOrchestrator struct {
	*launcher
}

// NewLocal creates the local façade.
func NewLocal(driver orchestrator.Driver, copier transfer.Copier, deps Deps) *LocalOrchestrator {
	return &LocalOrchestrator{launcher: newLauncher("docker", driver, copier, deps, transferBeforeSubmit)}
}

func newLauncher(backend string, driver orchestrator.Driver, copier transfer.Copier, deps Deps, mode transferMode) *launcher {
	flags := deps.Flags
	if flags == nil {
		flags = featureflag.StaticClient{}
	}
	return &launcher{
		backend:  backend,
		driver:   driver,
		channel:  transfer.NewChannel(copier, deps.Metrics),
		factory:  deps.Factory,
		flags:    flags,
		timeouts: deps.Timeouts,
		metrics:  deps.Metrics,
		mode:     mode,
	}
}

// LaunchReplication starts the replication orchestrator and waits for the
// orchestrator, source and destination in that order. Resets have no source.
func (l *launcher) LaunchReplication(ctx context.Context, input *workload.JobInput, workloadID string) error {
	flagCtx := flagContext(input)
	opts := pod.Options{InitFetchesInput: l.fetchesFromInit(featureflag.OrchestratorFetchesInputFromInit, flagCtx)}

	if l.flags.Bool(featureflag.ReplicationMonoPod, flagCtx) {
		return l.launchMonoPod(ctx, input, workloadID, opts)
	}

	var b *pod.Build
	var h orchestrator.Handle
	stages := []stage{
		{name: "build", stage: apperrors.StageBuild, run: func(ctx context.Context) error {
			var err error
			b, err = l.factory.Orchestrator(ctx, input, workloadID, opts)
			return err
		}},
	}
	stages = append(stages, l.startStages(&b, &h, opts)...)
	stages = append(stages,
		stage{name: "await orchestrator", stage: apperrors.StageReady, run: func(ctx context.Context) error {
			return l.driver.AwaitReadyOrTerminal(ctx, h, l.timeouts.OrchestratorStartup)
		}},
		stage{name: "await source", stage: apperrors.StageReady, run: func(ctx context.Context) error {
			if input.IsReset {
				slog.Debug("Reset has no source, skipping", "workloadId", workloadID)
				return nil
			}
			return l.awaitRole(ctx, input, workloadID, workload.RoleSource)
		}},
		stage{name: "await destination", stage: apperrors.StageReady, run: func(ctx context.Context) error {
			return l.awaitRole(ctx, input, workloadID, workload.RoleDestination)
		}},
	)

	return l.newPipeline(workload.KindReplication, workloadID).run(ctx, stages)
}

// launchMonoPod runs orchestrator, source and destination as containers of
// one pod; only that pod is awaited.
func (l *launcher) launchMonoPod(ctx context.Context, input *workload.JobInput, workloadID string, opts pod.Options) error {
	var b *pod.Build
	var h orchestrator.Handle
	stages := []stage{
		{name: "build", stage: apperrors.StageBuild, run: func(ctx context.Context) error {
			var err error
			b, err = l.factory.MonoPod(ctx, input, workloadID, opts)
			return err
		}},
	}
	stages = append(stages, l.startStages(&b, &h, opts)...)
	stages = append(stages, stage{name: "await replication", stage: apperrors.StageReady, run: func(ctx context.Context) error {
		return l.driver.AwaitReadyOrTerminal(ctx, h, l.timeouts.ConnectorStartup)
	}})

	return l.newPipeline(workload.KindReplication, workloadID).run(ctx, stages)
}

// LaunchCheck starts a connector check pod.
func (l *launcher) LaunchCheck(ctx context.Context, input *workload.JobInput, workloadID string) error {
	return l.launchConnector(ctx, workload.KindCheck, input, workloadID)
}

// LaunchDiscover starts a connector discover pod.
func (l *launcher) LaunchDiscover(ctx context.Context, input *workload.JobInput, workloadID string) error {
	return l.launchConnector(ctx, workload.KindDiscover, input, workloadID)
}

// LaunchSpec starts a connector spec pod.
func (l *launcher) LaunchSpec(ctx context.Context, input *workload.JobInput, workloadID string) error {
	return l.launchConnector(ctx, workload.KindSpec, input, workloadID)
}

func (l *launcher) launchConnector(ctx context.Context, kind workload.Kind, input *workload.JobInput, workloadID string) error {
	opts := pod.Options{InitFetchesInput: l.fetchesFromInit(featureflag.ConnectorSidecarFetchesInputFromInit, flagContext(input))}

	var b *pod.Build
	var h orchestrator.Handle
	stages := []stage{
		{name: "build", stage: apperrors.StageBuild, run: func(ctx context.Context) error {
			var err error
			b, err = l.factory.Connector(ctx, kind, input, workloadID, opts)
			return err
		}},
	}
	stages = append(stages, l.startStages(&b, &h, opts)...)
	stages = append(stages, stage{name: "await connector", stage: apperrors.StageReady, run: func(ctx context.Context) error {
		return l.driver.AwaitReadyOrTerminal(ctx, h, l.timeouts.ConnectorStartup)
	}})

	return l.newPipeline(kind, workloadID).run(ctx, stages)
}

// startStages returns the stages that take a built pod to a running one with
// its config files in place. b and h are filled in by earlier stages.
func (l *launcher) startStages(b **pod.Build, h *orchestrator.Handle, opts pod.Options) []stage {
	submit := stage{name: "submit", stage: apperrors.StageSubmit, run: func(ctx context.Context) error {
		var err error
		*h, err = l.driver.Submit(ctx, (*b).Spec)
		return err
	}}
	awaitInit := stage{name: "await initialized", stage: apperrors.StageInit, run: func(ctx context.Context) error {
		return l.driver.AwaitInitialized(ctx, *h, l.timeouts.Init)
	}}

	switch {
	case l.mode == transferBeforeSubmit:
		write := stage{name: "transfer", stage: apperrors.StageTransfer, run: func(ctx context.Context) error {
			_, err := l.channel.Transfer(ctx, transfer.Target{Namespace: (*b).Spec.Namespace, Pod: (*b).Spec.Name}, (*b).Files)
			return err
		}}
		return []stage{write, submit, awaitInit}

	case opts.InitFetchesInput:
		awaitCompleted := stage{name: "await init completed", stage: apperrors.StageInit, run: func(ctx context.Context) error {
			return l.driver.AwaitInitCompleted(ctx, *h, l.timeouts.Init)
		}}
		return []stage{submit, awaitCompleted}

	default:
		copyFiles := stage{name: "transfer", stage: apperrors.StageTransfer, run: func(ctx context.Context) error {
			target := transfer.Target{Namespace: h.Namespace, Pod: h.Name, Container: pod.InitContainerName}
			_, err := l.channel.Transfer(ctx, target, (*b).Files)
			return err
		}}
		return []stage{submit, awaitInit, copyFiles}
	}
}

func (l *launcher) awaitRole(ctx context.Context, input *workload.JobInput, workloadID string, role workload.Role) error {
	sel := orchestrator.Selector(pod.RoleLabels(input, workloadID, role))
	return l.driver.AwaitReadyOrTerminalBySelector(ctx, sel, l.timeouts.ConnectorStartup)
}

// fetchesFromInit reports whether the init container fetches its own input.
// Local pods have no init container, so files are always written for them.
func (l *launcher) fetchesFromInit(flag featureflag.BoolFlag, c featureflag.Context) bool {
	return l.mode == transferAfterInit && l.flags.Bool(flag, c)
}

func (l *launcher) newPipeline(kind workload.Kind, workloadID string) *pipeline {
	return &pipeline{
		operation: string(kind),
		backend:   l.backend,
		unit:      workloadID,
		metrics:   l.metrics,
		logger:    slog.With("workloadId", workloadID, "kind", kind, "backend", l.backend),
	}
}

// Operation names of the lookups outside the launch pipeline, used in metrics.
const (
	opPodsExist     = "pods_exist"
	opDeleteByMutex = "delete_by_mutex"
)

// PodsExistForWorkload reports whether any live pod carries the workload id.
func (l *launcher) PodsExistForWorkload(ctx context.Context, workloadID string) (bool, error) {
	exists, err := l.driver.Exists(ctx, orchestrator.Selector(labels.WorkloadID(workloadID)))
	if err != nil {
		l.recordError(ctx, opPodsExist, apperrors.StageExists, err)
	}
	return exists, err
}

// DeleteByMutex deletes the live pods holding mutexKey. A blank key deletes
// nothing.
func (l *launcher) DeleteByMutex(ctx context.Context, mutexKey string) (bool, error) {
	sel := orchestrator.Selector(labels.Mutex(mutexKey))
	if len(sel) == 0 {
		return false, nil
	}
	n, err := l.driver.DeleteAll(ctx, sel, l.timeouts.Deletion)
	if err != nil {
		l.recordError(ctx, opDeleteByMutex, apperrors.StageDelete, err)
	}
	return n > 0, err
}

// recordError counts a failed operation under the stage the error reports,
// or fallback when it reports none.
func (l *launcher) recordError(ctx context.Context, operation string, fallback apperrors.Stage, err error) {
	l.metrics.RecordStageError(ctx, operation, string(cmp.Or(apperrors.StageOf(err), fallback)))
}

// Ready checks the backend is reachable.
func (l *launcher) Ready(ctx context.Context) error {
	return l.driver.Ready(ctx)
}

// Close releases the backend client. Running pods are left alone.
func (l *launcher) Close() error {
	return l.driver.Close()
}

func flagContext(input *workload.JobInput) featureflag.Context {
	return featureflag.Context{ConnectionID: input.ConnectionID, WorkspaceID: input.WorkspaceID}
}

var (
	_ workload.Orchestrator = (*ClusterOrchestrator)(nil)
	_ workload.Orchestrator = (*LocalOrchestrator)(nil)
)
