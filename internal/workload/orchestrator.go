// Package workload defines the Orchestrator interface and the job input model.
package workload

import "context"

// Orchestrator launches workload pods on one execution backend.
//
// # Startup protocol
//
// Every launch runs the same ordered stages and stops at the first failure:
//
//   - build the pod spec from the job input
//   - submit it to the backend
//   - wait for the init container to run
//   - transfer config files, marker last
//   - wait for each role to become ready or terminal
//
// A failed launch returns exactly one *apperrors.Error naming the stage.
//
// # Mutual exclusion
//
// Pods carry a mutex label. Launches never delete pods on their own; callers
// call DeleteByMutex before retrying a job.
type Orchestrator interface {
	// LaunchReplication starts the replication orchestrator and waits until the
	// orchestrator, source and destination are ready or terminal.
	LaunchReplication(ctx context.Context, input *JobInput, workloadID string) error

	// LaunchCheck starts a connector check pod.
	LaunchCheck(ctx context.Context, input *JobInput, workloadID string) error

	// LaunchDiscover starts a connector discover pod.
	LaunchDiscover(ctx context.Context, input *JobInput, workloadID string) error

	// LaunchSpec starts a connector spec pod.
	LaunchSpec(ctx context.Context, input *JobInput, workloadID string) error

	// PodsExistForWorkload reports whether any non-terminal pod carries the workload id.
	PodsExistForWorkload(ctx context.Context, workloadID string) (bool, error)

	// DeleteByMutex deletes all non-terminal pods holding the mutex key and
	// reports whether any were deleted. A blank key deletes nothing.
	DeleteByMutex(ctx context.Context, mutexKey string) (bool, error)

	// Ready checks if the backend is reachable.
	Ready(ctx context.Context) error

	// Close releases resources held by the orchestrator.
	// Running pods are NOT stopped.
	Close() error
}
