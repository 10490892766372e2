// Package orchestrator defines the atomic pod operations both backends provide.
package orchestrator

import (
	"context"
	"time"
	"workloadlauncher/internal/pod"

	k8slabels "k8s.io/apimachinery/pkg/labels"
)

// Handle identifies a submitted pod.
type Handle struct {
	Name      string
	Namespace string
	Labels    map[string]string
}

func (h Handle) String() string {
	if h.Namespace == "" {
		return h.Name
	}
	return h.Namespace + "/" + h.Name
}

// Selector matches pods carrying every label in the set.
type Selector map[string]string

// String renders the selector in label-selector syntax, sorted by key.
func (s Selector) String() string {
	return k8slabels.SelectorFromSet(k8slabels.Set(s)).String()
}

// Matches reports whether podLabels satisfy the selector. An empty selector
// matches everything.
func (s Selector) Matches(podLabels map[string]string) bool {
	return k8slabels.SelectorFromSet(k8slabels.Set(s)).Matches(k8slabels.Set(podLabels))
}

// Driver performs atomic pod operations against one backend.
//
// Every wait blocks until its condition holds, the timeout passes or ctx is
// cancelled. Platform failures are returned as typed stage errors after
// transient ones have been retried.
type Driver interface {
	// Submit creates the pod. Replaying the same spec is not an error.
	Submit(ctx context.Context, spec *pod.Spec) (Handle, error)

	// AwaitInitialized waits until the init container is running.
	AwaitInitialized(ctx context.Context, h Handle, timeout time.Duration) error

	// AwaitInitCompleted waits until every init container exited successfully.
	AwaitInitCompleted(ctx context.Context, h Handle, timeout time.Duration) error

	// AwaitReadyOrTerminal waits until the pod is ready, succeeded or failed.
	AwaitReadyOrTerminal(ctx context.Context, h Handle, timeout time.Duration) error

	// AwaitReadyOrTerminalBySelector waits until at least one pod matches and
	// every matching pod is ready, succeeded or failed.
	AwaitReadyOrTerminalBySelector(ctx context.Context, sel Selector, timeout time.Duration) error

	// Exists reports whether any non-terminal pod matches.
	Exists(ctx context.Context, sel Selector) (bool, error)

	// DeleteAll deletes every non-terminal matching pod and waits until they
	// are gone. It returns how many pods were targeted.
	DeleteAll(ctx context.Context, sel Selector, timeout time.Duration) (int, error)

	// Ready checks the backend is reachable.
	Ready(ctx context.Context) error

	// Close releases backend connections.
	Close() error
}
