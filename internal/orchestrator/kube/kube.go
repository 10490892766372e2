// Package kube implements orchestrator.Driver on a Kubernetes cluster.
// Pods are created directly; waits use watches with periodic relists.
package kube

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"time"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/observability"
	"workloadlauncher/internal/orchestrator"
	"workloadlauncher/internal/pod"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

// Platform operation names, used in errors and metrics.
const (
	opCreatePod     = "kube.createPod"
	opGetPod        = "kube.getPod"
	opListPods      = "kube.listPods"
	opDeletePod     = "kube.deletePod"
	opDeleteAll     = "kube.deleteAll"
	opServerVersion = "kube.serverVersion"
)

const backendName = "kube"

// Config holds configuration for the cluster driver.
type Config struct {
	Namespace       string        // Default namespace for specs without one
	Resync          time.Duration // Relist interval while watching (default 30s)
	DeletionTimeout time.Duration // Bound on removing a terminated pod during Submit (default 1m)
	Retry           orchestrator.RetryConfig
	Metrics         *observability.Metrics // Metrics recorder (optional)
}

// Driver implements orchestrator.Driver using client-go.
type Driver struct {
	client          kubernetes.Interface
	namespace       string
	resync          time.Duration
	deletionTimeout time.Duration
	retry           *orchestrator.Retrier
	metrics         *observability.Metrics
}

// New creates a cluster driver over client.
func New(client kubernetes.Interface, cfg Config) *Driver {
	resync := cfg.Resync
	if resync <= 0 {
		resync = 30 * time.Second
	}
	deletionTimeout := cfg.DeletionTimeout
	if deletionTimeout <= 0 {
		deletionTimeout = time.Minute
	}

	return &Driver{
		client:          client,
		namespace:       cmp.Or(cfg.Namespace, metav1.NamespaceDefault),
		resync:          resync,
		deletionTimeout: deletionTimeout,
		retry:           orchestrator.NewRetrier(cfg.Retry, IsTransient, cfg.Metrics),
		metrics:         cfg.Metrics,
	}
}

// IsTransient reports whether a Kubernetes API error is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case k8serrors.IsServerTimeout(err), k8serrors.IsTimeout(err), k8serrors.IsTooManyRequests(err),
		k8serrors.IsServiceUnavailable(err), k8serrors.IsInternalError(err):
		return true
	case utilnet.IsConnectionReset(err), utilnet.IsConnectionRefused(err), utilnet.IsProbableEOF(err):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Submit creates the pod. A live pod with the same name is kept as is; a
// terminated one is deleted and created again.
func (d *Driver) Submit(ctx context.Context, spec *pod.Spec) (orchestrator.Handle, error) {
	p := toPod(spec, d.namespace)
	h := orchestrator.Handle{Name: p.Name, Namespace: p.Namespace, Labels: maps.Clone(p.Labels)}
	logger := slog.With("pod", p.Name, "namespace", p.Namespace)

	exists, err := d.create(ctx, p)
	if err != nil {
		return orchestrator.Handle{}, apperrors.Submit(h.String(), opCreatePod, err)
	}
	if !exists {
		logger.Info("Pod created")
		return h, nil
	}

	current, err := d.get(ctx, p.Namespace, p.Name)
	if err != nil {
		return orchestrator.Handle{}, apperrors.Submit(h.String(), opGetPod, err)
	}
	if current != nil && !isTerminal(current) {
		logger.Info("Pod already exists, keeping it", "phase", current.Status.Phase)
		return h, nil
	}

	logger.Info("Replacing terminated pod")
	if current != nil {
		if err := d.delete(ctx, current); err != nil {
			return orchestrator.Handle{}, apperrors.Submit(h.String(), opDeletePod, err)
		}
		err := d.waitFor(ctx, apperrors.StageSubmit, h.String(), p.Namespace, nil, p.Name, d.deletionTimeout,
			func(pods []corev1.Pod) (bool, error) { return len(pods) == 0, nil })
		if err != nil {
			return orchestrator.Handle{}, apperrors.Submit(h.String(), opDeletePod, err)
		}
	}

	exists, err = d.create(ctx, p)
	if err == nil && exists {
		err = fmt.Errorf("pod %s was recreated concurrently", h)
	}
	if err != nil {
		return orchestrator.Handle{}, apperrors.Submit(h.String(), opCreatePod, err)
	}
	logger.Info("Pod created")
	return h, nil
}

// AwaitInitialized waits until the first init container is running.
func (d *Driver) AwaitInitialized(ctx context.Context, h orchestrator.Handle, timeout time.Duration) error {
	unit := h.String()
	err := d.waitForHandle(ctx, apperrors.StageInit, h, timeout, func(p *corev1.Pod) (bool, error) {
		if p.Status.Phase == corev1.PodFailed {
			return false, apperrors.InitCrash(unit, describePod(p))
		}
		if len(p.Status.InitContainerStatuses) == 0 {
			return false, nil
		}
		state := p.Status.InitContainerStatuses[0].State
		switch {
		case state.Running != nil:
			return true, nil
		case state.Terminated != nil:
			return false, apperrors.InitCrash(unit, describeState(state))
		default:
			return false, nil
		}
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.InitTimeout(unit, timeout)
	}
	return err
}

// AwaitInitCompleted waits until every init container exited with code 0.
func (d *Driver) AwaitInitCompleted(ctx context.Context, h orchestrator.Handle, timeout time.Duration) error {
	unit := h.String()
	err := d.waitForHandle(ctx, apperrors.StageInit, h, timeout, func(p *corev1.Pod) (bool, error) {
		if p.Status.Phase == corev1.PodFailed {
			return false, apperrors.InitCrash(unit, describePod(p))
		}
		statuses := p.Status.InitContainerStatuses
		if len(statuses) == 0 {
			return false, nil
		}
		for _, s := range statuses {
			t := s.State.Terminated
			if t == nil {
				return false, nil
			}
			if t.ExitCode != 0 {
				return false, apperrors.InitCrash(unit, describeState(s.State))
			}
		}
		return true, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.InitTimeout(unit, timeout)
	}
	return err
}

// AwaitReadyOrTerminal waits until the pod is ready, succeeded or failed.
func (d *Driver) AwaitReadyOrTerminal(ctx context.Context, h orchestrator.Handle, timeout time.Duration) error {
	err := d.waitForHandle(ctx, apperrors.StageReady, h, timeout, func(p *corev1.Pod) (bool, error) {
		return isReadyOrTerminal(p), nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.StartTimeout(h.String(), timeout)
	}
	return err
}

// AwaitReadyOrTerminalBySelector waits until at least one pod matches sel and
// every matching pod is ready, succeeded or failed.
func (d *Driver) AwaitReadyOrTerminalBySelector(ctx context.Context, sel orchestrator.Selector, timeout time.Duration) error {
	unit := sel.String()
	err := d.waitFor(ctx, apperrors.StageReady, unit, d.namespace, sel, "", timeout, func(pods []corev1.Pod) (bool, error) {
		if len(pods) == 0 {
			return false, nil
		}
		for i := range pods {
			if !isReadyOrTerminal(&pods[i]) {
				return false, nil
			}
		}
		return true, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.StartTimeout(unit, timeout)
	}
	return err
}

// Exists reports whether any non-terminal pod matches sel.
func (d *Driver) Exists(ctx context.Context, sel orchestrator.Selector) (bool, error) {
	pods, _, err := d.list(ctx, d.namespace, sel, "")
	if err != nil {
		return false, apperrors.Platform(apperrors.StageExists, sel.String(), opListPods, err)
	}
	return len(live(pods)) > 0, nil
}

// DeleteAll deletes every non-terminal pod matching sel and waits until they
// are gone. Terminal pods are left for inspection.
func (d *Driver) DeleteAll(ctx context.Context, sel orchestrator.Selector, timeout time.Duration) (int, error) {
	unit := sel.String()
	if len(sel) == 0 {
		return 0, apperrors.Validation("selector", "refusing to delete pods with an empty selector")
	}

	pods, _, err := d.list(ctx, d.namespace, sel, "")
	if err != nil {
		return 0, apperrors.Platform(apperrors.StageDelete, unit, opListPods, err)
	}
	targets := live(pods)
	if len(targets) == 0 {
		return 0, nil
	}

	names := make(map[string]struct{}, len(targets))
	for i := range targets {
		names[targets[i].Name] = struct{}{}
		if err := d.delete(ctx, &targets[i]); err != nil {
			return 0, apperrors.Platform(apperrors.StageDelete, unit, opDeletePod, err)
		}
	}
	d.metrics.RecordPodsDeleted(ctx, backendName, len(targets))
	slog.Info("Pods deleted", "selector", unit, "count", len(targets))

	remaining := len(targets)
	err = d.waitFor(ctx, apperrors.StageDelete, unit, d.namespace, sel, "", timeout, func(pods []corev1.Pod) (bool, error) {
		remaining = 0
		for _, p := range pods {
			if _, ok := names[p.Name]; ok {
				remaining++
			}
		}
		return remaining == 0, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		d.retry.Fail(ctx, opDeleteAll)
		return len(targets), apperrors.DeletionTimeout(unit, remaining, timeout)
	}
	return len(targets), err
}

// Ready checks the API server is reachable.
func (d *Driver) Ready(ctx context.Context) error {
	return d.retry.Do(ctx, opServerVersion, func(context.Context) error {
		_, err := d.client.Discovery().ServerVersion()
		return err
	})
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) create(ctx context.Context, p *corev1.Pod) (exists bool, err error) {
	err = d.retry.Do(ctx, opCreatePod, func(ctx context.Context) error {
		_, err := d.client.CoreV1().Pods(p.Namespace).Create(ctx, p, metav1.CreateOptions{})
		if k8serrors.IsAlreadyExists(err) {
			exists = true
			return nil
		}
		return err
	})
	return exists, err
}

// get returns the pod or nil when it does not exist.
func (d *Driver) get(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	var p *corev1.Pod
	err := d.retry.Do(ctx, opGetPod, func(ctx context.Context) error {
		var err error
		p, err = d.client.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
		if k8serrors.IsNotFound(err) {
			p = nil
			return nil
		}
		return err
	})
	return p, err
}

func (d *Driver) delete(ctx context.Context, p *corev1.Pod) error {
	return d.retry.Do(ctx, opDeletePod, func(ctx context.Context) error {
		err := d.client.CoreV1().Pods(p.Namespace).Delete(ctx, p.Name, metav1.DeleteOptions{})
		if k8serrors.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// listOptions selects pods by name when name is set, else by sel. A pod is
// found by name whatever labels it carries.
func listOptions(sel orchestrator.Selector, name string) metav1.ListOptions {
	if name != "" {
		return metav1.ListOptions{FieldSelector: fields.OneTermEqualSelector("metadata.name", name).String()}
	}
	return metav1.ListOptions{LabelSelector: sel.String()}
}

func (d *Driver) list(ctx context.Context, namespace string, sel orchestrator.Selector, name string) ([]corev1.Pod, string, error) {
	var list *corev1.PodList
	err := d.retry.Do(ctx, opListPods, func(ctx context.Context) error {
		var err error
		list, err = d.client.CoreV1().Pods(namespace).List(ctx, listOptions(sel, name))
		return err
	})
	if err != nil {
		return nil, "", err
	}

	pods := list.Items
	if name != "" {
		pods = slices.DeleteFunc(pods, func(p corev1.Pod) bool { return p.Name != name })
	}
	return pods, list.ResourceVersion, nil
}

// podCondition inspects the pods a wait is about. done ends the wait; an
// error fails it.
type podCondition func(pods []corev1.Pod) (done bool, err error)

func (d *Driver) waitForHandle(ctx context.Context, stage apperrors.Stage, h orchestrator.Handle, timeout time.Duration, cond func(p *corev1.Pod) (bool, error)) error {
	return d.waitFor(ctx, stage, h.String(), h.Namespace, nil, h.Name, timeout, func(pods []corev1.Pod) (bool, error) {
		if len(pods) == 0 {
			return false, nil
		}
		return cond(&pods[0])
	})
}

// waitFor evaluates cond over the pod named name, or the pods matching sel
// when name is empty, until it reports done or fails. The pods are relisted
// whenever the watch reports a change and at least every resync interval. It
// returns context.DeadlineExceeded when timeout passes.
func (d *Driver) waitFor(ctx context.Context, stage apperrors.Stage, unit, namespace string, sel orchestrator.Selector, name string, timeout time.Duration, cond podCondition) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		pods, resourceVersion, err := d.list(ctx, namespace, sel, name)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.Platform(stage, unit, opListPods, err)
		}

		done, err := cond(pods)
		if err != nil || done {
			return err
		}

		if err := d.nextChange(ctx, namespace, sel, name, resourceVersion); err != nil {
			return err
		}
	}
}

// nextChange blocks until a relevant pod event arrives, the resync interval
// passes or ctx ends. A failed watch falls back to the resync interval.
func (d *Driver) nextChange(ctx context.Context, namespace string, sel orchestrator.Selector, name, resourceVersion string) error {
	resync := time.NewTimer(d.resync)
	defer resync.Stop()

	var events <-chan watch.Event
	opts := listOptions(sel, name)
	opts.ResourceVersion = resourceVersion
	w, err := d.client.CoreV1().Pods(namespace).Watch(ctx, opts)
	if err != nil {
		slog.Debug("Pod watch failed, waiting for resync", "selector", sel.String(), "error", err)
	} else {
		defer w.Stop()
		events = w.ResultChan()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resync.C:
			return nil
		case ev, ok := <-events:
			if !ok || ev.Type == watch.Error {
				return nil
			}
			if p, isPod := ev.Object.(*corev1.Pod); isPod && name != "" && p.Name != name {
				continue
			}
			return nil
		}
	}
}

func toPod(spec *pod.Spec, namespace string) *corev1.Pod {
	p := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        spec.Name,
			Namespace:   cmp.Or(spec.Namespace, namespace),
			Labels:      maps.Clone(spec.Labels),
			Annotations: maps.Clone(spec.Annotations),
		},
		Spec: corev1.PodSpec{
			RestartPolicy:      corev1.RestartPolicyNever,
			NodeSelector:       maps.Clone(spec.NodeSelector),
			Tolerations:        slices.Clone(spec.Tolerations),
			SchedulerName:      spec.SchedulerName,
			ServiceAccountName: spec.ServiceAccount,
			EnableServiceLinks: ptr.To(false),
		},
	}

	for _, secret := range spec.ImagePullSecrets {
		p.Spec.ImagePullSecrets = append(p.Spec.ImagePullSecrets, corev1.LocalObjectReference{Name: secret})
	}
	for _, v := range spec.Volumes {
		p.Spec.Volumes = append(p.Spec.Volumes, corev1.Volume{
			Name:         v.Name,
			VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
		})
	}
	for _, c := range spec.Containers {
		kc := toContainer(c, corev1.PullPolicy(spec.ImagePullPolicy))
		if c.Kind == pod.KindInit {
			p.Spec.InitContainers = append(p.Spec.InitContainers, kc)
		} else {
			p.Spec.Containers = append(p.Spec.Containers, kc)
		}
	}
	return p
}

func toContainer(c pod.Container, pullPolicy corev1.PullPolicy) corev1.Container {
	kc := corev1.Container{
		Name:            c.Name,
		Image:           c.Image,
		Command:         slices.Clone(c.Command),
		Args:            slices.Clone(c.Args),
		Resources:       c.Resources,
		ImagePullPolicy: pullPolicy,
	}
	for _, e := range c.Env {
		kc.Env = append(kc.Env, corev1.EnvVar{Name: e.Name, Value: e.Value})
	}
	for _, m := range c.VolumeMounts {
		kc.VolumeMounts = append(kc.VolumeMounts, corev1.VolumeMount{Name: m.Name, MountPath: m.MountPath, ReadOnly: m.ReadOnly})
	}
	return kc
}

func isTerminal(p *corev1.Pod) bool {
	return p.Status.Phase == corev1.PodSucceeded || p.Status.Phase == corev1.PodFailed
}

func isReadyOrTerminal(p *corev1.Pod) bool {
	if isTerminal(p) {
		return true
	}
	for _, c := range p.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

func live(pods []corev1.Pod) []corev1.Pod {
	return slices.DeleteFunc(slices.Clone(pods), func(p corev1.Pod) bool { return isTerminal(&p) })
}

func describePod(p *corev1.Pod) string {
	if p.Status.Reason != "" {
		return fmt.Sprintf("pod %s (%s)", p.Status.Phase, p.Status.Reason)
	}
	return fmt.Sprintf("pod %s", p.Status.Phase)
}

func describeState(s corev1.ContainerState) string {
	switch {
	case s.Terminated != nil:
		return fmt.Sprintf("terminated (exit code %d, reason %s)", s.Terminated.ExitCode, s.Terminated.Reason)
	case s.Waiting != nil:
		return fmt.Sprintf("waiting (reason %s)", s.Waiting.Reason)
	case s.Running != nil:
		return "running"
	default:
		return "unknown"
	}
}

var _ orchestrator.Driver = (*Driver)(nil)
