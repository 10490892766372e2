// Package pod holds the backend-neutral pod model and builds it from job inputs.
package pod

import (
	"fmt"
	"strings"
	"workloadlauncher/internal/workload"

	corev1 "k8s.io/api/core/v1"
)

// Container names
const (
	InitContainerName    = "init"
	MainContainerName    = "main"
	SidecarContainerName = "connector-sidecar"
)

// ConfigVolumeName is the shared volume holding the config files.
const ConfigVolumeName = "config"

// ContainerKind describes the lifecycle slot of a container.
type ContainerKind string

const (
	KindInit    ContainerKind = "init"
	KindMain    ContainerKind = "main"
	KindSidecar ContainerKind = "sidecar"
)

// EnvVar is a plain environment variable.
type EnvVar struct {
	Name  string
	Value string
}

// VolumeMount mounts a pod volume into a container.
type VolumeMount struct {
	Name      string
	MountPath string
	ReadOnly  bool
}

// Volume is a pod-scoped scratch volume.
type Volume struct {
	Name string
}

// Container is one container of a pod.
type Container struct {
	Name         string
	Kind         ContainerKind
	Role         workload.Role // Set on main containers that run a workload role
	Image        string
	Command      []string
	Args         []string
	Env          []EnvVar
	VolumeMounts []VolumeMount
	Resources    corev1.ResourceRequirements
}

// EnvMap returns the container env as a map.
func (c Container) EnvMap() map[string]string {
	return EnvMap(c.Env)
}

// Spec is a pod description both backends can submit.
type Spec struct {
	Name             string
	Namespace        string
	Labels           map[string]string
	Annotations      map[string]string
	Containers       []Container
	Volumes          []Volume
	NodeSelector     map[string]string
	Tolerations      []corev1.Toleration
	SchedulerName    string
	ServiceAccount   string
	ImagePullSecrets []string
	ImagePullPolicy  string
}

// InitContainers returns the init containers in start order.
func (s *Spec) InitContainers() []Container {
	return s.byKind(KindInit)
}

// AppContainers returns main and sidecar containers.
func (s *Spec) AppContainers() []Container {
	var out []Container
	for _, c := range s.Containers {
		if c.Kind != KindInit {
			out = append(out, c)
		}
	}
	return out
}

// Container returns the container with the given name.
func (s *Spec) Container(name string) (Container, bool) {
	for _, c := range s.Containers {
		if c.Name == name {
			return c, true
		}
	}
	return Container{}, false
}

func (s *Spec) byKind(kind ContainerKind) []Container {
	var out []Container
	for _, c := range s.Containers {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// ParseTolerations parses "key=k,operator=Equal,value=v,effect=NoSchedule;key=...".
// A toleration without a key must use the Exists operator.
func ParseTolerations(s string) ([]corev1.Toleration, error) {
	var out []corev1.Toleration
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		var t corev1.Toleration
		for _, field := range strings.Split(entry, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(field), "=")
			if !ok {
				return nil, fmt.Errorf("toleration field %q is missing '='", field)
			}
			v = strings.TrimSpace(v)
			switch strings.TrimSpace(k) {
			case "key":
				t.Key = v
			case "operator":
				t.Operator = corev1.TolerationOperator(v)
			case "value":
				t.Value = v
			case "effect":
				t.Effect = corev1.TaintEffect(v)
			default:
				return nil, fmt.Errorf("unknown toleration field %q", k)
			}
		}

		if t.Operator == "" {
			if t.Key == "" {
				t.Operator = corev1.TolerationOpExists
			} else {
				t.Operator = corev1.TolerationOpEqual
			}
		}
		if t.Key == "" && t.Operator != corev1.TolerationOpExists {
			return nil, fmt.Errorf("toleration %q has no key and operator %s", entry, t.Operator)
		}
		out = append(out, t)
	}
	return out, nil
}
