package docker

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeContainer struct {
	name     string
	summary  container.Summary
	exitCode int
	config   *container.Config
	host     *container.HostConfig
}

func (c *fakeContainer) run() {
	c.summary.State = "running"
	c.summary.Status = "Up 1 second"
}

func (c *fakeContainer) exit(code int) {
	c.summary.State = "exited"
	c.summary.Status = fmt.Sprintf("Exited (%d) 1 second ago", code)
	c.exitCode = code
}

// fakeDocker is an in-memory Docker daemon.
type fakeDocker struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	images     map[string]bool
	pulled     []string
	nextID     int

	createErr    error
	exitOnStart  map[string]int // container name -> exit code right after start
	ignoreRemove bool
}

func newFakeDocker(images ...string) *fakeDocker {
	f := &fakeDocker{
		containers:  map[string]*fakeContainer{},
		images:      map[string]bool{},
		exitOnStart: map[string]int{},
	}
	for _, img := range images {
		f.images[img] = true
	}
	return f
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	for _, c := range f.containers {
		if c.name == name {
			return container.CreateResponse{}, fmt.Errorf("container name %q in use: %w", name, cerrdefs.ErrConflict)
		}
	}

	f.nextID++
	id := fmt.Sprintf("c%d", f.nextID)
	c := &fakeContainer{name: name, config: config, host: hostConfig}
	c.summary = container.Summary{ID: id, Names: []string{"/" + name}, Image: config.Image, Labels: maps.Clone(config.Labels)}
	c.summary.State = "created"
	c.summary.Status = "Created"
	f.containers[id] = c
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	if code, ok := f.exitOnStart[c.name]; ok {
		c.exit(code)
		return nil
	}
	c.run()
	return nil
}

func (f *fakeDocker) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok {
		return container.InspectResponse{}, fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	st := &container.State{ExitCode: c.exitCode}
	switch {
	case c.summary.State == "running":
		st.Status = "running"
		st.Running = true
	case c.summary.State == "exited":
		st.Status = "exited"
	default:
		st.Status = "created"
	}
	return container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{ID: id, State: st}}, nil
}

func (f *fakeDocker) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []container.Summary
	for _, c := range f.containers {
		if matchesLabels(c.summary.Labels, options.Filters.Get("label")) {
			out = append(out, c.summary)
		}
	}
	return out, nil
}

func matchesLabels(labels map[string]string, filters []string) bool {
	for _, f := range filters {
		k, v, _ := strings.Cut(f, "=")
		if got, ok := labels[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func (f *fakeDocker) ContainerKill(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	if c.summary.State != "running" {
		return fmt.Errorf("container %s is not running: %w", id, cerrdefs.ErrConflict)
	}
	c.exit(137)
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ignoreRemove {
		return nil
	}
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("no such container %s: %w", id, cerrdefs.ErrNotFound)
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeDocker) ImageInspect(_ context.Context, ref string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.images[ref] {
		return image.InspectResponse{}, fmt.Errorf("no such image %s: %w", ref, cerrdefs.ErrNotFound)
	}
	return image.InspectResponse{ID: ref}, nil
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.images[ref] = true
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

func (f *fakeDocker) Ping(context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.47"}, nil
}

func (f *fakeDocker) Close() error {
	return nil
}

// byName returns the container with the given name.
func (f *fakeDocker) byName(name string) (*fakeContainer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// setStatus updates a container's status line under the lock.
func (f *fakeDocker) setStatus(name, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.name == name {
			c.summary.Status = status
		}
	}
}

func (f *fakeDocker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

var _ dockerAPI = (*fakeDocker)(nil)
