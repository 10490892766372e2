package launcher

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
	"workloadlauncher/internal/orchestrator"
	"workloadlauncher/internal/pod"
	"workloadlauncher/internal/transfer"
)

// fakeDriver keeps pods in memory and records every call in order.
type fakeDriver struct {
	mu       sync.Mutex
	calls    []string
	timeouts map[string]time.Duration
	pods     map[string]map[string]string // live pods: name -> labels
	errs     map[string]error             // method name -> error to return
	closed   bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		timeouts: map[string]time.Duration{},
		pods:     map[string]map[string]string{},
		errs:     map[string]error{},
	}
}

func (f *fakeDriver) record(method, arg string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method+" "+arg)
	if timeout > 0 {
		f.timeouts[method] = timeout
	}
	return f.errs[method]
}

func (f *fakeDriver) Submit(_ context.Context, spec *pod.Spec) (orchestrator.Handle, error) {
	if err := f.record("Submit", spec.Name, 0); err != nil {
		return orchestrator.Handle{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[spec.Name] = spec.Labels
	return orchestrator.Handle{Name: spec.Name, Namespace: spec.Namespace, Labels: spec.Labels}, nil
}

func (f *fakeDriver) AwaitInitialized(_ context.Context, h orchestrator.Handle, timeout time.Duration) error {
	return f.record("AwaitInitialized", h.Name, timeout)
}

func (f *fakeDriver) AwaitInitCompleted(_ context.Context, h orchestrator.Handle, timeout time.Duration) error {
	return f.record("AwaitInitCompleted", h.Name, timeout)
}

func (f *fakeDriver) AwaitReadyOrTerminal(_ context.Context, h orchestrator.Handle, timeout time.Duration) error {
	return f.record("AwaitReadyOrTerminal", h.Name, timeout)
}

func (f *fakeDriver) AwaitReadyOrTerminalBySelector(_ context.Context, sel orchestrator.Selector, timeout time.Duration) error {
	return f.record("AwaitReadyOrTerminalBySelector", sel.String(), timeout)
}

func (f *fakeDriver) Exists(_ context.Context, sel orchestrator.Selector) (bool, error) {
	if err := f.record("Exists", sel.String(), 0); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, podLabels := range f.pods {
		if sel.Matches(podLabels) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDriver) DeleteAll(_ context.Context, sel orchestrator.Selector, timeout time.Duration) (int, error) {
	if err := f.record("DeleteAll", sel.String(), timeout); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for name, podLabels := range f.pods {
		if sel.Matches(podLabels) {
			delete(f.pods, name)
			n++
		}
	}
	return n, nil
}

func (f *fakeDriver) Ready(context.Context) error {
	return f.record("Ready", "", 0)
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDriver) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeCopier records copies into the driver's call log so ordering across
// both is visible. exitCodes maps file names to the exit code to report.
type fakeCopier struct {
	driver    *fakeDriver
	exitCodes map[string]int
	files     map[string][]byte
}

func newFakeCopier(driver *fakeDriver) *fakeCopier {
	return &fakeCopier{driver: driver, exitCodes: map[string]int{}, files: map[string][]byte{}}
}

func (c *fakeCopier) Copy(_ context.Context, target transfer.Target, file transfer.File) (int, error) {
	_ = c.driver.record("Copy", copyArg(target, file.Name), 0)
	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()
	c.files[file.Name] = file.Content
	return c.exitCodes[file.Name], nil
}

func copyArg(target transfer.Target, name string) string {
	return strings.TrimSuffix(fmt.Sprintf("%s/%s", target.Pod, target.Container), "/") + ":" + path.Join(transfer.ConfigDir, name)
}
