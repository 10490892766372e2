package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
	"workloadlauncher/internal/testutil"

	"go.opentelemetry.io/otel/attribute"
)

func TestSelector(t *testing.T) {
	t.Parallel()
	sel := Selector{"workload_id": "w1", "mutex_key": "M1"}

	if got := sel.String(); got != "mutex_key=M1,workload_id=w1" {
		t.Errorf("String() = %q", got)
	}

	tests := []struct {
		name   string
		labels map[string]string
		want   bool
	}{
		{"exact", map[string]string{"workload_id": "w1", "mutex_key": "M1"}, true},
		{"superset", map[string]string{"workload_id": "w1", "mutex_key": "M1", "role": "source"}, true},
		{"missing key", map[string]string{"workload_id": "w1"}, false},
		{"different value", map[string]string{"workload_id": "w2", "mutex_key": "M1"}, false},
		{"no labels", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sel.Matches(tt.labels); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandle_String(t *testing.T) {
	t.Parallel()
	if got := (Handle{Name: "pod-a", Namespace: "jobs"}).String(); got != "jobs/pod-a" {
		t.Errorf("String() = %q", got)
	}
	if got := (Handle{Name: "pod-a"}).String(); got != "pod-a" {
		t.Errorf("String() = %q", got)
	}
}

var errTransient = errors.New("connection reset")

func TestRetrier_RetriesTransientErrors(t *testing.T) {
	t.Parallel()
	metrics, reader := testutil.NewMetrics(t)
	r := NewRetrier(RetryConfig{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
		func(err error) bool { return errors.Is(err, errTransient) }, metrics)

	calls := 0
	err := r.Do(context.Background(), "kube.createPod", func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	op := attribute.String("operation", "kube.createPod")
	if got := reader.Counter(t, "platform_retries_total", op); got != 2 {
		t.Errorf("expected 2 retries, got %d", got)
	}
	if got := reader.Counter(t, "platform_errors_total", op); got != 0 {
		t.Errorf("expected no surfaced errors, got %d", got)
	}
}

func TestRetrier_SurfacedErrorIsCounted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"transient exhausts attempts", errTransient, 2},
		{"permanent fails immediately", errors.New("forbidden"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			metrics, reader := testutil.NewMetrics(t)
			r := NewRetrier(RetryConfig{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond},
				func(err error) bool { return errors.Is(err, errTransient) }, metrics)

			calls := 0
			err := r.Do(context.Background(), "kube.listPods", func(context.Context) error {
				calls++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if got := reader.Counter(t, "platform_errors_total", attribute.String("operation", "kube.listPods")); got != 1 {
				t.Errorf("expected 1 surfaced error, got %d", got)
			}
		})
	}
}
