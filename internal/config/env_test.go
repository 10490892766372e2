package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGetEnv(t *testing.T) {
	// Test default value
	result := GetEnv("TEST_NONEXISTENT_VAR", "default")
	if result != "default" {
		t.Errorf("Expected 'default', got %q", result)
	}

	// Test with set value
	os.Setenv("TEST_GET_ENV", "custom")
	defer os.Unsetenv("TEST_GET_ENV")

	result = GetEnv("TEST_GET_ENV", "default")
	if result != "custom" {
		t.Errorf("Expected 'custom', got %q", result)
	}
}

func TestGetIntEnv(t *testing.T) {
	// Test default value
	result := GetIntEnv("TEST_NONEXISTENT_INT", 42)
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}

	// Test with valid int
	os.Setenv("TEST_INT_ENV", "123")
	defer os.Unsetenv("TEST_INT_ENV")

	result = GetIntEnv("TEST_INT_ENV", 42)
	if result != 123 {
		t.Errorf("Expected 123, got %d", result)
	}

	// Test with invalid int (should return default)
	os.Setenv("TEST_INVALID_INT", "not-a-number")
	defer os.Unsetenv("TEST_INVALID_INT")

	result = GetIntEnv("TEST_INVALID_INT", 42)
	if result != 42 {
		t.Errorf("Expected 42 for invalid int, got %d", result)
	}
}

func TestGetDurationEnv(t *testing.T) {
	defaultDuration := 5 * time.Second

	// Test default value
	result := GetDurationEnv("TEST_NONEXISTENT_DURATION", defaultDuration)
	if result != defaultDuration {
		t.Errorf("Expected %v, got %v", defaultDuration, result)
	}

	// Test with valid duration
	os.Setenv("TEST_DURATION_ENV", "30s")
	defer os.Unsetenv("TEST_DURATION_ENV")

	result = GetDurationEnv("TEST_DURATION_ENV", defaultDuration)
	if result != 30*time.Second {
		t.Errorf("Expected 30s, got %v", result)
	}

	// Test with milliseconds
	os.Setenv("TEST_DURATION_MS", "100ms")
	defer os.Unsetenv("TEST_DURATION_MS")

	result = GetDurationEnv("TEST_DURATION_MS", defaultDuration)
	if result != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", result)
	}

	// Test with invalid duration (should return default)
	os.Setenv("TEST_INVALID_DURATION", "not-a-duration")
	defer os.Unsetenv("TEST_INVALID_DURATION")

	result = GetDurationEnv("TEST_INVALID_DURATION", defaultDuration)
	if result != defaultDuration {
		t.Errorf("Expected %v for invalid duration, got %v", defaultDuration, result)
	}
}

func TestParseMap(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		sep   string
		want  map[string]string
	}{
		{"empty", "", ",", map[string]string{}},
		{"single", "pool=default", ",", map[string]string{"pool": "default"}},
		{"trimmed", " pool = default , zone= a ", ",", map[string]string{"pool": "default", "zone": "a"}},
		{"skips malformed", "pool=default,garbage", ",", map[string]string{"pool": "default"}},
		{"semicolon", "a=1;b=2", ";", map[string]string{"a": "1", "b": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, ParseMap(tt.input, tt.sep)); diff != "" {
				t.Errorf("ParseMap() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	t.Parallel()
	got := ParseList(" a, ,b ,")
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("ParseList() mismatch (-want +got):\n%s", diff)
	}
	if got := ParseList(""); got != nil {
		t.Errorf("Expected nil for empty input, got %v", got)
	}
}

func TestDetectBackend(t *testing.T) {
	t.Setenv("LAUNCHER_BACKEND", "")
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	if got := DetectBackend(); got != BackendDocker {
		t.Errorf("Expected docker outside a cluster, got %s", got)
	}

	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	if got := DetectBackend(); got != BackendKube {
		t.Errorf("Expected kube inside a cluster, got %s", got)
	}

	t.Setenv("LAUNCHER_BACKEND", "docker")
	if got := DetectBackend(); got != BackendDocker {
		t.Errorf("Expected explicit docker to win, got %s", got)
	}
}

func TestLoadLauncherConfig_Defaults(t *testing.T) {
	t.Setenv("POD_INIT_TIMEOUT", "")
	t.Setenv("JOB_KUBE_NODE_SELECTORS", "pool=jobs")

	cfg := LoadLauncherConfig()
	if cfg.PodInitTimeout != 15*time.Minute {
		t.Errorf("Expected 15m init timeout, got %v", cfg.PodInitTimeout)
	}
	if cfg.NodeSelectors["pool"] != "jobs" {
		t.Errorf("Expected node selector pool=jobs, got %v", cfg.NodeSelectors)
	}
}

func TestLoadLauncherConfig_RetryJitter(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 0.2},
		{"50", 0.5},
		{"250", 1},
		{"-5", 0},
	}

	for _, tt := range tests {
		t.Setenv("PLATFORM_RETRY_JITTER_PERCENT", tt.value)
		if got := LoadLauncherConfig().RetryJitter; got != tt.want {
			t.Errorf("PLATFORM_RETRY_JITTER_PERCENT=%q: expected jitter %v, got %v", tt.value, tt.want, got)
		}
	}
}
