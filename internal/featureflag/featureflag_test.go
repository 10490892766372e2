package featureflag

import (
	"testing"

	"github.com/spf13/afero"
)

const flagFile = `
flags:
  - name: node-selector-override
    context:
      - type: connection
        include: ["conn-isolated"]
        serve: "node-pool=my-env-pool ; other = value"
  - name: use-custom-k8s-scheduler
    serve: default-scheduler
    context:
      - type: workspace
        include: ["ws-1"]
        serve: custom-scheduler
  - name: replication-mono-pod
    serve: true
  - name: orchestrator-fetches-input-from-init
    serve: "maybe"
`

func loadTestClient(t *testing.T) *FileClient {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/launcher/flags.yml", []byte(flagFile), 0o644); err != nil {
		t.Fatalf("Failed to write flag file: %v", err)
	}
	c, err := LoadFile(fs, "/etc/launcher/flags.yml")
	if err != nil {
		t.Fatalf("Failed to load flag file: %v", err)
	}
	return c
}

func TestFileClient_String(t *testing.T) {
	t.Parallel()
	c := loadTestClient(t)

	tests := []struct {
		name string
		flag StringFlag
		ctx  Context
		want string
	}{
		{"connection rule matches", NodeSelectorOverride, Context{ConnectionID: "conn-isolated"}, "node-pool=my-env-pool ; other = value"},
		{"connection rule misses", NodeSelectorOverride, Context{ConnectionID: "conn-other"}, ""},
		{"workspace rule matches", SchedulerNameOverride, Context{WorkspaceID: "ws-1"}, "custom-scheduler"},
		{"top-level serve", SchedulerNameOverride, Context{WorkspaceID: "ws-2"}, "default-scheduler"},
		{"unknown flag default", StringFlag{Name: "missing", Default: "fallback"}, Context{}, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.String(tt.flag, tt.ctx); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileClient_Bool(t *testing.T) {
	t.Parallel()
	c := loadTestClient(t)

	if !c.Bool(ReplicationMonoPod, Context{}) {
		t.Error("expected replication-mono-pod to be served true")
	}
	if c.Bool(OrchestratorFetchesInputFromInit, Context{}) {
		t.Error("expected unparsable value to fall back to default false")
	}
	if c.Bool(ConnectorSidecarFetchesInputFromInit, Context{}) {
		t.Error("expected unset flag to be false")
	}
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()

	if _, err := LoadFile(fs, "/missing.yml"); err == nil {
		t.Error("expected error for missing file")
	}

	_ = afero.WriteFile(fs, "/bad.yml", []byte("flags: [name: {"), 0o644)
	if _, err := LoadFile(fs, "/bad.yml"); err == nil {
		t.Error("expected error for malformed YAML")
	}

	_ = afero.WriteFile(fs, "/unnamed.yml", []byte("flags:\n  - serve: x\n"), 0o644)
	if _, err := LoadFile(fs, "/unnamed.yml"); err == nil {
		t.Error("expected error for unnamed flag")
	}
}

func TestStaticClient(t *testing.T) {
	t.Parallel()
	c := StaticClient{
		NodeSelectorOverride.Name: "pool=a",
		ReplicationMonoPod.Name:   "true",
	}

	if got := c.String(NodeSelectorOverride, Context{}); got != "pool=a" {
		t.Errorf("String() = %q, want pool=a", got)
	}
	if got := c.String(SchedulerNameOverride, Context{}); got != "" {
		t.Errorf("String() = %q, want empty default", got)
	}
	if !c.Bool(ReplicationMonoPod, Context{}) {
		t.Error("expected mono pod flag true")
	}
	var empty StaticClient
	if empty.Bool(ReplicationMonoPod, Context{}) {
		t.Error("expected nil static client to serve defaults")
	}
}
