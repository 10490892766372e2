// Package featureflag resolves per-connection launch overrides.
package featureflag

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Context identifies who a flag is evaluated for.
type Context struct {
	ConnectionID string
	WorkspaceID  string
}

// StringFlag is a flag serving a string.
type StringFlag struct {
	Name    string
	Default string
}

// BoolFlag is a flag serving a boolean.
type BoolFlag struct {
	Name    string
	Default bool
}

// Flags consulted while building and launching pods.
var (
	NodeSelectorOverride                 = StringFlag{Name: "node-selector-override"}
	SchedulerNameOverride                = StringFlag{Name: "use-custom-k8s-scheduler"}
	OrchestratorFetchesInputFromInit     = BoolFlag{Name: "orchestrator-fetches-input-from-init"}
	ConnectorSidecarFetchesInputFromInit = BoolFlag{Name: "connector-sidecar-fetches-input-from-init"}
	ReplicationMonoPod                   = BoolFlag{Name: "replication-mono-pod"}
)

// Client evaluates flags.
type Client interface {
	String(flag StringFlag, c Context) string
	Bool(flag BoolFlag, c Context) bool
}

// fileSpec is the on-disk flag layout:
//
//	flags:
//	  - name: node-selector-override
//	    serve: ""
//	    context:
//	      - type: connection
//	        include: ["7d0b..."]
//	        serve: "pool=isolated"
type fileSpec struct {
	Flags []flagSpec `yaml:"flags"`
}

type flagSpec struct {
	Name    string        `yaml:"name"`
	Serve   any           `yaml:"serve"`
	Context []contextRule `yaml:"context"`
}

type contextRule struct {
	Type    string   `yaml:"type"` // connection | workspace
	Include []string `yaml:"include"`
	Serve   any      `yaml:"serve"`
}

// FileClient serves flags from a YAML file loaded once.
type FileClient struct {
	flags map[string]flagSpec
}

// LoadFile reads a flag file from fs.
func LoadFile(fs afero.Fs, path string) (*FileClient, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature flag file: %w", err)
	}
	return Parse(data)
}

// Parse builds a FileClient from YAML bytes.
func Parse(data []byte) (*FileClient, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse feature flag file: %w", err)
	}
	flags := make(map[string]flagSpec, len(spec.Flags))
	for _, f := range spec.Flags {
		if f.Name == "" {
			return nil, fmt.Errorf("feature flag without name")
		}
		flags[f.Name] = f
	}
	return &FileClient{flags: flags}, nil
}

// String returns the served string, or the flag default when unset.
func (c *FileClient) String(flag StringFlag, ctx Context) string {
	if v, ok := c.resolve(flag.Name, ctx); ok {
		return v
	}
	return flag.Default
}

// Bool returns the served boolean, or the flag default when unset or unparsable.
func (c *FileClient) Bool(flag BoolFlag, ctx Context) bool {
	if v, ok := c.resolve(flag.Name, ctx); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return flag.Default
}

func (c *FileClient) resolve(name string, ctx Context) (string, bool) {
	f, ok := c.flags[name]
	if !ok {
		return "", false
	}
	for _, rule := range f.Context {
		var id string
		switch rule.Type {
		case "connection":
			id = ctx.ConnectionID
		case "workspace":
			id = ctx.WorkspaceID
		}
		if id != "" && slices.Contains(rule.Include, id) && rule.Serve != nil {
			return fmt.Sprint(rule.Serve), true
		}
	}
	if f.Serve == nil {
		return "", false
	}
	return fmt.Sprint(f.Serve), true
}

// StaticClient serves fixed values keyed by flag name, for every context.
type StaticClient map[string]string

// String returns the static value or the flag default.
func (s StaticClient) String(flag StringFlag, _ Context) string {
	if v, ok := s[flag.Name]; ok {
		return v
	}
	return flag.Default
}

// Bool returns the static value or the flag default.
func (s StaticClient) Bool(flag BoolFlag, _ Context) bool {
	if v, ok := s[flag.Name]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return flag.Default
}

var (
	_ Client = (*FileClient)(nil)
	_ Client = StaticClient(nil)
)
