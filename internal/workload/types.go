package workload

import "encoding/json"

// Role is the execution role a pod or container plays in a workload.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleSource       Role = "source"
	RoleDestination  Role = "destination"
)

// Roles lists execution roles in the order replication waits on them.
var Roles = []Role{RoleOrchestrator, RoleSource, RoleDestination}

// Kind is the type of job a workload runs.
type Kind string

const (
	KindReplication Kind = "replication"
	KindCheck       Kind = "check"
	KindDiscover    Kind = "discover"
	KindSpec        Kind = "spec"
)

// ResourceRequirements holds human-readable quantity strings.
// A blank field means unbounded.
type ResourceRequirements struct {
	CPURequest              string `json:"cpuRequest,omitempty"`
	CPULimit                string `json:"cpuLimit,omitempty"`
	MemoryRequest           string `json:"memoryRequest,omitempty"`
	MemoryLimit             string `json:"memoryLimit,omitempty"`
	EphemeralStorageRequest string `json:"ephemeralStorageRequest,omitempty"`
	EphemeralStorageLimit   string `json:"ephemeralStorageLimit,omitempty"`
}

// IsZero reports whether no requirement is set.
func (r ResourceRequirements) IsZero() bool {
	return r == ResourceRequirements{}
}

// JobRunConfig identifies one attempt of a job.
type JobRunConfig struct {
	JobID     string `json:"jobId"`
	AttemptID int64  `json:"attemptId"`
}

// LaunchConfig describes how to launch one connector.
type LaunchConfig struct {
	Image             string            `json:"image"`
	JobID             string            `json:"jobId"`
	AttemptID         int64             `json:"attemptId"`
	ConnectionID      string            `json:"connectionId,omitempty"`
	WorkspaceID       string            `json:"workspaceId,omitempty"`
	IsCustomConnector bool              `json:"isCustomConnector,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
}

// JobInput is the job payload handed to the launcher by the workflow layer.
// The launcher never mutates it.
type JobInput struct {
	JobRun              JobRunConfig `json:"jobRun"`
	ConnectionID        string       `json:"connectionId,omitempty"`
	WorkspaceID         string       `json:"workspaceId,omitempty"`
	MutexKey            string       `json:"mutexKey,omitempty"`
	UsesCustomConnector bool         `json:"usesCustomConnector,omitempty"`
	IsReset             bool         `json:"isReset,omitempty"`

	// Replication launch configs
	Source      *LaunchConfig `json:"source,omitempty"`
	Destination *LaunchConfig `json:"destination,omitempty"`

	// Check, discover and spec launch config
	Connector *LaunchConfig `json:"connector,omitempty"`

	Resources          map[Role]ResourceRequirements `json:"resources,omitempty"`
	ConnectorResources ResourceRequirements          `json:"connectorResources,omitempty"`

	SourceConfig      json.RawMessage `json:"sourceConfig,omitempty"`
	DestinationConfig json.RawMessage `json:"destinationConfig,omitempty"`
	ConnectorConfig   json.RawMessage `json:"connectorConfig,omitempty"`

	Labels map[string]string `json:"labels,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
}
