// Package labels derives the label sets used for discovery, role grouping
// and mutual exclusion of workload pods.
package labels

import (
	"maps"
	"strconv"
	"strings"
	"workloadlauncher/internal/workload"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Label keys
const (
	WorkloadIDKey = "workload_id"
	MutexKey      = "mutex_key"
	RoleKey       = "role"
	KindKey       = "kind"
	JobIDKey      = "job_id"
	AttemptIDKey  = "attempt_id"
	ManagedByKey  = "managed-by"

	OrchestratorImageKey = "orchestrator_image_name"
	SourceImageKey       = "source_image_name"
	DestinationImageKey  = "destination_image_name"

	ManagedByValue = "workload-launcher"
)

// Shared returns passThrough ∪ Mutex(mutexKey) ∪ {workload_id: workloadID}.
// Launcher keys win over pass-through keys.
func Shared(workloadID, mutexKey string, passThrough map[string]string) map[string]string {
	out := make(map[string]string, len(passThrough)+2)
	maps.Copy(out, passThrough)
	maps.Copy(out, Mutex(mutexKey))
	out[WorkloadIDKey] = workloadID
	return out
}

// Mutex returns the mutual-exclusion labels for mutexKey; blank keys yield none.
func Mutex(mutexKey string) map[string]string {
	if mutexKey == "" {
		return map[string]string{}
	}
	return map[string]string{MutexKey: mutexKey}
}

// WorkloadID returns the label selecting all pods of one workload.
func WorkloadID(workloadID string) map[string]string {
	return map[string]string{WorkloadIDKey: workloadID}
}

// Role returns the labels identifying an execution role.
func Role(role workload.Role) map[string]string {
	return map[string]string{RoleKey: string(role)}
}

// Job returns the job identity labels of a pod.
func Job(kind workload.Kind, jobID string, attempt int64) map[string]string {
	return map[string]string{
		KindKey:      string(kind),
		JobIDKey:     Sanitize(jobID),
		AttemptIDKey: strconv.FormatInt(attempt, 10),
		ManagedByKey: ManagedByValue,
	}
}

// Images returns labels naming the connector images of a replication.
// Blank images are omitted.
func Images(orchestrator, source, destination string) map[string]string {
	out := map[string]string{}
	for key, image := range map[string]string{
		OrchestratorImageKey: orchestrator,
		SourceImageKey:       source,
		DestinationImageKey:  destination,
	} {
		if v := Sanitize(image); v != "" {
			out[key] = v
		}
	}
	return out
}

// Merge combines label sets; later sets win.
func Merge(sets ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, s := range sets {
		maps.Copy(out, s)
	}
	return out
}

// Sanitize turns s into a valid label value: disallowed characters become
// "-", the value is cut to 63 characters and trimmed to start and end with
// an alphanumeric.
func Sanitize(s string) string {
	if len(validation.IsValidLabelValue(s)) == 0 {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if len(out) > validation.LabelValueMaxLength {
		out = out[:validation.LabelValueMaxLength]
	}
	return strings.TrimFunc(out, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
}
