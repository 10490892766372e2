// Package resource converts human-readable resource requirements into
// Kubernetes quantities.
package resource

import (
	"context"
	"log/slog"
	"strings"
	"workloadlauncher/internal/apperrors"
	"workloadlauncher/internal/observability"
	"workloadlauncher/internal/workload"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

// pair is one request/limit couple for a single resource.
type pair struct {
	name    corev1.ResourceName
	request string
	limit   string
}

func pairs(req workload.ResourceRequirements) []pair {
	return []pair{
		{corev1.ResourceCPU, req.CPURequest, req.CPULimit},
		{corev1.ResourceMemory, req.MemoryRequest, req.MemoryLimit},
		{corev1.ResourceEphemeralStorage, req.EphemeralStorageRequest, req.EphemeralStorageLimit},
	}
}

// Converter turns domain requirements into platform requirements.
type Converter struct {
	metrics *observability.Metrics
}

// NewConverter creates a converter. metrics may be nil.
func NewConverter(metrics *observability.Metrics) *Converter {
	return &Converter{metrics: metrics}
}

// ToPlatform parses every present quantity. A request above its limit is
// lowered to the limit and logged; it is never an error. Blank fields are
// omitted. Unparsable quantities fail with a spec build error naming unit.
func (c *Converter) ToPlatform(ctx context.Context, unit string, req workload.ResourceRequirements) (corev1.ResourceRequirements, error) {
	var out corev1.ResourceRequirements

	for _, p := range pairs(req) {
		var limit *resource.Quantity
		if !blank(p.limit) {
			q, err := resource.ParseQuantity(strings.TrimSpace(p.limit))
			if err != nil {
				return corev1.ResourceRequirements{}, apperrors.SpecBuild(unit, string(p.name)+" limit", err)
			}
			if out.Limits == nil {
				out.Limits = corev1.ResourceList{}
			}
			out.Limits[p.name] = q
			limit = &q
		}

		if blank(p.request) {
			continue
		}
		q, err := resource.ParseQuantity(strings.TrimSpace(p.request))
		if err != nil {
			return corev1.ResourceRequirements{}, apperrors.SpecBuild(unit, string(p.name)+" request", err)
		}
		if limit != nil && q.Cmp(*limit) > 0 {
			slog.Warn("Resource request exceeds limit, lowering request to limit",
				"unit", unit,
				"resource", p.name,
				"request", q.String(),
				"limit", limit.String(),
			)
			c.metrics.RecordRequestClamped(ctx, string(p.name))
			q = limit.DeepCopy()
		}
		if out.Requests == nil {
			out.Requests = corev1.ResourceList{}
		}
		out.Requests[p.name] = q
	}

	return out, nil
}

// Sum adds two requirements field by field. A blank side passes the other
// through unchanged.
func Sum(a, b workload.ResourceRequirements) (workload.ResourceRequirements, error) {
	var err error
	var out workload.ResourceRequirements

	fields := []struct {
		dst  *string
		x, y string
		name string
	}{
		{&out.CPURequest, a.CPURequest, b.CPURequest, "cpuRequest"},
		{&out.CPULimit, a.CPULimit, b.CPULimit, "cpuLimit"},
		{&out.MemoryRequest, a.MemoryRequest, b.MemoryRequest, "memoryRequest"},
		{&out.MemoryLimit, a.MemoryLimit, b.MemoryLimit, "memoryLimit"},
		{&out.EphemeralStorageRequest, a.EphemeralStorageRequest, b.EphemeralStorageRequest, "ephemeralStorageRequest"},
		{&out.EphemeralStorageLimit, a.EphemeralStorageLimit, b.EphemeralStorageLimit, "ephemeralStorageLimit"},
	}
	for _, f := range fields {
		if *f.dst, err = sumQuantity(f.x, f.y); err != nil {
			return workload.ResourceRequirements{}, apperrors.SpecBuild("resource sum", f.name, err)
		}
	}
	return out, nil
}

func sumQuantity(x, y string) (string, error) {
	switch {
	case blank(x):
		return y, nil
	case blank(y):
		return x, nil
	}
	qx, err := resource.ParseQuantity(strings.TrimSpace(x))
	if err != nil {
		return "", err
	}
	qy, err := resource.ParseQuantity(strings.TrimSpace(y))
	if err != nil {
		return "", err
	}
	qx.Add(qy)
	return qx.String(), nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
