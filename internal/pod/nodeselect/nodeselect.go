// Package nodeselect computes pod node selectors.
package nodeselect

import (
	"fmt"
	"maps"
	"strings"
	"workloadlauncher/internal/featureflag"
)

// Selectors picks the node selectors for a pod. A non-blank override wins
// outright. Otherwise custom connectors get the isolated set (or base when no
// isolated set is configured) and everything else gets base.
func Selectors(usesCustomConnector bool, base, isolated map[string]string, override string) (map[string]string, error) {
	if strings.TrimSpace(override) != "" {
		return ParseOverride(override)
	}
	if usesCustomConnector && len(isolated) > 0 {
		return maps.Clone(isolated), nil
	}
	return maps.Clone(base), nil
}

// ParseOverride parses "key1=value1;key2=value2", trimming each segment.
// Empty segments are skipped; a segment without "=" or with an empty key is an error.
func ParseOverride(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, segment := range strings.Split(s, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		k, v, ok := strings.Cut(segment, "=")
		if !ok {
			return nil, fmt.Errorf("node selector %q is missing '='", segment)
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("node selector %q has an empty key", segment)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// Resolver applies Selectors with the override taken from feature flags.
type Resolver struct {
	flags    featureflag.Client
	base     map[string]string
	isolated map[string]string
}

// NewResolver creates a resolver. flags may be nil, meaning no overrides.
func NewResolver(flags featureflag.Client, base, isolated map[string]string) *Resolver {
	return &Resolver{flags: flags, base: base, isolated: isolated}
}

// For returns the node selectors for a pod launched in ctx.
func (r *Resolver) For(ctx featureflag.Context, usesCustomConnector bool) (map[string]string, error) {
	var override string
	if r.flags != nil {
		override = r.flags.String(featureflag.NodeSelectorOverride, ctx)
	}
	return Selectors(usesCustomConnector, r.base, r.isolated, override)
}
