// Package observability provides metrics for workload launches.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrOperation = "operation"
	attrBackend   = "backend"
	attrSuccess   = "success"
	attrStage     = "stage"
	attrOutcome   = "outcome"
	attrResource  = "resource"
)

func operationAttr(operation string) attribute.KeyValue {
	return attribute.String(attrOperation, operation)
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String(attrBackend, backend)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func stageAttr(stage string) attribute.KeyValue {
	if stage == "" {
		stage = "unknown"
	}
	return attribute.String(attrStage, stage)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func resourceAttr(name string) attribute.KeyValue {
	return attribute.String(attrResource, name)
}
