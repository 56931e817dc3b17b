// Package observability provides OpenTelemetry instrumentation for poll loops,
// vendor API calls and background jobs. The server installs SDK providers from
// NewProviders; components given no instruments fall back to no-op ones.
package observability

import "go.opentelemetry.io/otel/attribute"

// Instrumentation identity constants.
const (
	// TracerName is the instrumentation name for tracing.
	TracerName = "github.com/maauso/videogen-lro"
	// MeterName is the instrumentation name for metrics.
	MeterName = "github.com/maauso/videogen-lro"
)

// Attribute keys.
const (
	AttrOperation = "videogen.operation"
	AttrStrategy  = "videogen.poll.strategy"
	AttrOutcome   = "videogen.poll.outcome"
	AttrCall      = "videogen.http.call"
	AttrJobID     = "videogen.job.id"
	AttrModel     = "videogen.model"
	AttrRedirects = "videogen.http.redirects"
)

// Log field names used when enriching loggers with trace context.
const (
	LogFieldTraceID = "trace_id"
	LogFieldSpanID  = "span_id"
)

// OperationAttr returns the operation handle attribute.
func OperationAttr(handle string) attribute.KeyValue {
	return attribute.String(AttrOperation, handle)
}

// StrategyAttr returns the poll strategy attribute.
func StrategyAttr(strategy string) attribute.KeyValue {
	return attribute.String(AttrStrategy, strategy)
}

// OutcomeAttr returns the poll outcome attribute.
func OutcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// CallAttr returns the vendor API call attribute (submit, status, download).
func CallAttr(call string) attribute.KeyValue {
	return attribute.String(AttrCall, call)
}

// JobIDAttr returns the job identifier attribute.
func JobIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrJobID, id)
}

// ModelAttr returns the model name attribute.
func ModelAttr(model string) attribute.KeyValue {
	return attribute.String(AttrModel, model)
}
