package objmesh

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricCallCount                = []string{"objmesh", "call", "count"}
	MetricCallErrorCount           = []string{"objmesh", "call", "error", "count"}
	MetricTriggerCount             = []string{"objmesh", "signal", "trigger", "count"}
	MetricTriggerDispatchCount     = []string{"objmesh", "signal", "dispatch", "count"}
	MetricSubscriberRemovedCount   = []string{"objmesh", "signal", "subscriber", "removed", "count"}
	MetricSubscriberHandlerErrors  = []string{"objmesh", "signal", "handler", "error", "count"}
	MetricEventLoopTaskPanicCount  = []string{"objmesh", "eventloop", "task", "panic", "count"}
	MetricHandlerRequestCount      = []string{"objmesh", "handler", "request", "count"}
	MetricHandlerRequestErrorCount = []string{"objmesh", "handler", "request", "error", "count"}
)

type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelObject    TelemetryLabel = "object"
	LabelObjectID  TelemetryLabel = "object_id"
	LabelMethod    TelemetryLabel = "method"
	LabelSignal    TelemetryLabel = "signal"
	LabelLink      TelemetryLabel = "link"
	LabelLoop      TelemetryLabel = "eventloop"
	LabelReason    TelemetryLabel = "reason"
	LabelRequest   TelemetryLabel = "request"
	LabelDuration  TelemetryLabel = "duration"
	LabelSignature TelemetryLabel = "signature"
)

// M builds a metric label.
func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L builds a structured log attribute.
func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

func withLabels(static []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(static)+len(extra))
	out = append(out, static...)
	return append(out, extra...)
}
