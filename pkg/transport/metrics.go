package transport

import (
	"log/slog"
	"net"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricUDPBufferSizeBytes     = []string{"objmesh", "transport", "udp", "buffer", "size", "bytes"}
	MetricConnInCount            = []string{"objmesh", "transport", "conn", "in", "count"}
	MetricConnOutCount           = []string{"objmesh", "transport", "conn", "out", "count"}
	MetricConnOutErrorCount      = []string{"objmesh", "transport", "conn", "out", "error", "count"}
	MetricRequestInCount         = []string{"objmesh", "transport", "request", "in", "count"}
	MetricRequestInErrorCount    = []string{"objmesh", "transport", "request", "in", "error", "count"}
	MetricRequestOutCount        = []string{"objmesh", "transport", "request", "out", "count"}
	MetricRequestOutErrorCount   = []string{"objmesh", "transport", "request", "out", "error", "count"}
	MetricRequestInBytes         = []string{"objmesh", "transport", "request", "in", "bytes"}
	MetricReplyOutBytes          = []string{"objmesh", "transport", "reply", "out", "bytes"}
	MetricRequestHandlingSeconds = []string{"objmesh", "transport", "request", "handling", "seconds"}
)

type TelemetryLabel string

var (
	LabelError   TelemetryLabel = "error"
	LabelPeer    TelemetryLabel = "peer"
	LabelPeerCN  TelemetryLabel = "peer_cn"
	LabelAddress TelemetryLabel = "address"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

func labelsFor(static []metrics.Label, addr net.Addr, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(static)+1+len(extra))
	out = append(out, static...)
	if addr != nil {
		out = append(out, LabelPeer.M(addr.String()))
	}
	return append(out, extra...)
}
