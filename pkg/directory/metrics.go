package directory

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"
)

var (
	MetricRegisterCount        = []string{"objmesh", "directory", "register", "count"}
	MetricUnregisterCount      = []string{"objmesh", "directory", "unregister", "count"}
	MetricMergeCount           = []string{"objmesh", "directory", "merge", "count"}
	MetricLostOwnershipCount   = []string{"objmesh", "directory", "lost", "ownership", "count"}
	MetricDroppedRecordCount   = []string{"objmesh", "directory", "dropped", "record", "count"}
	MetricReapedTombstoneCount = []string{"objmesh", "directory", "reaped", "tombstone", "count"}
	MetricInvalidFrameCount    = []string{"objmesh", "directory", "invalid", "frame", "count"}
	MetricRecordsGauge         = []string{"objmesh", "directory", "records"}
)

type TelemetryLabel string

var (
	LabelError       TelemetryLabel = "error"
	LabelServiceName TelemetryLabel = "service_name"
	LabelPeerName    TelemetryLabel = "peer_name"
	LabelPeerAddr    TelemetryLabel = "peer_address"
	LabelRevision    TelemetryLabel = "revision"
	LabelObjectID    TelemetryLabel = "object_id"
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

func withLogNode(logger *slog.Logger, node *memberlist.Node) *slog.Logger {
	return logger.With(
		LabelPeerName.L(node.Name),
		LabelPeerAddr.L(node.Address()),
	)
}

func withLabels(static []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(static)+len(extra))
	out = append(out, static...)
	return append(out, extra...)
}
