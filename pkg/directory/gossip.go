package directory

import (
	"log/slog"

	"github.com/hashicorp/memberlist"
)

// gossip plugs the directory into memberlist.
type gossip struct {
	dir    *Directory
	logger *slog.Logger
}

var (
	_ memberlist.Delegate      = (*gossip)(nil)
	_ memberlist.EventDelegate = (*gossip)(nil)
)

func (g *gossip) NodeMeta(limit int) []byte {
	return nil
}

func (g *gossip) NotifyMsg(msg []byte) {
	rec, err := decodeRecord(msg)
	if err != nil {
		g.invalidFrame(err)
		return
	}
	if g.dir.merge(rec) {
		g.logger.Debug("record merged", LabelServiceName.L(rec.Name), "record", rec)
	}
}

func (g *gossip) GetBroadcasts(overhead, limit int) [][]byte {
	return g.dir.queue.GetBroadcasts(overhead, limit)
}

func (g *gossip) LocalState(join bool) []byte {
	return encodeState(g.dir.records())
}

func (g *gossip) MergeRemoteState(buf []byte, join bool) {
	records, err := decodeState(buf)
	if err != nil {
		g.invalidFrame(err)
		return
	}
	merged := 0
	for _, rec := range records {
		if g.dir.merge(rec) {
			merged++
		}
	}
	if merged > 0 {
		g.logger.Debug("remote state merged", "records", merged, "join", join)
	}
}

func (g *gossip) invalidFrame(err error) {
	g.logger.Warn("dropping invalid gossip frame", LabelError.L(err))
	g.dir.msink.IncrCounterWithLabels(MetricInvalidFrameCount, 1, g.dir.config.metricLabels)
}

func (g *gossip) NotifyJoin(node *memberlist.Node) {
	withLogNode(g.logger, node).Info("peer joined cluster")
}

func (g *gossip) NotifyLeave(node *memberlist.Node) {
	dropped := g.dir.dropNode(node.Name)
	withLogNode(g.logger, node).Info("peer left cluster", "dropped_records", dropped)
}

func (g *gossip) NotifyUpdate(node *memberlist.Node) {
	withLogNode(g.logger, node).Info("peer updated")
}

// recordBroadcast carries one record. A newer broadcast of the same name
// replaces it in the queue.
type recordBroadcast struct {
	name string
	msg  []byte
}

var _ memberlist.NamedBroadcast = (*recordBroadcast)(nil)

func (b *recordBroadcast) Invalidates(other memberlist.Broadcast) bool {
	o, ok := other.(*recordBroadcast)
	return ok && o.name == b.name
}

func (b *recordBroadcast) Name() string {
	return b.name
}

func (b *recordBroadcast) Message() []byte {
	return b.msg
}

func (b *recordBroadcast) Finished() {}
