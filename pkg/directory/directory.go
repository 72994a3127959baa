// Package directory advertises objects by service name across processes.
//
// Every node keeps the full set of records in an immutable radix tree.
// Updates are gossiped with memberlist and merged last-writer-wins: the
// highest revision wins, ties going to the greatest node name. Revisions
// come from a Lamport clock so a node always overrides what it has seen.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/memberlist"
	"github.com/raskyld/objmesh"
)

const MaxNameLength = 128

var InvalidServiceName = regexp.MustCompile(`[^A-Za-z0-9\-\.]+`)

// Directory is an eventually consistent map of service names to the
// address serving them.
type Directory struct {
	config config
	logger *slog.Logger
	msink  metrics.MetricSink

	ml        atomic.Pointer[memberlist.Memberlist]
	queue     *memberlist.TransmitLimitedQueue
	localNode string

	lk    sync.RWMutex
	tree  *iradix.Tree
	clock uint64
	// registrations of this node, to unregister on object close.
	owned map[string]*objmesh.Manageable

	shutdown bool
	closeCh  chan struct{}
	wg       sync.WaitGroup
}

type registrationKey struct {
	dir  *Directory
	name string
}

// Create starts the local memberlist node. Call `Join` to reach peers.
func Create(opts ...Option) (*Directory, error) {
	dir := &Directory{
		config: config{
			mlCfg:        memberlist.DefaultLANConfig(),
			tombstoneTTL: 1 * time.Minute,
			reapPeriod:   10 * time.Second,
		},
		tree:    iradix.New(),
		owned:   make(map[string]*objmesh.Manageable),
		closeCh: make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(&dir.config); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if dir.config.logHandler != nil {
		dir.logger = slog.New(dir.config.logHandler)
	} else {
		dir.logger = slog.Default()
	}
	dir.config.mlCfg.Logger = slog.NewLogLogger(dir.logger.Handler(), slog.LevelDebug)

	if dir.config.msink == nil {
		dir.config.msink = metrics.Default()
	}
	dir.msink = dir.config.msink

	dir.queue = &memberlist.TransmitLimitedQueue{
		NumNodes:       dir.numNodes,
		RetransmitMult: dir.config.mlCfg.RetransmitMult,
	}
	gossip := &gossip{dir: dir, logger: dir.logger}
	dir.config.mlCfg.Delegate = gossip
	dir.config.mlCfg.Events = gossip

	ml, err := memberlist.Create(dir.config.mlCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}
	dir.ml.Store(ml)
	dir.localNode = ml.LocalNode().Name
	dir.logger = dir.logger.With(LabelPeerName.L(dir.localNode))

	dir.wg.Add(1)
	go dir.reapTombstones()

	return dir, nil
}

func (dir *Directory) numNodes() int {
	if ml := dir.ml.Load(); ml != nil {
		return ml.NumMembers()
	}
	return 1
}

// LocalNode is the memberlist name of this node.
func (dir *Directory) LocalNode() string {
	return dir.localNode
}

// GossipAddr is the address peers can `Join`.
func (dir *Directory) GossipAddr() string {
	return dir.ml.Load().LocalNode().Address()
}

// Members returns the names of the live nodes.
func (dir *Directory) Members() []string {
	members := dir.ml.Load().Members()
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	slices.Sort(names)
	return names
}

// Join contacts peers, or the configured neighbours when none is given.
// It succeeds if at least one peer answered.
func (dir *Directory) Join(peers ...string) error {
	dir.lk.RLock()
	closed := dir.shutdown
	dir.lk.RUnlock()
	if closed {
		return ErrDirectoryClosed
	}

	if len(peers) == 0 {
		peers = dir.config.neighbours
	}
	if len(peers) == 0 {
		return nil
	}

	joined, err := dir.ml.Load().Join(peers)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrJoinCluster, err)
	}
	dir.logger.Info("cluster joined")
	if len(peers) != joined {
		dir.logger.Warn(
			"not all neighbours are reachable",
			"joined", joined,
			"expected", len(peers),
		)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLength || InvalidServiceName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Register advertises obj, served at address, under name. It fails with
// `ErrNameConflict` if another node currently owns the name. The record is
// removed when obj is closed.
//
// Two nodes registering the same name concurrently are reconciled by the
// last-writer-wins rule: the loser logs it and forgets its registration.
func (dir *Directory) Register(name, address string, obj *objmesh.GenericObject) (Record, error) {
	if err := validateName(name); err != nil {
		return Record{}, err
	}

	dir.lk.Lock()
	if dir.shutdown {
		dir.lk.Unlock()
		return Record{}, ErrDirectoryClosed
	}
	if cur, ok := dir.get(name); ok && !cur.Deleted && cur.Node != dir.localNode {
		dir.lk.Unlock()
		return Record{}, fmt.Errorf("%w: %s is owned by %s", ErrNameConflict, name, cur.Node)
	}

	dir.clock++
	rec := &Record{
		Name:     name,
		Node:     dir.localNode,
		Address:  address,
		ObjectID: obj.ObjectID(),
		Revision: dir.clock,
		seen:     time.Now(),
	}
	dir.put(rec)
	prev := dir.owned[name]
	dir.owned[name] = &obj.Manageable
	dir.lk.Unlock()

	key := registrationKey{dir: dir, name: name}
	if prev != nil && prev != &obj.Manageable {
		prev.RemoveCallbacks(key)
	}
	err := obj.AddCallbacks(key, objmesh.CallbacksFunc(func(_ *objmesh.Manageable, state objmesh.ManagedState) {
		if state == objmesh.StateDestroying {
			dir.unregisterObject(name, rec.ObjectID)
		}
	}))
	if err != nil {
		// Closed in between: do not leave a record pointing to it.
		dir.unregisterObject(name, rec.ObjectID)
		return Record{}, err
	}

	dir.broadcast(rec)
	dir.msink.IncrCounterWithLabels(MetricRegisterCount, 1, dir.config.metricLabels)
	dir.logger.Info("service registered", LabelServiceName.L(name), LabelObjectID.L(rec.ObjectID))
	return *rec, nil
}

// Unregister removes a name registered by this node.
func (dir *Directory) Unregister(name string) error {
	dir.lk.Lock()
	cur, ok := dir.get(name)
	if !ok || cur.Deleted || cur.Node != dir.localNode {
		dir.lk.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOwner, name)
	}
	tomb := dir.tombstoneLocked(cur)
	owner := dir.owned[name]
	delete(dir.owned, name)
	dir.lk.Unlock()

	if owner != nil {
		owner.RemoveCallbacks(registrationKey{dir: dir, name: name})
	}
	dir.publishTombstone(tomb)
	return nil
}

func (dir *Directory) unregisterObject(name, objectID string) {
	dir.lk.Lock()
	cur, ok := dir.get(name)
	if !ok || cur.Deleted || cur.Node != dir.localNode || cur.ObjectID != objectID {
		dir.lk.Unlock()
		return
	}
	tomb := dir.tombstoneLocked(cur)
	delete(dir.owned, name)
	dir.lk.Unlock()
	dir.publishTombstone(tomb)
}

// tombstoneLocked MUST be called with lk held.
func (dir *Directory) tombstoneLocked(cur *Record) *Record {
	dir.clock++
	tomb := &Record{
		Name:     cur.Name,
		Node:     dir.localNode,
		ObjectID: cur.ObjectID,
		Revision: dir.clock,
		Deleted:  true,
		seen:     time.Now(),
	}
	dir.put(tomb)
	return tomb
}

func (dir *Directory) publishTombstone(tomb *Record) {
	dir.broadcast(tomb)
	dir.msink.IncrCounterWithLabels(MetricUnregisterCount, 1, dir.config.metricLabels)
	dir.logger.Info("service unregistered", LabelServiceName.L(tomb.Name))
}

// Resolve returns the live record of name.
func (dir *Directory) Resolve(name string) (Record, error) {
	dir.lk.RLock()
	defer dir.lk.RUnlock()
	rec, ok := dir.get(name)
	if !ok || rec.Deleted {
		return Record{}, fmt.Errorf("%w: %s", ErrNameResolution, name)
	}
	return *rec, nil
}

// Local returns the record of name if this node registered it.
func (dir *Directory) Local(name string) (Record, bool) {
	dir.lk.RLock()
	defer dir.lk.RUnlock()
	rec, ok := dir.get(name)
	if !ok || rec.Deleted || rec.Node != dir.localNode {
		return Record{}, false
	}
	return *rec, true
}

// Scan returns the live records whose name starts with prefix, in name
// order. It fails with `ErrNameResolution` when there is none.
func (dir *Directory) Scan(prefix string) ([]Record, error) {
	dir.lk.RLock()
	defer dir.lk.RUnlock()
	var found []Record
	dir.tree.Root().WalkPrefix([]byte(prefix), func(_ []byte, v interface{}) bool {
		if rec := v.(*Record); !rec.Deleted {
			found = append(found, *rec)
		}
		return false
	})
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: prefix %q", ErrNameResolution, prefix)
	}
	return found, nil
}

// get MUST be called with lk held.
func (dir *Directory) get(name string) (*Record, bool) {
	v, ok := dir.tree.Get([]byte(name))
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// put MUST be called with lk held.
func (dir *Directory) put(rec *Record) {
	dir.tree, _, _ = dir.tree.Insert([]byte(rec.Name), rec)
	dir.msink.SetGaugeWithLabels(MetricRecordsGauge, float32(dir.tree.Len()), dir.config.metricLabels)
}

// merge applies a record received from a peer. It returns whether the
// record was newer than what we had.
func (dir *Directory) merge(rec *Record) bool {
	dir.lk.Lock()
	if rec.Revision > dir.clock {
		dir.clock = rec.Revision
	}
	cur, ok := dir.get(rec.Name)
	if ok && !rec.supersedes(cur) {
		dir.lk.Unlock()
		return false
	}

	rec.seen = time.Now()
	dir.put(rec)

	takenOver := ok && cur.Node == dir.localNode && !cur.Deleted && rec.Node != dir.localNode
	var lost *objmesh.Manageable
	if takenOver {
		lost = dir.owned[rec.Name]
		delete(dir.owned, rec.Name)
	}
	dir.lk.Unlock()

	dir.msink.IncrCounterWithLabels(MetricMergeCount, 1, dir.config.metricLabels)
	if !takenOver {
		return true
	}
	if lost != nil {
		lost.RemoveCallbacks(registrationKey{dir: dir, name: rec.Name})
	}
	dir.msink.IncrCounterWithLabels(
		MetricLostOwnershipCount,
		1,
		withLabels(dir.config.metricLabels, LabelServiceName.M(rec.Name)),
	)
	dir.logger.Warn(
		"service name taken over by a peer",
		LabelServiceName.L(rec.Name),
		LabelPeerName.L(rec.Node),
		LabelRevision.L(rec.Revision),
	)
	return true
}

// dropNode forgets every record registered by node.
func (dir *Directory) dropNode(node string) int {
	if node == dir.localNode {
		return 0
	}
	dir.lk.Lock()
	defer dir.lk.Unlock()

	txn := dir.tree.Txn()
	dropped := 0
	dir.tree.Root().Walk(func(k []byte, v interface{}) bool {
		if v.(*Record).Node == node {
			txn.Delete(k)
			dropped++
		}
		return false
	})
	if dropped > 0 {
		dir.tree = txn.Commit()
		dir.msink.IncrCounterWithLabels(MetricDroppedRecordCount, float32(dropped), dir.config.metricLabels)
		dir.msink.SetGaugeWithLabels(MetricRecordsGauge, float32(dir.tree.Len()), dir.config.metricLabels)
	}
	return dropped
}

// records snapshots every record, tombstones included.
func (dir *Directory) records() []*Record {
	dir.lk.RLock()
	defer dir.lk.RUnlock()
	out := make([]*Record, 0, dir.tree.Len())
	dir.tree.Root().Walk(func(_ []byte, v interface{}) bool {
		out = append(out, v.(*Record))
		return false
	})
	return out
}

func (dir *Directory) broadcast(rec *Record) {
	dir.queue.QueueBroadcast(&recordBroadcast{
		name: rec.Name,
		msg:  encodeRecord(rec),
	})
}

func (dir *Directory) reapTombstones() {
	defer dir.wg.Done()
	ticker := time.NewTicker(dir.config.reapPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			dir.reap(time.Now())
		case <-dir.closeCh:
			return
		}
	}
}

func (dir *Directory) reap(now time.Time) int {
	dir.lk.Lock()
	defer dir.lk.Unlock()

	txn := dir.tree.Txn()
	reaped := 0
	dir.tree.Root().Walk(func(k []byte, v interface{}) bool {
		rec := v.(*Record)
		if rec.Deleted && now.Sub(rec.seen) > dir.config.tombstoneTTL {
			txn.Delete(k)
			reaped++
		}
		return false
	})
	if reaped > 0 {
		dir.tree = txn.Commit()
		dir.msink.IncrCounterWithLabels(MetricReapedTombstoneCount, float32(reaped), dir.config.metricLabels)
	}
	return reaped
}

// Shutdown leaves the cluster, so peers drop our records, then frees the
// memberlist resources. It is idempotent.
func (dir *Directory) Shutdown(ctx context.Context) error {
	dir.lk.Lock()
	if dir.shutdown {
		dir.lk.Unlock()
		return nil
	}
	dir.shutdown = true
	close(dir.closeCh)
	owned := dir.owned
	dir.owned = make(map[string]*objmesh.Manageable)
	dir.lk.Unlock()

	for name, m := range owned {
		m.RemoveCallbacks(registrationKey{dir: dir, name: name})
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		// memberlist waits forever on a non-positive timeout.
		timeout = max(time.Until(deadline), time.Millisecond)
	}

	ml := dir.ml.Load()
	if err := ml.Leave(timeout); err != nil {
		dir.logger.Warn("failed to leave the cluster gracefully", LabelError.L(err))
	}
	dir.queue.Reset()
	err := ml.Shutdown()
	dir.wg.Wait()
	dir.logger.Info("directory shut down")
	return err
}
