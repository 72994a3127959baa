package objmesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/raskyld/objmesh/pkg/meta"
	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
)

// ObjectLink identifies a subscription made through `GenericObject.Connect`.
// The high 32 bits hold the signal uid, the low 32 bits its `Link`.
type ObjectLink uint64

func newObjectLink(signalUID uint32, link Link) ObjectLink {
	return ObjectLink(uint64(signalUID)<<32 | uint64(link))
}

func (ol ObjectLink) SignalUID() uint32 {
	return uint32(ol >> 32)
}

func (ol ObjectLink) Link() Link {
	return Link(uint32(ol))
}

// GenericObject exposes a sealed table of methods and signals.
//
// The tables never change once built, so dispatch does not lock. Only the
// subscribers of each signal mutate during the object lifetime.
type GenericObject struct {
	Manageable

	id     uuid.UUID
	name   string
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	methods     *iradix.Tree
	methodDescs []meta.MethodDescriptor
	signals     map[string]*Signal
	signalByUID map[uint32]*Signal
	signalDescs []meta.SignalDescriptor

	linksLk sync.Mutex
	links   map[ObjectLink]*WeakGuard[GenericObject]

	isClosed atomic.Bool
}

func (o *GenericObject) ID() uuid.UUID {
	return o.id
}

// ObjectID makes objects usable as `value.Object` references.
func (o *GenericObject) ObjectID() string {
	return o.id.String()
}

func (o *GenericObject) Name() string {
	return o.name
}

func (o *GenericObject) closed() bool {
	return o.isClosed.Load()
}

// Call resolves a method from the name before "::" and the types of args,
// then runs it asynchronously. Every failure, including resolution ones, is
// reported through the returned `Future`.
//
// Resolution tries the exact parameter signature first. Failing that, the
// overloads matching modulo dynamic parameters or arguments are considered:
// the one accepting the inner type of dynamic arguments wins, ties going to
// the lowest uid.
func (o *GenericObject) Call(nameAndSignature string, args ...value.Value) *Future {
	name := signature.NameOf(nameAndSignature)
	if o.closed() {
		return o.callFailed(name, fmt.Errorf("%w: object %s is closed", ErrTargetUnavailable, o.name))
	}

	entry, err := o.resolve(name, args)
	if err != nil {
		return o.callFailed(name, err)
	}

	labels := withLabels(o.labels, LabelMethod.M(entry.desc.Signature))
	o.msink.IncrCounterWithLabels(MetricCallCount, 1, labels)

	c := entry.callable
	if c.Loop() == nil {
		c = c.WithLoop(o.EventLoop())
	}
	fut := c.Call(args...)
	fut.Then(func(_ value.Value, err error) {
		if err != nil {
			o.msink.IncrCounterWithLabels(MetricCallErrorCount, 1, labels)
		}
	})
	return fut
}

// CallContext is `Call` waiting for the result.
func (o *GenericObject) CallContext(ctx context.Context, nameAndSignature string, args ...value.Value) (value.Value, error) {
	return o.Call(nameAndSignature, args...).Wait(ctx)
}

func (o *GenericObject) callFailed(name string, err error) *Future {
	o.msink.IncrCounterWithLabels(MetricCallErrorCount, 1, withLabels(o.labels, LabelMethod.M(name)))
	return Completed(value.Value{}, err)
}

func (o *GenericObject) resolve(name string, args []value.Value) (*methodEntry, error) {
	static := make(signature.Signature, len(args))
	inner := make(signature.Signature, len(args))
	for i, arg := range args {
		static[i] = arg.Type()
		inner[i] = arg.RuntimeType()
	}

	key := signature.MethodKey(name, static)
	if raw, ok := o.methods.Get([]byte(key)); ok {
		return raw.(*methodEntry), nil
	}

	var candidates []*methodEntry
	o.methods.Root().WalkPrefix([]byte(name+"::("), func(_ []byte, raw interface{}) bool {
		entry := raw.(*methodEntry)
		if entry.params.Compatible(static) {
			candidates = append(candidates, entry)
		}
		return false
	})
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, key)
	}

	slices.SortFunc(candidates, func(a, b *methodEntry) int {
		aFits, bFits := a.params.Compatible(inner), b.params.Compatible(inner)
		switch {
		case aFits && !bFits:
			return -1
		case bFits && !aFits:
			return 1
		}
		return int(a.desc.UID) - int(b.desc.UID)
	})
	return candidates[0], nil
}

// Signal returns the named signal.
func (o *GenericObject) Signal(name string) (*Signal, bool) {
	sig, ok := o.signals[signature.NameOf(name)]
	return sig, ok
}

// Emit validates args against the signal parameters then triggers it.
// Arguments may be converted losslessly to the parameter types.
func (o *GenericObject) Emit(name string, args ...value.Value) error {
	if o.closed() {
		return fmt.Errorf("%w: object %s is closed", ErrTargetUnavailable, o.name)
	}
	sig, ok := o.Signal(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSignalNotFound, name)
	}

	params := sig.Params()
	if params != nil {
		if len(args) != len(params) {
			return fmt.Errorf("%w: %s got %d arguments, want %d", ErrArityOrTypeMismatch, sig.Name(), len(args), len(params))
		}
		coerced := make([]value.Value, len(args))
		for i, arg := range args {
			conv, err := value.Convert(arg, params[i], false)
			if err != nil {
				return fmt.Errorf("%w: %s argument %d: %w", ErrArityOrTypeMismatch, sig.Name(), i, err)
			}
			coerced[i] = conv
		}
		args = coerced
	}

	sig.Trigger(args...)
	return nil
}

// Connect subscribes target to a signal of this object. When target is a
// method of another object, the subscription is dropped as soon as that
// object is closed.
func (o *GenericObject) Connect(signal string, target Target, opts ...ConnectOption) (ObjectLink, error) {
	sig, ok := o.Signal(signal)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSignalNotFound, signal)
	}
	uid := o.signalUID(sig)

	link, err := sig.Connect(target, opts...)
	if err != nil {
		return 0, err
	}
	if link > math.MaxUint32 {
		sig.Disconnect(link)
		return 0, fmt.Errorf("%w: link space exhausted on %s", ErrInvalidCfg, sig.Name())
	}
	ol := newObjectLink(uid, link)

	if target.object == nil {
		return ol, nil
	}
	peer, unlock, ok := target.object.Borrow()
	if !ok {
		sig.Disconnect(link)
		return 0, ErrTargetUnavailable
	}
	defer unlock()

	err = peer.AddCallbacks(linkKey{source: o.id, link: ol}, CallbacksFunc(func(_ *Manageable, state ManagedState) {
		if state == StateDestroying {
			o.Disconnect(ol)
		}
	}))
	if err != nil {
		sig.Disconnect(link)
		return 0, err
	}

	o.linksLk.Lock()
	o.links[ol] = target.object
	o.linksLk.Unlock()
	return ol, nil
}

// Disconnect removes a subscription made through `Connect`.
func (o *GenericObject) Disconnect(ol ObjectLink) bool {
	sig, ok := o.signalByUID[ol.SignalUID()]
	if !ok {
		return false
	}
	removed := sig.Disconnect(ol.Link())

	o.linksLk.Lock()
	peerRef, tracked := o.links[ol]
	delete(o.links, ol)
	o.linksLk.Unlock()

	if tracked {
		if peer, unlock, alive := peerRef.Borrow(); alive {
			peer.RemoveCallbacks(linkKey{source: o.id, link: ol})
			unlock()
		}
	}
	return removed
}

// ListMethods returns the method descriptors in uid order.
func (o *GenericObject) ListMethods() []meta.MethodDescriptor {
	out := make([]meta.MethodDescriptor, len(o.methodDescs))
	for i, d := range o.methodDescs {
		out[i] = d.Clone()
	}
	return out
}

// ListSignals returns the signal descriptors in uid order.
func (o *GenericObject) ListSignals() []meta.SignalDescriptor {
	out := make([]meta.SignalDescriptor, len(o.signalDescs))
	for i, d := range o.signalDescs {
		out[i] = d.Clone()
	}
	return out
}

// Close tears the object down: managed callbacks are notified first, then
// every signal is disabled and drained until ctx is done. Calls made after
// Close fail with `ErrTargetUnavailable`.
func (o *GenericObject) Close(ctx context.Context) error {
	if !o.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	o.teardown()

	var errs []error
	for _, desc := range o.signalDescs {
		if err := o.signalByUID[desc.UID].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("signal %s: %w", desc.Name, err))
		}
	}

	o.linksLk.Lock()
	links := o.links
	o.links = make(map[ObjectLink]*WeakGuard[GenericObject])
	o.linksLk.Unlock()

	// Peers outliving us must not keep our callbacks, they pin the object.
	for ol, peerRef := range links {
		if peer, unlock, alive := peerRef.Borrow(); alive {
			peer.RemoveCallbacks(linkKey{source: o.id, link: ol})
			unlock()
		}
	}

	o.logger.Debug("object closed")
	return errors.Join(errs...)
}

func (o *GenericObject) signalUID(sig *Signal) uint32 {
	for _, desc := range o.signalDescs {
		if desc.Name == sig.Name() {
			return desc.UID
		}
	}
	return 0
}

type linkKey struct {
	source uuid.UUID
	link   ObjectLink
}
