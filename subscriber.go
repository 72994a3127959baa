package objmesh

import (
	"fmt"
	"sync/atomic"

	"github.com/raskyld/objmesh/pkg/value"
)

// Link identifies a subscriber within its signal. Zero is never assigned.
type Link uint64

// SubscriberState is the lifecycle of a subscriber:
// Active -> Disabled -> Removed, Removed being terminal.
type SubscriberState int

const (
	SubscriberActive SubscriberState = iota
	SubscriberDisabled
	SubscriberRemoved
)

func (s SubscriberState) String() string {
	switch s {
	case SubscriberActive:
		return "active"
	case SubscriberDisabled:
		return "disabled"
	case SubscriberRemoved:
		return "removed"
	}
	return "unknown"
}

// SubscriberInfo is a point-in-time view of a subscriber.
type SubscriberInfo struct {
	Link   Link
	State  SubscriberState
	Active int64
	Target string
}

// Target is what a subscriber dispatches to: either a callable or a method
// of another object, referenced weakly.
type Target struct {
	callable Callable
	object   *WeakGuard[GenericObject]
	method   string
	label    string
}

// FuncTarget dispatches to c.
func FuncTarget(c Callable) Target {
	return Target{callable: c, label: "func"}
}

// MethodTarget dispatches to `obj.Call(method, args...)`. The subscriber does
// not keep obj alive: once it is collected the subscriber is removed on the
// next trigger.
func MethodTarget(obj *GenericObject, method string) Target {
	return Target{
		object: NewWeakGuard(obj),
		method: method,
		label:  fmt.Sprintf("%s.%s", obj.ID(), method),
	}
}

type connectConfig struct {
	guard Guard
	loop  EventLoop
}

// ConnectOption tunes a subscription.
type ConnectOption func(*connectConfig)

// WithGuard sets a liveness probe acquired around each dispatch.
func WithGuard(g Guard) ConnectOption {
	return func(cc *connectConfig) {
		cc.guard = g
	}
}

// OnEventLoop overrides the loop the subscriber is dispatched on.
func OnEventLoop(loop EventLoop) ConnectOption {
	return func(cc *connectConfig) {
		cc.loop = loop
	}
}

type subscriber struct {
	link   Link
	target Target
	guard  Guard
	loop   EventLoop

	enabled atomic.Bool
	removed atomic.Bool
	active  atomic.Int64
}

func (sub *subscriber) state() SubscriberState {
	switch {
	case sub.removed.Load():
		return SubscriberRemoved
	case !sub.enabled.Load():
		return SubscriberDisabled
	}
	return SubscriberActive
}

func (sub *subscriber) info() SubscriberInfo {
	return SubscriberInfo{
		Link:   sub.link,
		State:  sub.state(),
		Active: sub.active.Load(),
		Target: sub.target.label,
	}
}

// acquire pins the target for one dispatch.
func (sub *subscriber) acquire() (*GenericObject, func(), bool) {
	release := func() {}
	if sub.guard != nil {
		unlock, ok := sub.guard.TryLock()
		if !ok {
			return nil, nil, false
		}
		if unlock != nil {
			release = unlock
		}
	}
	if sub.target.object == nil {
		return nil, release, true
	}

	obj, unlock, ok := sub.target.object.Borrow()
	if !ok || obj.closed() {
		release()
		return nil, nil, false
	}
	return obj, func() {
		unlock()
		release()
	}, true
}

// deliver runs the dispatch and calls done exactly once when it completes.
// It never blocks on an object target.
func (sub *subscriber) deliver(obj *GenericObject, args []value.Value, done func(error)) {
	if obj != nil {
		obj.Call(sub.target.method, args...).Then(func(_ value.Value, err error) {
			done(err)
		})
		return
	}
	_, err := sub.target.callable.Invoke(args)
	done(err)
}
