package objmesh

import (
	"slices"
	"sync"
)

type ManagedState int

const (
	// StateEventLoopMoved is notified after `MoveToEventLoop`.
	StateEventLoopMoved ManagedState = iota + 1
	// StateDestroying is notified once, when the owner is torn down.
	StateDestroying
)

func (s ManagedState) String() string {
	switch s {
	case StateEventLoopMoved:
		return "eventloop-moved"
	case StateDestroying:
		return "destroying"
	}
	return "unknown"
}

// Callbacks are notified of the state changes of a `Manageable`.
// They are called synchronously, without any lock held.
type Callbacks interface {
	OnManagedStateChange(m *Manageable, state ManagedState)
}

type CallbacksFunc func(m *Manageable, state ManagedState)

func (f CallbacksFunc) OnManagedStateChange(m *Manageable, state ManagedState) {
	f(m, state)
}

// Manageable gives its owner a bound event loop and a registry of callbacks
// keyed by identity.
type Manageable struct {
	lk        sync.Mutex
	loop      EventLoop
	keys      []any
	callbacks map[any]Callbacks
	destroyed bool
}

func (m *Manageable) EventLoop() EventLoop {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.loop == nil {
		return DefaultEventLoop()
	}
	return m.loop
}

// MoveToEventLoop rebinds the owner. Callables already bound keep their loop.
func (m *Manageable) MoveToEventLoop(loop EventLoop) {
	m.lk.Lock()
	m.loop = loop
	cbs := m.snapshot()
	m.lk.Unlock()

	for _, cb := range cbs {
		cb.OnManagedStateChange(m, StateEventLoopMoved)
	}
}

// AddCallbacks registers cb under key, replacing any previous registration
// while keeping its position. It fails with `ErrTargetUnavailable` once the
// owner is being destroyed.
func (m *Manageable) AddCallbacks(key any, cb Callbacks) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.destroyed {
		return ErrTargetUnavailable
	}
	if m.callbacks == nil {
		m.callbacks = make(map[any]Callbacks)
	}
	if _, exists := m.callbacks[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.callbacks[key] = cb
	return nil
}

func (m *Manageable) RemoveCallbacks(key any) bool {
	m.lk.Lock()
	defer m.lk.Unlock()
	if _, exists := m.callbacks[key]; !exists {
		return false
	}
	delete(m.callbacks, key)
	m.keys = slices.DeleteFunc(m.keys, func(k any) bool { return k == key })
	return true
}

// Destroyed reports whether teardown started.
func (m *Manageable) Destroyed() bool {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.destroyed
}

// teardown unregisters every callback and notifies them, in insertion
// order. It reports false if teardown already happened.
func (m *Manageable) teardown() bool {
	m.lk.Lock()
	if m.destroyed {
		m.lk.Unlock()
		return false
	}
	m.destroyed = true
	cbs := m.snapshot()
	m.keys = nil
	m.callbacks = nil
	m.lk.Unlock()

	for _, cb := range cbs {
		cb.OnManagedStateChange(m, StateDestroying)
	}
	return true
}

// snapshot MUST be called with lk held.
func (m *Manageable) snapshot() []Callbacks {
	out := make([]Callbacks, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.callbacks[k])
	}
	return out
}
