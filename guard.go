package objmesh

import (
	"runtime"
	"weak"
)

// Guard is a liveness probe over a subscriber's referent. TryLock succeeds
// while the referent is alive and pins it until unlock is called.
type Guard interface {
	TryLock() (unlock func(), ok bool)
}

// WeakGuard observes a value without keeping it alive.
type WeakGuard[T any] struct {
	ptr weak.Pointer[T]
}

func NewWeakGuard[T any](target *T) *WeakGuard[T] {
	return &WeakGuard[T]{ptr: weak.Make(target)}
}

// TryLock borrows a strong reference for the duration of one dispatch.
func (g *WeakGuard[T]) TryLock() (func(), bool) {
	_, unlock, ok := g.Borrow()
	return unlock, ok
}

// Borrow is TryLock returning the referent.
func (g *WeakGuard[T]) Borrow() (*T, func(), bool) {
	strong := g.ptr.Value()
	if strong == nil {
		return nil, nil, false
	}
	return strong, func() {
		runtime.KeepAlive(strong)
	}, true
}

// GuardFunc adapts a probe function to the `Guard` interface.
type GuardFunc func() (func(), bool)

func (f GuardFunc) TryLock() (func(), bool) {
	return f()
}
