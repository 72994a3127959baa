package objmesh

import (
	"context"
	"sync"

	"github.com/raskyld/objmesh/pkg/value"
)

// Future is the read side of an asynchronous result.
type Future struct {
	doneCh chan struct{}
	once   sync.Once

	lk    sync.Mutex
	val   value.Value
	err   error
	thens []func(value.Value, error)
}

// Promise is the write side of a `Future`. Only the first completion wins.
type Promise struct {
	fut *Future
}

func NewPromise() Promise {
	return Promise{fut: &Future{doneCh: make(chan struct{})}}
}

func (p Promise) Future() *Future {
	return p.fut
}

// SetValue completes the future and reports whether it was not already set.
func (p Promise) SetValue(v value.Value) bool {
	return p.fut.complete(v, nil)
}

func (p Promise) SetError(err error) bool {
	return p.fut.complete(value.Value{}, err)
}

// Set completes the future with the outcome of a call.
func (p Promise) Set(v value.Value, err error) bool {
	if err != nil {
		return p.SetError(err)
	}
	return p.SetValue(v)
}

// Completed returns a future that already holds its result.
func Completed(v value.Value, err error) *Future {
	p := NewPromise()
	p.Set(v, err)
	return p.Future()
}

func (f *Future) complete(v value.Value, err error) bool {
	won := false
	f.once.Do(func() {
		won = true
		f.lk.Lock()
		f.val, f.err = v, err
		thens := f.thens
		f.thens = nil
		close(f.doneCh)
		f.lk.Unlock()

		for _, fn := range thens {
			fn(v, err)
		}
	})
	return won
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.doneCh
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (value.Value, error) {
	select {
	case <-ctx.Done():
		return value.Value{}, ctx.Err()
	case <-f.doneCh:
	}
	return f.Result()
}

// Result returns the outcome without blocking. It is only meaningful once
// `Ready` reports true.
func (f *Future) Result() (value.Value, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	return f.val, f.err
}

func (f *Future) Ready() bool {
	select {
	case <-f.doneCh:
		return true
	default:
		return false
	}
}

// Then registers fn to run once the future completes. fn runs on the
// completing goroutine, or immediately if the future is already done.
func (f *Future) Then(fn func(value.Value, error)) {
	f.lk.Lock()
	select {
	case <-f.doneCh:
		v, err := f.val, f.err
		f.lk.Unlock()
		fn(v, err)
		return
	default:
	}
	f.thens = append(f.thens, fn)
	f.lk.Unlock()
}
