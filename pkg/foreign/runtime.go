// Package foreign binds objects to methods implemented by an external
// language runtime.
//
// The runtime is created lazily by a `Handle` the first time a bound method
// runs, and every invocation attaches the calling goroutine to it for the
// duration of the call.
package foreign

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/raskyld/objmesh/pkg/value"
)

var ErrRuntimeUnavailable = errors.New("foreign: runtime unavailable")

// Runtime is an external runtime hosting method implementations.
type Runtime interface {
	// Attach binds the calling goroutine to the runtime. detach is called
	// once the foreign code returned.
	Attach() (detach func(), err error)

	// Lookup resolves a method of class by name and parameter signature,
	// such as "(is)".
	Lookup(class, method, params string) (Method, bool)
}

// Method is a foreign method resolved by `Runtime.Lookup`.
type Method interface {
	Invoke(self any, args []value.Value) (value.Value, error)
}

type MethodFunc func(self any, args []value.Value) (value.Value, error)

func (f MethodFunc) Invoke(self any, args []value.Value) (value.Value, error) {
	return f(self, args)
}

// Handle lazily creates a `Runtime`. Creation happens at most once: a failure
// is remembered and returned to every later caller.
type Handle struct {
	once   sync.Once
	create func() (Runtime, error)
	rt     Runtime
	err    error
}

func NewHandle(create func() (Runtime, error)) *Handle {
	return &Handle{create: create}
}

// Runtime returns the runtime, creating it on first use.
func (h *Handle) Runtime() (Runtime, error) {
	h.once.Do(func() {
		rt, err := h.create()
		switch {
		case err != nil:
			h.err = fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
		case rt == nil:
			h.err = fmt.Errorf("%w: no runtime created", ErrRuntimeUnavailable)
		default:
			h.rt = rt
		}
	})
	return h.rt, h.err
}

// Attach creates the runtime if needed then attaches the calling goroutine.
func (h *Handle) Attach() (func(), error) {
	rt, err := h.Runtime()
	if err != nil {
		return nil, err
	}
	return rt.Attach()
}

// Close closes the runtime if it was created and implements `io.Closer`.
// The handle cannot create another runtime afterwards.
func (h *Handle) Close() error {
	created := true
	h.once.Do(func() {
		created = false
		h.err = fmt.Errorf("%w: handle closed", ErrRuntimeUnavailable)
	})
	if !created || h.rt == nil {
		return nil
	}
	if closer, ok := h.rt.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
