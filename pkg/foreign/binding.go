package foreign

import (
	"fmt"

	"github.com/raskyld/objmesh"
	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
)

// Binding is the foreign instance implementing the methods of an object.
type Binding struct {
	// Class used to look methods up.
	Class string

	// Self is the instance the methods run against. A nil Self binds
	// static methods.
	Self *Ref[any]
}

// Advertise publishes on b one method per "name::(params)[:ret]" signature,
// each implemented by the foreign method of the same name.
//
// The foreign method is looked up on every call with the signature of the
// actual arguments, so a missing overload surfaces as
// `objmesh.ErrMethodNotFound` at call time. Calls attach to the runtime of h
// before anything runs.
func Advertise(b *objmesh.ObjectBuilder, h *Handle, binding Binding, sigs ...string) error {
	for _, sig := range sigs {
		comp, err := signature.Split(sig)
		if err != nil {
			return err
		}

		c := objmesh.DynamicCallable(signature.Type{}, invoker(h, binding, comp.Name)).
			WithAttach(h.Attach)
		if _, err := b.AdvertiseMethod(sig, c); err != nil {
			return err
		}
	}
	return nil
}

func invoker(h *Handle, binding Binding, name string) objmesh.Body {
	return func(args []value.Value) (value.Value, error) {
		rt, err := h.Runtime()
		if err != nil {
			return value.Value{}, err
		}

		types := make(signature.Signature, len(args))
		for i, arg := range args {
			types[i] = arg.RuntimeType()
		}
		params := signature.TupleOf(types...).String()

		method, ok := rt.Lookup(binding.Class, name, params)
		if !ok {
			return value.Value{}, fmt.Errorf("%w: %s.%s%s", objmesh.ErrMethodNotFound, binding.Class, name, params)
		}

		var self any
		if binding.Self != nil {
			var (
				giveBack func()
				ok       bool
			)
			self, giveBack, ok = binding.Self.Borrow()
			if !ok {
				return value.Value{}, fmt.Errorf("%w: %s instance released", objmesh.ErrTargetUnavailable, binding.Class)
			}
			defer giveBack()
		}
		return method.Invoke(self, args)
	}
}
