package objmesh

import (
	"fmt"

	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
)

// Body is the type-erased function run by a `Callable`.
type Body func(args []value.Value) (value.Value, error)

// AttachHook prepares the calling goroutine before a callable runs, and
// returns the function undoing it.
type AttachHook func() (detach func(), err error)

// Callable is an invocable with a fixed parameter signature, bound to the
// event loop it runs on. It is immutable: the `With*` methods return copies.
type Callable struct {
	params  signature.Signature
	dynamic bool
	ret     signature.Type
	body    Body
	loop    EventLoop
	attach  AttachHook
}

// NewCallable wraps body, whose arguments are validated against params
// before every invocation.
func NewCallable(params signature.Signature, ret signature.Type, body Body) Callable {
	return Callable{
		params: params,
		ret:    ret,
		body:   body,
	}
}

// DynamicCallable wraps body without any parameter validation. It can be
// advertised under any signature.
func DynamicCallable(ret signature.Type, body Body) Callable {
	return Callable{
		dynamic: true,
		ret:     ret,
		body:    body,
	}
}

// Params returns the parameter signature, nil for dynamic callables.
func (c Callable) Params() signature.Signature {
	return c.params
}

func (c Callable) Return() signature.Type {
	return c.ret
}

func (c Callable) IsDynamic() bool {
	return c.dynamic
}

// IsZero reports whether c wraps no function.
func (c Callable) IsZero() bool {
	return c.body == nil
}

// Loop returns the bound loop, nil if unbound.
func (c Callable) Loop() EventLoop {
	return c.loop
}

// WithLoop returns a copy of c bound to loop.
func (c Callable) WithLoop(loop EventLoop) Callable {
	c.loop = loop
	return c
}

// WithAttach returns a copy of c running hook before every invocation.
func (c Callable) WithAttach(hook AttachHook) Callable {
	c.attach = hook
	return c
}

// Invoke runs the callable synchronously on the calling goroutine.
//
// Arguments are checked before anything runs: a wrong arity, or an argument
// which cannot be converted losslessly to its parameter type, fails with
// `ErrArityOrTypeMismatch`. Panics are recovered as a `*PanicError`.
func (c Callable) Invoke(args []value.Value) (ret value.Value, err error) {
	if c.body == nil {
		return value.Value{}, ErrTargetUnavailable
	}

	args, err = c.coerceArgs(args)
	if err != nil {
		return value.Value{}, err
	}

	if c.attach != nil {
		detach, err := c.attach()
		if err != nil {
			return value.Value{}, fmt.Errorf("%w: attach: %w", ErrInvocationFault, err)
		}
		if detach != nil {
			defer detach()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			ret = value.Value{}
			err = &PanicError{Value: r}
		}
	}()

	ret, err = c.body(args)
	if err != nil {
		return value.Value{}, err
	}
	return c.coerceReturn(ret)
}

// Call posts the invocation on the bound loop, or on `DefaultEventLoop()`
// when unbound. Arguments are cloned before Call returns.
func (c Callable) Call(args ...value.Value) *Future {
	owned := make([]value.Value, len(args))
	for i := range args {
		owned[i] = args[i].Clone()
	}

	loop := c.loop
	if loop == nil {
		loop = DefaultEventLoop()
	}

	promise := NewPromise()
	err := loop.Post(func() {
		promise.Set(c.Invoke(owned))
	})
	if err != nil {
		promise.SetError(fmt.Errorf("%w: %w", ErrTargetUnavailable, err))
	}
	return promise.Future()
}

// Accepts reports whether args would pass validation, without converting.
func (c Callable) Accepts(args []value.Value) bool {
	_, err := c.coerceArgs(args)
	return err == nil
}

func (c Callable) coerceArgs(args []value.Value) ([]value.Value, error) {
	if c.dynamic {
		return args, nil
	}
	if len(args) != len(c.params) {
		return nil, fmt.Errorf("%w: got %d arguments, want %d", ErrArityOrTypeMismatch, len(args), len(c.params))
	}

	var out []value.Value
	for i, want := range c.params {
		arg := args[i]
		if arg.Type().Equal(want) {
			continue
		}
		conv, err := value.Convert(arg, want, false)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %w", ErrArityOrTypeMismatch, i, err)
		}
		if out == nil {
			out = make([]value.Value, len(args))
			copy(out, args)
		}
		out[i] = conv
	}
	if out == nil {
		return args, nil
	}
	return out, nil
}

func (c Callable) coerceReturn(ret value.Value) (value.Value, error) {
	switch {
	case c.ret.Code == 0, c.ret.Code == signature.Dynamic:
		return ret, nil
	case c.ret.Code == signature.Void:
		return value.None(), nil
	case ret.Type().Equal(c.ret):
		return ret, nil
	}
	conv, err := value.Convert(ret, c.ret, false)
	if err != nil {
		return value.Value{}, fmt.Errorf("%w: return value: %w", ErrInvocationFault, err)
	}
	return conv, nil
}
