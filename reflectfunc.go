package objmesh

import (
	"fmt"
	"reflect"

	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
)

var errorType = reflect.TypeFor[error]()

// Func wraps a Go function into a `Callable`, deriving its signature from
// the parameter and result types. Supported shapes return nothing, a value,
// an error, or a value and an error. `value.Value` parameters are dynamic.
func Func(fn any) (Callable, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return Callable{}, fmt.Errorf("%w: %T is not a function", ErrTypeMismatch, fn)
	}
	rt := rv.Type()
	if rt.IsVariadic() {
		return Callable{}, fmt.Errorf("%w: variadic functions are not supported", ErrTypeMismatch)
	}

	params := make(signature.Signature, rt.NumIn())
	for i := range params {
		t, err := value.TypeOf(rt.In(i))
		if err != nil {
			return Callable{}, fmt.Errorf("parameter %d: %w", i, err)
		}
		params[i] = t
	}

	ret := signature.Of(signature.Void)
	hasValue, hasErr := false, false
	switch rt.NumOut() {
	case 0:
	case 1:
		if rt.Out(0) == errorType {
			hasErr = true
		} else {
			hasValue = true
		}
	case 2:
		if rt.Out(1) != errorType {
			return Callable{}, fmt.Errorf("%w: second result must be an error", ErrTypeMismatch)
		}
		hasValue, hasErr = true, true
	default:
		return Callable{}, fmt.Errorf("%w: too many results", ErrTypeMismatch)
	}
	if hasValue {
		t, err := value.TypeOf(rt.Out(0))
		if err != nil {
			return Callable{}, fmt.Errorf("result: %w", err)
		}
		ret = t
	}

	body := func(args []value.Value) (value.Value, error) {
		in := make([]reflect.Value, len(args))
		for i, arg := range args {
			nv, err := value.AsType(arg, rt.In(i))
			if err != nil {
				return value.Value{}, fmt.Errorf("%w: argument %d: %w", ErrArityOrTypeMismatch, i, err)
			}
			in[i] = nv
		}

		out := rv.Call(in)
		if hasErr {
			if errV := out[len(out)-1]; !errV.IsNil() {
				return value.Value{}, errV.Interface().(error)
			}
		}
		if !hasValue {
			return value.None(), nil
		}
		return value.FromReflect(out[0])
	}

	return NewCallable(params, ret, body), nil
}

// MustFunc is like `Func` but panics on error.
func MustFunc(fn any) Callable {
	c, err := Func(fn)
	if err != nil {
		panic(err)
	}
	return c
}
