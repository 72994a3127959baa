package value

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/raskyld/objmesh/pkg/signature"
)

var ErrTypeMismatch = errors.New("value: type mismatch")

// Converter translates between a Value and an external representation.
// Implementations MUST be deterministic and free of side effects.
type Converter interface {
	ToExternal(v Value) (any, error)
	FromExternal(x any) (Value, error)
}

type converterKey struct {
	kind Kind
	ext  reflect.Type
}

var converters = struct {
	lk    sync.RWMutex
	byKey map[converterKey]Converter
	byExt map[reflect.Type]Converter
}{
	byKey: make(map[converterKey]Converter),
	byExt: make(map[reflect.Type]Converter),
}

// RegisterConverter makes c responsible for converting values of the given
// kind to and from ext. The last registration for a pair wins.
func RegisterConverter(kind Kind, ext reflect.Type, c Converter) {
	converters.lk.Lock()
	defer converters.lk.Unlock()
	converters.byKey[converterKey{kind: kind, ext: ext}] = c
	converters.byExt[ext] = c
}

func lookupConverter(kind Kind, ext reflect.Type) (Converter, bool) {
	converters.lk.RLock()
	defer converters.lk.RUnlock()
	c, ok := converters.byKey[converterKey{kind: kind, ext: ext}]
	return c, ok
}

func lookupExternal(ext reflect.Type) (Converter, bool) {
	converters.lk.RLock()
	defer converters.lk.RUnlock()
	c, ok := converters.byExt[ext]
	return c, ok
}

// Raw accessors, they return the zero value on a kind mismatch.

func (v Value) BoolValue() bool {
	return v.Unwrap().b
}

func (v Value) IntValue() int64 {
	return int64(v.Unwrap().u)
}

func (v Value) UintValue() uint64 {
	return v.Unwrap().u
}

func (v Value) FloatValue() float64 {
	return v.Unwrap().f
}

func (v Value) StringValue() string {
	return v.Unwrap().s
}

// Convert changes the static type of v to t. Widening numeric conversions
// are lossless. Integer narrowing, signedness changes and conversions
// between integers and floats are the declared lossy pairs: they are
// refused unless lossy is set, and even then lossless mode never truncates
// silently since out-of-range values are rejected when lossy is false.
func Convert(v Value, t signature.Type, lossy bool) (Value, error) {
	if v.Type().Equal(t) {
		return v.Clone(), nil
	}
	if t.Code == signature.Dynamic {
		return Dynamic(v), nil
	}
	if v.Kind() == KindDynamic {
		return Convert(v.Unwrap(), t, lossy)
	}

	from := v.typ.Code
	switch {
	case from.IsInteger() && t.Code.IsInteger():
		return convertInt(v, t.Code, lossy)
	case from.IsFloat() && t.Code.IsFloat():
		if t.Code == signature.Float && !lossy && float64(float32(v.f)) != v.f && !math.IsNaN(v.f) {
			return Value{}, fmt.Errorf("%w: %v does not fit in float32", ErrTypeMismatch, v.f)
		}
		if t.Code == signature.Float {
			return Float32(float32(v.f)), nil
		}
		return Float64(v.f), nil
	case from.IsInteger() && t.Code.IsFloat():
		if !lossy {
			return Value{}, fmt.Errorf("%w: int to float is lossy", ErrTypeMismatch)
		}
		f := float64(int64(v.u))
		if from.IsUnsigned() {
			f = float64(v.u)
		}
		if t.Code == signature.Float {
			return Float32(float32(f)), nil
		}
		return Float64(f), nil
	case from.IsFloat() && t.Code.IsInteger():
		if !lossy {
			return Value{}, fmt.Errorf("%w: float to int is lossy", ErrTypeMismatch)
		}
		if t.Code.IsUnsigned() {
			return truncUnsigned(t.Code, uint64(v.f)), nil
		}
		return truncSigned(t.Code, int64(v.f)), nil
	case v.Kind() == KindList && (t.Code == signature.List || t.Code == signature.Tuple):
		return convertList(v, t, lossy)
	case v.Kind() == KindMap && t.Code == signature.Map:
		return convertMap(v, t, lossy)
	}
	return Value{}, fmt.Errorf("%w: cannot convert %q to %q", ErrTypeMismatch, v.typ, t)
}

func convertInt(v Value, to signature.Code, lossy bool) (Value, error) {
	from := v.typ.Code
	if from.IsUnsigned() {
		if fitsUnsigned(to, v.u) {
			return Value{typ: signature.Of(to), u: v.u}, nil
		}
	} else if fitsSigned(to, int64(v.u)) {
		return Value{typ: signature.Of(to), u: v.u}, nil
	}
	if !lossy {
		return Value{}, fmt.Errorf("%w: %s overflows %q", ErrTypeMismatch, v, to)
	}
	if to.IsUnsigned() {
		return truncUnsigned(to, v.u), nil
	}
	return truncSigned(to, int64(v.u)), nil
}

func truncSigned(to signature.Code, i int64) Value {
	switch to.Bits() {
	case 8:
		i = int64(int8(i))
	case 16:
		i = int64(int16(i))
	case 32:
		i = int64(int32(i))
	}
	return Value{typ: signature.Of(to), u: uint64(i)}
}

func truncUnsigned(to signature.Code, u uint64) Value {
	if bits := to.Bits(); bits < 64 {
		u &= 1<<bits - 1
	}
	return Value{typ: signature.Of(to), u: u}
}

func convertList(v Value, t signature.Type, lossy bool) (Value, error) {
	if t.Code == signature.Tuple && len(t.Elems) != len(v.list) {
		return Value{}, fmt.Errorf("%w: tuple of %d from %d items", ErrTypeMismatch, len(t.Elems), len(v.list))
	}
	out := Value{typ: cloneType(t), list: make([]Value, len(v.list))}
	for i, item := range v.list {
		elem := t.Elems[0]
		if t.Code == signature.Tuple {
			elem = t.Elems[i]
		}
		c, err := Convert(item, elem, lossy)
		if err != nil {
			return Value{}, fmt.Errorf("item %d: %w", i, err)
		}
		out.list[i] = c
	}
	return out, nil
}

func convertMap(v Value, t signature.Type, lossy bool) (Value, error) {
	out := Value{typ: cloneType(t), m: make([]Entry, len(v.m))}
	for i, e := range v.m {
		k, err := Convert(e.Key, t.Elems[0], lossy)
		if err != nil {
			return Value{}, fmt.Errorf("key %d: %w", i, err)
		}
		val, err := Convert(e.Val, t.Elems[1], lossy)
		if err != nil {
			return Value{}, fmt.Errorf("value %d: %w", i, err)
		}
		out.m[i] = Entry{Key: k, Val: val}
	}
	return out, nil
}

// As extracts v as a T. Builtin Go types are served directly, with lossless
// numeric conversions only; other types go through the converter registry.
func As[T any](v Value) (T, error) {
	var zero T
	rv, err := AsType(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	out, ok := rv.Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %s", ErrTypeMismatch, rv.Type())
	}
	return out, nil
}

// AsType is the reflective form of As.
func AsType(v Value, target reflect.Type) (reflect.Value, error) {
	if target == valueType {
		return reflect.ValueOf(v.Clone()), nil
	}

	inner := v.Unwrap()
	if c, ok := lookupConverter(inner.Kind(), target); ok {
		x, err := c.ToExternal(inner)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
		if x == nil || !reflect.TypeOf(x).AssignableTo(target) {
			return reflect.Value{}, fmt.Errorf("%w: converter returned %T", ErrTypeMismatch, x)
		}
		return reflect.ValueOf(x), nil
	}
	return toNative(inner, target)
}

func toNative(v Value, target reflect.Type) (reflect.Value, error) {
	mismatch := func() (reflect.Value, error) {
		return reflect.Value{}, fmt.Errorf("%w: cannot extract %q as %s", ErrTypeMismatch, v.Type(), target)
	}

	if target == reflect.TypeFor[Value]() {
		return reflect.ValueOf(v.Clone()), nil
	}

	switch target.Kind() {
	case reflect.Bool:
		if v.Kind() != KindBool {
			return mismatch()
		}
		return reflect.ValueOf(v.b).Convert(target), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		code := codeForGoKind(target.Kind())
		if v.Kind() != KindInt {
			return mismatch()
		}
		c, err := convertInt(v, code, false)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(int64(c.u)).Convert(target), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		code := codeForGoKind(target.Kind())
		if v.Kind() != KindInt {
			return mismatch()
		}
		c, err := convertInt(v, code, false)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(c.u).Convert(target), nil
	case reflect.Float32, reflect.Float64:
		if v.Kind() != KindFloat {
			return mismatch()
		}
		if target.Kind() == reflect.Float32 && float64(float32(v.f)) != v.f && !math.IsNaN(v.f) {
			return mismatch()
		}
		return reflect.ValueOf(v.f).Convert(target), nil
	case reflect.String:
		if v.Kind() != KindString {
			return mismatch()
		}
		return reflect.ValueOf(v.s).Convert(target), nil
	case reflect.Slice:
		if target.Elem().Kind() == reflect.Uint8 && v.Kind() == KindBytes {
			return reflect.ValueOf(bytesCopy(v.buf)).Convert(target), nil
		}
		if v.Kind() != KindList {
			return mismatch()
		}
		out := reflect.MakeSlice(target, len(v.list), len(v.list))
		for i, item := range v.list {
			elem, err := toNative(item.Unwrap(), target.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	case reflect.Map:
		if v.Kind() != KindMap {
			return mismatch()
		}
		out := reflect.MakeMapWithSize(target, len(v.m))
		for i, e := range v.m {
			k, err := toNative(e.Key.Unwrap(), target.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %d: %w", i, err)
			}
			val, err := toNative(e.Val.Unwrap(), target.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("value %d: %w", i, err)
			}
			out.SetMapIndex(k, val)
		}
		return out, nil
	case reflect.Interface:
		if v.Kind() == KindObject && v.obj != nil && reflect.TypeOf(v.obj).Implements(target) {
			out := reflect.New(target).Elem()
			out.Set(reflect.ValueOf(v.obj))
			return out, nil
		}
		if target.NumMethod() == 0 {
			return reflect.ValueOf(v.Clone()), nil
		}
	}
	if c, ok := lookupConverter(v.Kind(), target); ok {
		x, err := c.ToExternal(v)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
		return reflect.ValueOf(x), nil
	}
	return mismatch()
}

func bytesCopy(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func codeForGoKind(k reflect.Kind) signature.Code {
	switch k {
	case reflect.Int8:
		return signature.Int8
	case reflect.Uint8:
		return signature.UInt8
	case reflect.Int16:
		return signature.Int16
	case reflect.Uint16:
		return signature.UInt16
	case reflect.Int32:
		return signature.Int32
	case reflect.Uint32:
		return signature.UInt32
	case reflect.Int, reflect.Int64:
		return signature.Int64
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return signature.UInt64
	case reflect.Float32:
		return signature.Float
	case reflect.Float64:
		return signature.Double
	case reflect.Bool:
		return signature.Bool
	case reflect.String:
		return signature.String
	}
	return 0
}
