package value

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/raskyld/objmesh/pkg/signature"
)

var (
	valueType     = reflect.TypeFor[Value]()
	objectRefType = reflect.TypeFor[ObjectRef]()
)

// From converts a Go value to a Value. Builtin kinds, slices and maps are
// handled directly; any other type needs a registered Converter.
func From(x any) (Value, error) {
	if x == nil {
		return None(), nil
	}
	if v, ok := x.(Value); ok {
		return v.Clone(), nil
	}
	if ref, ok := x.(ObjectRef); ok {
		return Object(ref), nil
	}
	rt := reflect.TypeOf(x)
	if c, ok := lookupExternal(rt); ok {
		return c.FromExternal(x)
	}
	return fromReflect(reflect.ValueOf(x))
}

// MustFrom is like From but panics on error.
func MustFrom(x any) Value {
	v, err := From(x)
	if err != nil {
		panic(err)
	}
	return v
}

// FromReflect is the reflective form of From.
func FromReflect(rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return None(), nil
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return None(), nil
		}
		return From(rv.Interface())
	}
	if ref, ok := rv.Interface().(ObjectRef); ok {
		return Object(ref), nil
	}
	return fromReflect(rv)
}

func fromReflect(rv reflect.Value) (Value, error) {
	rt := rv.Type()
	if rt == valueType {
		return rv.Interface().(Value).Clone(), nil
	}
	if c, ok := lookupExternal(rt); ok {
		return c.FromExternal(rv.Interface())
	}

	switch rt.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(codeForGoKind(rt.Kind()), rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Uint(codeForGoKind(rt.Kind()), rv.Uint())
	case reflect.Float32:
		return Float32(float32(rv.Float())), nil
	case reflect.Float64:
		return Float64(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return Bytes(rv.Bytes()), nil
		}
		elem, err := TypeOf(rt.Elem())
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, rv.Len())
		for i := range items {
			item, err := fromElem(rv.Index(i))
			if err != nil {
				return Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = item
		}
		return List(elem, items...)
	case reflect.Map:
		kt, err := TypeOf(rt.Key())
		if err != nil {
			return Value{}, err
		}
		vt, err := TypeOf(rt.Elem())
		if err != nil {
			return Value{}, err
		}
		entries := make([]Entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := fromElem(iter.Key())
			if err != nil {
				return Value{}, err
			}
			val, err := fromElem(iter.Value())
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, Entry{Key: k, Val: val})
		}
		// Go maps are unordered, sort keys so the result is deterministic.
		sort.SliceStable(entries, func(i, j int) bool {
			return lessKey(entries[i].Key, entries[j].Key)
		})
		return Map(kt, vt, entries...)
	case reflect.Interface:
		if rv.IsNil() {
			return None(), nil
		}
		return fromReflect(rv.Elem())
	case reflect.Pointer:
		if rt.Implements(objectRefType) {
			if rv.IsNil() {
				return Object(nil), nil
			}
			return Object(rv.Interface().(ObjectRef)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: no conversion from %s", ErrTypeMismatch, rt)
}

// fromElem converts a container element; interface elements become dynamic.
func fromElem(rv reflect.Value) (Value, error) {
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Dynamic(None()), nil
		}
		inner, err := fromReflect(rv.Elem())
		if err != nil {
			return Value{}, err
		}
		return Dynamic(inner), nil
	}
	return fromReflect(rv)
}

func lessKey(a, b Value) bool {
	a, b = a.Unwrap(), b.Unwrap()
	switch {
	case a.Kind() == KindString && b.Kind() == KindString:
		return a.s < b.s
	case a.Kind() == KindInt && b.Kind() == KindInt:
		if a.typ.Code.IsUnsigned() {
			return a.u < b.u
		}
		return int64(a.u) < int64(b.u)
	case a.Kind() == KindFloat && b.Kind() == KindFloat:
		return a.f < b.f
	case a.Kind() == KindBool && b.Kind() == KindBool:
		return !a.b && b.b
	}
	return a.String() < b.String()
}

// TypeOf maps a Go type to its signature type.
func TypeOf(rt reflect.Type) (signature.Type, error) {
	if rt == valueType {
		return signature.Of(signature.Dynamic), nil
	}
	if rt.Implements(objectRefType) {
		return signature.Of(signature.Object), nil
	}
	if code := codeForGoKind(rt.Kind()); code != 0 {
		return signature.Of(code), nil
	}
	switch rt.Kind() {
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return signature.Of(signature.Raw), nil
		}
		elem, err := TypeOf(rt.Elem())
		if err != nil {
			return signature.Type{}, err
		}
		return signature.ListOf(elem), nil
	case reflect.Map:
		k, err := TypeOf(rt.Key())
		if err != nil {
			return signature.Type{}, err
		}
		v, err := TypeOf(rt.Elem())
		if err != nil {
			return signature.Type{}, err
		}
		return signature.MapOf(k, v), nil
	case reflect.Interface:
		if rt.NumMethod() == 0 {
			return signature.Of(signature.Dynamic), nil
		}
	}
	if _, ok := lookupExternal(rt); ok {
		return signature.Of(signature.Dynamic), nil
	}
	return signature.Type{}, fmt.Errorf("%w: no signature for %s", ErrTypeMismatch, rt)
}
