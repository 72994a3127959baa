// Package value implements the type-erased Value exchanged by objects.
//
// A Value is a closed tagged union: its Kind selects the payload and its
// signature.Type records the precise static type (integer width, element
// types...). Values own their payload: Clone produces an independent deep
// copy.
package value

import (
	"bytes"
	"fmt"
	"math"

	"github.com/raskyld/objmesh/pkg/signature"
)

type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	KindObject
	KindDynamic
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	case KindDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// ObjectRef is an opaque reference to an object living somewhere in the
// mesh. Values never own the referent.
type ObjectRef interface {
	ObjectID() string
}

// Entry is one key/value pair of an ordered map.
type Entry struct {
	Key Value
	Val Value
}

// Value is a type-erased runtime value. The zero Value is None.
type Value struct {
	typ signature.Type

	b    bool
	u    uint64 // integers, two's complement for signed kinds
	f    float64
	s    string
	buf  []byte
	list []Value
	m    []Entry
	obj  ObjectRef
	dyn  *Value
}

var noneType = signature.Of(signature.Void)

func None() Value {
	return Value{typ: noneType}
}

func Bool(b bool) Value {
	return Value{typ: signature.Of(signature.Bool), b: b}
}

func Int32(i int32) Value {
	return Value{typ: signature.Of(signature.Int32), u: uint64(int64(i))}
}

func Int64(i int64) Value {
	return Value{typ: signature.Of(signature.Int64), u: uint64(i)}
}

func UInt64(i uint64) Value {
	return Value{typ: signature.Of(signature.UInt64), u: i}
}

// Int builds an integer of the given width, failing if i does not fit.
func Int(code signature.Code, i int64) (Value, error) {
	if !code.IsInteger() {
		return Value{}, fmt.Errorf("%w: %q is not an integer code", ErrTypeMismatch, code)
	}
	if !fitsSigned(code, i) {
		return Value{}, fmt.Errorf("%w: %d overflows %q", ErrTypeMismatch, i, code)
	}
	return Value{typ: signature.Of(code), u: uint64(i)}, nil
}

// Uint builds an unsigned integer of the given width, failing if i does not
// fit.
func Uint(code signature.Code, i uint64) (Value, error) {
	if !code.IsInteger() {
		return Value{}, fmt.Errorf("%w: %q is not an integer code", ErrTypeMismatch, code)
	}
	if !fitsUnsigned(code, i) {
		return Value{}, fmt.Errorf("%w: %d overflows %q", ErrTypeMismatch, i, code)
	}
	return Value{typ: signature.Of(code), u: i}, nil
}

func Float32(f float32) Value {
	return Value{typ: signature.Of(signature.Float), f: float64(f)}
}

func Float64(f float64) Value {
	return Value{typ: signature.Of(signature.Double), f: f}
}

func String(s string) Value {
	return Value{typ: signature.Of(signature.String), s: s}
}

// Bytes copies buf.
func Bytes(buf []byte) Value {
	return Value{typ: signature.Of(signature.Raw), buf: bytes.Clone(buf)}
}

// List builds a homogeneous list. Elements are deep-copied. Items whose type
// differs from elem are rejected unless elem is dynamic, in which case they
// are wrapped.
func List(elem signature.Type, items ...Value) (Value, error) {
	list := make([]Value, len(items))
	for i, item := range items {
		coerced, err := coerceElem(elem, item)
		if err != nil {
			return Value{}, fmt.Errorf("list item %d: %w", i, err)
		}
		list[i] = coerced
	}
	return Value{typ: signature.ListOf(elem), list: list}, nil
}

// Tuple builds a heterogeneous fixed-size sequence.
func Tuple(items ...Value) Value {
	elems := make([]signature.Type, len(items))
	list := make([]Value, len(items))
	for i, item := range items {
		elems[i] = item.typ
		list[i] = item.Clone()
	}
	return Value{typ: signature.TupleOf(elems...), list: list}
}

// Map builds an ordered map. Duplicate keys keep their first position and
// the last value.
func Map(key, val signature.Type, entries ...Entry) (Value, error) {
	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		k, err := coerceElem(key, e.Key)
		if err != nil {
			return Value{}, fmt.Errorf("map key %d: %w", i, err)
		}
		v, err := coerceElem(val, e.Val)
		if err != nil {
			return Value{}, fmt.Errorf("map value %d: %w", i, err)
		}
		replaced := false
		for j := range out {
			if out[j].Key.Equal(k) {
				out[j].Val = v
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, Entry{Key: k, Val: v})
		}
	}
	return Value{typ: signature.MapOf(key, val), m: out}, nil
}

func Object(ref ObjectRef) Value {
	return Value{typ: signature.Of(signature.Object), obj: ref}
}

// Dynamic wraps v so that its static type is dynamic while it still carries
// its runtime type.
func Dynamic(v Value) Value {
	if v.typ.Code == signature.Dynamic {
		return v.Clone()
	}
	inner := v.Clone()
	return Value{typ: signature.Of(signature.Dynamic), dyn: &inner}
}

func coerceElem(t signature.Type, v Value) (Value, error) {
	if t.Code == signature.Dynamic && v.typ.Code != signature.Dynamic {
		return Dynamic(v), nil
	}
	if !v.typ.Equal(t) {
		return Value{}, fmt.Errorf("%w: got %q, want %q", ErrTypeMismatch, v.typ, t)
	}
	return v.Clone(), nil
}

// Type returns the static type descriptor of the value.
func (v Value) Type() signature.Type {
	if v.typ.Code == 0 {
		return noneType
	}
	return v.typ
}

// Signature returns the rendered static type.
func (v Value) Signature() string {
	return v.Type().String()
}

func (v Value) Kind() Kind {
	switch v.typ.Code {
	case 0, signature.Void:
		return KindNone
	case signature.Bool:
		return KindBool
	case signature.Float, signature.Double:
		return KindFloat
	case signature.String:
		return KindString
	case signature.Raw:
		return KindBytes
	case signature.List, signature.Tuple:
		return KindList
	case signature.Map:
		return KindMap
	case signature.Object:
		return KindObject
	case signature.Dynamic:
		return KindDynamic
	}
	return KindInt
}

func (v Value) IsNone() bool {
	return v.Kind() == KindNone
}

// Unwrap returns the inner value of a dynamic value, or v itself.
func (v Value) Unwrap() Value {
	for v.typ.Code == signature.Dynamic && v.dyn != nil {
		v = *v.dyn
	}
	return v
}

// RuntimeType is the type of the unwrapped value.
func (v Value) RuntimeType() signature.Type {
	return v.Unwrap().Type()
}

// Len is the number of items of a list or entries of a map.
func (v Value) Len() int {
	switch v.Kind() {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	case KindString:
		return len(v.s)
	case KindBytes:
		return len(v.buf)
	}
	return 0
}

// Index returns the i-th item of a list. The returned value shares storage
// with v; Clone it before mutating.
func (v Value) Index(i int) Value {
	return v.list[i]
}

// Items returns a copy of the items of a list.
func (v Value) Items() []Value {
	out := make([]Value, len(v.list))
	for i := range v.list {
		out[i] = v.list[i].Clone()
	}
	return out
}

// Entries returns a copy of the entries of a map.
func (v Value) Entries() []Entry {
	out := make([]Entry, len(v.m))
	for i := range v.m {
		out[i] = Entry{Key: v.m[i].Key.Clone(), Val: v.m[i].Val.Clone()}
	}
	return out
}

// Lookup finds the value associated with key in a map.
func (v Value) Lookup(key Value) (Value, bool) {
	for _, e := range v.m {
		if e.Key.Equal(key) {
			return e.Val, true
		}
	}
	return Value{}, false
}

// SetIndex replaces the i-th item of a list in place.
func (v Value) SetIndex(i int, item Value) error {
	elem := v.elemType(i)
	coerced, err := coerceElem(elem, item)
	if err != nil {
		return err
	}
	v.list[i] = coerced
	return nil
}

// RawBytes exposes the byte buffer of a Bytes value for in-place mutation.
func (v Value) RawBytes() []byte {
	return v.buf
}

func (v Value) elemType(i int) signature.Type {
	if v.typ.Code == signature.Tuple {
		return v.typ.Elems[i]
	}
	return v.typ.Elems[0]
}

func (v Value) ObjectRef() ObjectRef {
	return v.obj
}

// Clone returns a deep copy sharing no mutable state with v.
func (v Value) Clone() Value {
	out := v
	out.typ = cloneType(v.typ)
	if v.buf != nil {
		out.buf = bytes.Clone(v.buf)
	}
	if v.list != nil {
		out.list = make([]Value, len(v.list))
		for i := range v.list {
			out.list[i] = v.list[i].Clone()
		}
	}
	if v.m != nil {
		out.m = make([]Entry, len(v.m))
		for i := range v.m {
			out.m[i] = Entry{Key: v.m[i].Key.Clone(), Val: v.m[i].Val.Clone()}
		}
	}
	if v.dyn != nil {
		inner := v.dyn.Clone()
		out.dyn = &inner
	}
	return out
}

func cloneType(t signature.Type) signature.Type {
	if t.Elems == nil {
		return t
	}
	elems := make([]signature.Type, len(t.Elems))
	for i := range t.Elems {
		elems[i] = cloneType(t.Elems[i])
	}
	return signature.Type{Code: t.Code, Elems: elems}
}

// Equal compares by value. Objects compare by reference id.
func (v Value) Equal(o Value) bool {
	if !v.Type().Equal(o.Type()) {
		return false
	}
	switch v.Kind() {
	case KindNone:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.u == o.u
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.buf, o.buf)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for i := range v.m {
			if !v.m[i].Key.Equal(o.m[i].Key) || !v.m[i].Val.Equal(o.m[i].Val) {
				return false
			}
		}
		return true
	case KindObject:
		if v.obj == nil || o.obj == nil {
			return v.obj == nil && o.obj == nil
		}
		return v.obj.ObjectID() == o.obj.ObjectID()
	case KindDynamic:
		return v.Unwrap().Equal(o.Unwrap())
	}
	return false
}

func (v Value) String() string {
	switch v.Kind() {
	case KindNone:
		return "none"
	case KindBool:
		return fmt.Sprint(v.b)
	case KindInt:
		if v.typ.Code.IsUnsigned() {
			return fmt.Sprint(v.u)
		}
		return fmt.Sprint(int64(v.u))
	case KindFloat:
		return fmt.Sprint(v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("%x", v.buf)
	case KindList:
		return fmt.Sprint(v.list)
	case KindMap:
		return fmt.Sprint(v.m)
	case KindObject:
		if v.obj == nil {
			return "object(nil)"
		}
		return "object(" + v.obj.ObjectID() + ")"
	case KindDynamic:
		return "dynamic(" + v.Unwrap().String() + ")"
	}
	return "?"
}

func fitsSigned(code signature.Code, i int64) bool {
	bits := code.Bits()
	if code.IsUnsigned() {
		return i >= 0 && (bits == 64 || uint64(i) < 1<<bits)
	}
	if bits == 64 {
		return true
	}
	limit := int64(1) << (bits - 1)
	return i >= -limit && i < limit
}

func fitsUnsigned(code signature.Code, i uint64) bool {
	bits := code.Bits()
	if code.IsUnsigned() {
		return bits == 64 || i < 1<<bits
	}
	return i < 1<<(bits-1)
}
