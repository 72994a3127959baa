package value

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"

	"github.com/raskyld/objmesh/pkg/signature"
	"google.golang.org/protobuf/types/known/structpb"
)

// structpbConverter maps Values to protobuf's well-known dynamic value, the
// representation most foreign runtimes already know how to decode.
//
// Integers go through float64 like JSON numbers do, so 64-bit integers above
// 2^53 are refused rather than rounded. Bytes become base64 strings.
type structpbConverter struct{}

var structpbValueType = reflect.TypeFor[*structpb.Value]()

func init() {
	for _, kind := range []Kind{
		KindNone, KindBool, KindInt, KindFloat, KindString,
		KindBytes, KindList, KindMap, KindDynamic,
	} {
		RegisterConverter(kind, structpbValueType, structpbConverter{})
	}
}

const maxExactFloatInt = 1 << 53

func (structpbConverter) ToExternal(v Value) (any, error) {
	return toStructpb(v)
}

func toStructpb(v Value) (*structpb.Value, error) {
	v = v.Unwrap()
	switch v.Kind() {
	case KindNone:
		return structpb.NewNullValue(), nil
	case KindBool:
		return structpb.NewBoolValue(v.b), nil
	case KindInt:
		if v.typ.Code.IsUnsigned() {
			if v.u > maxExactFloatInt {
				return nil, fmt.Errorf("%w: %d is not exactly representable", ErrTypeMismatch, v.u)
			}
			return structpb.NewNumberValue(float64(v.u)), nil
		}
		i := int64(v.u)
		if i > maxExactFloatInt || i < -maxExactFloatInt {
			return nil, fmt.Errorf("%w: %d is not exactly representable", ErrTypeMismatch, i)
		}
		return structpb.NewNumberValue(float64(i)), nil
	case KindFloat:
		return structpb.NewNumberValue(v.f), nil
	case KindString:
		return structpb.NewStringValue(v.s), nil
	case KindBytes:
		return structpb.NewStringValue(base64.StdEncoding.EncodeToString(v.buf)), nil
	case KindList:
		values := make([]*structpb.Value, len(v.list))
		for i, item := range v.list {
			pv, err := toStructpb(item)
			if err != nil {
				return nil, err
			}
			values[i] = pv
		}
		return structpb.NewListValue(&structpb.ListValue{Values: values}), nil
	case KindMap:
		if v.typ.Elems[0].Code != signature.String {
			return nil, fmt.Errorf("%w: struct keys must be strings, got %q", ErrTypeMismatch, v.typ.Elems[0])
		}
		fields := make(map[string]*structpb.Value, len(v.m))
		for _, e := range v.m {
			pv, err := toStructpb(e.Val)
			if err != nil {
				return nil, err
			}
			fields[e.Key.s] = pv
		}
		return structpb.NewStructValue(&structpb.Struct{Fields: fields}), nil
	}
	return nil, fmt.Errorf("%w: %s has no protobuf representation", ErrTypeMismatch, v.Kind())
}

func (structpbConverter) FromExternal(x any) (Value, error) {
	pv, ok := x.(*structpb.Value)
	if !ok {
		return Value{}, fmt.Errorf("%w: expected *structpb.Value, got %T", ErrTypeMismatch, x)
	}
	return fromStructpb(pv)
}

func fromStructpb(pv *structpb.Value) (Value, error) {
	switch kind := pv.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return None(), nil
	case *structpb.Value_BoolValue:
		return Bool(kind.BoolValue), nil
	case *structpb.Value_NumberValue:
		return Float64(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		return String(kind.StringValue), nil
	case *structpb.Value_ListValue:
		items := make([]Value, len(kind.ListValue.GetValues()))
		for i, item := range kind.ListValue.GetValues() {
			v, err := fromStructpb(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(signature.Of(signature.Dynamic), items...)
	case *structpb.Value_StructValue:
		fields := kind.StructValue.GetFields()
		keys := make([]Value, 0, len(fields))
		for k := range fields {
			keys = append(keys, String(k))
		}
		entries := make([]Entry, 0, len(fields))
		sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
		for _, k := range keys {
			v, err := fromStructpb(fields[k.s])
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, Entry{Key: k, Val: v})
		}
		return Map(signature.Of(signature.String), signature.Of(signature.Dynamic), entries...)
	}
	return Value{}, fmt.Errorf("%w: unknown protobuf value kind %T", ErrTypeMismatch, pv.GetKind())
}
