// Package wire encodes values, descriptors and request envelopes with
// protowire primitives.
//
// A value is its signature as a length-prefixed string followed by its
// payload. Payloads carry no type information of their own, except for
// dynamic values which nest a full value.
package wire

import (
	"errors"
	"fmt"
	"math"

	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrTruncated   = errors.New("wire: truncated payload")
	ErrUnsupported = errors.New("wire: unsupported value")
)

// maxDepth bounds the nesting of decoded containers.
const maxDepth = 64

// maxEmptyItems bounds lists whose items take no bytes on the wire, since
// their count cannot be checked against the payload length.
const maxEmptyItems = 1 << 16

// ObjectID is the decoded form of an object reference. The referent lives in
// another process, only its identity crosses the wire.
type ObjectID string

func (id ObjectID) ObjectID() string {
	return string(id)
}

// AppendValue appends the encoding of v to b.
func AppendValue(b []byte, v value.Value) ([]byte, error) {
	t := v.Type()
	b = protowire.AppendString(b, t.String())
	return appendPayload(b, t, v)
}

// ConsumeValue decodes a value from the start of b and returns the number of
// bytes read.
func ConsumeValue(b []byte) (value.Value, int, error) {
	return consumeValue(b, 0)
}

// MarshalValue encodes v alone.
func MarshalValue(v value.Value) ([]byte, error) {
	return AppendValue(nil, v)
}

// UnmarshalValue decodes a buffer holding exactly one value.
func UnmarshalValue(b []byte) (value.Value, error) {
	v, n, err := ConsumeValue(b)
	if err != nil {
		return value.Value{}, err
	}
	if n != len(b) {
		return value.Value{}, fmt.Errorf("%w: %d trailing bytes", ErrUnsupported, len(b)-n)
	}
	return v, nil
}

func consumeValue(b []byte, depth int) (value.Value, int, error) {
	text, n := protowire.ConsumeString(b)
	if n < 0 {
		return value.Value{}, 0, fmt.Errorf("%w: signature: %w", ErrTruncated, protowire.ParseError(n))
	}
	t, err := signature.ParseType(text)
	if err != nil {
		return value.Value{}, 0, err
	}
	v, m, err := consumePayload(b[n:], t, depth)
	if err != nil {
		return value.Value{}, 0, err
	}
	return v, n + m, nil
}

func appendPayload(b []byte, t signature.Type, v value.Value) ([]byte, error) {
	switch t.Code {
	case signature.Void:
		return b, nil
	case signature.Bool:
		return protowire.AppendVarint(b, protowire.EncodeBool(v.BoolValue())), nil
	case signature.Float:
		return protowire.AppendFixed32(b, math.Float32bits(float32(v.FloatValue()))), nil
	case signature.Double:
		return protowire.AppendFixed64(b, math.Float64bits(v.FloatValue())), nil
	case signature.String:
		return protowire.AppendString(b, v.StringValue()), nil
	case signature.Raw:
		return protowire.AppendBytes(b, v.RawBytes()), nil
	case signature.Object:
		ref := v.ObjectRef()
		if ref == nil {
			return nil, fmt.Errorf("%w: nil object reference", ErrUnsupported)
		}
		return protowire.AppendString(b, ref.ObjectID()), nil
	case signature.Dynamic:
		return AppendValue(b, v.Unwrap())
	case signature.List:
		if v.Len() > maxEmptyItems && zeroWidth(t.Elems[0]) {
			return nil, fmt.Errorf("%w: list of %d empty items", ErrUnsupported, v.Len())
		}
		b = protowire.AppendVarint(b, uint64(v.Len()))
		var err error
		for i := 0; i < v.Len(); i++ {
			if b, err = appendPayload(b, t.Elems[0], v.Index(i)); err != nil {
				return nil, err
			}
		}
		return b, nil
	case signature.Tuple:
		var err error
		for i, et := range t.Elems {
			if b, err = appendPayload(b, et, v.Index(i)); err != nil {
				return nil, err
			}
		}
		return b, nil
	case signature.Map:
		entries := v.Entries()
		b = protowire.AppendVarint(b, uint64(len(entries)))
		var err error
		for _, e := range entries {
			if b, err = appendPayload(b, t.Elems[0], e.Key); err != nil {
				return nil, err
			}
			if b, err = appendPayload(b, t.Elems[1], e.Val); err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	if t.Code.IsInteger() {
		if t.Code.IsUnsigned() {
			return protowire.AppendVarint(b, v.UintValue()), nil
		}
		return protowire.AppendVarint(b, protowire.EncodeZigZag(v.IntValue())), nil
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnsupported, t)
}

func consumePayload(b []byte, t signature.Type, depth int) (value.Value, int, error) {
	if depth > maxDepth {
		return value.Value{}, 0, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDepth)
	}
	truncated := func(n int) (value.Value, int, error) {
		return value.Value{}, 0, fmt.Errorf("%w: %q: %w", ErrTruncated, t, protowire.ParseError(n))
	}

	switch t.Code {
	case signature.Void:
		return value.None(), 0, nil
	case signature.Bool:
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return truncated(n)
		}
		return value.Bool(protowire.DecodeBool(x)), n, nil
	case signature.Float:
		x, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return truncated(n)
		}
		return value.Float32(math.Float32frombits(x)), n, nil
	case signature.Double:
		x, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return truncated(n)
		}
		return value.Float64(math.Float64frombits(x)), n, nil
	case signature.String:
		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return truncated(n)
		}
		return value.String(s), n, nil
	case signature.Raw:
		buf, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return truncated(n)
		}
		return value.Bytes(buf), n, nil
	case signature.Object:
		id, n := protowire.ConsumeString(b)
		if n < 0 {
			return truncated(n)
		}
		return value.Object(ObjectID(id)), n, nil
	case signature.Dynamic:
		inner, n, err := consumeValue(b, depth+1)
		if err != nil {
			return value.Value{}, 0, err
		}
		return value.Dynamic(inner), n, nil
	case signature.List:
		count, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return truncated(n)
		}
		if zeroWidth(t.Elems[0]) {
			if count > maxEmptyItems {
				return value.Value{}, 0, fmt.Errorf("%w: list of %d empty items", ErrUnsupported, count)
			}
		} else if count > uint64(len(b)) {
			return value.Value{}, 0, fmt.Errorf("%w: list of %d items in %d bytes", ErrTruncated, count, len(b))
		}
		items := make([]value.Value, 0, min(count, uint64(len(b))))
		for range count {
			item, m, err := consumePayload(b[n:], t.Elems[0], depth+1)
			if err != nil {
				return value.Value{}, 0, err
			}
			items = append(items, item)
			n += m
		}
		v, err := value.List(t.Elems[0], items...)
		return v, n, err
	case signature.Tuple:
		items := make([]value.Value, len(t.Elems))
		n := 0
		for i, et := range t.Elems {
			item, m, err := consumePayload(b[n:], et, depth+1)
			if err != nil {
				return value.Value{}, 0, err
			}
			items[i] = item
			n += m
		}
		return value.Tuple(items...), n, nil
	case signature.Map:
		count, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return truncated(n)
		}
		if count > uint64(len(b)) {
			return value.Value{}, 0, fmt.Errorf("%w: map of %d entries in %d bytes", ErrTruncated, count, len(b))
		}
		entries := make([]value.Entry, 0, count)
		for range count {
			key, m, err := consumePayload(b[n:], t.Elems[0], depth+1)
			if err != nil {
				return value.Value{}, 0, err
			}
			n += m
			val, m, err := consumePayload(b[n:], t.Elems[1], depth+1)
			if err != nil {
				return value.Value{}, 0, err
			}
			n += m
			entries = append(entries, value.Entry{Key: key, Val: val})
		}
		v, err := value.Map(t.Elems[0], t.Elems[1], entries...)
		return v, n, err
	}

	if t.Code.IsInteger() {
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return truncated(n)
		}
		if t.Code.IsUnsigned() {
			v, err := value.Uint(t.Code, x)
			return v, n, err
		}
		v, err := value.Int(t.Code, protowire.DecodeZigZag(x))
		return v, n, err
	}
	return value.Value{}, 0, fmt.Errorf("%w: type %q", ErrUnsupported, t)
}

// zeroWidth reports whether values of t encode to no bytes at all.
func zeroWidth(t signature.Type) bool {
	switch t.Code {
	case signature.Void:
		return true
	case signature.Tuple:
		for _, et := range t.Elems {
			if !zeroWidth(et) {
				return false
			}
		}
		return true
	}
	return false
}
