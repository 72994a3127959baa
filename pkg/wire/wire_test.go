package wire

import (
	"math"
	"testing"

	"github.com/raskyld/objmesh/pkg/meta"
	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestValue_RoundTrip(t *testing.T) {
	ints, err := value.List(signature.Of(signature.Int32), value.Int32(-1), value.Int32(1<<30))
	require.NoError(t, err)
	anys, err := value.List(signature.Of(signature.Dynamic), value.String("a"), value.Bool(true))
	require.NoError(t, err)
	dict, err := value.Map(signature.Of(signature.String), signature.Of(signature.Double),
		value.Entry{Key: value.String("pi"), Val: value.Float64(math.Pi)},
		value.Entry{Key: value.String("e"), Val: value.Float64(math.E)},
	)
	require.NoError(t, err)
	small, err := value.Int(signature.Int8, -128)
	require.NoError(t, err)

	cases := map[string]value.Value{
		"none":    value.None(),
		"bool":    value.Bool(true),
		"int8":    small,
		"int64":   value.Int64(math.MinInt64),
		"uint64":  value.UInt64(math.MaxUint64),
		"float":   value.Float32(1.5),
		"double":  value.Float64(-0.25),
		"string":  value.String("héllo"),
		"raw":     value.Bytes([]byte{0, 1, 2}),
		"list":    ints,
		"dynlist": anys,
		"map":     dict,
		"tuple":   value.Tuple(value.Int32(1), value.String("x"), value.Dynamic(value.Int64(3))),
		"dynamic": value.Dynamic(ints),
		"object":  value.Object(ObjectID("3f1c")),
	}

	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			buf, err := MarshalValue(v)
			require.NoError(t, err)
			got, err := UnmarshalValue(buf)
			require.NoError(t, err)
			require.Equal(t, v.Signature(), got.Signature())
			require.True(t, v.Equal(got), "got %s, want %s", got, v)
		})
	}
}

func TestValue_Malformed(t *testing.T) {
	buf, err := MarshalValue(value.String("truncate me"))
	require.NoError(t, err)

	_, err = UnmarshalValue(buf[:len(buf)-3])
	require.ErrorIs(t, err, ErrTruncated)

	_, err = UnmarshalValue(append(buf, 0))
	require.ErrorIs(t, err, ErrUnsupported)

	bad := []byte{1, 'z'}
	_, err = UnmarshalValue(bad)
	require.ErrorIs(t, err, signature.ErrMalformed)

	// A list claiming far more items than the buffer could hold.
	huge := []byte{3, '[', 'i', ']', 0xff, 0xff, 0xff, 0xff, 0x0f}
	_, err = UnmarshalValue(huge)
	require.ErrorIs(t, err, ErrTruncated)

	// Empty items take no bytes, so only the count bounds them.
	for _, sig := range []string{"[v]", "[(vv)]", "[()]"} {
		empty := protowire.AppendString(nil, sig)
		empty = protowire.AppendVarint(empty, 3_000_000)
		_, err = UnmarshalValue(empty)
		require.ErrorIs(t, err, ErrUnsupported, sig)
	}

	few := protowire.AppendString(nil, "[v]")
	few = protowire.AppendVarint(few, 3)
	v, err := UnmarshalValue(few)
	require.NoError(t, err)
	require.Equal(t, 3, v.Len())
}

func TestRequest_RoundTrip(t *testing.T) {
	req := Request{
		Kind:   KindCall,
		Member: "add::(ii)",
		Args:   []value.Value{value.Int32(2), value.Int32(3)},
	}
	buf, err := req.Marshal()
	require.NoError(t, err)

	var got Request
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, req.Kind, got.Kind)
	require.Equal(t, req.Member, got.Member)
	require.Len(t, got.Args, 2)
	require.True(t, got.Args[1].Equal(value.Int32(3)))
}

func TestReply_RoundTrip(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		reply := Reply{Value: value.Int32(5)}
		buf, err := reply.Marshal()
		require.NoError(t, err)

		var got Reply
		require.NoError(t, got.Unmarshal(buf))
		require.Equal(t, CodeOK, got.Code)
		require.True(t, got.Value.Equal(value.Int32(5)))
	})

	t.Run("error", func(t *testing.T) {
		reply := Reply{Code: CodeMethodNotFound, Message: "dispatch: method not found: add::(ss)"}
		buf, err := reply.Marshal()
		require.NoError(t, err)

		var got Reply
		require.NoError(t, got.Unmarshal(buf))
		require.Equal(t, reply.Code, got.Code)
		require.Equal(t, reply.Message, got.Message)
		require.True(t, got.Value.IsNone())
	})

	t.Run("descriptors", func(t *testing.T) {
		reply := Reply{
			Methods: []meta.MethodDescriptor{{
				UID:               1,
				Name:              "add",
				Signature:         "add::(ii)",
				ReturnSignature:   "i",
				Description:       "adds",
				Parameters:        []meta.ParameterDescriptor{{Name: "a"}, {Name: "b", Description: "rhs"}},
				ReturnDescription: "the sum",
			}},
			Signals: []meta.SignalDescriptor{{UID: 2, Name: "changed", Signature: "changed::(i)"}},
		}
		buf, err := reply.Marshal()
		require.NoError(t, err)

		var got Reply
		require.NoError(t, got.Unmarshal(buf))
		require.Equal(t, reply.Methods, got.Methods)
		require.Equal(t, reply.Signals, got.Signals)
	})
}
