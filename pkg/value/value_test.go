package value

import (
	"math"
	"testing"

	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

type testRef string

func (r testRef) ObjectID() string { return string(r) }

func TestValue_CloneIsIndependent(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		orig := Bytes([]byte{1, 2, 3})
		clone := orig.Clone()
		clone.RawBytes()[0] = 42
		require.Equal(t, byte(1), orig.RawBytes()[0])
		require.False(t, orig.Equal(clone))
	})

	t.Run("nested list", func(t *testing.T) {
		inner, err := List(signature.Of(signature.Int32), Int32(1), Int32(2))
		require.NoError(t, err)
		orig, err := List(signature.ListOf(signature.Of(signature.Int32)), inner)
		require.NoError(t, err)

		clone := orig.Clone()
		require.True(t, orig.Equal(clone))
		require.NoError(t, clone.Index(0).SetIndex(0, Int32(99)))

		require.Equal(t, int64(1), orig.Index(0).Index(0).IntValue())
		require.Equal(t, int64(99), clone.Index(0).Index(0).IntValue())
	})

	t.Run("map", func(t *testing.T) {
		orig, err := Map(signature.Of(signature.String), signature.Of(signature.Raw),
			Entry{Key: String("k"), Val: Bytes([]byte("v"))})
		require.NoError(t, err)
		clone := orig.Clone()
		got, ok := clone.Lookup(String("k"))
		require.True(t, ok)
		got.RawBytes()[0] = 'x'

		got, _ = orig.Lookup(String("k"))
		require.Equal(t, []byte("v"), got.RawBytes())
	})

	t.Run("dynamic", func(t *testing.T) {
		orig := Dynamic(Bytes([]byte("a")))
		clone := orig.Clone()
		clone.Unwrap().RawBytes()[0] = 'b'
		require.Equal(t, []byte("a"), orig.Unwrap().RawBytes())
	})
}

func TestValue_Types(t *testing.T) {
	require.Equal(t, "v", None().Signature())
	require.Equal(t, "v", Value{}.Signature())
	require.Equal(t, "i", Int32(3).Signature())
	require.Equal(t, "m", Dynamic(Int32(3)).Signature())
	require.Equal(t, "i", Dynamic(Int32(3)).RuntimeType().String())
	require.Equal(t, "(is)", Tuple(Int32(1), String("a")).Signature())

	l, err := List(signature.Of(signature.Dynamic), Int32(1), String("a"))
	require.NoError(t, err)
	require.Equal(t, "[m]", l.Signature())
	require.Equal(t, KindDynamic, l.Index(1).Kind())

	_, err = List(signature.Of(signature.Int32), String("a"))
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Int(signature.Int8, 300)
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = Uint(signature.Int32, math.MaxUint32)
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestValue_Equal(t *testing.T) {
	require.True(t, Int32(1).Equal(Int32(1)))
	require.False(t, Int32(1).Equal(Int64(1)), "widths are part of the type")
	require.True(t, Float64(math.NaN()).Equal(Float64(math.NaN())))
	require.True(t, Object(testRef("a")).Equal(Object(testRef("a"))))
	require.False(t, Object(testRef("a")).Equal(Object(testRef("b"))))
	require.True(t, Dynamic(String("x")).Equal(Dynamic(String("x"))))
}

func TestConvert(t *testing.T) {
	t.Run("widening is lossless", func(t *testing.T) {
		v, err := Convert(Int32(-5), signature.Of(signature.Int64), false)
		require.NoError(t, err)
		require.True(t, v.Equal(Int64(-5)))

		v, err = Convert(Float32(1.5), signature.Of(signature.Double), false)
		require.NoError(t, err)
		require.True(t, v.Equal(Float64(1.5)))
	})

	t.Run("NaN narrows to float32", func(t *testing.T) {
		v, err := Convert(Float64(math.NaN()), signature.Of(signature.Float), false)
		require.NoError(t, err)
		require.Equal(t, "f", v.Signature())
		require.True(t, math.IsNaN(v.FloatValue()))

		_, err = Convert(Float64(1e300), signature.Of(signature.Float), false)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("narrowing in range is lossless", func(t *testing.T) {
		v, err := Convert(Int64(12), signature.Of(signature.Int8), false)
		require.NoError(t, err)
		require.Equal(t, "c", v.Signature())
		require.Equal(t, int64(12), v.IntValue())
	})

	t.Run("narrowing out of range fails unless lossy", func(t *testing.T) {
		_, err := Convert(Int64(300), signature.Of(signature.Int8), false)
		require.ErrorIs(t, err, ErrTypeMismatch)

		v, err := Convert(Int64(300), signature.Of(signature.Int8), true)
		require.NoError(t, err)
		require.Equal(t, int64(44), v.IntValue())

		_, err = Convert(Int32(-1), signature.Of(signature.UInt32), false)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("int and float only with lossy", func(t *testing.T) {
		_, err := Convert(Int32(1), signature.Of(signature.Double), false)
		require.ErrorIs(t, err, ErrTypeMismatch)

		v, err := Convert(Float64(2.9), signature.Of(signature.Int32), true)
		require.NoError(t, err)
		require.Equal(t, int64(2), v.IntValue())
	})

	t.Run("unrelated kinds never convert", func(t *testing.T) {
		_, err := Convert(String("1"), signature.Of(signature.Int32), true)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("containers convert element-wise", func(t *testing.T) {
		l, err := List(signature.Of(signature.Int32), Int32(1), Int32(2))
		require.NoError(t, err)
		v, err := Convert(l, signature.ListOf(signature.Of(signature.Int64)), false)
		require.NoError(t, err)
		require.Equal(t, "[l]", v.Signature())
	})
}

func TestAs(t *testing.T) {
	i, err := As[int](Int32(7))
	require.NoError(t, err)
	require.Equal(t, 7, i)

	_, err = As[int8](Int32(700))
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = As[string](Int32(7))
	require.ErrorIs(t, err, ErrTypeMismatch)

	s, err := As[string](Dynamic(String("hi")))
	require.NoError(t, err)
	require.Equal(t, "hi", s)

	l, err := List(signature.Of(signature.String), String("a"), String("b"))
	require.NoError(t, err)
	strs, err := As[[]string](l)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, strs)

	m, err := From(map[string]int32{"b": 2, "a": 1})
	require.NoError(t, err)
	require.Equal(t, "{si}", m.Signature())
	require.Equal(t, "a", m.Entries()[0].Key.StringValue(), "keys are sorted")
	back, err := As[map[string]int32](m)
	require.NoError(t, err)
	require.Equal(t, map[string]int32{"b": 2, "a": 1}, back)
}

func TestFrom(t *testing.T) {
	v, err := From([]any{int32(1), "a", nil})
	require.NoError(t, err)
	require.Equal(t, "[m]", v.Signature())
	require.Equal(t, "i", v.Index(0).RuntimeType().String())

	v, err = From(testRef("obj"))
	require.NoError(t, err)
	require.Equal(t, KindObject, v.Kind())

	_, err = From(make(chan int))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestStructpbConverter(t *testing.T) {
	v, err := From(map[string]any{"name": "x", "n": int32(3), "tags": []string{"a"}})
	require.NoError(t, err)

	pv, err := As[*structpb.Value](v)
	require.NoError(t, err)
	require.Equal(t, "x", pv.GetStructValue().GetFields()["name"].GetStringValue())
	require.Equal(t, 3.0, pv.GetStructValue().GetFields()["n"].GetNumberValue())

	back, err := From(pv)
	require.NoError(t, err)
	require.Equal(t, "{sm}", back.Signature())
	n, ok := back.Lookup(String("n"))
	require.True(t, ok)
	require.Equal(t, 3.0, n.FloatValue())

	_, err = As[*structpb.Value](Int64(1 << 60))
	require.ErrorIs(t, err, ErrTypeMismatch)
}
