package objmesh

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
	"github.com/raskyld/objmesh/pkg/wire"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, loop EventLoop) *ObjectBuilder {
	t.Helper()
	return NewObjectBuilder(
		WithName(t.Name()),
		WithEventLoop(loop),
		WithMetricSink(&metrics.BlackholeSink{}),
	)
}

func newCalculator(t *testing.T) *GenericObject {
	t.Helper()
	b := newTestBuilder(t, newTestLoop(t))

	_, err := b.AdvertiseMethod("add::(ii)", MustFunc(func(a, b int32) int32 { return a + b }),
		WithDescription("adds two integers"),
		WithParameter("a", "left operand"),
		WithParameter("b", "right operand"),
		WithReturnDescription("the sum"),
	)
	require.NoError(t, err)
	_, err = b.AdvertiseMethod("concat::(ss)", MustFunc(func(a, b string) string { return a + b }))
	require.NoError(t, err)
	_, err = b.AdvertiseSignal("changed::(i)")
	require.NoError(t, err)

	obj, err := b.Object()
	require.NoError(t, err)
	t.Cleanup(func() {
		obj.Close(context.Background())
	})
	return obj
}

func TestObject_AddScenario(t *testing.T) {
	obj := newCalculator(t)

	v, err := obj.CallContext(t.Context(), "add::(ii)", value.Int32(2), value.Int32(3))
	require.NoError(t, err)
	require.True(t, v.Equal(value.Int32(5)))

	_, err = obj.CallContext(t.Context(), "add::(ss)", value.String("x"), value.String("y"))
	require.ErrorIs(t, err, ErrMethodNotFound)
}

func TestObject_CallErrorsTravelThroughFuture(t *testing.T) {
	obj := newCalculator(t)

	fut := obj.Call("nope::()")
	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("resolution failure was not delivered")
	}
	_, err := fut.Result()
	require.ErrorIs(t, err, ErrMethodNotFound)
}

func TestObject_Overloads(t *testing.T) {
	b := newTestBuilder(t, newTestLoop(t))
	_, err := b.AdvertiseMethod("foo::(s)", MustFunc(func(string) string { return "s" }))
	require.NoError(t, err)

	t.Run("wrong overload is not found", func(t *testing.T) {
		obj, err := b.Object()
		require.NoError(t, err)
		_, err = obj.CallContext(t.Context(), "foo::(i)", value.Int32(1))
		require.ErrorIs(t, err, ErrMethodNotFound)
	})

	t.Run("dynamic argument matches", func(t *testing.T) {
		obj, err := b.Object()
		require.NoError(t, err)
		v, err := obj.CallContext(t.Context(), "foo", value.Dynamic(value.String("x")))
		require.NoError(t, err)
		require.Equal(t, "s", v.StringValue())
	})

	b = newTestBuilder(t, newTestLoop(t))
	_, err = b.AdvertiseMethod("foo::(s)", MustFunc(func(string) string { return "s" }))
	require.NoError(t, err)
	_, err = b.AdvertiseMethod("foo::(i)", MustFunc(func(int32) string { return "i" }))
	require.NoError(t, err)
	_, err = b.AdvertiseMethod("foo::(m)", MustFunc(func(value.Value) string { return "m" }))
	require.NoError(t, err)
	obj, err := b.Object()
	require.NoError(t, err)

	cases := []struct {
		arg  value.Value
		want string
	}{
		{value.String("x"), "s"},
		{value.Int32(1), "i"},
		{value.Dynamic(value.Int32(1)), "i"},
		{value.Dynamic(value.String("x")), "s"},
		{value.Int64(1), "m"},
	}
	for _, tc := range cases {
		v, err := obj.CallContext(t.Context(), "foo", tc.arg)
		require.NoError(t, err)
		require.Equal(t, tc.want, v.StringValue(), "argument %s", tc.arg)
	}
}

func TestBuilder_UIDsAndErrors(t *testing.T) {
	noop := DynamicCallable(signature.Of(signature.Void), func([]value.Value) (value.Value, error) {
		return value.None(), nil
	})

	t.Run("uids strictly increase", func(t *testing.T) {
		b := newTestBuilder(t, Inline)
		var uids []uint32
		for _, s := range []string{"m1::()", "m2::(i)", "m3::(s):s"} {
			uid, err := b.AdvertiseMethod(s, noop)
			require.NoError(t, err)
			uids = append(uids, uid)
		}
		sigUID, err := b.AdvertiseSignal("changed::()")
		require.NoError(t, err)
		uids = append(uids, sigUID)

		for i := 1; i < len(uids); i++ {
			require.Greater(t, uids[i], uids[i-1])
		}
		require.Equal(t, uint32(1), uids[0])
	})

	t.Run("duplicate method aborts construction", func(t *testing.T) {
		b := newTestBuilder(t, Inline)
		_, err := b.AdvertiseMethod("m::(i)", noop)
		require.NoError(t, err)
		_, err = b.AdvertiseMethod("m::(i):s", noop)
		require.ErrorIs(t, err, ErrDuplicateMethod)

		_, err = b.AdvertiseMethod("other::()", noop)
		require.ErrorIs(t, err, ErrDuplicateMethod, "errors are sticky")
		_, err = b.Object()
		require.ErrorIs(t, err, ErrDuplicateMethod)
	})

	t.Run("duplicate signal", func(t *testing.T) {
		b := newTestBuilder(t, Inline)
		_, err := b.AdvertiseSignal("changed::(i)")
		require.NoError(t, err)
		_, err = b.AdvertiseSignal("changed::(s)")
		require.ErrorIs(t, err, ErrDuplicateSignal)
	})

	t.Run("malformed signature", func(t *testing.T) {
		b := newTestBuilder(t, Inline)
		_, err := b.AdvertiseMethod("m::(i", noop)
		require.ErrorIs(t, err, ErrMalformedSignature)
	})

	t.Run("callable must match", func(t *testing.T) {
		b := newTestBuilder(t, Inline)
		_, err := b.AdvertiseMethod("add::(ss)", MustFunc(func(a, b int32) int32 { return a + b }))
		require.ErrorIs(t, err, ErrArityOrTypeMismatch)
	})

	t.Run("sealed", func(t *testing.T) {
		b := newTestBuilder(t, Inline)
		_, err := b.Object()
		require.NoError(t, err)
		_, err = b.AdvertiseMethod("late::()", noop)
		require.ErrorIs(t, err, ErrObjectSealed)
	})

	t.Run("legacy signature", func(t *testing.T) {
		b := newTestBuilder(t, Inline)
		_, err := b.AdvertiseMethod("name::s(i)", noop)
		require.NoError(t, err)
		obj, err := b.Object()
		require.NoError(t, err)
		methods := obj.ListMethods()
		require.Len(t, methods, 1)
		require.Equal(t, "name::(i)", methods[0].Signature)
		require.Equal(t, "s", methods[0].ReturnSignature)
	})
}

func TestObject_Introspection(t *testing.T) {
	obj := newCalculator(t)

	methods := obj.ListMethods()
	require.Len(t, methods, 2)
	require.Equal(t, "add::(ii)", methods[0].Signature)
	require.Equal(t, "i", methods[0].ReturnSignature)
	require.Equal(t, "the sum", methods[0].ReturnDescription)
	require.Len(t, methods[0].Parameters, 2)

	methods[0].Parameters[0].Name = "mutated"
	require.Equal(t, "a", obj.ListMethods()[0].Parameters[0].Name)

	signals := obj.ListSignals()
	require.Len(t, signals, 1)
	require.Equal(t, "changed::(i)", signals[0].Signature)
	require.Greater(t, signals[0].UID, methods[1].UID)
}

func TestObject_Emit(t *testing.T) {
	obj := newCalculator(t)
	rec := &recorder{}
	_, err := obj.Connect("changed", FuncTarget(rec.callable()), OnEventLoop(Inline))
	require.NoError(t, err)

	require.ErrorIs(t, obj.Emit("unknown", value.Int32(1)), ErrSignalNotFound)
	require.ErrorIs(t, obj.Emit("changed", value.String("x")), ErrArityOrTypeMismatch)
	require.ErrorIs(t, obj.Emit("changed"), ErrArityOrTypeMismatch)

	small, err := value.Int(signature.Int16, 4)
	require.NoError(t, err)
	require.NoError(t, obj.Emit("changed", small))
	require.Equal(t, []int64{4}, rec.values())
}

// connectExpiring subscribes a method of a short-lived object and lets it
// become unreachable.
func connectExpiring(t *testing.T, src *GenericObject, hits *atomic.Int64) ObjectLink {
	t.Helper()
	b := newTestBuilder(t, Inline)
	_, err := b.AdvertiseMethod("bump::(i)", MustFunc(func(int32) { hits.Add(1) }))
	require.NoError(t, err)
	target, err := b.Object()
	require.NoError(t, err)

	ol, err := src.Connect("changed", MethodTarget(target, "bump::(i)"))
	require.NoError(t, err)
	return ol
}

func TestObject_ChangedScenario(t *testing.T) {
	obj := newCalculator(t)
	sig, ok := obj.Signal("changed")
	require.True(t, ok)

	a := &recorder{}
	linkA, err := obj.Connect("changed", FuncTarget(a.callable()), OnEventLoop(Inline))
	require.NoError(t, err)

	var hits atomic.Int64
	linkB := connectExpiring(t, obj, &hits)
	require.Equal(t, linkA.SignalUID(), linkB.SignalUID())
	require.Len(t, sig.Subscribers(), 2)

	require.Eventually(t, func() bool {
		runtime.GC()
		require.NoError(t, obj.Emit("changed", value.Int32(1)))
		return len(sig.Subscribers()) == 1
	}, time.Second, 10*time.Millisecond)

	require.NotEmpty(t, a.values())
	require.Equal(t, linkA.Link(), sig.Subscribers()[0].Link)
	require.Zero(t, hits.Load())
	require.False(t, obj.Disconnect(linkB))
}

func TestObject_CloseDisconnectsSubscribersTargetingIt(t *testing.T) {
	src := newCalculator(t)

	b := newTestBuilder(t, newTestLoop(t))
	var hits atomic.Int64
	_, err := b.AdvertiseMethod("bump::(i)", MustFunc(func(int32) { hits.Add(1) }))
	require.NoError(t, err)
	target, err := b.Object()
	require.NoError(t, err)

	_, err = src.Connect("changed", MethodTarget(target, "bump::(i)"))
	require.NoError(t, err)
	require.NoError(t, src.Emit("changed", value.Int32(1)))
	require.Eventually(t, func() bool {
		return hits.Load() == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, target.Close(t.Context()))
	sig, _ := src.Signal("changed")
	require.Empty(t, sig.Subscribers())

	_, err = target.CallContext(t.Context(), "bump::(i)", value.Int32(1))
	require.ErrorIs(t, err, ErrTargetUnavailable)
	require.NoError(t, target.Close(t.Context()), "close is idempotent")
}

func TestObject_CloseReleasesPeerCallbacks(t *testing.T) {
	b := newTestBuilder(t, newTestLoop(t))
	_, err := b.AdvertiseMethod("bump::(i)", MustFunc(func(int32) {}))
	require.NoError(t, err)
	peer, err := b.Object()
	require.NoError(t, err)

	callbacks := func() int {
		peer.lk.Lock()
		defer peer.lk.Unlock()
		return len(peer.keys)
	}

	for range 100 {
		src := newCalculator(t)
		_, err := src.Connect("changed", MethodTarget(peer, "bump::(i)"))
		require.NoError(t, err)
		require.NoError(t, src.Close(t.Context()))
	}
	require.Zero(t, callbacks())

	src := newCalculator(t)
	ol, err := src.Connect("changed", MethodTarget(peer, "bump::(i)"))
	require.NoError(t, err)
	require.Equal(t, 1, callbacks())
	require.True(t, src.Disconnect(ol))
	require.Zero(t, callbacks())
}

func TestObjectHandler(t *testing.T) {
	obj := newCalculator(t)
	h := NewObjectHandler(obj)

	roundTrip := func(req wire.Request) wire.Reply {
		buf, err := req.Marshal()
		require.NoError(t, err)
		out, err := h.Handle(t.Context(), buf)
		require.NoError(t, err)
		var reply wire.Reply
		require.NoError(t, reply.Unmarshal(out))
		return reply
	}

	reply := roundTrip(wire.Request{
		Kind:   wire.KindCall,
		Member: "add::(ii)",
		Args:   []value.Value{value.Int32(2), value.Int32(3)},
	})
	require.NoError(t, ErrorOf(&reply))
	require.True(t, reply.Value.Equal(value.Int32(5)))

	reply = roundTrip(wire.Request{
		Kind:   wire.KindCall,
		Member: "add::(ss)",
		Args:   []value.Value{value.String("x"), value.String("y")},
	})
	require.Equal(t, wire.CodeMethodNotFound, reply.Code)
	require.ErrorIs(t, ErrorOf(&reply), ErrMethodNotFound)

	reply = roundTrip(wire.Request{Kind: wire.KindListMethods})
	require.Len(t, reply.Methods, 2)

	reply = roundTrip(wire.Request{Kind: wire.KindEmit, Member: "changed", Args: []value.Value{value.String("x")}})
	require.ErrorIs(t, ErrorOf(&reply), ErrArityOrTypeMismatch)

	out, err := h.Handle(t.Context(), []byte{0xff})
	require.NoError(t, err)
	var bad wire.Reply
	require.NoError(t, bad.Unmarshal(out))
	require.Equal(t, wire.CodeBadRequest, bad.Code)
}
