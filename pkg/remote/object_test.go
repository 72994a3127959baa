package remote

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/objmesh"
	"github.com/raskyld/objmesh/pkg/value"
	"github.com/raskyld/objmesh/pkg/wire"
	"github.com/stretchr/testify/require"
)

func serveCalculator(t *testing.T) (*objmesh.GenericObject, *Object) {
	t.Helper()
	loop, err := objmesh.NewLoop(objmesh.WithName("remote-test"))
	require.NoError(t, err)

	b := objmesh.NewObjectBuilder(
		objmesh.WithName("calculator"),
		objmesh.WithEventLoop(loop),
		objmesh.WithMetricSink(&metrics.BlackholeSink{}),
	)
	_, err = b.AdvertiseMethod("add::(ii)", objmesh.MustFunc(func(a, b int32) int32 { return a + b }),
		objmesh.WithDescription("adds two integers"))
	require.NoError(t, err)
	_, err = b.AdvertiseMethod("div::(ii)", objmesh.MustFunc(func(a, b int32) (int32, error) {
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return a / b, nil
	}))
	require.NoError(t, err)
	_, err = b.AdvertiseSignal("changed::(i)")
	require.NoError(t, err)

	obj, err := b.Object()
	require.NoError(t, err)
	t.Cleanup(func() {
		obj.Close(context.Background())
		loop.Close()
	})

	handler := objmesh.NewObjectHandler(obj)
	loopback := RequesterFunc(func(ctx context.Context, addr string, payload []byte) ([]byte, error) {
		require.Equal(t, "calculator:1", addr)
		return handler.Handle(ctx, payload)
	})
	return obj, NewObject(loopback, "calculator:1", nil)
}

func TestObject_Call(t *testing.T) {
	_, proxy := serveCalculator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := proxy.Call(ctx, "add::(ii)", value.Int32(40), value.Int32(2))
	require.NoError(t, err)
	require.True(t, v.Equal(value.Int32(42)))

	v, err = proxy.Call(ctx, "add", value.Int32(1), value.Int32(1))
	require.NoError(t, err)
	require.True(t, v.Equal(value.Int32(2)))

	_, err = proxy.Call(ctx, "add::(ss)", value.String("a"), value.String("b"))
	require.ErrorIs(t, err, objmesh.ErrMethodNotFound)

	_, err = proxy.Call(ctx, "div::(ii)", value.Int32(1), value.Int32(0))
	var remoteErr *objmesh.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, wire.CodeUnknown, remoteErr.Code)
	require.Equal(t, "division by zero", remoteErr.Message)
}

func TestObject_Emit(t *testing.T) {
	obj, proxy := serveCalculator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got atomic.Int32
	_, err := obj.Connect("changed", objmesh.FuncTarget(objmesh.MustFunc(func(i int32) {
		got.Store(i)
	})))
	require.NoError(t, err)

	require.NoError(t, proxy.Emit(ctx, "changed", value.Int32(7)))
	require.Eventually(t, func() bool {
		return got.Load() == 7
	}, time.Second, 10*time.Millisecond)

	err = proxy.Emit(ctx, "missing", value.Int32(7))
	require.ErrorIs(t, err, objmesh.ErrSignalNotFound)
}

func TestObject_Introspection(t *testing.T) {
	obj, proxy := serveCalculator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	methods, err := proxy.ListMethods(ctx)
	require.NoError(t, err)
	local := obj.ListMethods()
	require.Len(t, methods, len(local))
	for i, md := range methods {
		require.Equal(t, local[i].UID, md.UID)
		require.Equal(t, local[i].Signature, md.Signature)
		require.Equal(t, local[i].Description, md.Description)
	}

	signals, err := proxy.ListSignals(ctx)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.Equal(t, "changed::(i)", signals[0].Signature)
}

func TestObject_Unreachable(t *testing.T) {
	proxy := NewObject(RequesterFunc(func(context.Context, string, []byte) ([]byte, error) {
		return nil, errors.New("connection refused")
	}), "nowhere:1", nil)

	_, err := proxy.Call(context.Background(), "add", value.Int32(1), value.Int32(1))
	require.ErrorIs(t, err, objmesh.ErrTargetUnavailable)

	proxy = NewObject(RequesterFunc(func(context.Context, string, []byte) ([]byte, error) {
		return []byte{0xff}, nil
	}), "garbage:1", nil)
	_, err = proxy.ListMethods(context.Background())
	require.ErrorIs(t, err, objmesh.ErrInvocationFault)
}
