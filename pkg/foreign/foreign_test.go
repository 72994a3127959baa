package foreign

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/objmesh"
	"github.com/raskyld/objmesh/pkg/value"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRuntime struct {
	mock.Mock
	detached atomic.Int32
}

func (m *mockRuntime) Attach() (func(), error) {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return func() { m.detached.Add(1) }, nil
}

func (m *mockRuntime) Lookup(class, method, params string) (Method, bool) {
	args := m.Called(class, method, params)
	if !args.Bool(1) {
		return nil, false
	}
	return args.Get(0).(Method), true
}

type mockMethod struct {
	mock.Mock
}

func (m *mockMethod) Invoke(self any, args []value.Value) (value.Value, error) {
	called := m.Called(self, args)
	return called.Get(0).(value.Value), called.Error(1)
}

func newForeignObject(t *testing.T, h *Handle, binding Binding, sigs ...string) *objmesh.GenericObject {
	t.Helper()
	b := objmesh.NewObjectBuilder(
		objmesh.WithName(t.Name()),
		objmesh.WithEventLoop(objmesh.Inline),
		objmesh.WithMetricSink(&metrics.BlackholeSink{}),
	)
	require.NoError(t, Advertise(b, h, binding, sigs...))
	obj, err := b.Object()
	require.NoError(t, err)
	t.Cleanup(func() {
		obj.Close(context.Background())
	})
	return obj
}

func TestHandle_CreatesRuntimeOnce(t *testing.T) {
	var created atomic.Int32
	rt := &mockRuntime{}
	h := NewHandle(func() (Runtime, error) {
		created.Add(1)
		return rt, nil
	})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.Runtime()
			require.NoError(t, err)
			require.Same(t, rt, got)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, created.Load())
}

func TestHandle_FailureIsSticky(t *testing.T) {
	var created atomic.Int32
	h := NewHandle(func() (Runtime, error) {
		created.Add(1)
		return nil, errors.New("no jvm")
	})

	_, err := h.Runtime()
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
	_, err = h.Attach()
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
	require.EqualValues(t, 1, created.Load())
}

func TestHandle_CloseBeforeUse(t *testing.T) {
	h := NewHandle(func() (Runtime, error) {
		t.Fatal("runtime created after close")
		return nil, nil
	})
	require.NoError(t, h.Close())
	_, err := h.Runtime()
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
}

func TestRef_ReleasesExactlyOnce(t *testing.T) {
	var releases atomic.Int32
	ref := NewRef("handle", func(string) error {
		releases.Add(1)
		return nil
	})

	val, giveBack, ok := ref.Borrow()
	require.True(t, ok)
	require.Equal(t, "handle", val)

	require.NoError(t, ref.Close())
	released, _ := ref.Released()
	require.False(t, released, "released while borrowed")

	_, _, ok = ref.Borrow()
	require.False(t, ok)

	giveBack()
	giveBack()
	require.NoError(t, ref.Close())

	released, err := ref.Released()
	require.True(t, released)
	require.NoError(t, err)
	require.EqualValues(t, 1, releases.Load())
}

func TestWith(t *testing.T) {
	releaseErr := errors.New("release failed")
	var released []string
	release := func(s string) error {
		released = append(released, s)
		return releaseErr
	}

	err := With("a", release, func(string) error { return nil })
	require.ErrorIs(t, err, releaseErr)

	fnErr := errors.New("fn failed")
	err = With("b", release, func(string) error { return fnErr })
	require.ErrorIs(t, err, fnErr)

	require.Equal(t, []string{"a", "b"}, released)
}

func TestAdvertise_CallsForeignMethod(t *testing.T) {
	rt := &mockRuntime{}
	add := &mockMethod{}
	h := NewHandle(func() (Runtime, error) { return rt, nil })

	self := NewRef[any]("instance", nil)
	obj := newForeignObject(t, h, Binding{Class: "Calculator", Self: self}, "add::(ii):i", "noop::()")

	rt.On("Attach").Return(nil)
	rt.On("Lookup", "Calculator", "add", "(ii)").Return(add, true)
	rt.On("Lookup", "Calculator", "noop", "()").Return(nil, false)
	add.On("Invoke", "instance", mock.Anything).Return(value.Int32(5), nil).Once()

	v, err := obj.CallContext(t.Context(), "add::(ii)", value.Int32(2), value.Int32(3))
	require.NoError(t, err)
	require.True(t, v.Equal(value.Int32(5)))
	require.EqualValues(t, 1, rt.detached.Load())

	_, err = obj.CallContext(t.Context(), "noop::()")
	require.ErrorIs(t, err, objmesh.ErrMethodNotFound)
	require.EqualValues(t, 2, rt.detached.Load())

	rt.AssertExpectations(t)
	add.AssertExpectations(t)

	methods := obj.ListMethods()
	require.Len(t, methods, 2)
	require.Equal(t, "add::(ii)", methods[0].Signature)
	require.Equal(t, "i", methods[0].ReturnSignature)
}

func TestAdvertise_AttachFailure(t *testing.T) {
	rt := &mockRuntime{}
	h := NewHandle(func() (Runtime, error) { return rt, nil })
	obj := newForeignObject(t, h, Binding{Class: "Calculator"}, "add::(ii)")

	rt.On("Attach").Return(errors.New("thread limit"))

	_, err := obj.CallContext(t.Context(), "add::(ii)", value.Int32(2), value.Int32(3))
	require.ErrorIs(t, err, objmesh.ErrInvocationFault)
	rt.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdvertise_ReleasedInstance(t *testing.T) {
	rt := &mockRuntime{}
	add := &mockMethod{}
	h := NewHandle(func() (Runtime, error) { return rt, nil })

	self := NewRef[any]("instance", nil)
	obj := newForeignObject(t, h, Binding{Class: "Calculator", Self: self}, "add::(ii)")
	require.NoError(t, self.Close())

	rt.On("Attach").Return(nil)
	rt.On("Lookup", "Calculator", "add", "(ii)").Return(add, true)

	_, err := obj.CallContext(t.Context(), "add::(ii)", value.Int32(2), value.Int32(3))
	require.ErrorIs(t, err, objmesh.ErrTargetUnavailable)
	add.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything)
}

func TestAdvertise_MalformedSignature(t *testing.T) {
	h := NewHandle(func() (Runtime, error) { return &mockRuntime{}, nil })
	b := objmesh.NewObjectBuilder(objmesh.WithMetricSink(&metrics.BlackholeSink{}))
	err := Advertise(b, h, Binding{Class: "Calculator"}, "add(ii)")
	require.ErrorIs(t, err, objmesh.ErrMalformedSignature)
}
