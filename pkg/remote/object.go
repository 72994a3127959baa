// Package remote reaches objects served by another process.
package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raskyld/objmesh"
	"github.com/raskyld/objmesh/pkg/meta"
	"github.com/raskyld/objmesh/pkg/value"
	"github.com/raskyld/objmesh/pkg/wire"
)

// Requester carries an encoded request to addr and returns the encoded
// reply. `*transport.Client` satisfies it.
type Requester interface {
	Request(ctx context.Context, addr string, payload []byte) ([]byte, error)
}

type RequesterFunc func(ctx context.Context, addr string, payload []byte) ([]byte, error)

func (f RequesterFunc) Request(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	return f(ctx, addr, payload)
}

// Object is a proxy of an object served at a remote address.
//
// Errors reported by the remote object match the objmesh sentinels with
// `errors.Is`. Failures to reach it wrap `objmesh.ErrTargetUnavailable`.
type Object struct {
	req    Requester
	addr   string
	logger *slog.Logger
}

func NewObject(req Requester, addr string, logHandler slog.Handler) *Object {
	logger := slog.Default()
	if logHandler != nil {
		logger = slog.New(logHandler)
	}
	return &Object{
		req:    req,
		addr:   addr,
		logger: logger.With(slog.String("address", addr)),
	}
}

func (o *Object) Addr() string {
	return o.addr
}

// Call invokes a method, selected by name or by "name::(params)".
func (o *Object) Call(ctx context.Context, nameAndSignature string, args ...value.Value) (value.Value, error) {
	reply, err := o.roundTrip(ctx, &wire.Request{
		Kind:   wire.KindCall,
		Member: nameAndSignature,
		Args:   args,
	})
	if err != nil {
		return value.Value{}, err
	}
	return reply.Value, nil
}

// Emit triggers a signal of the remote object.
func (o *Object) Emit(ctx context.Context, signal string, args ...value.Value) error {
	_, err := o.roundTrip(ctx, &wire.Request{
		Kind:   wire.KindEmit,
		Member: signal,
		Args:   args,
	})
	return err
}

func (o *Object) ListMethods(ctx context.Context) ([]meta.MethodDescriptor, error) {
	reply, err := o.roundTrip(ctx, &wire.Request{Kind: wire.KindListMethods})
	if err != nil {
		return nil, err
	}
	return reply.Methods, nil
}

func (o *Object) ListSignals(ctx context.Context) ([]meta.SignalDescriptor, error) {
	reply, err := o.roundTrip(ctx, &wire.Request{Kind: wire.KindListSignals})
	if err != nil {
		return nil, err
	}
	return reply.Signals, nil
}

func (o *Object) roundTrip(ctx context.Context, req *wire.Request) (*wire.Reply, error) {
	payload, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	raw, err := o.req.Request(ctx, o.addr, payload)
	if err != nil {
		o.logger.Debug("request failed", slog.String("request", req.Kind.String()), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", objmesh.ErrTargetUnavailable, err)
	}

	var reply wire.Reply
	if err := reply.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: bad reply: %w", objmesh.ErrInvocationFault, err)
	}
	if err := objmesh.ErrorOf(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
