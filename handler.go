package objmesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/objmesh/pkg/value"
	"github.com/raskyld/objmesh/pkg/wire"
)

// ObjectHandler serves encoded requests against one object.
//
// It satisfies the transport handler contract: one request in, one reply
// out, synchronously, even though the call itself completes on the object's
// event loop.
type ObjectHandler struct {
	obj    *GenericObject
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

func NewObjectHandler(obj *GenericObject) *ObjectHandler {
	return &ObjectHandler{
		obj:    obj,
		logger: obj.logger,
		msink:  obj.msink,
		labels: obj.labels,
	}
}

// Handle decodes req, runs it and encodes the reply. Failures of the
// requested operation travel in the reply: the returned error only reports
// a reply which could not be encoded.
func (h *ObjectHandler) Handle(ctx context.Context, req []byte) ([]byte, error) {
	var (
		request wire.Request
		reply   wire.Reply
	)

	if err := request.Unmarshal(req); err != nil {
		reply = failedReply(wire.CodeBadRequest, err)
	} else {
		reply = h.serve(ctx, &request)
	}

	labels := withLabels(h.labels, LabelRequest.M(request.Kind.String()))
	h.msink.IncrCounterWithLabels(MetricHandlerRequestCount, 1, labels)
	if reply.Code != wire.CodeOK {
		h.msink.IncrCounterWithLabels(MetricHandlerRequestErrorCount, 1, labels)
		h.logger.Debug(
			"request failed",
			LabelRequest.L(request.Kind.String()),
			LabelMethod.L(request.Member),
			LabelError.L(reply.Message),
		)
	}

	out, err := reply.Marshal()
	if err != nil {
		h.logger.Error("failed to encode reply", LabelError.L(err))
		return nil, fmt.Errorf("%w: %w", ErrInvocationFault, err)
	}
	return out, nil
}

func (h *ObjectHandler) serve(ctx context.Context, req *wire.Request) wire.Reply {
	switch req.Kind {
	case wire.KindCall:
		val, err := h.obj.CallContext(ctx, req.Member, req.Args...)
		if err != nil {
			return failedReply(CodeOf(err), err)
		}
		return wire.Reply{Value: val}
	case wire.KindEmit:
		if err := h.obj.Emit(req.Member, req.Args...); err != nil {
			return failedReply(CodeOf(err), err)
		}
		return wire.Reply{Value: value.None()}
	case wire.KindListMethods:
		return wire.Reply{Methods: h.obj.ListMethods()}
	case wire.KindListSignals:
		return wire.Reply{Signals: h.obj.ListSignals()}
	}
	return failedReply(wire.CodeBadRequest, fmt.Errorf("unknown request kind %d", req.Kind))
}

func failedReply(code wire.Code, err error) wire.Reply {
	return wire.Reply{Code: code, Message: err.Error()}
}

var codeErrors = []struct {
	code wire.Code
	err  error
}{
	{wire.CodeMalformedSignature, ErrMalformedSignature},
	{wire.CodeMethodNotFound, ErrMethodNotFound},
	{wire.CodeSignalNotFound, ErrSignalNotFound},
	{wire.CodeArityOrTypeMismatch, ErrArityOrTypeMismatch},
	{wire.CodeTargetUnavailable, ErrTargetUnavailable},
	{wire.CodeInvocationFault, ErrInvocationFault},
	{wire.CodeTypeMismatch, ErrTypeMismatch},
}

// CodeOf maps an error to its wire code.
func CodeOf(err error) wire.Code {
	if err == nil {
		return wire.CodeOK
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wire.CodeTargetUnavailable
	}
	return wire.CodeUnknown
}

// RemoteError is a failure reported by a remote object.
type RemoteError struct {
	Code    wire.Code
	Message string
}

func (re *RemoteError) Error() string {
	return re.Message
}

// Unwrap exposes the matching sentinel so callers can use `errors.Is`.
func (re *RemoteError) Unwrap() error {
	for _, ce := range codeErrors {
		if ce.code == re.Code {
			return ce.err
		}
	}
	return nil
}

// ErrorOf rebuilds the error carried by a reply, nil on success.
func ErrorOf(reply *wire.Reply) error {
	if reply.Code == wire.CodeOK {
		return nil
	}
	return &RemoteError{Code: reply.Code, Message: reply.Message}
}
