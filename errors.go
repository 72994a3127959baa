package objmesh

import (
	"errors"
	"fmt"

	"github.com/raskyld/objmesh/pkg/signature"
	"github.com/raskyld/objmesh/pkg/value"
)

var (
	ErrMalformedSignature = signature.ErrMalformed
	ErrTypeMismatch       = value.ErrTypeMismatch

	ErrDuplicateMethod = errors.New("object: method already advertised")
	ErrDuplicateSignal = errors.New("object: signal already advertised")
	ErrObjectSealed    = errors.New("object: cannot advertise on a sealed object")
	ErrInvalidCfg      = errors.New("object: invalid options")

	ErrMethodNotFound      = errors.New("dispatch: method not found")
	ErrSignalNotFound      = errors.New("dispatch: signal not found")
	ErrArityOrTypeMismatch = errors.New("dispatch: arity or type mismatch")
	ErrTargetUnavailable   = errors.New("dispatch: target unavailable")

	// ErrInvocationFault covers faults raised while running a callable,
	// including recovered panics.
	ErrInvocationFault = errors.New("dispatch: invocation fault")

	ErrUnknownLink = errors.New("signal: unknown link")

	ErrLoopClosed = errors.New("eventloop: closed")
)

// PanicError is delivered through the Future when a callable panics.
type PanicError struct {
	Value any
}

func (pe *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %v", ErrInvocationFault, pe.Value)
}

func (pe *PanicError) Unwrap() error {
	return ErrInvocationFault
}
