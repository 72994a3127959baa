// Package meta holds the introspection records published by objects.
//
// Descriptors are used for remote discovery only: dispatch never reads them.
// They are immutable once an object is sealed.
package meta

import (
	"log/slog"
	"slices"
)

// ParameterDescriptor documents one parameter of a method or signal.
type ParameterDescriptor struct {
	Name        string
	Description string
}

// MethodDescriptor describes a published method.
type MethodDescriptor struct {
	// UID is assigned by the owning object when the method is advertised
	// and is stable for the lifetime of the object.
	UID uint32

	// Name is the bare method name, Signature the "name::(params)" key.
	Name      string
	Signature string

	ReturnSignature   string
	Description       string
	Parameters        []ParameterDescriptor
	ReturnDescription string
}

// SignalDescriptor describes a published signal.
type SignalDescriptor struct {
	UID         uint32
	Name        string
	Signature   string
	Description string
	Parameters  []ParameterDescriptor
}

// Clone returns a copy that does not share the parameter slice.
func (md MethodDescriptor) Clone() MethodDescriptor {
	md.Parameters = slices.Clone(md.Parameters)
	return md
}

func (sd SignalDescriptor) Clone() SignalDescriptor {
	sd.Parameters = slices.Clone(sd.Parameters)
	return sd
}

func (md MethodDescriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("uid", uint64(md.UID)),
		slog.String("signature", md.Signature),
		slog.String("return", md.ReturnSignature),
	)
}

func (sd SignalDescriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("uid", uint64(sd.UID)),
		slog.String("signature", sd.Signature),
	)
}

// Builder accumulates the documentation of a method or signal before the
// owning object assigns its uid.
type Builder struct {
	description       string
	parameters        []ParameterDescriptor
	returnDescription string
}

func (b *Builder) SetDescription(desc string) {
	b.description = desc
}

func (b *Builder) AddParameter(name, desc string) {
	b.parameters = append(b.parameters, ParameterDescriptor{Name: name, Description: desc})
}

func (b *Builder) SetReturnDescription(desc string) {
	b.returnDescription = desc
}

// Method freezes the builder into a MethodDescriptor.
func (b *Builder) Method(uid uint32, name, sig, ret string) MethodDescriptor {
	return MethodDescriptor{
		UID:               uid,
		Name:              name,
		Signature:         sig,
		ReturnSignature:   ret,
		Description:       b.description,
		Parameters:        slices.Clone(b.parameters),
		ReturnDescription: b.returnDescription,
	}
}

// Signal freezes the builder into a SignalDescriptor.
func (b *Builder) Signal(uid uint32, name, sig string) SignalDescriptor {
	return SignalDescriptor{
		UID:         uid,
		Name:        name,
		Signature:   sig,
		Description: b.description,
		Parameters:  slices.Clone(b.parameters),
	}
}
