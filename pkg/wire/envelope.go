package wire

import (
	"fmt"

	"github.com/raskyld/objmesh/pkg/meta"
	"github.com/raskyld/objmesh/pkg/value"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind is the operation requested from an object.
type Kind uint64

const (
	KindCall Kind = iota + 1
	KindEmit
	KindListMethods
	KindListSignals
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindEmit:
		return "emit"
	case KindListMethods:
		return "list-methods"
	case KindListSignals:
		return "list-signals"
	}
	return "unknown"
}

// Code classifies the error carried by a `Reply`. Zero means success.
type Code uint64

const (
	CodeOK Code = iota
	CodeUnknown
	CodeMalformedSignature
	CodeTypeMismatch
	CodeMethodNotFound
	CodeSignalNotFound
	CodeArityOrTypeMismatch
	CodeTargetUnavailable
	CodeInvocationFault
	CodeBadRequest
)

// Request is an operation on a remote object. Member is the
// "name::(params)" of the method or the signal name.
type Request struct {
	Kind   Kind
	Member string
	Args   []value.Value
}

// Reply answers a `Request`.
type Reply struct {
	Code    Code
	Message string
	Value   value.Value
	Methods []meta.MethodDescriptor
	Signals []meta.SignalDescriptor
}

const (
	fieldRequestKind   protowire.Number = 1
	fieldRequestMember protowire.Number = 2
	fieldRequestArg    protowire.Number = 3

	fieldReplyCode    protowire.Number = 1
	fieldReplyMessage protowire.Number = 2
	fieldReplyValue   protowire.Number = 3
	fieldReplyMethod  protowire.Number = 4
	fieldReplySignal  protowire.Number = 5

	fieldDescUID        protowire.Number = 1
	fieldDescName       protowire.Number = 2
	fieldDescSignature  protowire.Number = 3
	fieldDescReturn     protowire.Number = 4
	fieldDescDesc       protowire.Number = 5
	fieldDescParam      protowire.Number = 6
	fieldDescReturnDesc protowire.Number = 7

	fieldParamName protowire.Number = 1
	fieldParamDesc protowire.Number = 2
)

func (r *Request) Marshal() ([]byte, error) {
	b := protowire.AppendTag(nil, fieldRequestKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))
	b = appendStringField(b, fieldRequestMember, r.Member)
	for _, arg := range r.Args {
		enc, err := MarshalValue(arg)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldRequestArg, protowire.BytesType)
		b = protowire.AppendBytes(b, enc)
	}
	return b, nil
}

func (r *Request) Unmarshal(b []byte) error {
	*r = Request{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, x uint64) error {
		switch {
		case num == fieldRequestKind && typ == protowire.VarintType:
			r.Kind = Kind(x)
		case num == fieldRequestMember && typ == protowire.BytesType:
			r.Member = string(raw)
		case num == fieldRequestArg && typ == protowire.BytesType:
			v, err := UnmarshalValue(raw)
			if err != nil {
				return err
			}
			r.Args = append(r.Args, v)
		}
		return nil
	})
}

func (r *Reply) Marshal() ([]byte, error) {
	var b []byte
	if r.Code != CodeOK {
		b = protowire.AppendTag(b, fieldReplyCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Code))
	}
	b = appendStringField(b, fieldReplyMessage, r.Message)
	if r.Value.Kind() != value.KindNone || r.Code == CodeOK {
		enc, err := MarshalValue(r.Value)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldReplyValue, protowire.BytesType)
		b = protowire.AppendBytes(b, enc)
	}
	for _, md := range r.Methods {
		b = protowire.AppendTag(b, fieldReplyMethod, protowire.BytesType)
		b = protowire.AppendBytes(b, appendMethod(nil, md))
	}
	for _, sd := range r.Signals {
		b = protowire.AppendTag(b, fieldReplySignal, protowire.BytesType)
		b = protowire.AppendBytes(b, appendSignal(nil, sd))
	}
	return b, nil
}

func (r *Reply) Unmarshal(b []byte) error {
	*r = Reply{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, x uint64) error {
		switch {
		case num == fieldReplyCode && typ == protowire.VarintType:
			r.Code = Code(x)
		case num == fieldReplyMessage && typ == protowire.BytesType:
			r.Message = string(raw)
		case num == fieldReplyValue && typ == protowire.BytesType:
			v, err := UnmarshalValue(raw)
			if err != nil {
				return err
			}
			r.Value = v
		case num == fieldReplyMethod && typ == protowire.BytesType:
			md, err := consumeMethod(raw)
			if err != nil {
				return err
			}
			r.Methods = append(r.Methods, md)
		case num == fieldReplySignal && typ == protowire.BytesType:
			sd, err := consumeSignal(raw)
			if err != nil {
				return err
			}
			r.Signals = append(r.Signals, sd)
		}
		return nil
	})
}

func appendMethod(b []byte, md meta.MethodDescriptor) []byte {
	b = protowire.AppendTag(b, fieldDescUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(md.UID))
	b = appendStringField(b, fieldDescName, md.Name)
	b = appendStringField(b, fieldDescSignature, md.Signature)
	b = appendStringField(b, fieldDescReturn, md.ReturnSignature)
	b = appendStringField(b, fieldDescDesc, md.Description)
	b = appendParams(b, md.Parameters)
	return appendStringField(b, fieldDescReturnDesc, md.ReturnDescription)
}

func appendSignal(b []byte, sd meta.SignalDescriptor) []byte {
	b = protowire.AppendTag(b, fieldDescUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(sd.UID))
	b = appendStringField(b, fieldDescName, sd.Name)
	b = appendStringField(b, fieldDescSignature, sd.Signature)
	b = appendStringField(b, fieldDescDesc, sd.Description)
	return appendParams(b, sd.Parameters)
}

func appendParams(b []byte, params []meta.ParameterDescriptor) []byte {
	for _, p := range params {
		var inner []byte
		inner = appendStringField(inner, fieldParamName, p.Name)
		inner = appendStringField(inner, fieldParamDesc, p.Description)
		b = protowire.AppendTag(b, fieldDescParam, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

func consumeMethod(b []byte) (meta.MethodDescriptor, error) {
	var md meta.MethodDescriptor
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, x uint64) error {
		switch num {
		case fieldDescUID:
			md.UID = uint32(x)
		case fieldDescName:
			md.Name = string(raw)
		case fieldDescSignature:
			md.Signature = string(raw)
		case fieldDescReturn:
			md.ReturnSignature = string(raw)
		case fieldDescDesc:
			md.Description = string(raw)
		case fieldDescParam:
			p, err := consumeParam(raw)
			if err != nil {
				return err
			}
			md.Parameters = append(md.Parameters, p)
		case fieldDescReturnDesc:
			md.ReturnDescription = string(raw)
		}
		return nil
	})
	return md, err
}

func consumeSignal(b []byte) (meta.SignalDescriptor, error) {
	var sd meta.SignalDescriptor
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, x uint64) error {
		switch num {
		case fieldDescUID:
			sd.UID = uint32(x)
		case fieldDescName:
			sd.Name = string(raw)
		case fieldDescSignature:
			sd.Signature = string(raw)
		case fieldDescDesc:
			sd.Description = string(raw)
		case fieldDescParam:
			p, err := consumeParam(raw)
			if err != nil {
				return err
			}
			sd.Parameters = append(sd.Parameters, p)
		}
		return nil
	})
	return sd, err
}

func consumeParam(b []byte) (meta.ParameterDescriptor, error) {
	var p meta.ParameterDescriptor
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, raw []byte, _ uint64) error {
		switch num {
		case fieldParamName:
			p.Name = string(raw)
		case fieldParamDesc:
			p.Description = string(raw)
		}
		return nil
	})
	return p, err
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// walkFields calls fn for each field of a message. raw is set for
// length-delimited fields, x for varints. Unknown wire types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %w", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			raw []byte
			x   uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrTruncated, num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(num, typ, raw, x); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
	}
	return nil
}
