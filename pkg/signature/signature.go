package signature

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("signature: malformed signature")

// Code is the single-byte tag of a type in a signature.
type Code byte

const (
	Void    Code = 'v'
	Bool    Code = 'b'
	Int8    Code = 'c'
	UInt8   Code = 'C'
	Int16   Code = 'w'
	UInt16  Code = 'W'
	Int32   Code = 'i'
	UInt32  Code = 'I'
	Int64   Code = 'l'
	UInt64  Code = 'L'
	Float   Code = 'f'
	Double  Code = 'd'
	String  Code = 's'
	Raw     Code = 'r'
	Object  Code = 'o'
	Dynamic Code = 'm'
	List    Code = '['
	Map     Code = '{'
	Tuple   Code = '('
)

const (
	listEnd  = ']'
	mapEnd   = '}'
	tupleEnd = ')'
)

// IsInteger reports whether the code denotes a fixed-width integer.
func (c Code) IsInteger() bool {
	switch c {
	case Int8, UInt8, Int16, UInt16, Int32, UInt32, Int64, UInt64:
		return true
	}
	return false
}

func (c Code) IsUnsigned() bool {
	switch c {
	case UInt8, UInt16, UInt32, UInt64:
		return true
	}
	return false
}

// Bits returns the width of numeric codes, 0 otherwise.
func (c Code) Bits() int {
	switch c {
	case Int8, UInt8:
		return 8
	case Int16, UInt16:
		return 16
	case Int32, UInt32, Float:
		return 32
	case Int64, UInt64, Double:
		return 64
	}
	return 0
}

func (c Code) IsFloat() bool {
	return c == Float || c == Double
}

func (c Code) valid() bool {
	switch c {
	case Void, Bool, Int8, UInt8, Int16, UInt16, Int32, UInt32, Int64, UInt64,
		Float, Double, String, Raw, Object, Dynamic, List, Map, Tuple:
		return true
	}
	return false
}

// Type is one token of a signature. Containers carry their element types:
// one for lists, two (key, value) for maps and any number for tuples.
type Type struct {
	Code  Code
	Elems []Type
}

// Signature is an ordered sequence of types.
type Signature []Type

func Of(code Code) Type {
	return Type{Code: code}
}

func ListOf(elem Type) Type {
	return Type{Code: List, Elems: []Type{elem}}
}

func MapOf(key, val Type) Type {
	return Type{Code: Map, Elems: []Type{key, val}}
}

func TupleOf(elems ...Type) Type {
	return Type{Code: Tuple, Elems: elems}
}

// Parse reads every type contained in text.
func Parse(text string) (Signature, error) {
	p := parser{text: text}
	sig := Signature{}
	for p.pos < len(p.text) {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		sig = append(sig, t)
	}
	return sig, nil
}

// ParseType reads exactly one type from text.
func ParseType(text string) (Type, error) {
	p := parser{text: text}
	t, err := p.next()
	if err != nil {
		return Type{}, err
	}
	if p.pos != len(p.text) {
		return Type{}, fmt.Errorf("%w: trailing characters in %q", ErrMalformed, text)
	}
	return t, nil
}

// MustParseType is like ParseType but panics on error. Intended for
// package-level declarations.
func MustParseType(text string) Type {
	t, err := ParseType(text)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	text string
	pos  int
}

func (p *parser) next() (Type, error) {
	if p.pos >= len(p.text) {
		return Type{}, fmt.Errorf("%w: unexpected end of %q", ErrMalformed, p.text)
	}
	c := Code(p.text[p.pos])
	if !c.valid() {
		return Type{}, fmt.Errorf("%w: unknown type code %q at %d in %q", ErrMalformed, p.text[p.pos], p.pos, p.text)
	}
	p.pos++

	switch c {
	case List:
		elem, err := p.next()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect(listEnd); err != nil {
			return Type{}, err
		}
		return ListOf(elem), nil
	case Map:
		key, err := p.next()
		if err != nil {
			return Type{}, err
		}
		val, err := p.next()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect(mapEnd); err != nil {
			return Type{}, err
		}
		return MapOf(key, val), nil
	case Tuple:
		elems := []Type{}
		for {
			if p.pos >= len(p.text) {
				return Type{}, fmt.Errorf("%w: unbalanced tuple in %q", ErrMalformed, p.text)
			}
			if p.text[p.pos] == tupleEnd {
				p.pos++
				return TupleOf(elems...), nil
			}
			elem, err := p.next()
			if err != nil {
				return Type{}, err
			}
			elems = append(elems, elem)
		}
	}
	return Of(c), nil
}

func (p *parser) expect(end byte) error {
	if p.pos >= len(p.text) || p.text[p.pos] != end {
		return fmt.Errorf("%w: expected %q at %d in %q", ErrMalformed, end, p.pos, p.text)
	}
	p.pos++
	return nil
}

func (t Type) String() string {
	var sb strings.Builder
	t.render(&sb)
	return sb.String()
}

func (t Type) render(sb *strings.Builder) {
	sb.WriteByte(byte(t.Code))
	switch t.Code {
	case List:
		for _, e := range t.Elems {
			e.render(sb)
		}
		sb.WriteByte(listEnd)
	case Map:
		for _, e := range t.Elems {
			e.render(sb)
		}
		sb.WriteByte(mapEnd)
	case Tuple:
		for _, e := range t.Elems {
			e.render(sb)
		}
		sb.WriteByte(tupleEnd)
	}
}

// String renders the signature, the exact inverse of Parse for canonical
// text.
func (s Signature) String() string {
	var sb strings.Builder
	for _, t := range s {
		t.render(&sb)
	}
	return sb.String()
}

// Render is an alias for Signature.String.
func Render(s Signature) string {
	return s.String()
}

// Equal is strict structural equality.
func (t Type) Equal(o Type) bool {
	if t.Code != o.Code || len(t.Elems) != len(o.Elems) {
		return false
	}
	for i := range t.Elems {
		if !t.Elems[i].Equal(o.Elems[i]) {
			return false
		}
	}
	return true
}

// Compatible is structural equality where Dynamic on either side matches
// anything.
func (t Type) Compatible(o Type) bool {
	if t.Code == Dynamic || o.Code == Dynamic {
		return true
	}
	if t.Code != o.Code || len(t.Elems) != len(o.Elems) {
		return false
	}
	for i := range t.Elems {
		if !t.Elems[i].Compatible(o.Elems[i]) {
			return false
		}
	}
	return true
}

// HasDynamic reports whether the type contains a Dynamic token.
func (t Type) HasDynamic() bool {
	if t.Code == Dynamic {
		return true
	}
	for _, e := range t.Elems {
		if e.HasDynamic() {
			return true
		}
	}
	return false
}

func (s Signature) Equal(o Signature) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (s Signature) Compatible(o Signature) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Compatible(o[i]) {
			return false
		}
	}
	return true
}
