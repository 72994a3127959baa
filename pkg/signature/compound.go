package signature

import (
	"fmt"
	"strings"
)

const nameSeparator = "::"

// Compound is a method or signal signature split in its three parts.
// Params always includes its enclosing parentheses.
type Compound struct {
	Return string
	Name   string
	Params string
}

// Split decomposes "name::(params)" or "name::(params):ret". The legacy form
// "name::ret(params)" is accepted as well.
func Split(compound string) (Compound, error) {
	idx := strings.Index(compound, nameSeparator)
	if idx < 0 {
		return Compound{}, fmt.Errorf("%w: missing %q in %q", ErrMalformed, nameSeparator, compound)
	}
	c := Compound{Name: compound[:idx]}
	if c.Name == "" {
		return Compound{}, fmt.Errorf("%w: empty name in %q", ErrMalformed, compound)
	}
	rest := compound[idx+len(nameSeparator):]

	if !strings.HasPrefix(rest, "(") {
		return splitLegacy(c, rest, compound)
	}

	p := parser{text: rest}
	if _, err := p.next(); err != nil {
		return Compound{}, err
	}
	tail := rest[p.pos:]
	switch {
	case tail == "":
		c.Params = rest
		return c, nil
	case tail[0] == ':':
		c.Params = rest[:p.pos]
		c.Return = tail[1:]
	default:
		return splitLegacy(c, rest, compound)
	}

	if c.Return == "" {
		return Compound{}, fmt.Errorf("%w: empty return type in %q", ErrMalformed, compound)
	}
	if _, err := ParseType(c.Return); err != nil {
		return Compound{}, err
	}
	return c, nil
}

// Key is the lookup key "name::(params)".
func (c Compound) Key() string {
	return c.Name + nameSeparator + c.Params
}

// String renders the canonical form "name::(params)[:ret]".
func (c Compound) String() string {
	if c.Return == "" {
		return c.Key()
	}
	return c.Key() + ":" + c.Return
}

// ParamTypes parses the parameter tuple into its element types.
func (c Compound) ParamTypes() (Signature, error) {
	t, err := ParseType(c.Params)
	if err != nil {
		return nil, err
	}
	return Signature(t.Elems), nil
}

// MethodKey builds "name::(params)" from a name and parameter types.
func MethodKey(name string, params Signature) string {
	return name + nameSeparator + TupleOf(params...).String()
}

// NameOf returns the part before "::", or the whole text when absent.
func NameOf(nameAndSignature string) string {
	if idx := strings.Index(nameAndSignature, nameSeparator); idx >= 0 {
		return nameAndSignature[:idx]
	}
	return nameAndSignature
}

// splitLegacy handles "name::ret(params)" where ret is exactly one type.
func splitLegacy(c Compound, rest, compound string) (Compound, error) {
	sig, err := Parse(rest)
	if err != nil {
		return Compound{}, err
	}
	if len(sig) != 2 || sig[1].Code != Tuple {
		return Compound{}, fmt.Errorf("%w: missing parameters in %q", ErrMalformed, compound)
	}
	c.Return = sig[0].String()
	c.Params = sig[1].String()
	return c, nil
}
